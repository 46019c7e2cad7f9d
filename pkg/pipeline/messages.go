package pipeline

import (
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

// ActionKind tags an inbound OrderAction (§6, "Inbound (from Gateway)").
type ActionKind int8

const (
	ActionPlace ActionKind = iota
	ActionCancel
	ActionReduce
	ActionMove
	ActionDeposit
	ActionWithdraw
)

// OrderAction is every inbound gateway request in one struct, tagged by
// Kind; only the fields relevant to that Kind are populated. A sum-typed
// union would be more idiomatic in a language with real enums, but a
// tagged struct keeps the WAL payload encoding (§4.5) uniform across
// variants, matching the flat-record style the teacher's Tx/Account
// structs already use.
type OrderAction struct {
	Kind ActionKind

	UserID   uint64
	SymbolID uint32

	// Place
	Side        orderbook.Side
	OrderKind   orderbook.Kind
	TIF         orderbook.TIF
	Price       uint64
	Qty         uint64
	QuoteBudget uint64
	CID         string
	VIPLevel    int32

	// Cancel/Reduce/Move
	OrderID   uint64
	ReduceQty uint64
	NewPrice  uint64

	// Deposit/Withdraw
	AssetID uint32
	Amount  money.Amount
	Ref     string
}

// SeqAction is an OrderAction after Ingestion has assigned it a monotonic
// sequence number (§4.3, IngestionService).
type SeqAction struct {
	SeqID  uint64
	Action OrderAction
}

// LockedOrder is an admitted order forwarded from UBSCore to Matching
// (§4.3) after its pre-trade lock succeeded.
type LockedOrder struct {
	SeqID uint64
	Kind  ActionKind // Place, Cancel, Reduce, or Move (§4.3)
	Order *orderbook.Order

	// Cancel/Reduce/Move target an existing resting order by id.
	OrderID   uint64
	ReduceQty uint64
	NewPrice  uint64
}

// Rejection is forwarded directly to the outbound queue when UBSCore's
// pre-trade check fails (§4.3).
type Rejection struct {
	SeqID  uint64
	UserID uint64
	Reason ubscore.RejectReason
}

// MEResult is the matching engine's output for one LockedOrder: the
// (possibly updated) order plus zero or more Trades (§4.3, §4.1).
type MEResult struct {
	SeqID    uint64
	SymbolID uint32
	Order    *orderbook.Order
	Trades   []Trade
	// RemainingLockRelease is set when the order's terminal state leaves
	// an unused lock to return via Unlock (§4.2, "On cancel / full-fill
	// with remainder").
	RemainingLockRelease money.Amount
	ReleaseNeeded        bool
}

// Trade is one resolved fill, carrying both sides' user ids and VIP
// levels so SettlementService can price fees without a second lookup.
type Trade struct {
	TradeID   uint64
	SymbolID  uint32
	Price     uint64
	Qty       uint64
	MakerID   uint64
	TakerID   uint64
	MakerUser uint64
	TakerUser uint64
	MakerSide orderbook.Side
	TakerSide orderbook.Side
	MakerVIP  int32
	TakerVIP  int32
	MakerDone bool
}

// SettleCommand is SettlementService's message back to UBSCore under
// concurrency strategy (a) (§5/§9): UBSCore remains the ledger's sole
// writer, and Settlement requests a Settle application rather than
// mutating the ledger itself.
type SettleCommand struct {
	SeqID    uint64
	SymbolID uint32
	Trade    Trade
}

// SettleResult is UBSCore's reply to a SettleCommand, carrying every
// BalanceEvent produced so SettlementService can write its own
// checkpoint and emit outbound updates only after the ledger mutation is
// durably recorded (§5 strategy (a), §4.2 invariants).
type SettleResult struct {
	SeqID  uint64
	Trade  Trade
	Events []ubscore.BalanceEvent
}

// ReleaseCommand asks UBSCore to return an unused lock to available
// balance on cancel, reduce, or a terminal fill-with-remainder (§4.2, "On
// cancel / full-fill with remainder"). Under strategy (a) only UBSCore
// ever calls Ledger.Unlock, so Matching forwards the terminal order
// rather than mutating the ledger itself.
type ReleaseCommand struct {
	SeqID  uint64
	Order  *orderbook.Order
	Amount money.Amount // natural units: base qty for SELL, quote notional for BUY
}

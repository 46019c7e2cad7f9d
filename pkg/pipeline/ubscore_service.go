package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specx-labs/matchcore/pkg/fees"
	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/settlement"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/ubscore"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// nextOrderID assigns the matching engine's order identifier. It is
// derived from the ingestion seq_id directly (seq_id is already globally
// monotonic, §4.3) rather than kept as separate state, since the two
// only ever need to agree on ordering, not on a disjoint namespace.
func nextOrderID(seqID uint64) uint64 { return seqID }

// UBSCoreService is the second pipeline stage (§4.2, §4.3): it runs the
// pre-trade risk check against the ledger it exclusively owns, emits
// Lock/Unlock/Deposit/Withdraw BalanceEvents to its own WAL, and forwards
// admitted orders to Matching (or Rejections straight to the outbound
// queue). Under concurrency strategy (a) (§5/§9) it is also the only
// component that ever calls Ledger.Settle, driven by SettleCommands
// arriving from SettlementService on a dedicated ring.
type UBSCoreService struct {
	in              *Ring[SeqAction]
	settleIn        *Ring[SettleCommand]
	releaseIn       *Ring[ReleaseCommand]
	outLocked       *Ring[LockedOrder]
	outRejected     *Ring[Rejection]
	outSettleResult *Ring[SettleResult]

	wal      *walog.Writer
	ledger   *ubscore.Ledger
	market   *market.Registry
	feeTable fees.Table

	lastSeq uint64 // highest SeqID processed so far, for snapshot trailers

	shutdown *ShutdownSignal
	log      *zap.SugaredLogger
}

type UBSCoreOptions struct {
	InCapacity      int
	SettleInCap     int
	ReleaseInCap    int
	OutLocked       *Ring[LockedOrder]
	OutRejected     *Ring[Rejection]
	OutSettleResult *Ring[SettleResult]
	WAL             *walog.Writer
	Ledger          *ubscore.Ledger
	MarketContext   *market.Registry
	FeeTable        fees.Table
	Shutdown        *ShutdownSignal
	Logger          *zap.SugaredLogger
}

func NewUBSCoreService(opts UBSCoreOptions) *UBSCoreService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.FeeTable == nil {
		opts.FeeTable = fees.DefaultTable()
	}
	return &UBSCoreService{
		in:              NewRing[SeqAction](opts.InCapacity),
		settleIn:        NewRing[SettleCommand](opts.SettleInCap),
		releaseIn:       NewRing[ReleaseCommand](opts.ReleaseInCap),
		outLocked:       opts.OutLocked,
		outRejected:     opts.OutRejected,
		outSettleResult: opts.OutSettleResult,
		wal:             opts.WAL,
		ledger:          opts.Ledger,
		market:          opts.MarketContext,
		feeTable:        opts.FeeTable,
		shutdown:        opts.Shutdown,
		log:             opts.Logger,
	}
}

// In returns the ring IngestionService forwards SeqActions into.
func (s *UBSCoreService) In() *Ring[SeqAction] { return s.in }

// SettleIn returns the ring SettlementService sends SettleCommands on.
func (s *UBSCoreService) SettleIn() *Ring[SettleCommand] { return s.settleIn }

// ReleaseIn returns the ring MatchingService sends ReleaseCommands on.
func (s *UBSCoreService) ReleaseIn() *Ring[ReleaseCommand] { return s.releaseIn }

// Run alternates draining the ordinary action ring, the settlement
// command ring, and the release command ring; all three are served from
// the single UBSCore thread so the ledger is never touched concurrently
// (§5 strategy (a)).
func (s *UBSCoreService) Run() {
	for {
		if s.shutdown.Requested() && s.in.Len() == 0 && s.settleIn.Len() == 0 && s.releaseIn.Len() == 0 {
			s.wal.Flush()
			return
		}
		handled := false
		if cmd, ok := s.settleIn.TryPop(); ok {
			s.applySettle(cmd)
			handled = true
		}
		if rc, ok := s.releaseIn.TryPop(); ok {
			s.applyRelease(rc)
			handled = true
		}
		if sa, ok := s.in.TryPop(); ok {
			s.processAction(sa)
			handled = true
		}
		if !handled {
			if s.shutdown.Requested() {
				s.wal.Flush()
				return
			}
		}
	}
}

// applyRelease returns an order's unused lock to available balance
// (§4.2, "On cancel / full-fill with remainder").
func (s *UBSCoreService) applyRelease(rc ReleaseCommand) {
	if rc.SeqID > s.lastSeq {
		s.lastSeq = rc.SeqID
	}
	ctx := s.market.Current()
	sym, ok := ctx.Symbol(rc.Order.SymbolID)
	if !ok {
		panic(fmt.Sprintf("ubscore: fatal release for unknown symbol %d", rc.Order.SymbolID))
	}
	event, err := ubscore.ReleaseRemainingLock(s.ledger, rc.Order, sym, rc.Amount, rc.SeqID)
	if err != nil {
		panic(fmt.Sprintf("ubscore: fatal release error: %v", err))
	}
	s.appendBalanceEvent(event)
}

func (s *UBSCoreService) processAction(sa SeqAction) {
	if sa.SeqID > s.lastSeq {
		s.lastSeq = sa.SeqID
	}
	switch sa.Action.Kind {
	case ActionPlace:
		s.processPlace(sa)
	case ActionCancel, ActionReduce, ActionMove:
		s.forwardControl(sa)
	case ActionDeposit:
		s.processDeposit(sa)
	case ActionWithdraw:
		s.processWithdraw(sa)
	}
}

func (s *UBSCoreService) processPlace(sa SeqAction) {
	a := sa.Action
	ctx := s.market.Current()

	order := &orderbook.Order{
		ID:          nextOrderID(sa.SeqID),
		UserID:      a.UserID,
		SymbolID:    a.SymbolID,
		Side:        a.Side,
		Kind:        a.OrderKind,
		TIF:         a.TIF,
		Price:       a.Price,
		Qty:         a.Qty,
		QuoteBudget: a.QuoteBudget,
		Status:      orderbook.StatusNew,
		SeqID:       sa.SeqID,
		CID:         a.CID,
		VIPLevel:    a.VIPLevel,
	}

	event, err := ubscore.PreTradeCheck(s.ledger, ctx, order, sa.SeqID)
	if err != nil {
		var rej *ubscore.Rejection
		if asRejection(err, &rej) {
			s.log.Infow("order rejected", "user_id", a.UserID, "reason", rej.Reason)
			s.outRejected.Push(Rejection{SeqID: sa.SeqID, UserID: a.UserID, Reason: rej.Reason}, s.shutdown.Done())
			return
		}
		panic(fmt.Sprintf("ubscore: fatal pre-trade check error: %v", err))
	}

	s.appendBalanceEvent(event)
	s.outLocked.Push(LockedOrder{SeqID: sa.SeqID, Kind: ActionPlace, Order: order}, s.shutdown.Done())
}

func (s *UBSCoreService) forwardControl(sa SeqAction) {
	// Cancel/Reduce/Move carry no balance effect themselves at this stage
	// (§4.2); their unlock, if any, is driven by MatchingService's result
	// once the book operation completes, so UBSCore simply hands the
	// action to Matching.
	a := sa.Action
	s.outLocked.Push(LockedOrder{
		SeqID: sa.SeqID, Kind: a.Kind,
		OrderID: a.OrderID, ReduceQty: a.ReduceQty, NewPrice: a.NewPrice,
	}, s.shutdown.Done())
}

func (s *UBSCoreService) processDeposit(sa SeqAction) {
	a := sa.Action
	event, err := s.ledger.Deposit(a.UserID, a.AssetID, a.Amount, sa.SeqID)
	if err != nil {
		panic(fmt.Sprintf("ubscore: fatal deposit error: %v", err))
	}
	s.appendBalanceEvent(event)
}

func (s *UBSCoreService) processWithdraw(sa SeqAction) {
	a := sa.Action
	event, err := s.ledger.Withdraw(a.UserID, a.AssetID, a.Amount, sa.SeqID)
	if err != nil {
		s.log.Infow("withdraw rejected: insufficient available balance", "user_id", a.UserID, "asset_id", a.AssetID)
		s.outRejected.Push(Rejection{SeqID: sa.SeqID, UserID: a.UserID, Reason: ubscore.ReasonInsufficientBalance}, s.shutdown.Done())
		return
	}
	s.appendBalanceEvent(event)
}

// applySettle handles a SettleCommand from SettlementService: under
// strategy (a) only UBSCore ever calls Ledger.Settle/CreditPlatformFee,
// via pkg/settlement's fee-aware Apply. The resulting events are WAL
// recorded here, then handed back to SettlementService so it can write
// its own checkpoint only after the ledger mutation is durable.
func (s *UBSCoreService) applySettle(cmd SettleCommand) {
	if cmd.SeqID > s.lastSeq {
		s.lastSeq = cmd.SeqID
	}
	ctx := s.market.Current()
	sym, ok := ctx.Symbol(cmd.SymbolID)
	if !ok {
		panic(fmt.Sprintf("ubscore: fatal settle for unknown symbol %d", cmd.SymbolID))
	}

	t := cmd.Trade
	maker := settlement.Leg{UserID: t.MakerUser, Side: t.MakerSide, VIP: fees.VIPLevel(t.MakerVIP)}
	taker := settlement.Leg{UserID: t.TakerUser, Side: t.TakerSide, VIP: fees.VIPLevel(t.TakerVIP)}

	res, err := settlement.Apply(s.ledger, sym, s.feeTable, toOrderbookFill(t), maker, taker, cmd.SeqID)
	if err != nil {
		panic(fmt.Sprintf("ubscore: fatal settlement error: %v", err))
	}

	for _, e := range res.Events {
		s.appendBalanceEvent(e)
	}

	s.outSettleResult.Push(SettleResult{SeqID: cmd.SeqID, Trade: t, Events: res.Events}, s.shutdown.Done())
}

func toOrderbookFill(t Trade) orderbook.Fill {
	return orderbook.Fill{
		Price:     t.Price,
		Qty:       t.Qty,
		MakerID:   t.MakerID,
		TakerID:   t.TakerID,
		MakerUser: t.MakerUser,
		TakerUser: t.TakerUser,
		MakerDone: t.MakerDone,
	}
}

// Snapshot writes this stage's periodic state dump (§4.6).
func (s *UBSCoreService) Snapshot(dir string) (string, error) {
	return snapshot.Write(dir, s.lastSeq, encodeUBSCoreSnapshot(s.ledger))
}

func (s *UBSCoreService) appendBalanceEvent(e ubscore.BalanceEvent) {
	if _, err := s.wal.Append(walog.EntryUBSCoreBalance, encodeBalanceEvent(e)); err != nil {
		panic(fmt.Sprintf("ubscore: fatal WAL append failure: %v", err))
	}
}

func asRejection(err error, target **ubscore.Rejection) bool {
	rej, ok := err.(*ubscore.Rejection)
	if !ok {
		return false
	}
	*target = rej
	return true
}

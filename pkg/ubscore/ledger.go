// Package ubscore implements the pre-trade risk and balance ledger (§4.2):
// every order is checked and funded against a user's available balance
// before it ever reaches the order book, and every trade is settled back
// through the same ledger. Grounded on the teacher's
// pkg/app/core/account package (Account/AccountManager) but reshaped from
// an EVM-address, USDC-margin perp ledger into the spec's multi-asset
// spot available/locked balance model keyed by (user_id, asset_id).
package ubscore

import (
	"fmt"

	"github.com/specx-labs/matchcore/pkg/money"
)

// EventType distinguishes the kinds of balance mutation the ledger can
// produce (§4.2); every event is both an in-memory state change and a
// WAL-recorded fact (walog.EntryUBSCoreBalance).
type EventType int8

const (
	EventLock EventType = iota
	EventUnlock
	EventDeposit
	EventWithdraw
	EventSettle
)

func (e EventType) String() string {
	switch e {
	case EventLock:
		return "LOCK"
	case EventUnlock:
		return "UNLOCK"
	case EventDeposit:
		return "DEPOSIT"
	case EventWithdraw:
		return "WITHDRAW"
	case EventSettle:
		return "SETTLE"
	default:
		return "UNKNOWN"
	}
}

// BalanceEvent is the durable record of one ledger mutation (§4.2, §6.1).
// SeqID ties the event back to the pipeline sequence number that caused it.
type BalanceEvent struct {
	Type        EventType
	UserID      uint64
	AssetID     uint32
	Delta       money.Delta
	LockVersion uint64
	SettleVersion uint64
	SeqID       uint64
}

// Balance is one user's holding of one asset: available funds can back
// new orders, locked funds are already committed to a resting order
// (§4.2). LockVersion increments on every Lock/Unlock; SettleVersion
// increments on every Settle — both exist purely so recovery can detect
// a balance record applied twice during WAL replay (§4.7).
type Balance struct {
	Available     money.Amount
	Locked        money.Amount
	LockVersion   uint64
	SettleVersion uint64
}

// Total is the conservation quantity invariants are checked against
// (§4.2: "available + locked is conserved across Lock/Unlock").
func (b Balance) Total() money.Amount {
	return b.Available + b.Locked
}

type acctKey struct {
	userID  uint64
	assetID uint32
}

// Ledger is the in-memory balance table for one UBSCore instance. Per
// §5, UBSCore is a single-threaded pipeline stage, so Ledger itself holds
// no lock — it is only ever called from the one goroutine that owns it.
type Ledger struct {
	balances map[acctKey]Balance
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[acctKey]Balance)}
}

// Balance returns a user's current holding of an asset (zero value if
// never touched).
func (l *Ledger) Balance(userID uint64, assetID uint32) Balance {
	return l.balances[acctKey{userID, assetID}]
}

// SetBalance installs a balance directly — used only when restoring state
// from a snapshot (§4.6), never during normal operation.
func (l *Ledger) SetBalance(userID uint64, assetID uint32, b Balance) {
	l.balances[acctKey{userID, assetID}] = b
}

// Range iterates every (user, asset) balance currently held, for
// snapshotting (§4.6). Iteration order is unspecified.
func (l *Ledger) Range(fn func(userID uint64, assetID uint32, b Balance)) {
	for k, b := range l.balances {
		fn(k.userID, k.assetID, b)
	}
}

// Deposit credits available balance from an external source (§4.2).
func (l *Ledger) Deposit(userID uint64, assetID uint32, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	if amount == 0 {
		return BalanceEvent{}, fmt.Errorf("ubscore: deposit amount must be positive")
	}
	k := acctKey{userID, assetID}
	b := l.balances[k]
	available, err := b.Available.Add(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: deposit overflow: %w", err)
	}
	b.Available = available
	l.balances[k] = b
	return BalanceEvent{
		Type: EventDeposit, UserID: userID, AssetID: assetID,
		Delta: money.Delta(amount), SeqID: seqID,
	}, nil
}

// Withdraw debits available balance to an external destination (§4.2).
// Fails if the available balance cannot cover the withdrawal — locked
// funds are never eligible for withdrawal.
func (l *Ledger) Withdraw(userID uint64, assetID uint32, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	if amount == 0 {
		return BalanceEvent{}, fmt.Errorf("ubscore: withdraw amount must be positive")
	}
	k := acctKey{userID, assetID}
	b := l.balances[k]
	available, err := b.Available.Sub(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: insufficient available balance for withdrawal: %w", err)
	}
	b.Available = available
	l.balances[k] = b
	return BalanceEvent{
		Type: EventWithdraw, UserID: userID, AssetID: assetID,
		Delta: -money.Delta(amount), SeqID: seqID,
	}, nil
}

// Lock moves amount from available to locked, failing if available
// balance is insufficient (§4.2's pre-trade check). This is the operation
// that funds a new resting order.
func (l *Ledger) Lock(userID uint64, assetID uint32, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	if amount == 0 {
		return BalanceEvent{}, fmt.Errorf("ubscore: lock amount must be positive")
	}
	k := acctKey{userID, assetID}
	b := l.balances[k]
	available, err := b.Available.Sub(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: insufficient balance to lock %d of asset %d for user %d: %w", amount, assetID, userID, err)
	}
	locked, err := b.Locked.Add(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: lock overflow: %w", err)
	}
	b.Available = available
	b.Locked = locked
	b.LockVersion++
	l.balances[k] = b
	return BalanceEvent{
		Type: EventLock, UserID: userID, AssetID: assetID,
		Delta: money.Delta(amount), LockVersion: b.LockVersion, SeqID: seqID,
	}, nil
}

// Unlock releases amount from locked back to available — used when a
// resting order is canceled or reduced (§4.2).
func (l *Ledger) Unlock(userID uint64, assetID uint32, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	if amount == 0 {
		return BalanceEvent{}, fmt.Errorf("ubscore: unlock amount must be positive")
	}
	k := acctKey{userID, assetID}
	b := l.balances[k]
	locked, err := b.Locked.Sub(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: lock-safety violation unlocking %d of asset %d for user %d: %w", amount, assetID, userID, err)
	}
	available, err := b.Available.Add(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: unlock overflow: %w", err)
	}
	b.Locked = locked
	b.Available = available
	b.LockVersion++
	l.balances[k] = b
	return BalanceEvent{
		Type: EventUnlock, UserID: userID, AssetID: assetID,
		Delta: money.Delta(amount), LockVersion: b.LockVersion, SeqID: seqID,
	}, nil
}

// Settle applies a trade's final effect on one side of the ledger: it
// consumes previously-locked funds of the asset given up (giveAsset,
// giveAmount) and credits available funds of the asset received
// (receiveAsset, netReceiveAmount, already net of fees per §4.4). Both
// legs of a trade call Settle once each, from pkg/settlement.
func (l *Ledger) Settle(userID uint64, giveAsset uint32, giveAmount money.Amount, receiveAsset uint32, netReceiveAmount money.Amount, seqID uint64) (give, receive BalanceEvent, err error) {
	gk := acctKey{userID, giveAsset}
	gb := l.balances[gk]
	gLocked, err := gb.Locked.Sub(giveAmount)
	if err != nil {
		return BalanceEvent{}, BalanceEvent{}, fmt.Errorf("ubscore: settle cannot consume locked %d of asset %d for user %d: %w", giveAmount, giveAsset, userID, err)
	}
	gb.Locked = gLocked
	gb.SettleVersion++
	l.balances[gk] = gb

	rk := acctKey{userID, receiveAsset}
	rb := l.balances[rk]
	rAvailable, err := rb.Available.Add(netReceiveAmount)
	if err != nil {
		return BalanceEvent{}, BalanceEvent{}, fmt.Errorf("ubscore: settle credit overflow: %w", err)
	}
	rb.Available = rAvailable
	rb.SettleVersion++
	l.balances[rk] = rb

	give = BalanceEvent{Type: EventSettle, UserID: userID, AssetID: giveAsset, Delta: -money.Delta(giveAmount), SettleVersion: gb.SettleVersion, SeqID: seqID}
	receive = BalanceEvent{Type: EventSettle, UserID: userID, AssetID: receiveAsset, Delta: money.Delta(netReceiveAmount), SettleVersion: rb.SettleVersion, SeqID: seqID}
	return give, receive, nil
}

// ApplyRecoveredEvent re-applies one WAL-recorded BalanceEvent during
// crash recovery (§4.7). It is idempotent against double-replay: Lock/
// Unlock events carry a LockVersion and Settle events a SettleVersion,
// and an event whose version is not strictly newer than the balance's
// current version is skipped, since a WAL replay always starts at or
// before the last snapshot's recorded sequence.
func (l *Ledger) ApplyRecoveredEvent(e BalanceEvent) {
	k := acctKey{e.UserID, e.AssetID}
	b := l.balances[k]

	switch e.Type {
	case EventLock, EventUnlock:
		if e.LockVersion != 0 && e.LockVersion <= b.LockVersion {
			return
		}
		b.LockVersion = e.LockVersion
	case EventSettle:
		if e.SettleVersion != 0 && e.SettleVersion <= b.SettleVersion {
			return
		}
		b.SettleVersion = e.SettleVersion
	}

	switch e.Type {
	case EventLock:
		b.Available, _ = b.Available.Sub(money.Amount(e.Delta))
		b.Locked, _ = b.Locked.Add(money.Amount(e.Delta))
	case EventUnlock:
		b.Locked, _ = b.Locked.Sub(money.Amount(e.Delta))
		b.Available, _ = b.Available.Add(money.Amount(e.Delta))
	case EventDeposit, EventWithdraw:
		b.Available, _ = b.Available.ApplyDelta(e.Delta)
	case EventSettle:
		if e.Delta < 0 {
			b.Locked, _ = b.Locked.Sub(money.Amount(-e.Delta))
		} else {
			b.Available, _ = b.Available.Add(money.Amount(e.Delta))
		}
	}
	l.balances[k] = b
}

// PlatformFeeUserID is the platform's fee account that fees are routed to
// (§4.4): user id 0, a reserved account id no real user can occupy.
const PlatformFeeUserID uint64 = 0

// CreditPlatformFee credits the platform fee account, used by settlement
// once per fee leg of a trade.
func (l *Ledger) CreditPlatformFee(assetID uint32, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	if amount == 0 {
		return BalanceEvent{}, nil
	}
	k := acctKey{PlatformFeeUserID, assetID}
	b := l.balances[k]
	available, err := b.Available.Add(amount)
	if err != nil {
		return BalanceEvent{}, fmt.Errorf("ubscore: platform fee credit overflow: %w", err)
	}
	b.Available = available
	b.SettleVersion++
	l.balances[k] = b
	return BalanceEvent{
		Type: EventSettle, UserID: PlatformFeeUserID, AssetID: assetID,
		Delta: money.Delta(amount), SettleVersion: b.SettleVersion, SeqID: seqID,
	}, nil
}

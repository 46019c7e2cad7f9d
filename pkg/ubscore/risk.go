package ubscore

import (
	"errors"
	"fmt"

	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
)

// RejectReason enumerates the pre-trade rejection causes from §4.2/§4.2.1.
type RejectReason string

const (
	ReasonInsufficientBalance RejectReason = "INSUFFICIENT_BALANCE"
	ReasonMissingQuoteBudget  RejectReason = "MISSING_QUOTE_BUDGET"
	ReasonUnknownSymbol       RejectReason = "UNKNOWN_SYMBOL"
	ReasonSymbolHalted        RejectReason = "SYMBOL_HALTED"
	ReasonBelowMinQty         RejectReason = "BELOW_MIN_QTY"
)

// Rejection carries why an order never reached the matching engine.
type Rejection struct {
	UserID uint64
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("ubscore: order from user %d rejected: %s", r.UserID, r.Reason)
}

// LockAmount computes the pre-trade lock per §4.2's rule table:
//   - SELL: lock qty of the base asset.
//   - BUY LIMIT: lock price*qty of the quote asset.
//   - BUY MARKET: lock exactly quote_budget of the quote asset (§4.2.1).
func LockAmount(o *orderbook.Order, sym market.Symbol) (assetID uint32, amount money.Amount, err error) {
	switch o.Side {
	case orderbook.Sell:
		return sym.BaseAssetID, money.Amount(o.Qty), nil
	case orderbook.Buy:
		if o.Kind == orderbook.Market {
			if o.QuoteBudget == 0 {
				return 0, 0, &Rejection{UserID: o.UserID, Reason: ReasonMissingQuoteBudget}
			}
			return sym.QuoteAssetID, money.Amount(o.QuoteBudget), nil
		}
		notional, err := money.MulDiv(money.Amount(o.Price), o.Qty, 1)
		if err != nil {
			return 0, 0, fmt.Errorf("ubscore: computing notional: %w", err)
		}
		return sym.QuoteAssetID, notional, nil
	default:
		return 0, 0, fmt.Errorf("ubscore: unknown side %v", o.Side)
	}
}

// PreTradeCheck implements §4.2's admission check: compute the lock
// amount, verify the symbol is tradeable and a LIMIT order meets min_qty,
// then attempt the Lock against the ledger. On success it returns the
// BalanceEvent to be WAL-recorded; on failure it returns a *Rejection
// (not a Lock event — "No event recorded except a rejection log").
func PreTradeCheck(l *Ledger, ctx *market.Context, o *orderbook.Order, seqID uint64) (BalanceEvent, error) {
	sym, ok := ctx.Symbol(o.SymbolID)
	if !ok {
		return BalanceEvent{}, &Rejection{UserID: o.UserID, Reason: ReasonUnknownSymbol}
	}
	if !sym.IsTrading() {
		return BalanceEvent{}, &Rejection{UserID: o.UserID, Reason: ReasonSymbolHalted}
	}
	if o.Kind == orderbook.Limit && o.Qty < sym.MinQty {
		return BalanceEvent{}, &Rejection{UserID: o.UserID, Reason: ReasonBelowMinQty}
	}

	assetID, amount, err := LockAmount(o, sym)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			return BalanceEvent{}, rej
		}
		return BalanceEvent{}, err
	}

	event, err := l.Lock(o.UserID, assetID, amount, seqID)
	if err != nil {
		return BalanceEvent{}, &Rejection{UserID: o.UserID, Reason: ReasonInsufficientBalance}
	}
	return event, nil
}

// ReleaseRemainingLock returns an already-computed amount of unused lock to
// available balance on cancel, reduce, or terminal fill-with-remainder
// (§4.2's "On cancel / full-fill with remainder"), plus any price
// improvement a taker received on the portion that did fill. amount is in
// the locked asset's own unit — base qty for a SELL, quote notional for a
// BUY (LIMIT or MARKET) — computed by the caller (pkg/pipeline), since the
// conversion from qty to notional for a BUY LIMIT depends on the order's
// own limit price at both the locking and the releasing end.
func ReleaseRemainingLock(l *Ledger, o *orderbook.Order, sym market.Symbol, amount money.Amount, seqID uint64) (BalanceEvent, error) {
	assetID := sym.QuoteAssetID
	if o.Side == orderbook.Sell {
		assetID = sym.BaseAssetID
	}
	return l.Unlock(o.UserID, assetID, amount, seqID)
}

// Package settlement applies a single Trade's balance effects to the
// UBSCore ledger (§4.2's "Settlement on each Trade" section): both legs
// give up their locked asset and receive the other asset net of fees,
// with each fee routed to the platform account as its own Settle event.
// There is no teacher equivalent of cross-asset trade settlement (the
// teacher's perp engine marks positions instead of moving spot
// balances), so this package is built directly from the spec's formulas
// on top of pkg/ubscore and pkg/fees.
package settlement

import (
	"fmt"

	"github.com/specx-labs/matchcore/pkg/fees"
	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

// Leg identifies one side's role in a trade for VIP/fee lookup purposes.
type Leg struct {
	UserID uint64
	Side   orderbook.Side
	VIP    fees.VIPLevel
}

// Result is every BalanceEvent produced settling one Trade, in emission
// order, suitable for direct WAL recording (§4.5, EntryUBSCoreBalance).
type Result struct {
	Events []ubscore.BalanceEvent
}

// Apply settles one Fill between a maker and taker leg at the fill's
// price and quantity (§4.2). Both give/receive legs are computed
// symmetrically: "provides base if SELL, quote if BUY" for whichever
// side the leg is on, with the received amount credited net of its fee.
func Apply(l *ubscore.Ledger, sym market.Symbol, feeTable fees.Table, fill orderbook.Fill, maker, taker Leg, seqID uint64) (Result, error) {
	var res Result

	makerFee, err := settleLeg(l, sym, feeTable, maker, sym.MakerFeeBps, fill.Price, fill.Qty, seqID, &res)
	if err != nil {
		return Result{}, fmt.Errorf("settlement: maker leg: %w", err)
	}
	takerFee, err := settleLeg(l, sym, feeTable, taker, sym.TakerFeeBps, fill.Price, fill.Qty, seqID, &res)
	if err != nil {
		return Result{}, fmt.Errorf("settlement: taker leg: %w", err)
	}

	if makerFee > 0 {
		ev, err := l.CreditPlatformFee(receiveAsset(sym, maker.Side), makerFee, seqID)
		if err != nil {
			return Result{}, fmt.Errorf("settlement: crediting maker fee: %w", err)
		}
		res.Events = append(res.Events, ev)
	}
	if takerFee > 0 {
		ev, err := l.CreditPlatformFee(receiveAsset(sym, taker.Side), takerFee, seqID)
		if err != nil {
			return Result{}, fmt.Errorf("settlement: crediting taker fee: %w", err)
		}
		res.Events = append(res.Events, ev)
	}

	return res, nil
}

func giveAsset(sym market.Symbol, side orderbook.Side) uint32 {
	if side == orderbook.Sell {
		return sym.BaseAssetID
	}
	return sym.QuoteAssetID
}

func receiveAsset(sym market.Symbol, side orderbook.Side) uint32 {
	if side == orderbook.Sell {
		return sym.QuoteAssetID
	}
	return sym.BaseAssetID
}

// settleLeg computes one side's give/receive amounts, nets the fee out of
// the received amount, calls Ledger.Settle, and appends both resulting
// events to res. It returns the fee amount so the caller can route it to
// the platform account.
func settleLeg(l *ubscore.Ledger, sym market.Symbol, feeTable fees.Table, leg Leg, baseBps int64, price, qty uint64, seqID uint64, res *Result) (money.Amount, error) {
	give := giveAsset(sym, leg.Side)
	receive := receiveAsset(sym, leg.Side)

	var giveAmount, grossReceive money.Amount
	if leg.Side == orderbook.Sell {
		giveAmount = money.Amount(qty)
		notional, err := money.MulDiv(money.Amount(price), qty, 1)
		if err != nil {
			return 0, err
		}
		grossReceive = notional
	} else {
		notional, err := money.MulDiv(money.Amount(price), qty, 1)
		if err != nil {
			return 0, err
		}
		giveAmount = notional
		grossReceive = money.Amount(qty)
	}

	fee, err := fees.Compute(baseBps, leg.VIP, feeTable, grossReceive)
	if err != nil {
		return 0, fmt.Errorf("computing fee: %w", err)
	}
	netReceive, err := grossReceive.Sub(fee)
	if err != nil {
		return 0, fmt.Errorf("fee %d exceeds gross receive %d: %w", fee, grossReceive, err)
	}

	giveEv, receiveEv, err := l.Settle(leg.UserID, give, giveAmount, receive, netReceive, seqID)
	if err != nil {
		return 0, err
	}
	res.Events = append(res.Events, giveEv, receiveEv)
	return fee, nil
}

package settlement

import (
	"testing"

	"github.com/specx-labs/matchcore/pkg/fees"
	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

func testSymbol() market.Symbol {
	return market.Symbol{
		ID: 10, Name: "BTC_USDT", BaseAssetID: 1, QuoteAssetID: 2,
		PriceScale: 6, QtyScale: 8, MinQty: 1, MakerFeeBps: 10, TakerFeeBps: 20,
		Status: market.StatusTrading,
	}
}

// Sell maker / Buy taker: maker gives base, receives quote net of maker
// fee; taker gives quote, receives base net of taker fee (§4.2 worked
// example).
func TestApplySellMakerBuyTaker(t *testing.T) {
	sym := testSymbol()
	l := ubscore.NewLedger()

	if _, err := l.Deposit(1, sym.BaseAssetID, 1_000_000, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Lock(1, sym.BaseAssetID, 1_000_000, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Deposit(2, sym.QuoteAssetID, 100_000_000_000, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Lock(2, sym.QuoteAssetID, 100_000_000_000, 4); err != nil {
		t.Fatal(err)
	}

	fill := orderbook.Fill{Price: 50_000, Qty: 1_000_000, MakerID: 1, TakerID: 2, MakerUser: 1, TakerUser: 2, MakerDone: true}
	maker := Leg{UserID: 1, Side: orderbook.Sell, VIP: 0}
	taker := Leg{UserID: 2, Side: orderbook.Buy, VIP: 0}

	res, err := Apply(l, sym, fees.DefaultTable(), fill, maker, taker, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) == 0 {
		t.Fatal("expected settle events")
	}

	const notional uint64 = 50_000 * 1_000_000
	makerFee, err := fees.Compute(sym.MakerFeeBps, 0, fees.DefaultTable(), money.Amount(notional))
	if err != nil {
		t.Fatal(err)
	}
	takerFee, err := fees.Compute(sym.TakerFeeBps, 0, fees.DefaultTable(), 1_000_000)
	if err != nil {
		t.Fatal(err)
	}

	makerBalance := l.Balance(1, sym.QuoteAssetID)
	if uint64(makerBalance.Available) != notional-uint64(makerFee) {
		t.Fatalf("maker quote available = %d, want %d", makerBalance.Available, notional-uint64(makerFee))
	}
	makerBase := l.Balance(1, sym.BaseAssetID)
	if makerBase.Locked != 0 {
		t.Fatalf("maker base locked should be consumed, got %d", makerBase.Locked)
	}

	takerBase := l.Balance(2, sym.BaseAssetID)
	if uint64(takerBase.Available) != 1_000_000-uint64(takerFee) {
		t.Fatalf("taker base available = %d, want %d", takerBase.Available, 1_000_000-uint64(takerFee))
	}
	takerQuote := l.Balance(2, sym.QuoteAssetID)
	if uint64(takerQuote.Locked) != 100_000_000_000-notional {
		t.Fatalf("taker quote locked = %d, want %d", takerQuote.Locked, 100_000_000_000-notional)
	}

	platformQuote := l.Balance(ubscore.PlatformFeeUserID, sym.QuoteAssetID)
	if uint64(platformQuote.Available) != uint64(makerFee) {
		t.Fatalf("platform quote fee = %d, want %d", platformQuote.Available, makerFee)
	}
	platformBase := l.Balance(ubscore.PlatformFeeUserID, sym.BaseAssetID)
	if uint64(platformBase.Available) != uint64(takerFee) {
		t.Fatalf("platform base fee = %d, want %d", platformBase.Available, takerFee)
	}
}

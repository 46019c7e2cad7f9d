package pipeline

import (
	"testing"
	"time"

	"github.com/specx-labs/matchcore/pkg/events"
	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// These tests wire all four stages together over real rings and real
// (temp-dir) WAL writers, the way cmd/matchcore/main.go does at startup,
// exercising the staged pipeline end to end without a gateway (§4.3).

func newTestMarket(t *testing.T) *market.Registry {
	t.Helper()
	ctx, err := market.NewContext(
		[]market.Asset{
			{ID: 1, Code: "USDT", InternalScale: 6, Precision: 2},
			{ID: 2, Code: "BTC", InternalScale: 8, Precision: 8},
		},
		[]market.Symbol{
			{ID: 1, Name: "BTC-USDT", BaseAssetID: 2, QuoteAssetID: 1, PriceScale: 2, QtyScale: 8, MinQty: 1, MakerFeeBps: 10, TakerFeeBps: 20, Status: market.StatusTrading},
		},
	)
	if err != nil {
		t.Fatalf("building market context: %v", err)
	}
	return market.NewRegistry(ctx)
}

func newTestWAL(t *testing.T, name string) *walog.Writer {
	t.Helper()
	dir := t.TempDir() + "/" + name
	w, err := walog.NewWriter(walog.WriterOptions{Dir: dir})
	if err != nil {
		t.Fatalf("opening %s WAL: %v", name, err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

// forward copies everything a producer stage emits into the next stage's
// inbound ring; each NewXService call allocates its own `in` ring, so two
// adjacent stages are stitched together by a forwarding goroutine rather
// than by sharing one Ring instance across both Options structs.
func forward[T any](shutdown *ShutdownSignal, from, to *Ring[T]) {
	for {
		v, ok := from.Pop(shutdown.Done())
		if !ok {
			return
		}
		to.Push(v, shutdown.Done())
	}
}

// waitFor polls until cond returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPipelineEndToEnd(t *testing.T) {
	shutdown := NewShutdownSignal()
	mkt := newTestMarket(t)
	ledger := ubscore.NewLedger()

	toUBSCore := NewRing[SeqAction](64)
	toMatching := NewRing[LockedOrder](64)
	toSettlement := NewRing[MEResult](64)
	rejected := NewRing[Rejection](64)
	settleResultRing := NewRing[SettleResult](64)

	ingestion := NewIngestionService(IngestionOptions{
		InCapacity: 64,
		OutRing:    toUBSCore,
		WAL:        newTestWAL(t, "ingestion"),
		Shutdown:   shutdown,
	})

	ub := NewUBSCoreService(UBSCoreOptions{
		InCapacity:      64,
		SettleInCap:     64,
		ReleaseInCap:    64,
		OutLocked:       toMatching,
		OutRejected:     rejected,
		OutSettleResult: settleResultRing,
		WAL:             newTestWAL(t, "ubscore"),
		Ledger:          ledger,
		MarketContext:   mkt,
		Shutdown:        shutdown,
	})

	matching := NewMatchingService(MatchingOptions{
		InCapacity:    64,
		Out:           toSettlement,
		ReleaseOut:    ub.ReleaseIn(),
		WAL:           newTestWAL(t, "matching"),
		MarketContext: mkt,
		Shutdown:      shutdown,
	})

	settlement := NewSettlementService(SettlementOptions{
		InCapacity:     64,
		SettleOut:      ub.SettleIn(),
		SettleResultIn: settleResultRing,
		WAL:            newTestWAL(t, "settlement"),
		Bus:            events.NewBus(nil),
		Depth:          matching,
		Shutdown:       shutdown,
	})

	go ingestion.Run()
	go ub.Run()
	go matching.Run()
	go settlement.Run()
	go forward(shutdown, toUBSCore, ub.In())
	go forward(shutdown, toMatching, matching.In())
	go forward(shutdown, toSettlement, settlement.In())

	defer shutdown.Trigger()

	const seller, buyer uint64 = 1, 2
	const usdt, btc uint32 = 1, 2

	ingestion.Submit(OrderAction{Kind: ActionDeposit, UserID: seller, AssetID: btc, Amount: money.Amount(10_00000000)})
	// A BUY LIMIT locks price*qty of quote, so the buyer funds exactly the
	// notional of the order placed below.
	ingestion.Submit(OrderAction{Kind: ActionDeposit, UserID: buyer, AssetID: usdt, Amount: money.Amount(100_00 * 1_00000000)})

	waitFor(t, time.Second, func() bool {
		return ledger.Balance(seller, btc).Available == money.Amount(10_00000000) &&
			ledger.Balance(buyer, usdt).Available == money.Amount(100_00*1_00000000)
	})

	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: seller, SymbolID: 1,
		Side: orderbook.Sell, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 100_00, Qty: 1_00000000,
	})
	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: buyer, SymbolID: 1,
		Side: orderbook.Buy, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 100_00, Qty: 1_00000000,
	})

	waitFor(t, time.Second, func() bool {
		return ledger.Balance(seller, usdt).Available > 0 && ledger.Balance(buyer, btc).Available > 0
	})

	// The taker's 20bps fee is deducted from the base it receives:
	// 1_00000000 * 20 / 10000 = 200_000.
	buyerBase := ledger.Balance(buyer, btc).Available
	if buyerBase != money.Amount(1_00000000-200_000) {
		t.Fatalf("buyer base balance = %d, want %d", buyerBase, 1_00000000-200_000)
	}

	sellerQuote := ledger.Balance(seller, usdt).Available
	grossNotional := money.Amount(100_00 * 1_00000000)
	if sellerQuote <= 0 || sellerQuote >= grossNotional {
		t.Fatalf("seller quote balance = %d, want 0 < x < %d (gross minus maker fee)", sellerQuote, grossNotional)
	}

	book, ok := matching.Book(1)
	if !ok {
		t.Fatal("expected book for symbol 1 to exist")
	}
	if len(book.RestingOrders()) != 0 {
		t.Fatalf("expected no resting orders after a full cross, got %d", len(book.RestingOrders()))
	}
}

// TestPipelineEndToEndPriceImprovement exercises a taker that crosses two
// resting asks at different prices (§4.1's price-improvement rule: a trade
// always prices at the maker's resting price). UBSCore locks the BUY
// LIMIT's full notional at its own limit price on admission, but the
// trades settle at the cheaper maker prices, so the difference must come
// back to available rather than sit stranded in locked forever (§4.2).
func TestPipelineEndToEndPriceImprovement(t *testing.T) {
	shutdown := NewShutdownSignal()
	mkt := newTestMarket(t)
	ledger := ubscore.NewLedger()

	toUBSCore := NewRing[SeqAction](64)
	toMatching := NewRing[LockedOrder](64)
	toSettlement := NewRing[MEResult](64)
	rejected := NewRing[Rejection](64)
	settleResultRing := NewRing[SettleResult](64)

	ingestion := NewIngestionService(IngestionOptions{
		InCapacity: 64,
		OutRing:    toUBSCore,
		WAL:        newTestWAL(t, "ingestion"),
		Shutdown:   shutdown,
	})
	ub := NewUBSCoreService(UBSCoreOptions{
		InCapacity:      64,
		SettleInCap:     64,
		ReleaseInCap:    64,
		OutLocked:       toMatching,
		OutRejected:     rejected,
		OutSettleResult: settleResultRing,
		WAL:             newTestWAL(t, "ubscore"),
		Ledger:          ledger,
		MarketContext:   mkt,
		Shutdown:        shutdown,
	})
	matching := NewMatchingService(MatchingOptions{
		InCapacity:    64,
		Out:           toSettlement,
		ReleaseOut:    ub.ReleaseIn(),
		WAL:           newTestWAL(t, "matching"),
		MarketContext: mkt,
		Shutdown:      shutdown,
	})
	settlement := NewSettlementService(SettlementOptions{
		InCapacity:     64,
		SettleOut:      ub.SettleIn(),
		SettleResultIn: settleResultRing,
		WAL:            newTestWAL(t, "settlement"),
		Bus:            events.NewBus(nil),
		Depth:          matching,
		Shutdown:       shutdown,
	})

	go ingestion.Run()
	go ub.Run()
	go matching.Run()
	go settlement.Run()
	go forward(shutdown, toUBSCore, ub.In())
	go forward(shutdown, toMatching, matching.In())
	go forward(shutdown, toSettlement, settlement.In())
	defer shutdown.Trigger()

	const seller1, seller2, buyer uint64 = 1, 2, 3
	const usdt, btc uint32 = 1, 2

	ingestion.Submit(OrderAction{Kind: ActionDeposit, UserID: seller1, AssetID: btc, Amount: money.Amount(1000)})
	ingestion.Submit(OrderAction{Kind: ActionDeposit, UserID: seller2, AssetID: btc, Amount: money.Amount(1000)})
	ingestion.Submit(OrderAction{Kind: ActionDeposit, UserID: buyer, AssetID: usdt, Amount: money.Amount(10000)})

	waitFor(t, time.Second, func() bool {
		return ledger.Balance(seller1, btc).Available == money.Amount(1000) &&
			ledger.Balance(seller2, btc).Available == money.Amount(1000) &&
			ledger.Balance(buyer, usdt).Available == money.Amount(10000)
	})

	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: seller1, SymbolID: 1,
		Side: orderbook.Sell, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 100, Qty: 10,
	})
	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: seller2, SymbolID: 1,
		Side: orderbook.Sell, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 101, Qty: 2,
	})

	waitFor(t, time.Second, func() bool {
		return ledger.Balance(seller1, btc).Locked == money.Amount(10) &&
			ledger.Balance(seller2, btc).Locked == money.Amount(2)
	})

	// A single BUY LIMIT 12 @ 101 crosses both: 10 fill at 100 (price
	// improvement of 1 per unit) and 2 fill at 101 (no improvement). Locks
	// 101*12 = 1212 on admission; trades settle for 100*10 + 101*2 = 1202.
	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: buyer, SymbolID: 1,
		Side: orderbook.Buy, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 101, Qty: 12,
	})

	waitFor(t, time.Second, func() bool {
		return ledger.Balance(buyer, btc).Available == money.Amount(12)
	})

	buyerQuote := ledger.Balance(buyer, usdt)
	if buyerQuote.Locked != 0 {
		t.Fatalf("buyer locked quote = %d, want 0 (price-improvement overlock must be released)", buyerQuote.Locked)
	}
	wantAvailable := money.Amount(10000 - (100*10 + 101*2))
	if buyerQuote.Available != wantAvailable {
		t.Fatalf("buyer available quote = %d, want %d", buyerQuote.Available, wantAvailable)
	}
}

func TestPipelineRejectsInsufficientBalance(t *testing.T) {
	shutdown := NewShutdownSignal()
	mkt := newTestMarket(t)
	ledger := ubscore.NewLedger()

	toUBSCore := NewRing[SeqAction](64)
	toMatching := NewRing[LockedOrder](64)
	rejected := NewRing[Rejection](64)
	settleResultRing := NewRing[SettleResult](64)

	ingestion := NewIngestionService(IngestionOptions{
		InCapacity: 64,
		OutRing:    toUBSCore,
		WAL:        newTestWAL(t, "ingestion"),
		Shutdown:   shutdown,
	})
	ub := NewUBSCoreService(UBSCoreOptions{
		InCapacity:      64,
		SettleInCap:     64,
		ReleaseInCap:    64,
		OutLocked:       toMatching,
		OutRejected:     rejected,
		OutSettleResult: settleResultRing,
		WAL:             newTestWAL(t, "ubscore"),
		Ledger:          ledger,
		MarketContext:   mkt,
		Shutdown:        shutdown,
	})

	go ingestion.Run()
	go ub.Run()
	go forward(shutdown, toUBSCore, ub.In())
	defer shutdown.Trigger()

	ingestion.Submit(OrderAction{
		Kind: ActionPlace, UserID: 42, SymbolID: 1,
		Side: orderbook.Buy, OrderKind: orderbook.Limit, TIF: orderbook.GTC,
		Price: 100_00, Qty: 1_00000000,
	})

	rej, ok := rejected.Pop(shutdown.Done())
	if !ok {
		t.Fatal("expected a rejection")
	}
	if rej.Reason != ubscore.ReasonInsufficientBalance {
		t.Fatalf("reason = %s, want %s", rej.Reason, ubscore.ReasonInsufficientBalance)
	}
}

func TestPipelineDuplicateCIDEchoesOriginalOrderID(t *testing.T) {
	shutdown := NewShutdownSignal()
	toUBSCore := NewRing[SeqAction](64)
	bus := events.NewBus(nil)
	updates := bus.Subscribe("test", 4)
	ingestion := NewIngestionService(IngestionOptions{
		InCapacity:      64,
		OutRing:         toUBSCore,
		WAL:             newTestWAL(t, "ingestion"),
		Bus:             bus,
		CidCachePerUser: 8,
		Shutdown:        shutdown,
	})
	go ingestion.Run()
	defer shutdown.Trigger()

	a := OrderAction{Kind: ActionPlace, UserID: 7, SymbolID: 1, CID: "order-1", Side: orderbook.Buy, OrderKind: orderbook.Limit, Price: 100_00, Qty: 1}
	ingestion.Submit(a)
	first, ok := toUBSCore.Pop(shutdown.Done())
	if !ok || first.Action.CID != "order-1" {
		t.Fatal("expected first submission to pass through")
	}
	originalOrderID := first.SeqID

	ingestion.Submit(a)
	if toUBSCore.Len() != 0 {
		t.Fatal("expected duplicate CID not to be re-admitted to UBSCore")
	}

	select {
	case ev := <-updates:
		if ev.Order == nil {
			t.Fatal("expected an OrderUpdate echoing the duplicate submission")
		}
		if ev.Order.Order.ID != originalOrderID {
			t.Fatalf("echoed order_id = %d, want %d (the original)", ev.Order.Order.ID, originalOrderID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an OrderUpdate echoing the original order_id on duplicate cid")
	}
}

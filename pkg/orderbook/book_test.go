package orderbook

import "testing"

func mkOrder(id, user uint64, side Side, kind Kind, tif TIF, price, qty uint64) *Order {
	return &Order{
		ID:       id,
		UserID:   user,
		SymbolID: 1,
		Side:     side,
		Kind:     kind,
		TIF:      tif,
		Price:    price,
		Qty:      qty,
		Status:   StatusNew,
	}
}

// Scenario 1: a resting ask is fully matched by a crossing limit bid.
func TestBasicMatch(t *testing.T) {
	b := NewBook(1)

	ask := mkOrder(1, 100, Sell, Limit, GTC, 50_000, 10)
	if _, err := b.Place(ask); err != nil {
		t.Fatal(err)
	}
	if ask.Status != StatusNew {
		t.Fatalf("resting ask status = %v, want NEW", ask.Status)
	}

	bid := mkOrder(2, 200, Buy, Limit, GTC, 50_000, 10)
	fills, err := b.Place(bid)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("got %d fills, want 1", len(fills))
	}
	f := fills[0]
	if f.Price != 50_000 || f.Qty != 10 {
		t.Fatalf("fill = %+v", f)
	}
	if f.MakerID != 1 || f.TakerID != 2 {
		t.Fatalf("fill maker/taker ids = %d/%d", f.MakerID, f.TakerID)
	}
	if !f.MakerDone {
		t.Fatal("maker should be fully consumed")
	}
	if bid.Status != StatusFilled || ask.Status != StatusFilled {
		t.Fatalf("bid=%v ask=%v, want both FILLED", bid.Status, ask.Status)
	}
	if bid.FilledQty != 10 || ask.FilledQty != 10 {
		t.Fatalf("filled qty bid=%d ask=%d", bid.FilledQty, ask.FilledQty)
	}

	bids, asks := b.Depth(10)
	if len(bids) != 0 || len(asks) != 0 {
		t.Fatalf("book should be empty after full match, got bids=%v asks=%v", bids, asks)
	}
}

// Scenario 2: a partially filled resting order can still be canceled, and
// cancellation removes exactly that order without disturbing the level.
func TestCancelAfterPartialFill(t *testing.T) {
	b := NewBook(1)

	ask := mkOrder(1, 100, Sell, Limit, GTC, 50_000, 10)
	if _, err := b.Place(ask); err != nil {
		t.Fatal(err)
	}

	bid := mkOrder(2, 200, Buy, Limit, GTC, 50_000, 4)
	if _, err := b.Place(bid); err != nil {
		t.Fatal(err)
	}
	if ask.Status != StatusPartiallyFilled || ask.FilledQty != 4 {
		t.Fatalf("ask after partial fill = %+v", ask)
	}

	canceled, err := b.Cancel(1)
	if err != nil {
		t.Fatal(err)
	}
	if canceled.Status != StatusCanceled {
		t.Fatalf("status = %v, want CANCELED", canceled.Status)
	}
	if canceled.Remaining() != 6 {
		t.Fatalf("remaining at cancel = %d, want 6", canceled.Remaining())
	}

	if _, err := b.Cancel(1); err != ErrOrderNotFound {
		t.Fatalf("second cancel err = %v, want ErrOrderNotFound", err)
	}

	bids, asks := b.Depth(10)
	if len(bids) != 0 || len(asks) != 0 {
		t.Fatalf("book should be empty, got bids=%v asks=%v", bids, asks)
	}
}

// Scenario 3: an IOC order with no (or only partial) match expires
// immediately rather than resting.
func TestIOCExpires(t *testing.T) {
	b := NewBook(1)

	// No liquidity at all: IOC order fills zero and expires.
	ioc := mkOrder(1, 100, Buy, Limit, IOC, 50_000, 10)
	fills, err := b.Place(ioc)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(fills))
	}
	if ioc.Status != StatusExpired {
		t.Fatalf("status = %v, want EXPIRED", ioc.Status)
	}
	if bids, _ := b.Depth(10); len(bids) != 0 {
		t.Fatal("IOC must never rest")
	}

	// Partial liquidity: IOC fills what it can, then expires instead of resting.
	ask := mkOrder(2, 300, Sell, Limit, GTC, 50_000, 3)
	if _, err := b.Place(ask); err != nil {
		t.Fatal(err)
	}
	ioc2 := mkOrder(3, 100, Buy, Limit, IOC, 50_000, 10)
	fills, err = b.Place(ioc2)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].Qty != 3 {
		t.Fatalf("fills = %+v, want one fill of qty 3", fills)
	}
	if ioc2.Status != StatusExpired || ioc2.FilledQty != 3 {
		t.Fatalf("ioc2 = %+v", ioc2)
	}
	if bids, _ := b.Depth(10); len(bids) != 0 {
		t.Fatal("partially filled IOC must not rest its remainder")
	}
}

// Scenario 4: reduce shrinks a resting order's quantity but preserves its
// place in the FIFO queue (it still trades ahead of an order placed after it).
func TestReducePreservesPriority(t *testing.T) {
	b := NewBook(1)

	first := mkOrder(1, 100, Sell, Limit, GTC, 50_000, 10)
	second := mkOrder(2, 200, Sell, Limit, GTC, 50_000, 10)
	if _, err := b.Place(first); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Place(second); err != nil {
		t.Fatal(err)
	}

	if _, _, err := b.Reduce(1, 4); err != nil {
		t.Fatal(err)
	}
	if first.Qty != 6 {
		t.Fatalf("first.Qty = %d, want 6", first.Qty)
	}

	taker := mkOrder(3, 300, Buy, Limit, GTC, 50_000, 6)
	fills, err := b.Place(taker)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].MakerID != 1 {
		t.Fatalf("expected the reduced-but-still-first order to fill first, got %+v", fills)
	}
	if first.Status != StatusFilled {
		t.Fatalf("first.Status = %v, want FILLED", first.Status)
	}
	if second.FilledQty != 0 {
		t.Fatalf("second should be untouched, got filled=%d", second.FilledQty)
	}
}

// Reduce to exactly zero remaining cancels the order outright.
func TestReduceToZeroCancels(t *testing.T) {
	b := NewBook(1)
	o := mkOrder(1, 100, Sell, Limit, GTC, 50_000, 10)
	if _, err := b.Place(o); err != nil {
		t.Fatal(err)
	}
	reduced, removed, err := b.Reduce(1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 10 {
		t.Fatalf("removed = %d, want 10", removed)
	}
	if reduced.Status != StatusCanceled {
		t.Fatalf("status = %v, want CANCELED", reduced.Status)
	}
	if _, err := b.Cancel(1); err != ErrOrderNotFound {
		t.Fatal("order should already be gone")
	}
}

// Scenario 5: moving a resting order to a new price loses queue priority,
// even against an order that arrived after it at the old price — and move
// never triggers an immediate match even when the new price crosses.
func TestMoveLosesPriority(t *testing.T) {
	b := NewBook(1)

	first := mkOrder(1, 100, Sell, Limit, GTC, 50_000, 10)
	second := mkOrder(2, 200, Sell, Limit, GTC, 50_000, 10)
	if _, err := b.Place(first); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Place(second); err != nil {
		t.Fatal(err)
	}

	moved, err := b.Move(1, 50_000)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Status != StatusNew {
		t.Fatalf("moved order status = %v", moved.Status)
	}

	taker := mkOrder(3, 300, Buy, Limit, GTC, 50_000, 10)
	fills, err := b.Place(taker)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 || fills[0].MakerID != 2 {
		t.Fatalf("expected order 2 (now ahead in queue) to fill first, got %+v", fills)
	}
}

func TestMoveNeverMatchesEvenIfCrossing(t *testing.T) {
	b := NewBook(1)

	bid := mkOrder(1, 100, Buy, Limit, GTC, 40_000, 10)
	if _, err := b.Place(bid); err != nil {
		t.Fatal(err)
	}
	ask := mkOrder(2, 200, Sell, Limit, GTC, 60_000, 10)
	if _, err := b.Place(ask); err != nil {
		t.Fatal(err)
	}

	// Moving the ask down to 30,000 crosses the resting bid at 40,000, but
	// move() must never trigger matching on its own (§4.1).
	moved, err := b.Move(2, 30_000)
	if err != nil {
		t.Fatal(err)
	}
	if moved.Status != StatusNew || moved.FilledQty != 0 {
		t.Fatalf("moved order should remain unmatched, got %+v", moved)
	}
	bids, asks := b.Depth(10)
	if len(bids) != 1 || len(asks) != 1 {
		t.Fatalf("both orders should still be resting, bids=%v asks=%v", bids, asks)
	}
}

func TestMarketBuyRequiresQuoteBudget(t *testing.T) {
	b := NewBook(1)
	order := &Order{ID: 1, UserID: 1, SymbolID: 1, Side: Buy, Kind: Market, TIF: IOC, Qty: 10}
	if _, err := b.Place(order); err == nil {
		t.Fatal("expected an error for MARKET BUY without quote_budget")
	}
}

func TestMarketBuyConsumesQuoteBudget(t *testing.T) {
	b := NewBook(1)
	asks := []*Order{
		mkOrder(1, 100, Sell, Limit, GTC, 10_000, 5),
		mkOrder(2, 200, Sell, Limit, GTC, 11_000, 5),
	}
	for _, a := range asks {
		if _, err := b.Place(a); err != nil {
			t.Fatal(err)
		}
	}

	taker := &Order{
		ID: 3, UserID: 300, SymbolID: 1,
		Side: Buy, Kind: Market, TIF: IOC,
		Qty: 100, QuoteBudget: 50_000 + 11_000*3,
	}
	fills, err := b.Place(taker)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 2 {
		t.Fatalf("got %d fills, want 2", len(fills))
	}
	if fills[0].Price != 10_000 || fills[0].Qty != 5 {
		t.Fatalf("first fill = %+v", fills[0])
	}
	if fills[1].Price != 11_000 || fills[1].Qty != 3 {
		t.Fatalf("second fill should truncate to budget remainder, got %+v", fills[1])
	}
	if taker.Status != StatusExpired {
		t.Fatalf("unfilled MARKET remainder should expire, got %v", taker.Status)
	}
}

func TestMarketBuyEmptyBookExpiresWithNoFills(t *testing.T) {
	b := NewBook(1)
	taker := &Order{ID: 1, UserID: 1, SymbolID: 1, Side: Buy, Kind: Market, TIF: IOC, Qty: 10, QuoteBudget: 1_000_000}
	fills, err := b.Place(taker)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %d", len(fills))
	}
	if taker.Status != StatusExpired {
		t.Fatalf("status = %v, want EXPIRED", taker.Status)
	}
}

func TestSelfTradeAllowed(t *testing.T) {
	b := NewBook(1)
	ask := mkOrder(1, 999, Sell, Limit, GTC, 50_000, 5)
	if _, err := b.Place(ask); err != nil {
		t.Fatal(err)
	}
	bid := mkOrder(2, 999, Buy, Limit, GTC, 50_000, 5)
	fills, err := b.Place(bid)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("same user should still be allowed to trade against itself, got %d fills", len(fills))
	}
}

func TestDepthAggregatesMultipleOrdersPerLevel(t *testing.T) {
	b := NewBook(1)
	for _, o := range []*Order{
		mkOrder(1, 1, Sell, Limit, GTC, 50_000, 3),
		mkOrder(2, 2, Sell, Limit, GTC, 50_000, 7),
		mkOrder(3, 3, Sell, Limit, GTC, 51_000, 2),
	} {
		if _, err := b.Place(o); err != nil {
			t.Fatal(err)
		}
	}
	_, asks := b.Depth(10)
	if len(asks) != 2 {
		t.Fatalf("got %d levels, want 2", len(asks))
	}
	if asks[0].Price != 50_000 || asks[0].Qty != 10 {
		t.Fatalf("best level = %+v", asks[0])
	}
	if asks[1].Price != 51_000 || asks[1].Qty != 2 {
		t.Fatalf("second level = %+v", asks[1])
	}
}

package orderbook

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrOrderNotFound = errors.New("orderbook: order not found")
	ErrInvalidQty    = errors.New("orderbook: invalid quantity")
	ErrInvalidPrice  = errors.New("orderbook: invalid price")
	ErrNotLimit      = errors.New("orderbook: move requires a LIMIT order")
)

type indexEntry struct {
	price uint64
	side  Side
}

// Book is the single-threaded matching engine for one symbol (§4.1): two
// price-indexed FIFO queues (bids descending, asks ascending) with
// heap-based O(1) best-price peek and an order-id index for O(1) cancel
// lookup, adapted from the teacher's pkg/app/core/orderbook/orderbook.go.
// The teacher guards the book with a sync.RWMutex for concurrent reads
// from multiple goroutines; this core's concurrency model (§5) makes each
// stage strictly single-threaded, so the mutex is dropped — Book is only
// ever called from the one goroutine that owns the MatchingService for
// this symbol.
type Book struct {
	symbolID uint32

	bidHeap maxPriceHeap
	askHeap minPriceHeap

	bids map[uint64][]*Order
	asks map[uint64][]*Order

	index map[uint64]indexEntry // order id -> (price, side)

	lastPrice uint64
}

func NewBook(symbolID uint32) *Book {
	return &Book{
		symbolID: symbolID,
		bids:     make(map[uint64][]*Order),
		asks:     make(map[uint64][]*Order),
		index:    make(map[uint64]indexEntry),
	}
}

func (b *Book) bestBid() (uint64, bool) { return b.bidHeap.Peek() }
func (b *Book) bestAsk() (uint64, bool) { return b.askHeap.Peek() }

// addResting inserts o itself (not a copy) so that a caller holding onto
// the *Order passed to Place continues to observe every later mutation
// (fills, status transitions) made while it rests in the book.
func (b *Book) addResting(o *Order) {
	if o.Side == Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(&b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(&b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
	b.index[o.ID] = indexEntry{price: o.Price, side: o.Side}
}

func (b *Book) removeEmptyBidLevel(price uint64) {
	delete(b.bids, price)
	for i := 0; i < len(b.bidHeap); i++ {
		if b.bidHeap[i] == price {
			heap.Remove(&b.bidHeap, i)
			return
		}
	}
}

func (b *Book) removeEmptyAskLevel(price uint64) {
	delete(b.asks, price)
	for i := 0; i < len(b.askHeap); i++ {
		if b.askHeap[i] == price {
			heap.Remove(&b.askHeap, i)
			return
		}
	}
}

// Place runs the price-time-priority matching algorithm from §4.1 for a
// single incoming taker order, returning every Fill produced and leaving
// o.Status/o.FilledQty updated in place. o must already carry a
// pipeline-assigned ID (§3); Place never assigns one.
func (b *Book) Place(o *Order) ([]Fill, error) {
	if o.Kind == Market && o.Side == Buy && o.QuoteBudget == 0 {
		return nil, fmt.Errorf("orderbook: MARKET BUY requires a quote_budget (%w)", ErrInvalidQty)
	}

	var fills []Fill
	taker := &workingTaker{Order: o}

	if o.Side == Buy {
		fills = b.matchBuy(taker)
	} else {
		fills = b.matchSell(taker)
	}

	switch {
	case o.Remaining() == 0:
		o.Status = StatusFilled
	case o.TIF == IOC || o.Kind == Market:
		// Unfilled remainder of an IOC/MARKET order never rests (§4.1):
		// whether it filled partially or not at all, it ends EXPIRED.
		o.Status = StatusExpired
	default: // LIMIT + GTC rests
		b.addResting(o)
		if o.FilledQty > 0 {
			o.Status = StatusPartiallyFilled
		} else {
			o.Status = StatusNew
		}
	}

	return fills, nil
}

func (b *Book) matchBuy(taker *workingTaker) []Fill {
	var fills []Fill
	for taker.Remaining() > 0 {
		askPrice, ok := b.bestAsk()
		if !ok {
			break
		}
		if taker.Kind == Limit && askPrice > taker.Price {
			break
		}
		if taker.Kind == Market {
			// Quote-budget bound (§4.2.1): stop once the next unit would
			// exceed the remaining budget.
			notionalForOne := askPrice
			if taker.FilledNotional+notionalForOne > taker.QuoteBudget {
				break
			}
		}

		level := b.asks[askPrice]
		if len(level) == 0 {
			b.removeEmptyAskLevel(askPrice)
			continue
		}
		maker := level[0]

		matchQty := minU64(taker.Remaining(), maker.Remaining())
		if taker.Kind == Market {
			matchQty = b.clampToBudget(matchQty, askPrice, taker.QuoteBudget-taker.FilledNotional)
			if matchQty == 0 {
				break
			}
		}

		fills = append(fills, b.applyMatch(taker.Order, maker, askPrice, matchQty))
		taker.FilledNotional += askPrice * matchQty
		b.lastPrice = askPrice

		if maker.Remaining() == 0 {
			maker.Status = StatusFilled
			level = level[1:]
			delete(b.index, maker.ID)
			if len(level) == 0 {
				b.removeEmptyAskLevel(askPrice)
			} else {
				b.asks[askPrice] = level
			}
		} else {
			maker.Status = StatusPartiallyFilled
			b.asks[askPrice][0] = maker
		}
	}
	return fills
}

func (b *Book) matchSell(taker *workingTaker) []Fill {
	var fills []Fill
	for taker.Remaining() > 0 {
		bidPrice, ok := b.bestBid()
		if !ok {
			break
		}
		if taker.Kind == Limit && bidPrice < taker.Price {
			break
		}

		level := b.bids[bidPrice]
		if len(level) == 0 {
			b.removeEmptyBidLevel(bidPrice)
			continue
		}
		maker := level[0]

		matchQty := minU64(taker.Remaining(), maker.Remaining())

		fills = append(fills, b.applyMatch(taker.Order, maker, bidPrice, matchQty))
		b.lastPrice = bidPrice

		if maker.Remaining() == 0 {
			maker.Status = StatusFilled
			level = level[1:]
			delete(b.index, maker.ID)
			if len(level) == 0 {
				b.removeEmptyBidLevel(bidPrice)
			} else {
				b.bids[bidPrice] = level
			}
		} else {
			maker.Status = StatusPartiallyFilled
			b.bids[bidPrice][0] = maker
		}
	}
	return fills
}

// clampToBudget truncates matchQty so price*matchQty never exceeds the
// taker's remaining quote budget (§4.2.1's "truncating the final partial
// fill to whatever remainder of the budget is left").
func (b *Book) clampToBudget(matchQty, price, remainingBudget uint64) uint64 {
	if price == 0 {
		return matchQty
	}
	maxByBudget := remainingBudget / price
	if maxByBudget < matchQty {
		return maxByBudget
	}
	return matchQty
}

func (b *Book) applyMatch(taker, maker *Order, price, qty uint64) Fill {
	taker.FilledQty += qty
	maker.FilledQty += qty

	return Fill{
		Price:     price,
		Qty:       qty,
		MakerID:   maker.ID,
		TakerID:   taker.ID,
		MakerUser: maker.UserID,
		TakerUser: taker.UserID,
		MakerVIP:  maker.VIPLevel,
		TakerVIP:  taker.VIPLevel,
		MakerDone: maker.Remaining() == 0,
	}
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// Cancel removes a resting order entirely (§4.1). Returns ErrOrderNotFound
// if the order is not currently resting.
func (b *Book) Cancel(orderID uint64) (*Order, error) {
	entry, ok := b.index[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	levels := b.bids
	removeEmpty := b.removeEmptyBidLevel
	if entry.side == Sell {
		levels = b.asks
		removeEmpty = b.removeEmptyAskLevel
	}

	arr := levels[entry.price]
	for i, o := range arr {
		if o.ID == orderID {
			arr = append(arr[:i], arr[i+1:]...)
			if len(arr) == 0 {
				removeEmpty(entry.price)
			} else {
				levels[entry.price] = arr
			}
			delete(b.index, orderID)
			o.Status = StatusCanceled
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// Reduce truncates a resting order's quantity in place, preserving its
// queue position (§4.1). If the reduction brings remaining qty to zero,
// the order is removed with status CANCELED.
// Reduce's second return value is the quantity actually removed (the
// requested reduceQty clamped to the order's remaining size), which
// callers need to compute how much lock to release (§4.2).
func (b *Book) Reduce(orderID uint64, reduceQty uint64) (*Order, uint64, error) {
	if reduceQty == 0 {
		return nil, 0, ErrInvalidQty
	}
	entry, ok := b.index[orderID]
	if !ok {
		return nil, 0, ErrOrderNotFound
	}
	levels := b.bids
	if entry.side == Sell {
		levels = b.asks
	}
	arr := levels[entry.price]
	for _, o := range arr {
		if o.ID != orderID {
			continue
		}
		clamped := reduceQty
		if clamped > o.Remaining() {
			clamped = o.Remaining()
		}
		o.Qty -= clamped
		if o.Remaining() == 0 {
			canceled, err := b.Cancel(orderID)
			return canceled, clamped, err
		}
		return o, clamped, nil
	}
	return nil, 0, ErrOrderNotFound
}

// Move removes and re-inserts a resting LIMIT order at a new price,
// losing queue priority by design (§4.1); it never triggers matching even
// if the new price would cross.
func (b *Book) Move(orderID uint64, newPrice uint64) (*Order, error) {
	if newPrice == 0 {
		return nil, ErrInvalidPrice
	}
	entry, ok := b.index[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	levels := b.bids
	removeEmpty := b.removeEmptyBidLevel
	if entry.side == Sell {
		levels = b.asks
		removeEmpty = b.removeEmptyAskLevel
	}
	arr := levels[entry.price]
	for i, o := range arr {
		if o.ID != orderID {
			continue
		}
		if o.Kind != Limit {
			return nil, ErrNotLimit
		}
		moved := *o
		moved.Price = newPrice

		arr = append(arr[:i], arr[i+1:]...)
		if len(arr) == 0 {
			removeEmpty(entry.price)
		} else {
			levels[entry.price] = arr
		}
		delete(b.index, orderID)

		b.addResting(&moved)
		return &moved, nil
	}
	return nil, ErrOrderNotFound
}

// Depth returns the top `levels` aggregated price rows per side, best
// price first (§4.1).
func (b *Book) Depth(levels int) (bids, asks []PriceLevel) {
	bids = aggregateLevels(b.bids, func(a, c uint64) bool { return a > c })
	asks = aggregateLevels(b.asks, func(a, c uint64) bool { return a < c })
	if levels > 0 {
		if len(bids) > levels {
			bids = bids[:levels]
		}
		if len(asks) > levels {
			asks = asks[:levels]
		}
	}
	return bids, asks
}

func aggregateLevels(side map[uint64][]*Order, less func(a, b uint64) bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(side))
	for price, orders := range side {
		var qty uint64
		for _, o := range orders {
			qty += o.Remaining()
		}
		out = append(out, PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

// RestingOrders returns every order currently resting in the book, in no
// particular order, for snapshotting (§4.6).
func (b *Book) RestingOrders() []*Order {
	var out []*Order
	for _, level := range b.bids {
		out = append(out, level...)
	}
	for _, level := range b.asks {
		out = append(out, level...)
	}
	return out
}

// RestoreResting re-inserts orders that were already resting at snapshot
// time (§4.7), bypassing Place's matching logic entirely since these
// orders are known to have never crossed the book they're restored into.
func (b *Book) RestoreResting(orders []*Order) {
	for _, o := range orders {
		b.addResting(o)
	}
}

// LastPrice returns the most recent fill price, or 0 if the book has
// never traded.
func (b *Book) LastPrice() uint64 { return b.lastPrice }

// SymbolID returns the symbol this book matches for.
func (b *Book) SymbolID() uint32 { return b.symbolID }

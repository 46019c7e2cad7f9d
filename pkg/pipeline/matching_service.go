package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/money"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// MatchingService is the third pipeline stage (§4.1, §4.3): it owns one
// orderbook.Book per symbol and is the sole writer of the Trade WAL. Any
// unused lock left by a cancel, reduce, or terminal fill-with-remainder is
// reported to UBSCore via a ReleaseCommand rather than applied here, since
// UBSCore remains the ledger's sole writer (§5 strategy (a)).
type MatchingService struct {
	in         *Ring[LockedOrder]
	out        *Ring[MEResult]
	releaseOut *Ring[ReleaseCommand]

	books  map[uint32]*orderbook.Book
	market *market.Registry
	wal    *walog.Writer

	nextTradeID uint64
	lastSeq     uint64 // highest SeqID processed so far, for snapshot trailers

	shutdown *ShutdownSignal
	log      *zap.SugaredLogger
}

type MatchingOptions struct {
	InCapacity    int
	Out           *Ring[MEResult]
	ReleaseOut    *Ring[ReleaseCommand]
	WAL           *walog.Writer
	MarketContext *market.Registry
	StartTradeID  uint64
	Shutdown      *ShutdownSignal
	Logger        *zap.SugaredLogger
}

func NewMatchingService(opts MatchingOptions) *MatchingService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &MatchingService{
		in:          NewRing[LockedOrder](opts.InCapacity),
		out:         opts.Out,
		releaseOut:  opts.ReleaseOut,
		books:       make(map[uint32]*orderbook.Book),
		market:      opts.MarketContext,
		wal:         opts.WAL,
		nextTradeID: opts.StartTradeID,
		shutdown:    opts.Shutdown,
		log:         opts.Logger,
	}
}

// In returns the ring UBSCoreService forwards LockedOrders into.
func (s *MatchingService) In() *Ring[LockedOrder] { return s.in }

func (s *MatchingService) bookFor(symbolID uint32) *orderbook.Book {
	b, ok := s.books[symbolID]
	if !ok {
		b = orderbook.NewBook(symbolID)
		s.books[symbolID] = b
	}
	return b
}

func (s *MatchingService) Run() {
	for {
		lo, ok := s.in.Pop(s.shutdown.Done())
		if !ok {
			s.wal.Flush()
			return
		}
		s.process(lo)
	}
}

func (s *MatchingService) process(lo LockedOrder) {
	if lo.SeqID > s.lastSeq {
		s.lastSeq = lo.SeqID
	}
	switch lo.Kind {
	case ActionPlace:
		s.processPlace(lo)
	case ActionCancel:
		s.processCancel(lo)
	case ActionReduce:
		s.processReduce(lo)
	case ActionMove:
		s.processMove(lo)
	}
}

func (s *MatchingService) processPlace(lo LockedOrder) {
	book := s.bookFor(lo.Order.SymbolID)
	fills, err := book.Place(lo.Order)
	if err != nil {
		// Matching is infallible given a valid admitted order (§4.1); a
		// non-nil error here means UBSCore admitted something malformed.
		panic(fmt.Sprintf("matching: fatal invariant violation placing order %d: %v", lo.Order.ID, err))
	}

	trades := s.tradesFromFills(lo.Order, fills)
	for _, tr := range trades {
		s.appendTrade(tr)
	}
	s.appendOrderState(lo.Order)

	result := MEResult{SeqID: lo.SeqID, SymbolID: lo.Order.SymbolID, Order: lo.Order, Trades: trades}
	if amount := placeReleaseAmount(lo.Order); amount > 0 {
		result.ReleaseNeeded = true
		result.RemainingLockRelease = amount
		s.releaseOut.Push(ReleaseCommand{SeqID: lo.SeqID, Order: lo.Order, Amount: amount}, s.shutdown.Done())
	}
	s.out.Push(result, s.shutdown.Done())
}

func (s *MatchingService) processCancel(lo LockedOrder) {
	for _, book := range s.books {
		order, err := book.Cancel(lo.OrderID)
		if err != nil {
			continue
		}
		s.appendOrderState(order)
		natural := naturalRemaining(order)
		releaseNeeded := natural > 0
		amount := toReleaseAmount(order, natural)
		if releaseNeeded {
			s.releaseOut.Push(ReleaseCommand{SeqID: lo.SeqID, Order: order, Amount: amount}, s.shutdown.Done())
		}
		result := MEResult{SeqID: lo.SeqID, SymbolID: order.SymbolID, Order: order, ReleaseNeeded: releaseNeeded, RemainingLockRelease: amount}
		s.out.Push(result, s.shutdown.Done())
		return
	}
	s.log.Infow("cancel of unknown or already-terminal order", "order_id", lo.OrderID)
}

func (s *MatchingService) processReduce(lo LockedOrder) {
	// The book the order rests in isn't known until we find it via the
	// symbol carried on the resting order itself; Reduce/Move/Cancel are
	// keyed purely by order id, so every symbol's book must be probed.
	for _, book := range s.books {
		order, removed, err := book.Reduce(lo.OrderID, lo.ReduceQty)
		if err != nil {
			continue
		}
		s.appendOrderState(order)
		amount := toReleaseAmount(order, removed)
		if removed > 0 {
			s.releaseOut.Push(ReleaseCommand{SeqID: lo.SeqID, Order: order, Amount: amount}, s.shutdown.Done())
		}
		result := MEResult{SeqID: lo.SeqID, SymbolID: order.SymbolID, Order: order, ReleaseNeeded: removed > 0, RemainingLockRelease: amount}
		s.out.Push(result, s.shutdown.Done())
		return
	}
	s.log.Infow("reduce of unknown order", "order_id", lo.OrderID)
}

func (s *MatchingService) processMove(lo LockedOrder) {
	for _, book := range s.books {
		order, err := book.Move(lo.OrderID, lo.NewPrice)
		if err != nil {
			continue
		}
		s.appendOrderState(order)
		s.out.Push(MEResult{SeqID: lo.SeqID, SymbolID: order.SymbolID, Order: order}, s.shutdown.Done())
		return
	}
	s.log.Infow("move of unknown order", "order_id", lo.OrderID)
}

func (s *MatchingService) tradesFromFills(taker *orderbook.Order, fills []orderbook.Fill) []Trade {
	if len(fills) == 0 {
		return nil
	}
	trades := make([]Trade, 0, len(fills))
	for _, f := range fills {
		s.nextTradeID++
		makerSide := opposite(taker.Side)
		trades = append(trades, Trade{
			TradeID:   s.nextTradeID,
			SymbolID:  taker.SymbolID,
			Price:     f.Price,
			Qty:       f.Qty,
			MakerID:   f.MakerID,
			TakerID:   f.TakerID,
			MakerUser: f.MakerUser,
			TakerUser: f.TakerUser,
			MakerSide: makerSide,
			TakerSide: taker.Side,
			MakerVIP:  f.MakerVIP,
			TakerVIP:  f.TakerVIP,
			MakerDone: f.MakerDone,
		})
	}
	return trades
}

func opposite(s orderbook.Side) orderbook.Side {
	if s == orderbook.Buy {
		return orderbook.Sell
	}
	return orderbook.Buy
}

func (s *MatchingService) appendTrade(t Trade) {
	if _, err := s.wal.Append(walog.EntryTrade, encodeTrade(t)); err != nil {
		panic(fmt.Sprintf("matching: fatal WAL append failure: %v", err))
	}
}

func (s *MatchingService) appendOrderState(o *orderbook.Order) {
	if _, err := s.wal.Append(walog.EntryOrder, encodeOrderState(o)); err != nil {
		panic(fmt.Sprintf("matching: fatal WAL append failure: %v", err))
	}
}

// NextTradeID exposes the counter for snapshotting.
func (s *MatchingService) NextTradeID() uint64 { return s.nextTradeID }

// RestoreTradeID installs the trade id counter recovered from a snapshot.
func (s *MatchingService) RestoreTradeID(id uint64) { s.nextTradeID = id }

// Book exposes a symbol's book, e.g. for depth queries or snapshotting.
func (s *MatchingService) Book(symbolID uint32) (*orderbook.Book, bool) {
	b, ok := s.books[symbolID]
	return b, ok
}

// RestoreBook installs a book recovered from a snapshot/WAL replay (§4.7)
// before Run starts consuming new orders for that symbol.
func (s *MatchingService) RestoreBook(symbolID uint32, book *orderbook.Book) {
	s.books[symbolID] = book
}

// Snapshot writes this stage's periodic state dump (§4.6): the next trade
// id counter plus every currently-resting order across all symbols.
func (s *MatchingService) Snapshot(dir string) (string, error) {
	return snapshot.Write(dir, s.lastSeq, encodeMatchingSnapshot(s.nextTradeID, s.books))
}

// Depth implements pipeline.DepthSource for SettlementService's outbound
// DepthUpdate publication (§6.1).
func (s *MatchingService) Depth(symbolID uint32, levels int) (bids, asks []orderbook.PriceLevel, ok bool) {
	b, ok := s.books[symbolID]
	if !ok {
		return nil, nil, false
	}
	bids, asks = b.Depth(levels)
	return bids, asks, true
}

// naturalRemaining returns an order's un-consumed lock in its own natural
// unit (§4.2): remaining qty for a SELL (any Kind) or a BUY LIMIT, unspent
// quote_budget for a MARKET BUY.
func naturalRemaining(o *orderbook.Order) uint64 {
	if o.Side == orderbook.Buy && o.Kind == orderbook.Market {
		return o.QuoteBudget - o.FilledNotional
	}
	return o.Remaining()
}

// toReleaseAmount converts a natural-unit quantity (as returned by
// naturalRemaining, or a Reduce()'d-away qty) into the asset units
// Ledger.Unlock expects: a SELL's base qty and a MARKET BUY's quote_budget
// remainder pass through untouched, but a BUY LIMIT locks quote notional,
// not qty, so it's priced at the order's own limit price here.
func toReleaseAmount(o *orderbook.Order, natural uint64) money.Amount {
	if o.Side == orderbook.Sell || o.Kind == orderbook.Market {
		return money.Amount(natural)
	}
	notional, err := money.MulDiv(money.Amount(o.Price), natural, 1)
	if err != nil {
		panic(fmt.Sprintf("matching: fatal overflow converting release amount for order %d: %v", o.ID, err))
	}
	return notional
}

// placeReleaseAmount computes the quote/base units to return to available
// balance immediately after a Place() call (§4.2). It folds together two
// distinct sources of unused lock: the remaining, never-matched quantity
// on an order that went terminal with a remainder (IOC or MARKET expiry), and
// any price improvement on the quantity that DID match. A taker crossing
// at a better price than its own limit (BUY LIMIT) or budget (MARKET BUY)
// leaves UBSCore holding more than settlement ever consumes, since a
// trade always prices at the maker's resting price (§4.1). That overlock
// is released the instant Place returns — including the StatusFilled
// case, and even while a partially-filled GTC order keeps resting, since
// Place is the only point a taker's FilledNotional can ever grow and the
// remaining (still-needed) portion of the lock is carried separately.
func placeReleaseAmount(o *orderbook.Order) money.Amount {
	switch {
	case o.Side == orderbook.Sell:
		if !o.Status.IsTerminal() {
			return 0
		}
		return money.Amount(o.Remaining())
	case o.Kind == orderbook.Market: // BUY MARKET
		return money.Amount(o.QuoteBudget - o.FilledNotional)
	default: // BUY LIMIT
		placed, err := money.MulDiv(money.Amount(o.Price), o.Qty, 1)
		if err != nil {
			panic(fmt.Sprintf("matching: fatal overflow computing lock placed for order %d: %v", o.ID, err))
		}
		var stillNeeded money.Amount
		if !o.Status.IsTerminal() {
			stillNeeded, err = money.MulDiv(money.Amount(o.Price), o.Remaining(), 1)
			if err != nil {
				panic(fmt.Sprintf("matching: fatal overflow computing remaining lock for order %d: %v", o.ID, err))
			}
		}
		return placed - stillNeeded - money.Amount(o.FilledNotional)
	}
}

package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specx-labs/matchcore/pkg/events"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// DepthSource exposes a symbol's current aggregated depth, narrowed to
// exactly what SettlementService needs (§9, narrow capability interfaces
// over *MatchingService directly).
type DepthSource interface {
	Depth(symbolID uint32, levels int) (bids, asks []orderbook.PriceLevel, ok bool)
}

// SettlementService is the fourth and final pipeline stage (§4.2
// "Settlement on each Trade", §4.3): for every Trade in an MEResult it
// asks UBSCore to apply the two-leg settlement via a SettleCommand/
// SettleResult round trip (§5 strategy (a)), then checkpoints the last
// settled trade id per symbol to its own WAL only once the ledger
// mutation is confirmed durable, and finally fans updates out over the
// outbound event bus (§6.1).
type SettlementService struct {
	in             *Ring[MEResult]
	settleOut      *Ring[SettleCommand]
	settleResultIn *Ring[SettleResult]

	wal   *walog.Writer
	bus   *events.Bus
	depth DepthSource

	checkpoints map[uint32]uint64 // symbol id -> last settled trade id
	lastSeq     uint64            // highest SeqID processed so far, for snapshot trailers

	shutdown *ShutdownSignal
	log      *zap.SugaredLogger
}

type SettlementOptions struct {
	InCapacity     int
	SettleOut      *Ring[SettleCommand]
	SettleResultIn *Ring[SettleResult]
	WAL            *walog.Writer
	Bus            *events.Bus
	Depth          DepthSource
	Shutdown       *ShutdownSignal
	Logger         *zap.SugaredLogger
}

func NewSettlementService(opts SettlementOptions) *SettlementService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(nil)
	}
	return &SettlementService{
		in:             NewRing[MEResult](opts.InCapacity),
		settleOut:      opts.SettleOut,
		settleResultIn: opts.SettleResultIn,
		wal:            opts.WAL,
		bus:            opts.Bus,
		depth:          opts.Depth,
		checkpoints:    make(map[uint32]uint64),
		shutdown:       opts.Shutdown,
		log:            opts.Logger,
	}
}

// In returns the ring MatchingService forwards MEResults into.
func (s *SettlementService) In() *Ring[MEResult] { return s.in }

func (s *SettlementService) Run() {
	for {
		res, ok := s.in.Pop(s.shutdown.Done())
		if !ok {
			s.wal.Flush()
			return
		}
		s.process(res)
	}
}

func (s *SettlementService) process(res MEResult) {
	if res.SeqID > s.lastSeq {
		s.lastSeq = res.SeqID
	}
	if res.Order != nil {
		s.bus.PublishOrder(events.OrderUpdate{SymbolID: res.SymbolID, Order: res.Order})
	}

	for _, t := range res.Trades {
		s.settleOut.Push(SettleCommand{SeqID: res.SeqID, SymbolID: res.SymbolID, Trade: t}, s.shutdown.Done())
		result, ok := s.settleResultIn.Pop(s.shutdown.Done())
		if !ok {
			return
		}
		s.checkpoint(result.Trade.SymbolID, result.Trade.TradeID)
		s.publishSettled(result)
	}

	if len(res.Trades) > 0 {
		s.publishDepth(res.SymbolID)
	}
}

// checkpoint records the last settled trade id per symbol (§4.5,
// EntrySettlementCheckpoint), written only after UBSCore has confirmed the
// ledger mutation for that trade is durable.
func (s *SettlementService) checkpoint(symbolID uint32, tradeID uint64) {
	s.checkpoints[symbolID] = tradeID
	rec := checkpointRecord{SymbolID: symbolID, LastTradeID: tradeID}
	if _, err := s.wal.Append(walog.EntrySettlementCheckpoint, encodeCheckpoint(rec)); err != nil {
		panic(fmt.Sprintf("settlement: fatal WAL append failure: %v", err))
	}
}

func (s *SettlementService) publishSettled(result SettleResult) {
	s.bus.PublishTrade(events.TradeUpdate{
		SymbolID:  result.Trade.SymbolID,
		TradeID:   result.Trade.TradeID,
		Price:     result.Trade.Price,
		Qty:       result.Trade.Qty,
		MakerUser: result.Trade.MakerUser,
		TakerUser: result.Trade.TakerUser,
	})
	for _, e := range result.Events {
		s.bus.PublishBalance(e)
	}
}

func (s *SettlementService) publishDepth(symbolID uint32) {
	if s.depth == nil {
		return
	}
	bids, asks, ok := s.depth.Depth(symbolID, 0)
	if !ok {
		return
	}
	s.bus.PublishDepth(events.DepthUpdate{SymbolID: symbolID, Bids: bids, Asks: asks})
}

// LastSettledTradeID reports the checkpointed trade id for a symbol, for
// recovery (§4.7).
func (s *SettlementService) LastSettledTradeID(symbolID uint32) (uint64, bool) {
	id, ok := s.checkpoints[symbolID]
	return id, ok
}

// RestoreCheckpoint installs a checkpoint recovered from a snapshot or WAL
// replay (§4.7).
func (s *SettlementService) RestoreCheckpoint(symbolID uint32, tradeID uint64) {
	s.checkpoints[symbolID] = tradeID
}

// Snapshot writes this stage's periodic state dump (§4.6): the
// per-symbol settlement checkpoints.
func (s *SettlementService) Snapshot(dir string) (string, error) {
	return snapshot.Write(dir, s.lastSeq, encodeSettlementSnapshot(s.checkpoints))
}

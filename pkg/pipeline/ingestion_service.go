package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/specx-labs/matchcore/pkg/events"
	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// IngestionService is the first pipeline stage (§4.3): it assigns a
// monotonic seq_id to every inbound OrderAction, rejects duplicate
// client order ids via the bounded per-user cid cache (§4.3.1), appends
// the action to its own WAL, and forwards it to UBSCore.
type IngestionService struct {
	in  *Ring[OrderAction]
	out *Ring[SeqAction]
	wal *walog.Writer
	bus *events.Bus

	cids    *cidCache
	nextSeq uint64

	shutdown *ShutdownSignal
	log      *zap.SugaredLogger
}

// IngestionOptions configures a new IngestionService.
type IngestionOptions struct {
	InCapacity      int
	OutRing         *Ring[SeqAction]
	WAL             *walog.Writer
	Bus             *events.Bus
	CidCachePerUser int
	StartSeq        uint64
	Shutdown        *ShutdownSignal
	Logger          *zap.SugaredLogger
}

func NewIngestionService(opts IngestionOptions) *IngestionService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(nil)
	}
	return &IngestionService{
		in:       NewRing[OrderAction](opts.InCapacity),
		out:      opts.OutRing,
		wal:      opts.WAL,
		bus:      opts.Bus,
		cids:     newCidCache(opts.CidCachePerUser),
		nextSeq:  opts.StartSeq,
		shutdown: opts.Shutdown,
		log:      opts.Logger,
	}
}

// Submit enqueues an inbound action from the gateway boundary (§6). It
// blocks (spin-poll) if the inbound ring is momentarily full.
func (s *IngestionService) Submit(a OrderAction) bool {
	return s.in.Push(a, s.shutdown.Done())
}

// Run drives the stage loop until shutdown is requested (§5: "each stage
// completes in-flight items, flushes its WAL, and exits").
func (s *IngestionService) Run() {
	for {
		action, ok := s.in.Pop(s.shutdown.Done())
		if !ok {
			s.wal.Flush()
			return
		}
		s.process(action)
	}
}

func (s *IngestionService) process(a OrderAction) {
	if a.Kind == ActionPlace && a.OrderKind == orderbook.Market && a.Side == orderbook.Buy && a.QuoteBudget == 0 {
		s.log.Warnw("rejecting MARKET BUY missing quote_budget", "user_id", a.UserID)
		return
	}

	if a.Kind == ActionPlace && a.CID != "" {
		if orderID, dup := s.cids.Lookup(a.UserID, a.CID); dup {
			// Idempotency (§3, §8): resubmitting an already-seen cid does
			// nothing new, but the original order_id must still be
			// returned, so echo it as an OrderUpdate instead of dropping
			// the submission silently.
			s.log.Infow("duplicate client order id, echoing original order", "user_id", a.UserID, "cid", a.CID, "order_id", orderID)
			s.bus.PublishOrder(events.OrderUpdate{
				SymbolID: a.SymbolID,
				Order:    &orderbook.Order{ID: orderID, UserID: a.UserID, SymbolID: a.SymbolID, CID: a.CID},
			})
			return
		}
	}

	seq := s.nextSeq
	s.nextSeq++

	payload := encodeAction(seq, a)
	if _, err := s.wal.Append(walog.EntryOrder, payload); err != nil {
		panic(fmt.Sprintf("ingestion: fatal WAL append failure: %v", err))
	}

	if a.Kind == ActionPlace && a.CID != "" {
		s.cids.Record(a.UserID, a.CID, seq)
	}

	sa := SeqAction{SeqID: seq, Action: a}
	s.out.Push(sa, s.shutdown.Done())
}

// NextSeq exposes the next sequence to be assigned, for snapshotting.
func (s *IngestionService) NextSeq() uint64 { return s.nextSeq }

// RestoreSeq installs the sequence counter recovered from a snapshot
// (§4.6/§4.7) before WAL replay resumes.
func (s *IngestionService) RestoreSeq(seq uint64) { s.nextSeq = seq }

// Snapshot writes this stage's periodic state dump (§4.6).
func (s *IngestionService) Snapshot(dir string) (string, error) {
	return snapshot.Write(dir, s.nextSeq, encodeIngestionSnapshot(s.nextSeq))
}

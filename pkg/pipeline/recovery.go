package pipeline

import (
	"fmt"

	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/ubscore"
	"github.com/specx-labs/matchcore/pkg/walog"
)

// StageDirs is one stage's on-disk footprint: its WAL directory and its
// snapshot directory (§4.6/§4.7).
type StageDirs struct {
	WALDir      string
	SnapshotDir string
}

// Dirs is every stage's on-disk footprint, passed to Recover in the
// startup DAG order Ingestion -> UBSCore -> Matching -> Settlement
// (§4.7, "each stage recovers before the next begins consuming from it").
type Dirs struct {
	Ingestion  StageDirs
	UBSCore    StageDirs
	Matching   StageDirs
	Settlement StageDirs
}

// RecoveredState is every stage's recovered in-memory state, ready to be
// handed to the corresponding New*Service constructor before Run starts.
type RecoveredState struct {
	NextSeq     uint64
	Ledger      *ubscore.Ledger
	Books       map[uint32]*orderbook.Book
	NextTradeID uint64
	Checkpoints map[uint32]uint64
}

// Recover performs cold/warm start orchestration (§4.7): load each
// stage's latest valid snapshot (falling back to an empty state if none
// exists, is corrupt, or is a zombie — a snapshot whose recorded sequence
// is ahead of anything its own WAL can account for), then replay that
// stage's WAL forward from the snapshot's checkpoint. Recovery order
// matches the startup DAG: a later stage's replay never depends on an
// earlier stage's outcome beyond what's already durable in its own WAL,
// since every admitted action and every matched order was independently
// logged by the stage that produced it.
func Recover(d Dirs) (*RecoveredState, error) {
	nextSeq, err := recoverIngestion(d.Ingestion)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recovering ingestion: %w", err)
	}

	ledger, err := recoverUBSCore(d.UBSCore)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recovering ubscore: %w", err)
	}

	books, nextTradeID, err := recoverMatching(d.Matching)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recovering matching: %w", err)
	}

	checkpoints, err := recoverSettlement(d.Settlement)
	if err != nil {
		return nil, fmt.Errorf("pipeline: recovering settlement: %w", err)
	}

	return &RecoveredState{
		NextSeq:     nextSeq,
		Ledger:      ledger,
		Books:       books,
		NextTradeID: nextTradeID,
		Checkpoints: checkpoints,
	}, nil
}

// loadSnapshotOrZero loads dir's latest valid snapshot, returning a nil
// *snapshot.Loaded (cold start) if none exists or the recovered sequence
// is a zombie relative to walMaxSeq (§4.6: a snapshot claiming progress
// its own WAL cannot substantiate must never be trusted).
func loadSnapshotOrZero(dir string, walMaxSeq uint64, walHasEntries bool) (*snapshot.Loaded, error) {
	loaded, err := snapshot.LoadLatest(dir)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		return nil, nil
	}
	if snapshot.IsZombie(loaded.LastSeq, walMaxSeq, walHasEntries) {
		return nil, nil
	}
	return loaded, nil
}

func recoverIngestion(dirs StageDirs) (uint64, error) {
	entries, err := walog.ReadAll(dirs.WALDir)
	if err != nil {
		return 0, err
	}

	var walMaxSeq uint64
	for _, e := range entries {
		if e.Header.EntryType != walog.EntryOrder {
			continue
		}
		rec, err := decodeAction(e.Payload)
		if err != nil {
			continue
		}
		if rec.SeqID > walMaxSeq {
			walMaxSeq = rec.SeqID
		}
	}

	loaded, err := loadSnapshotOrZero(dirs.SnapshotDir, walMaxSeq, len(entries) > 0)
	if err != nil {
		return 0, err
	}
	nextSeq := uint64(0)
	if loaded != nil {
		snap, err := decodeIngestionSnapshot(loaded.Body)
		if err != nil {
			return 0, err
		}
		nextSeq = snap.NextSeq
	}

	for _, e := range entries {
		if e.Header.EntryType != walog.EntryOrder {
			continue
		}
		rec, err := decodeAction(e.Payload)
		if err != nil {
			continue
		}
		if rec.SeqID >= nextSeq {
			nextSeq = rec.SeqID + 1
		}
	}
	return nextSeq, nil
}

func recoverUBSCore(dirs StageDirs) (*ubscore.Ledger, error) {
	entries, err := walog.ReadAll(dirs.WALDir)
	if err != nil {
		return nil, err
	}

	var walMaxSeq uint64
	for _, e := range entries {
		if e.Header.EntryType != walog.EntryUBSCoreBalance {
			continue
		}
		var ev ubscore.BalanceEvent
		if decodeJSONInto(e.Payload, &ev) == nil && ev.SeqID > walMaxSeq {
			walMaxSeq = ev.SeqID
		}
	}

	loaded, err := loadSnapshotOrZero(dirs.SnapshotDir, walMaxSeq, len(entries) > 0)
	if err != nil {
		return nil, err
	}

	ledger := ubscore.NewLedger()
	var baseline uint64
	hasBaseline := false
	if loaded != nil {
		snap, err := decodeUBSCoreSnapshot(loaded.Body)
		if err != nil {
			return nil, err
		}
		for _, rec := range snap.Balances {
			ledger.SetBalance(rec.UserID, rec.AssetID, rec.Balance)
		}
		baseline = loaded.LastSeq
		hasBaseline = true
	}

	// Without a snapshot baseline every entry must replay, including a
	// legitimate seq_id 0 (the first sequence IngestionService ever
	// assigns) — only a loaded snapshot's own checkpoint bounds what's
	// already accounted for.
	for _, e := range entries {
		if e.Header.EntryType != walog.EntryUBSCoreBalance {
			continue
		}
		var ev ubscore.BalanceEvent
		if err := decodeJSONInto(e.Payload, &ev); err != nil {
			continue
		}
		if hasBaseline && ev.SeqID <= baseline {
			continue
		}
		ledger.ApplyRecoveredEvent(ev)
	}
	return ledger, nil
}

func recoverMatching(dirs StageDirs) (map[uint32]*orderbook.Book, uint64, error) {
	entries, err := walog.ReadAll(dirs.WALDir)
	if err != nil {
		return nil, 0, err
	}

	var walMaxSeq uint64
	for _, e := range entries {
		if e.Header.EntryType != walog.EntryOrder {
			continue
		}
		var o orderbook.Order
		if decodeJSONInto(e.Payload, &o) == nil && o.SeqID > walMaxSeq {
			walMaxSeq = o.SeqID
		}
	}

	loaded, err := loadSnapshotOrZero(dirs.SnapshotDir, walMaxSeq, len(entries) > 0)
	if err != nil {
		return nil, 0, err
	}

	books := make(map[uint32]*orderbook.Book)
	var nextTradeID uint64
	var baseline uint64
	hasBaseline := false
	restingByID := make(map[uint64]bool)

	if loaded != nil {
		snap, err := decodeMatchingSnapshot(loaded.Body)
		if err != nil {
			return nil, 0, err
		}
		nextTradeID = snap.NextTradeID
		baseline = loaded.LastSeq
		hasBaseline = true
		for _, o := range snap.Orders {
			b, ok := books[o.SymbolID]
			if !ok {
				b = orderbook.NewBook(o.SymbolID)
				books[o.SymbolID] = b
			}
			b.RestoreResting([]*orderbook.Order{o})
			restingByID[o.ID] = true
		}
	}

	// Replay every order-state record past the snapshot baseline: a
	// terminal status (canceled/filled/expired/rejected) removes the
	// order from its resting set, anything else (re)inserts it. Replay
	// order matches WAL append order, so the last record for any given
	// order id always reflects its final state (§4.7).
	for _, e := range entries {
		if e.Header.EntryType != walog.EntryOrder {
			continue
		}
		var o orderbook.Order
		if err := decodeJSONInto(e.Payload, &o); err != nil {
			continue
		}
		if hasBaseline && o.SeqID <= baseline {
			continue
		}
		b, ok := books[o.SymbolID]
		if !ok {
			b = orderbook.NewBook(o.SymbolID)
			books[o.SymbolID] = b
		}
		if restingByID[o.ID] {
			b.Cancel(o.ID) // drop the stale resting copy before reinserting/closing it out
			delete(restingByID, o.ID)
		}
		if !o.Status.IsTerminal() {
			oc := o
			b.RestoreResting([]*orderbook.Order{&oc})
			restingByID[o.ID] = true
		}
	}

	for _, e := range entries {
		if e.Header.EntryType != walog.EntryTrade {
			continue
		}
		var t Trade
		if decodeJSONInto(e.Payload, &t) == nil && t.TradeID >= nextTradeID {
			nextTradeID = t.TradeID + 1
		}
	}

	return books, nextTradeID, nil
}

func recoverSettlement(dirs StageDirs) (map[uint32]uint64, error) {
	entries, err := walog.ReadAll(dirs.WALDir)
	if err != nil {
		return nil, err
	}

	var walMaxSeq uint64
	for _, e := range entries {
		if e.Header.EntryType != walog.EntrySettlementCheckpoint {
			continue
		}
		var rec checkpointRecord
		if decodeJSONInto(e.Payload, &rec) == nil && rec.LastTradeID > walMaxSeq {
			walMaxSeq = rec.LastTradeID
		}
	}

	loaded, err := loadSnapshotOrZero(dirs.SnapshotDir, walMaxSeq, len(entries) > 0)
	if err != nil {
		return nil, err
	}

	checkpoints := make(map[uint32]uint64)
	if loaded != nil {
		snap, err := decodeSettlementSnapshot(loaded.Body)
		if err != nil {
			return nil, err
		}
		for k, v := range snap.Checkpoints {
			checkpoints[k] = v
		}
	}

	for _, e := range entries {
		if e.Header.EntryType != walog.EntrySettlementCheckpoint {
			continue
		}
		var rec checkpointRecord
		if err := decodeJSONInto(e.Payload, &rec); err != nil {
			continue
		}
		if rec.LastTradeID > checkpoints[rec.SymbolID] {
			checkpoints[rec.SymbolID] = rec.LastTradeID
		}
	}
	return checkpoints, nil
}

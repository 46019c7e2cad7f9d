// Command matchcore runs the ingestion -> ubscore -> matching -> settlement
// pipeline (§4.3) as a single long-running process: it recovers durable
// state from WAL/snapshots on boot (§4.7), wires the four stages together
// over in-memory rings, starts each stage's goroutine, and periodically
// triggers each stage's snapshot (§4.6). Flag/subcommand conventions are
// adapted from the cobra CLI in the example pack's dbn-go-hist tool, since
// the teacher's own cmd/node does not use cobra.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/specx-labs/matchcore/pkg/config"
	"github.com/specx-labs/matchcore/pkg/events"
	"github.com/specx-labs/matchcore/pkg/logging"
	"github.com/specx-labs/matchcore/pkg/market"
	"github.com/specx-labs/matchcore/pkg/metrics"
	"github.com/specx-labs/matchcore/pkg/pipeline"
	"github.com/specx-labs/matchcore/pkg/snapshot"
	"github.com/specx-labs/matchcore/pkg/walog"

	"os/signal"
	"syscall"
)

// Exit codes (§6: operator-facing process contract).
const (
	exitOK             = 0
	exitUsage          = 64
	exitDataErr        = 65
	exitSoftware       = 70
	exitConfigNotFound = 127
)

var (
	configPath   string
	recoverOnly  bool
	dumpSnapshot string
	verifyWAL    string
)

func main() {
	root := &cobra.Command{
		Use:   "matchcore",
		Short: "Deterministic spot matching pipeline (ingestion -> ubscore -> matching -> settlement)",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to matchcore.yaml (defaults to built-in config)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover durable state and run the pipeline until signaled",
		RunE:  runServe,
	}
	serveCmd.Flags().BoolVar(&recoverOnly, "recover-only", false, "run recovery, print the recovered state, and exit without starting services")
	root.AddCommand(serveCmd)

	dumpCmd := &cobra.Command{
		Use:   "dump-snapshot <service>",
		Short: "Print the latest snapshot body for one stage (ingestion|ubscore|matching|settlement)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dumpSnapshot = args[0]
			return runDumpSnapshot(dumpSnapshot)
		},
	}
	root.AddCommand(dumpCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify-wal <dir>",
		Short: "Scan every WAL file in a stage's directory and report the first corrupt frame, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verifyWAL = args[0]
			return runVerifyWAL(verifyWAL)
		},
	}
	root.AddCommand(verifyCmd)

	// recover-only also applies to the bare root invocation (`matchcore --recover-only`).
	root.Flags().BoolVar(&recoverOnly, "recover-only", false, "run recovery, print the recovered state, and exit without starting services")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitSoftwareFor(err))
	}
}

// exitSoftwareFor maps a returned error to the process exit code a caller
// should observe (§6). Cobra's own Execute() already printed usage errors
// with its own formatting, so this only distinguishes the handful of
// failure classes matchcore itself raises.
func exitSoftwareFor(err error) int {
	switch err.(type) {
	case *configNotFoundError:
		return exitConfigNotFound
	case *dataCorruptError:
		return exitDataErr
	case *usageError:
		return exitUsage
	default:
		return exitSoftware
	}
}

type configNotFoundError struct{ err error }

func (e *configNotFoundError) Error() string { return e.err.Error() }

type dataCorruptError struct{ err error }

func (e *dataCorruptError) Error() string { return e.err.Error() }

type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if configPath != "" {
			if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
				return config.Config{}, &configNotFoundError{err}
			}
		}
		return config.Config{}, err
	}
	return cfg, nil
}

func stageDirs(root string) pipeline.Dirs {
	mk := func(name string) pipeline.StageDirs {
		return pipeline.StageDirs{
			WALDir:      root + "/" + name + "/wal",
			SnapshotDir: root + "/" + name + "/snapshot",
		}
	}
	return pipeline.Dirs{
		Ingestion:  mk("ingestion"),
		UBSCore:    mk("ubscore"),
		Matching:   mk("matching"),
		Settlement: mk("settlement"),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logging.New(zapcore.InfoLevel)
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: building logger: %w", err)}
	}
	defer log.Sync()

	mkt, err := cfg.BuildMarketContext()
	if err != nil {
		return &usageError{fmt.Errorf("matchcore: building market context: %w", err)}
	}
	marketRegistry := market.NewRegistry(mkt)

	metricsReg := metrics.New()
	bus := events.NewBus(metricsReg)

	dirs := stageDirs(cfg.ServiceRootDir)
	state, err := pipeline.Recover(dirs)
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: recovering state: %w", err)}
	}
	log.Sugar().Infow("recovered pipeline state",
		"next_seq", state.NextSeq, "next_trade_id", state.NextTradeID, "symbols_with_books", len(state.Books))

	if recoverOnly {
		fmt.Printf("next_seq=%d next_trade_id=%d symbols_with_resting_orders=%d settlement_checkpoints=%d\n",
			state.NextSeq, state.NextTradeID, len(state.Books), len(state.Checkpoints))
		return nil
	}

	shutdown := pipeline.NewShutdownSignal()

	ingestionWAL, err := walog.NewWriter(walog.WriterOptions{
		Dir: dirs.Ingestion.WALDir, FsyncEntries: cfg.WALFsyncBatch,
		FsyncInterval: time.Duration(cfg.WALFsyncIntervalMillis) * time.Millisecond,
		Logger:        logging.ForStage(log, logging.StageIngestion),
	})
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: opening ingestion WAL: %w", err)}
	}
	ubscoreWAL, err := walog.NewWriter(walog.WriterOptions{
		Dir: dirs.UBSCore.WALDir, FsyncEntries: cfg.WALFsyncBatch,
		FsyncInterval: time.Duration(cfg.WALFsyncIntervalMillis) * time.Millisecond,
		Logger:        logging.ForStage(log, logging.StageUBSCore),
	})
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: opening ubscore WAL: %w", err)}
	}
	matchingWAL, err := walog.NewWriter(walog.WriterOptions{
		Dir: dirs.Matching.WALDir, FsyncEntries: cfg.WALFsyncBatch,
		FsyncInterval: time.Duration(cfg.WALFsyncIntervalMillis) * time.Millisecond,
		Logger:        logging.ForStage(log, logging.StageMatching),
	})
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: opening matching WAL: %w", err)}
	}
	settlementWAL, err := walog.NewWriter(walog.WriterOptions{
		Dir: dirs.Settlement.WALDir, FsyncEntries: cfg.WALFsyncBatch,
		FsyncInterval: time.Duration(cfg.WALFsyncIntervalMillis) * time.Millisecond,
		Logger:        logging.ForStage(log, logging.StageSettlement),
	})
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: opening settlement WAL: %w", err)}
	}

	toUBSCore := pipeline.NewRing[pipeline.SeqAction](cfg.RingCapacity)
	toMatching := pipeline.NewRing[pipeline.LockedOrder](cfg.RingCapacity)
	toSettlement := pipeline.NewRing[pipeline.MEResult](cfg.RingCapacity)
	rejected := pipeline.NewRing[pipeline.Rejection](cfg.RingCapacity)
	settleResults := pipeline.NewRing[pipeline.SettleResult](cfg.RingCapacity)

	ingestion := pipeline.NewIngestionService(pipeline.IngestionOptions{
		InCapacity: cfg.RingCapacity, OutRing: toUBSCore, WAL: ingestionWAL, Bus: bus,
		CidCachePerUser: cfg.CidCachePerUser, StartSeq: state.NextSeq,
		Shutdown: shutdown, Logger: logging.ForStage(log, logging.StageIngestion),
	})

	ub := pipeline.NewUBSCoreService(pipeline.UBSCoreOptions{
		InCapacity: cfg.RingCapacity, SettleInCap: cfg.RingCapacity, ReleaseInCap: cfg.RingCapacity,
		OutLocked: toMatching, OutRejected: rejected, OutSettleResult: settleResults,
		WAL: ubscoreWAL, Ledger: state.Ledger, MarketContext: marketRegistry, FeeTable: cfg.FeeTable,
		Shutdown: shutdown, Logger: logging.ForStage(log, logging.StageUBSCore),
	})

	matching := pipeline.NewMatchingService(pipeline.MatchingOptions{
		InCapacity: cfg.RingCapacity, Out: toSettlement, ReleaseOut: ub.ReleaseIn(),
		WAL: matchingWAL, MarketContext: marketRegistry, StartTradeID: state.NextTradeID,
		Shutdown: shutdown, Logger: logging.ForStage(log, logging.StageMatching),
	})
	for symbolID, book := range state.Books {
		matching.RestoreBook(symbolID, book)
	}

	settlement := pipeline.NewSettlementService(pipeline.SettlementOptions{
		InCapacity: cfg.RingCapacity, SettleOut: ub.SettleIn(), SettleResultIn: settleResults,
		WAL: settlementWAL, Bus: bus, Depth: matching,
		Shutdown: shutdown, Logger: logging.ForStage(log, logging.StageSettlement),
	})
	for symbolID, tradeID := range state.Checkpoints {
		settlement.RestoreCheckpoint(symbolID, tradeID)
	}

	go ingestion.Run()
	go ub.Run()
	go matching.Run()
	go settlement.Run()
	go forwardSeqAction(shutdown, toUBSCore, ub.In())
	go func() {
		for {
			lo, ok := toMatching.Pop(shutdown.Done())
			if !ok {
				return
			}
			matching.In().Push(lo, shutdown.Done())
		}
	}()
	go forwardMEResult(shutdown, toSettlement, settlement.In())

	go snapshotLoop(shutdown, cfg.SnapshotInterval(), log.Sugar(), metricsReg,
		stageSnapshotter{"ingestion", dirs.Ingestion.SnapshotDir, ingestion.Snapshot},
		stageSnapshotter{"ubscore", dirs.UBSCore.SnapshotDir, ub.Snapshot},
		stageSnapshotter{"matching", dirs.Matching.SnapshotDir, matching.Snapshot},
		stageSnapshotter{"settlement", dirs.Settlement.SnapshotDir, settlement.Snapshot},
	)

	waitForShutdownSignal()
	shutdown.Trigger()
	time.Sleep(200 * time.Millisecond) // let in-flight stage loops drain and flush
	return nil
}

// stageSnapshotter pairs a stage's name (for logging/metrics labels) with
// its Snapshot method, bound to its own directory.
type stageSnapshotter struct {
	name string
	dir  string
	snap func(dir string) (string, error)
}

func snapshotLoop(shutdown *pipeline.ShutdownSignal, interval time.Duration, log *zap.SugaredLogger, m *metrics.Registry, stages ...stageSnapshotter) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown.Done():
			return
		case <-ticker.C:
			for _, s := range stages {
				path, err := s.snap(s.dir)
				if err != nil {
					log.Errorw("snapshot write failed", "stage", s.name, "error", err)
					continue
				}
				m.AddSnapshotWrite(s.name)
				log.Infow("snapshot written", "stage", s.name, "path", path)
			}
		}
	}
}

func forwardSeqAction(shutdown *pipeline.ShutdownSignal, from, to *pipeline.Ring[pipeline.SeqAction]) {
	for {
		v, ok := from.Pop(shutdown.Done())
		if !ok {
			return
		}
		to.Push(v, shutdown.Done())
	}
}

func forwardMEResult(shutdown *pipeline.ShutdownSignal, from, to *pipeline.Ring[pipeline.MEResult]) {
	for {
		v, ok := from.Pop(shutdown.Done())
		if !ok {
			return
		}
		to.Push(v, shutdown.Done())
	}
}

func runDumpSnapshot(service string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dirs := stageDirs(cfg.ServiceRootDir)

	var dir string
	switch service {
	case "ingestion":
		dir = dirs.Ingestion.SnapshotDir
	case "ubscore":
		dir = dirs.UBSCore.SnapshotDir
	case "matching":
		dir = dirs.Matching.SnapshotDir
	case "settlement":
		dir = dirs.Settlement.SnapshotDir
	default:
		return &usageError{fmt.Errorf("matchcore: unknown service %q (want ingestion|ubscore|matching|settlement)", service)}
	}

	loaded, err := snapshot.LoadLatest(dir)
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: loading %s snapshot: %w", service, err)}
	}
	if loaded == nil {
		fmt.Printf("no snapshot found under %s\n", dir)
		return nil
	}
	fmt.Printf("last_seq=%d\n%s\n", loaded.LastSeq, loaded.Body)
	return nil
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM, the process
// manager's standard way of requesting a graceful stop (§5: "each stage
// completes in-flight items, flushes its WAL, and exits").
func waitForShutdownSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}

func runVerifyWAL(dir string) error {
	entries, err := walog.ReadAll(dir)
	if err != nil {
		return &dataCorruptError{fmt.Errorf("matchcore: reading WAL %s: %w", dir, err)}
	}
	fmt.Printf("%s: %d valid entries\n", dir, len(entries))
	return nil
}

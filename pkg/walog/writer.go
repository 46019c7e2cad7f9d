package walog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// RotateSize is the default file-size threshold (§4.5 "Files rotate when
// they exceed a size threshold").
const RotateSize = 128 << 20 // 128MB

// WriterOptions configures fsync batching and rotation, mirroring the
// config section (§6: wal_fsync_batch) that feeds every stage's writer.
type WriterOptions struct {
	Dir            string
	FsyncEntries   int           // fsync after this many appended entries
	FsyncInterval  time.Duration // or after this much wall time, whichever first
	RotateSize     int64
	Logger         *zap.SugaredLogger
}

func (o *WriterOptions) setDefaults() {
	if o.FsyncEntries <= 0 {
		o.FsyncEntries = 100
	}
	if o.FsyncInterval <= 0 {
		o.FsyncInterval = 200 * time.Millisecond
	}
	if o.RotateSize <= 0 {
		o.RotateSize = RotateSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
}

// Writer is a single stage's append-only WAL writer: it owns exactly one
// active file at a time, buffers writes, and fsyncs at the configured
// batch boundary (§4.5, §5 "WAL writes use a buffered, fsync-batched
// writer on the same thread" — the writer is never called concurrently
// from more than one goroutine, matching each stage's single-writer
// discipline).
type Writer struct {
	mu           sync.Mutex
	opts         WriterOptions
	file         *os.File
	buf          *bufio.Writer
	fileIndex    uint32
	written      int64
	sinceFsync   int
	lastFsync    time.Time
	nextSeq      uint32
}

// NewWriter opens (or creates) the WAL directory and begins writing to the
// next rotation file after any existing ones.
func NewWriter(opts WriterOptions) (*Writer, error) {
	opts.setDefaults()
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("walog: creating dir %s: %w", opts.Dir, err)
	}
	idx, err := nextFileIndex(opts.Dir)
	if err != nil {
		return nil, err
	}
	w := &Writer{opts: opts, fileIndex: idx, lastFsync: time.Now()}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openFile() error {
	path := FileName(w.opts.Dir, w.fileIndex)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("walog: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("walog: stat %s: %w", path, err)
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.written = info.Size()
	return nil
}

// FileName returns the rotation filename for a given sequence, matching
// §4.5's "log.0001, log.0002" monotonic-suffix convention.
func FileName(dir string, index uint32) string {
	return filepath.Join(dir, fmt.Sprintf("log.%04d", index))
}

func nextFileIndex(dir string) (uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("walog: reading dir %s: %w", dir, err)
	}
	var max uint32
	found := false
	for _, e := range entries {
		var idx uint32
		if _, err := fmt.Sscanf(e.Name(), "log.%04d", &idx); err == nil {
			found = true
			if idx > max {
				max = idx
			}
		}
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

// Append writes one entry's payload under the given type, assigning the
// next monotonic in-file sequence number, and returns the sequence used.
// A write failure here is FATAL per §7: callers must halt the stage and
// trip the shared ShutdownSignal rather than continue with an unwritten
// mutation.
func (w *Writer) Append(entryType EntryType, payload []byte) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	entry := NewEntry(entryType, seq, payload)
	buf := entry.Encode()

	if _, err := w.buf.Write(buf); err != nil {
		return 0, fmt.Errorf("walog: append failed (fatal): %w", err)
	}
	w.written += int64(len(buf))
	w.nextSeq++
	w.sinceFsync++

	if w.shouldFsync() {
		if err := w.flushAndSync(); err != nil {
			return 0, err
		}
	}
	if w.written >= w.opts.RotateSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

func (w *Writer) shouldFsync() bool {
	return w.sinceFsync >= w.opts.FsyncEntries || time.Since(w.lastFsync) >= w.opts.FsyncInterval
}

func (w *Writer) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("walog: flush failed (fatal): %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("walog: fsync failed (fatal): %w", err)
	}
	w.sinceFsync = 0
	w.lastFsync = time.Now()
	return nil
}

func (w *Writer) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("walog: closing rotated file: %w", err)
	}
	prevBytes := w.written
	w.fileIndex++
	w.written = 0
	w.nextSeq = 0
	w.opts.Logger.Infow("wal_rotated", "dir", w.opts.Dir, "next_index", w.fileIndex, "bytes_written_prev", humanize.Bytes(uint64(prevBytes)))
	return w.openFile()
}

// Flush forces a buffered-write flush + fsync outside the batch boundary,
// used on graceful shutdown drain (§4.3 backpressure/shutdown).
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAndSync()
}

// Close flushes and closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSync(); err != nil {
		return err
	}
	return w.file.Close()
}

// NextSequence returns the sequence number the next Append call will use,
// for snapshot trailers that record "last applied seq".
func (w *Writer) NextSequence() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

package snapshot

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndLoadLatest(t *testing.T) {
	dir := t.TempDir()

	if _, err := Write(dir, 10, []byte("state-v10")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := Write(dir, 20, []byte("state-v20")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := LoadLatest(dir)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded snapshot")
	}
	if loaded.LastSeq != 20 || string(loaded.Body) != "state-v20" {
		t.Fatalf("got %+v", loaded)
	}
}

func TestLoadLatestEmpty(t *testing.T) {
	dir := t.TempDir()
	loaded, err := LoadLatest(dir)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected nil for cold start, got %+v", loaded)
	}
}

func TestLoadLatestFallsBackOnCorruption(t *testing.T) {
	dir := t.TempDir()
	if _, err := Write(dir, 1, []byte("good-old-one")); err != nil {
		t.Fatal(err)
	}
	path, err := Write(dir, 2, []byte("good-but-will-corrupt"))
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the latest snapshot's body in place.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadLatest(dir)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if loaded == nil || loaded.LastSeq != 1 {
		t.Fatalf("expected fallback to seq 1, got %+v", loaded)
	}
}

func TestIsZombie(t *testing.T) {
	if !IsZombie(50, 30, true) {
		t.Fatal("snapshot ahead of WAL tail should be a zombie")
	}
	if IsZombie(30, 50, true) {
		t.Fatal("snapshot behind WAL tail should not be a zombie")
	}
	if !IsZombie(5, 0, false) {
		t.Fatal("nonzero snapshot seq with empty WAL should be a zombie")
	}
	if IsZombie(0, 0, false) {
		t.Fatal("zero snapshot seq with empty WAL is a valid cold-adjacent snapshot")
	}
}

func TestParseSeqFromName(t *testing.T) {
	seq, err := ParseSeqFromName(filepath.Join("dir", "state.snap.00000000000000000042"))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 42 {
		t.Fatalf("got %d, want 42", seq)
	}
}

package ubscore

import (
	"path/filepath"
	"testing"

	"github.com/specx-labs/matchcore/pkg/money"
)

func TestStoreSaveAndLoadAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "balances")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	want := Balance{Available: 1_00000000, Locked: 25_000000, LockVersion: 3, SettleVersion: 1}
	if err := store.SaveBalance(7, 2, want); err != nil {
		t.Fatalf("SaveBalance: %v", err)
	}
	if err := store.SaveBalance(7, 1, Balance{Available: 500_00}); err != nil {
		t.Fatalf("SaveBalance: %v", err)
	}

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	got := loaded.Balance(7, 2)
	if got != want {
		t.Fatalf("balance(7,2) = %+v, want %+v", got, want)
	}
	if loaded.Balance(7, 1).Available != money.Amount(500_00) {
		t.Fatalf("balance(7,1).Available = %d, want %d", loaded.Balance(7, 1).Available, 500_00)
	}
}

func TestStoreLoadAllEmptyIsZeroLedger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	loaded, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := loaded.Balance(1, 1); got != (Balance{}) {
		t.Fatalf("expected zero balance on empty store, got %+v", got)
	}
}

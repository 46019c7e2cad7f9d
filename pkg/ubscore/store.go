package ubscore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/specx-labs/matchcore/pkg/money"
)

// Store provides Pebble-backed persistence for balances, used to seed a
// Ledger on recovery before WAL replay resumes (§4.7). Grounded on the
// teacher's pkg/app/core/account/store.go, with the key schema collapsed
// from an EVM-address account model down to the spec's (user_id,
// asset_id) balance keying (§3).
type Store struct {
	db *pebble.DB
}

const balancePrefix = "bal:"

func balanceKey(userID uint64, assetID uint32) []byte {
	key := make([]byte, len(balancePrefix)+8+4)
	copy(key, balancePrefix)
	binary.BigEndian.PutUint64(key[len(balancePrefix):], userID)
	binary.BigEndian.PutUint32(key[len(balancePrefix)+8:], assetID)
	return key
}

// NewStore opens (or creates) a Pebble database at dbPath, tuned the way
// the teacher's account store is: moderate in-memory cache, synchronous
// writes so a balance mutation is durable before the ledger acknowledges it.
func NewStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		BytesPerSync: 512 << 10,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("ubscore: opening pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

type balanceRecord struct {
	Available     uint64
	Locked        uint64
	LockVersion   uint64
	SettleVersion uint64
}

// SaveBalance persists one (user, asset) balance, fsynced per §4.2's
// durability requirement — a balance mutation must be on disk before any
// downstream action depends on it.
func (s *Store) SaveBalance(userID uint64, assetID uint32, b Balance) error {
	rec := balanceRecord{Available: uint64(b.Available), Locked: uint64(b.Locked), LockVersion: b.LockVersion, SettleVersion: b.SettleVersion}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ubscore: marshaling balance: %w", err)
	}
	if err := s.db.Set(balanceKey(userID, assetID), data, pebble.Sync); err != nil {
		return fmt.Errorf("ubscore: saving balance: %w", err)
	}
	return nil
}

// LoadAll reads every persisted balance into a fresh Ledger, used on
// startup before WAL replay picks up where the last snapshot left off.
func (s *Store) LoadAll() (*Ledger, error) {
	l := NewLedger()
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(balancePrefix),
		UpperBound: keyUpperBound([]byte(balancePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("ubscore: creating iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(balancePrefix)+12 {
			continue
		}
		userID := binary.BigEndian.Uint64(key[len(balancePrefix):])
		assetID := binary.BigEndian.Uint32(key[len(balancePrefix)+8:])

		var rec balanceRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		l.SetBalance(userID, assetID, Balance{
			Available:     money.Amount(rec.Available),
			Locked:        money.Amount(rec.Locked),
			LockVersion:   rec.LockVersion,
			SettleVersion: rec.SettleVersion,
		})
	}
	return l, nil
}

func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

package coord

import (
	"encoding/json"
	"fmt"
	"sync"

	dbm "github.com/cosmos/cosmos-db"

	"github.com/tro-protocol/coordinator/internal/types"
)

// Store wraps the key-value backend with JSON marshaling and the handful of
// access patterns the coordinator uses: point reads, prefix scans, counters.
type Store struct {
	db dbm.DB

	// counterMu serializes read-modify-write on counter keys, which are
	// shared across the coordinator's otherwise independent lock domains.
	counterMu sync.Mutex
}

// NewStore wraps a database handle.
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

// getJSON loads the value at key into out. Returns false when the key is
// absent, an error only on backend or decode failure.
func (s *Store) getJSON(key []byte, out interface{}) (bool, error) {
	bz, err := s.db.Get(key)
	if err != nil {
		return false, fmt.Errorf("store get: %w", err)
	}
	if bz == nil {
		return false, nil
	}
	if err := json.Unmarshal(bz, out); err != nil {
		return false, fmt.Errorf("store decode %x: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store encode %x: %w", key, err)
	}
	return s.db.Set(key, bz)
}

func (s *Store) has(key []byte) (bool, error) {
	return s.db.Has(key)
}

func (s *Store) setRaw(key, value []byte) error {
	return s.db.Set(key, value)
}

func (s *Store) delete(key []byte) error {
	return s.db.Delete(key)
}

// iteratePrefix walks all keys under prefix in ascending order, calling fn
// with each key and value. A false return from fn stops the walk.
func (s *Store) iteratePrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error {
	it, err := s.db.Iterator(prefix, prefixEnd(prefix))
	if err != nil {
		return fmt.Errorf("store iterator: %w", err)
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		cont, err := fn(it.Key(), it.Value())
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return it.Error()
}

// prefixEnd returns the exclusive upper bound for a prefix scan: the prefix
// with its last byte incremented, carrying over trailing 0xFF bytes.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	// All 0xFF; scan to the end of the keyspace.
	return nil
}

// nextID atomically advances a counter key and returns the new value.
func (s *Store) nextID(counterKey []byte) (uint64, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	bz, err := s.db.Get(counterKey)
	if err != nil {
		return 0, fmt.Errorf("store counter get: %w", err)
	}
	var next uint64 = 1
	if bz != nil {
		next = bytesToUint64(bz) + 1
	}
	if err := s.db.Set(counterKey, uint64ToBytes(next)); err != nil {
		return 0, fmt.Errorf("store counter set: %w", err)
	}
	return next, nil
}

// appendAudit persists one audit entry under its target's trail.
func (s *Store) appendAudit(entry types.AuditEntry) error {
	seq, err := s.nextID(NextAuditSeqKey)
	if err != nil {
		return err
	}
	return s.setJSON(AuditKey(entry.Target, seq), entry)
}

// AuditTrail returns a target's audit entries in insertion order.
func (s *Store) AuditTrail(target string) ([]types.AuditEntry, error) {
	var entries []types.AuditEntry
	err := s.iteratePrefix(AuditByTargetPrefix(target), func(_, value []byte) (bool, error) {
		var e types.AuditEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return false, err
		}
		entries = append(entries, e)
		return true, nil
	})
	return entries, err
}

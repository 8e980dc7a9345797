package masternode

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Key layout within the masternode namespace (see DESIGN.md):
//   "l/" proTxHash(32)          -> Record JSON  (live, mutable view)
//   "s/" height(8) proTxHash(32) -> Record JSON (immutable per-height snapshot)
var (
	prefixLive     = []byte("l/")
	prefixSnapshot = []byte("s/")
)

// Registry is the masternode registry view, component A of spec.md §4.A.
// The live store is mutated as registration/confirmation/PoSe-ban
// transactions are processed by the chain driver; ListAt reads an
// immutable snapshot captured at connect time for a given height.
type Registry struct {
	mu sync.RWMutex
	db storage.DB
}

// New creates a registry view backed by the given database, which should
// already be scoped to the masternode namespace (see storage.PrefixDB).
func New(db storage.DB) *Registry {
	return &Registry{db: db}
}

func liveKey(proTxHash types.Hash) []byte {
	key := make([]byte, len(prefixLive)+types.HashSize)
	copy(key, prefixLive)
	copy(key[len(prefixLive):], proTxHash[:])
	return key
}

func snapshotKey(height uint64, proTxHash types.Hash) []byte {
	key := make([]byte, len(prefixSnapshot)+8+types.HashSize)
	copy(key, prefixSnapshot)
	binary.BigEndian.PutUint64(key[len(prefixSnapshot):], height)
	copy(key[len(prefixSnapshot)+8:], proTxHash[:])
	return key
}

func snapshotPrefix(height uint64) []byte {
	key := make([]byte, len(prefixSnapshot)+8)
	copy(key, prefixSnapshot)
	binary.BigEndian.PutUint64(key[len(prefixSnapshot):], height)
	return key
}

// Put inserts or updates a live registration record.
func (r *Registry) Put(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal masternode record: %w", err)
	}
	return r.db.Put(liveKey(rec.ProTxHash), data)
}

// Erase removes a live registration record (used by disconnect undo).
func (r *Registry) Erase(proTxHash types.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Delete(liveKey(proTxHash))
}

// Get returns the live record for proTxHash, regardless of ban status.
func (r *Registry) Get(proTxHash types.Hash) (*Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(proTxHash)
}

func (r *Registry) get(proTxHash types.Hash) (*Record, bool, error) {
	data, err := r.db.Get(liveKey(proTxHash))
	if err != nil {
		return nil, false, nil
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal masternode record: %w", err)
	}
	return &rec, true, nil
}

// GetValid returns the live record for proTxHash iff it is eligible
// (not PoSe-banned and confirmed).
func (r *Registry) GetValid(proTxHash types.Hash) (*Record, bool, error) {
	rec, ok, err := r.Get(proTxHash)
	if err != nil || !ok || !rec.Eligible() {
		return nil, false, err
	}
	return rec, true, nil
}

// GetByOperatorKey scans the live set for a record with the given operator
// public key. O(n) in registry size; acceptable at masternode-registry
// scale (hundreds to low thousands of entries).
func (r *Registry) GetByOperatorKey(pk []byte) (*Record, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *Record
	err := r.db.ForEach(prefixLive, func(_, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		if bytes.Equal(rec.OperatorPubKey, pk) {
			cp := rec
			found = &cp
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// List returns every live record, sorted ascending by proTxHash.
func (r *Registry) List() ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.list(prefixLive)
}

func (r *Registry) list(prefix []byte) ([]*Record, error) {
	var out []*Record
	err := r.db.ForEach(prefix, func(_, value []byte) error {
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProTxHash.Less(out[j].ProTxHash)
	})
	return out, nil
}

// SizeValid returns the count of eligible (non-banned, confirmed) records
// in the live set.
func (r *Registry) SizeValid() (int, error) {
	recs, err := r.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Eligible() {
			n++
		}
	}
	return n, nil
}

// SizeConfirmed returns the count of confirmed records (PoSe-banned or not)
// in the live set.
func (r *Registry) SizeConfirmed() (int, error) {
	recs, err := r.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.Confirmed() {
			n++
		}
	}
	return n, nil
}

// SnapshotAt captures the current live set as an immutable snapshot for
// height, so later reads of that exact block index are stable even as the
// live set keeps mutating. Called by the chain driver at connect time.
func (r *Registry) SnapshotAt(height uint64) error {
	r.mu.RLock()
	recs, err := r.list(prefixLive)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("list live records: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal snapshot record: %w", err)
		}
		if err := r.db.Put(snapshotKey(height, rec.ProTxHash), data); err != nil {
			return fmt.Errorf("put snapshot record: %w", err)
		}
	}
	return nil
}

// EraseSnapshot removes the snapshot for height (used by disconnect undo).
func (r *Registry) EraseSnapshot(height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var keys [][]byte
	prefix := snapshotPrefix(height)
	err := r.db.ForEach(prefix, func(key, _ []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := r.db.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// ListAt returns the ordered snapshot of all active registrations for the
// given block index, stable over the lifetime of that block, per
// spec.md §4.A. Falls back to the live set if no snapshot was captured
// (e.g. genesis, or heights before snapshotting was introduced).
func (r *Registry) ListAt(height uint64) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs, err := r.list(snapshotPrefix(height))
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs, nil
	}
	return r.list(prefixLive)
}

// SeedGenesis inserts the given records directly into the live set,
// bypassing confirmation rules, to bootstrap a fresh chain (spec.md §4.A:
// "the genesis block may seed the registry directly"). Seeded records are
// marked confirmed at height 0.
func (r *Registry) SeedGenesis(records []*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		cp := rec.clone()
		if cp.ConfirmedHash.IsZero() {
			cp.ConfirmedHash = cp.ProTxHash
		}
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("marshal genesis record: %w", err)
		}
		if err := r.db.Put(liveKey(cp.ProTxHash), data); err != nil {
			return fmt.Errorf("put genesis record: %w", err)
		}
	}
	return nil
}

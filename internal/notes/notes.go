// Package notes implements the staking note lifecycle store: commitment-keyed
// notes, the nullifier set, and the deterministic iteration order the daily
// yield step depends on (spec.md §4.F).
package notes

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// StakingNote is a lifecycle-managed shielded note, spec.md §3.
type StakingNote struct {
	Amount          uint64     `json:"amount"`
	LockStartHeight uint64     `json:"lock_start_height"`
	UrAccumulated   uint64     `json:"ur_accumulated"`
	Nullifier       types.Hash `json:"nullifier"`
	Commitment      types.Hash `json:"commitment"`
	Spent           bool       `json:"spent"`
}

var (
	prefixNote       = []byte("N/") // N/<commitment> -> StakingNote JSON
	prefixNullifier  = []byte("T/") // T/<nullifier> -> commitment (32 bytes)
)

// Store is the note store + nullifier set, backed by a storage.DB already
// scoped to the ZKHU namespace ('A'/'N'/'T'/'L' in spec.md §6 — this store
// covers the 'N' and 'T' sub-namespaces).
type Store struct {
	db storage.DB
}

// NewStore creates a note store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func noteKey(cm types.Hash) []byte {
	key := make([]byte, len(prefixNote)+types.HashSize)
	copy(key, prefixNote)
	copy(key[len(prefixNote):], cm[:])
	return key
}

func nullifierKey(nf types.Hash) []byte {
	key := make([]byte, len(prefixNullifier)+types.HashSize)
	copy(key, prefixNullifier)
	copy(key[len(prefixNullifier):], nf[:])
	return key
}

// WriteNote stores a note keyed by its commitment.
func (s *Store) WriteNote(n *StakingNote) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}
	return s.db.Put(noteKey(n.Commitment), data)
}

// ReadNote retrieves a note by commitment.
func (s *Store) ReadNote(cm types.Hash) (*StakingNote, error) {
	data, err := s.db.Get(noteKey(cm))
	if err != nil {
		return nil, fmt.Errorf("note not found for commitment %s: %w", cm, err)
	}
	var n StakingNote
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("unmarshal note: %w", err)
	}
	return &n, nil
}

// EraseNote removes a note (used by lock-transaction disconnect undo).
func (s *Store) EraseNote(cm types.Hash) error {
	return s.db.Delete(noteKey(cm))
}

// WriteNullifier marks nf spent and records the commitment it unlocks, so
// unlock-time lookups don't need the commitment passed separately.
func (s *Store) WriteNullifier(nf, cm types.Hash) error {
	return s.db.Put(nullifierKey(nf), cm[:])
}

// IsNullifierSpent reports whether nf has already been used by an unlock.
func (s *Store) IsNullifierSpent(nf types.Hash) (bool, error) {
	return s.db.Has(nullifierKey(nf))
}

// EraseNullifier removes a nullifier (used by unlock-transaction disconnect
// undo).
func (s *Store) EraseNullifier(nf types.Hash) error {
	return s.db.Delete(nullifierKey(nf))
}

// CommitmentForNullifier looks up which commitment a spent nullifier
// belongs to.
func (s *Store) CommitmentForNullifier(nf types.Hash) (types.Hash, error) {
	data, err := s.db.Get(nullifierKey(nf))
	if err != nil {
		return types.Hash{}, fmt.Errorf("nullifier not found: %w", err)
	}
	var cm types.Hash
	copy(cm[:], data)
	return cm, nil
}

// IterateNotes walks every note in the lexicographic order of commitments,
// the deterministic order spec.md §4.F requires so the daily-yield step
// produces identical results on every node. Stops and returns the
// callback's error if it returns non-nil.
func (s *Store) IterateNotes(fn func(*StakingNote) error) error {
	var notes []*StakingNote
	err := s.db.ForEach(prefixNote, func(_, value []byte) error {
		var n StakingNote
		if err := json.Unmarshal(value, &n); err != nil {
			return fmt.Errorf("unmarshal note: %w", err)
		}
		notes = append(notes, &n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan notes: %w", err)
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].Commitment.Less(notes[j].Commitment)
	})

	for _, n := range notes {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

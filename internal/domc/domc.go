// Package domc implements the commit-reveal governance engine over the
// KHU yield rate R_annual: per-cycle commit/reveal windows and the median
// of revealed values (spec.md §4.G).
package domc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Commit is a masternode's blind commitment to a proposed R_annual value
// for a cycle, spec.md §3.
type Commit struct {
	MnOutpoint    types.Outpoint `json:"mn_outpoint"`
	CycleID       uint32         `json:"cycle_id"`
	CommitHash    types.Hash     `json:"commit_hash"`
	HeightRecorded uint64        `json:"height_recorded"`
	Signature     []byte         `json:"signature"`
}

// Reveal is the corresponding opening of a Commit.
type Reveal struct {
	MnOutpoint     types.Outpoint `json:"mn_outpoint"`
	CycleID        uint32         `json:"cycle_id"`
	ProposedR      uint16         `json:"proposed_r"`
	Salt           [32]byte       `json:"salt"`
	HeightRecorded uint64         `json:"height_recorded"`
	Signature      []byte         `json:"signature"`
}

var (
	prefixCommit = []byte("D/C/") // D/C/<mnOutpoint><cycleId> -> Commit JSON
	prefixReveal = []byte("D/R/") // D/R/<mnOutpoint><cycleId> -> Reveal JSON
	prefixIndex  = []byte("D/I/") // D/I/<cycleId><mnOutpoint> -> empty (cycle MN index)
)

// Store is the DOMC commit/reveal store, backed by a storage.DB already
// scoped to the DOMC namespace.
type Store struct {
	db storage.DB
}

// NewStore creates a DOMC store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func outpointBytes(op types.Outpoint) []byte {
	b := make([]byte, types.HashSize+4)
	copy(b, op.TxID[:])
	binary.BigEndian.PutUint32(b[types.HashSize:], op.Index)
	return b
}

func cycleBytes(cycleID uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, cycleID)
	return b
}

func commitKey(op types.Outpoint, cycleID uint32) []byte {
	return append(append(append([]byte{}, prefixCommit...), outpointBytes(op)...), cycleBytes(cycleID)...)
}

func revealKey(op types.Outpoint, cycleID uint32) []byte {
	return append(append(append([]byte{}, prefixReveal...), outpointBytes(op)...), cycleBytes(cycleID)...)
}

func indexKey(cycleID uint32, op types.Outpoint) []byte {
	return append(append(append([]byte{}, prefixIndex...), cycleBytes(cycleID)...), outpointBytes(op)...)
}

func indexPrefix(cycleID uint32) []byte {
	return append(append([]byte{}, prefixIndex...), cycleBytes(cycleID)...)
}

// ErrDuplicateCommit signals that an MN already committed this cycle.
var ErrDuplicateCommit = fmt.Errorf("mn already committed this cycle")

// ErrNoCommit signals a reveal with no matching commit.
var ErrNoCommit = fmt.Errorf("no commit recorded for this mn/cycle")

// WriteCommit stores a commit. One per MN per cycle (spec.md §4.G).
func (s *Store) WriteCommit(c *Commit) error {
	key := commitKey(c.MnOutpoint, c.CycleID)
	if ok, _ := s.db.Has(key); ok {
		return ErrDuplicateCommit
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal commit: %w", err)
	}
	if err := s.db.Put(key, data); err != nil {
		return fmt.Errorf("put commit: %w", err)
	}
	return s.db.Put(indexKey(c.CycleID, c.MnOutpoint), []byte{})
}

// ReadCommit retrieves the commit for (mnOutpoint, cycleID).
func (s *Store) ReadCommit(op types.Outpoint, cycleID uint32) (*Commit, error) {
	data, err := s.db.Get(commitKey(op, cycleID))
	if err != nil {
		return nil, ErrNoCommit
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal commit: %w", err)
	}
	return &c, nil
}

// WriteReveal stores a reveal. Caller must validate it against the matching
// commit before calling (see Validate).
func (s *Store) WriteReveal(r *Reveal) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reveal: %w", err)
	}
	return s.db.Put(revealKey(r.MnOutpoint, r.CycleID), data)
}

// ListReveals returns every reveal recorded for cycleID, in the
// deterministic order of mnOutpoint (lexicographic by TxID, then index),
// per spec.md §4.G's "read in deterministic order" requirement.
func (s *Store) ListReveals(cycleID uint32) ([]*Reveal, error) {
	var ops []types.Outpoint
	err := s.db.ForEach(indexPrefix(cycleID), func(key, _ []byte) error {
		off := len(indexPrefix(cycleID))
		if len(key) < off+types.HashSize+4 {
			return nil
		}
		var op types.Outpoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Index = binary.BigEndian.Uint32(key[off+types.HashSize:])
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cycle index: %w", err)
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].TxID != ops[j].TxID {
			return ops[i].TxID.Less(ops[j].TxID)
		}
		return ops[i].Index < ops[j].Index
	})

	var reveals []*Reveal
	for _, op := range ops {
		data, err := s.db.Get(revealKey(op, cycleID))
		if err != nil {
			continue // committed but never revealed
		}
		var r Reveal
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("unmarshal reveal: %w", err)
		}
		reveals = append(reveals, &r)
	}
	return reveals, nil
}

// EraseCycle removes every commit, reveal, and index entry for cycleID.
// khu.Engine.DisconnectBlock does not call it: disconnecting a
// reveal-instant or unified-activation block leaves that cycle's commits
// and reveals in the store.
func (s *Store) EraseCycle(cycleID uint32) error {
	var ops []types.Outpoint
	err := s.db.ForEach(indexPrefix(cycleID), func(key, _ []byte) error {
		off := len(indexPrefix(cycleID))
		if len(key) < off+types.HashSize+4 {
			return nil
		}
		var op types.Outpoint
		copy(op.TxID[:], key[off:off+types.HashSize])
		op.Index = binary.BigEndian.Uint32(key[off+types.HashSize:])
		ops = append(ops, op)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan cycle index: %w", err)
	}
	for _, op := range ops {
		s.db.Delete(commitKey(op, cycleID))
		s.db.Delete(revealKey(op, cycleID))
		s.db.Delete(indexKey(cycleID, op))
	}
	return nil
}

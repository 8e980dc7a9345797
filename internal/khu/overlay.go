package khu

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// ColoredUtxo is an overlay UTXO, spec.md §3: a transparent KHU-overlay
// output. A spent marker would duplicate what deleting the store entry
// already expresses, so spend is modeled as Delete, not a sentinel value.
type ColoredUtxo struct {
	Outpoint        types.Outpoint `json:"outpoint"`
	Amount          uint64         `json:"amount"`
	ScriptPubKey    types.Script   `json:"script_pub_key"`
	CreatedHeight   uint64         `json:"created_height"`
	IsLocked        bool           `json:"is_locked"`
	LockStartHeight uint64         `json:"lock_start_height,omitempty"`
}

var prefixOverlayUTXO = []byte("u/") // u/<txid><index> -> ColoredUtxo JSON

// OverlayStore is the overlay-UTXO store backing the KHU transparent tier.
// Adapted from the base-coin UTXO store's key/value shape (see DESIGN.md):
// same outpoint-keyed layout, no address/stake secondary indexes since the
// overlay tier has no staking UTXOs of its own.
type OverlayStore struct {
	db storage.DB
}

// NewOverlayStore creates an overlay store backed by db, which should
// already be scoped to the KHU overlay-UTXO namespace ('K' 'U' in
// spec.md §6).
func NewOverlayStore(db storage.DB) *OverlayStore {
	return &OverlayStore{db: db}
}

func overlayKey(op types.Outpoint) []byte {
	key := make([]byte, len(prefixOverlayUTXO)+types.HashSize+4)
	copy(key, prefixOverlayUTXO)
	copy(key[len(prefixOverlayUTXO):], op.TxID[:])
	binary.BigEndian.PutUint32(key[len(prefixOverlayUTXO)+types.HashSize:], op.Index)
	return key
}

// Get retrieves a colored UTXO by outpoint.
func (s *OverlayStore) Get(op types.Outpoint) (*ColoredUtxo, error) {
	data, err := s.db.Get(overlayKey(op))
	if err != nil {
		return nil, fmt.Errorf("overlay utxo get: %w", err)
	}
	var u ColoredUtxo
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("overlay utxo unmarshal: %w", err)
	}
	return &u, nil
}

// Put stores a colored UTXO.
func (s *OverlayStore) Put(u *ColoredUtxo) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("overlay utxo marshal: %w", err)
	}
	if err := s.db.Put(overlayKey(u.Outpoint), data); err != nil {
		return fmt.Errorf("overlay utxo put: %w", err)
	}
	return nil
}

// Delete spends a colored UTXO.
func (s *OverlayStore) Delete(op types.Outpoint) error {
	if err := s.db.Delete(overlayKey(op)); err != nil {
		return fmt.Errorf("overlay utxo delete: %w", err)
	}
	return nil
}

// Has checks whether an unspent colored UTXO exists at op.
func (s *OverlayStore) Has(op types.Outpoint) (bool, error) {
	return s.db.Has(overlayKey(op))
}

// ForEach iterates every unspent colored UTXO.
func (s *OverlayStore) ForEach(fn func(*ColoredUtxo) error) error {
	return s.db.ForEach(prefixOverlayUTXO, func(_, value []byte) error {
		var u ColoredUtxo
		if err := json.Unmarshal(value, &u); err != nil {
			return fmt.Errorf("overlay utxo unmarshal: %w", err)
		}
		return fn(&u)
	})
}

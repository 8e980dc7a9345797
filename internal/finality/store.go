package finality

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Key layout (see internal/chain/store.go for the prefixed-key idiom this
// follows):
//
//	"g/" blockHash(32) proTxHash(32) -> signature bytes (per-block sig map)
//	"f/" height(8)                    -> blockHash(32) (finalized-by-height index)
//	"s/latest_height"                -> height(8)
//	"s/latest_hash"                  -> blockHash(32)
var (
	prefixSig     = []byte("g/")
	prefixFinal   = []byte("f/")
	keyLatestHeight = []byte("s/latest_height")
	keyLatestHash   = []byte("s/latest_hash")
)

// Store persists per-block finality signatures and the finalized-block
// record, component D's signature map and finality marker of spec.md §4.D.
type Store struct {
	mu sync.RWMutex
	db storage.DB
}

// NewStore creates a finality store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func sigKey(blockHash, proTxHash types.Hash) []byte {
	key := make([]byte, len(prefixSig)+types.HashSize*2)
	copy(key, prefixSig)
	copy(key[len(prefixSig):], blockHash[:])
	copy(key[len(prefixSig)+types.HashSize:], proTxHash[:])
	return key
}

func sigPrefix(blockHash types.Hash) []byte {
	key := make([]byte, len(prefixSig)+types.HashSize)
	copy(key, prefixSig)
	copy(key[len(prefixSig):], blockHash[:])
	return key
}

func finalKey(height uint64) []byte {
	key := make([]byte, len(prefixFinal)+8)
	copy(key, prefixFinal)
	binary.BigEndian.PutUint64(key[len(prefixFinal):], height)
	return key
}

// AddSignature records proTxHash's signature over blockHash. Returns
// (added=false, nil) if this proTxHash already signed this block — the
// signature map is append-only and idempotent per spec.md §4.D ("if new,
// add to the per-block signature map").
func (s *Store) AddSignature(blockHash, proTxHash types.Hash, signature []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sigKey(blockHash, proTxHash)
	if has, err := s.db.Has(key); err != nil {
		return false, fmt.Errorf("check signature: %w", err)
	} else if has {
		return false, nil
	}
	if err := s.db.Put(key, signature); err != nil {
		return false, fmt.Errorf("put signature: %w", err)
	}
	return true, nil
}

// Signatures returns the set of proTxHashes that have signed blockHash.
func (s *Store) Signatures(blockHash types.Hash) ([]types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := sigPrefix(blockHash)
	var out []types.Hash
	err := s.db.ForEach(prefix, func(key, _ []byte) error {
		if len(key) != len(prefix)+types.HashSize {
			return nil
		}
		var proTx types.Hash
		copy(proTx[:], key[len(prefix):])
		out = append(out, proTx)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	return out, nil
}

// SignatureCount returns the number of distinct quorum signatures collected
// for blockHash so far.
func (s *Store) SignatureCount(blockHash types.Hash) (int, error) {
	sigs, err := s.Signatures(blockHash)
	if err != nil {
		return 0, err
	}
	return len(sigs), nil
}

// MarkFinalized records blockHash at height as finalized and advances the
// latest-finalized pointer. The per-height record is always written. The
// latest pointer is monotonic per spec.md §4.D: a height below the current
// latest leaves it unchanged and is not an error, since signatures for an
// older block may still trickle in after a newer block already finalized;
// an equal height overwrites the latest hash.
func (s *Store) MarkFinalized(blockHash types.Hash, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put(finalKey(height), blockHash[:]); err != nil {
		return fmt.Errorf("put finalized-by-height: %w", err)
	}

	_, latestHeight, _, err := s.latest()
	if err != nil {
		return err
	}
	if height < latestHeight {
		return nil
	}
	if err := s.db.Put(keyLatestHeight, encodeU64(height)); err != nil {
		return fmt.Errorf("put latest height: %w", err)
	}
	if err := s.db.Put(keyLatestHash, blockHash[:]); err != nil {
		return fmt.Errorf("put latest hash: %w", err)
	}
	return nil
}

// IsFinalized reports whether a block at height is recorded as finalized,
// and if so, its hash.
func (s *Store) IsFinalized(height uint64) (types.Hash, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := s.db.Get(finalKey(height))
	if err != nil {
		return types.Hash{}, false, nil
	}
	if len(data) != types.HashSize {
		return types.Hash{}, false, fmt.Errorf("corrupt finality record at height %d", height)
	}
	var hash types.Hash
	copy(hash[:], data)
	return hash, true, nil
}

// LatestFinalized returns the most recently finalized block's hash and
// height. Returns the zero hash and height 0 if nothing is finalized yet.
func (s *Store) LatestFinalized() (types.Hash, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, height, _, err := s.latest()
	return hash, height, err
}

func (s *Store) latest() (types.Hash, uint64, bool, error) {
	heightData, err := s.db.Get(keyLatestHeight)
	if err != nil {
		return types.Hash{}, 0, false, nil
	}
	height := binary.BigEndian.Uint64(heightData)
	hashData, err := s.db.Get(keyLatestHash)
	if err != nil || len(hashData) != types.HashSize {
		return types.Hash{}, height, false, fmt.Errorf("corrupt latest-finalized hash")
	}
	var hash types.Hash
	copy(hash[:], hashData)
	return hash, height, true, nil
}

// RefusesReorg reports whether a reorg whose fork point is at forkHeight
// must be refused, per spec.md §4.D: "if the fork-point height is ≤ the
// height of any finalized block, the reorg is refused."
func (s *Store) RefusesReorg(forkHeight uint64) (bool, error) {
	_, latestHeight, err := s.LatestFinalized()
	if err != nil {
		return false, err
	}
	return forkHeight <= latestHeight, nil
}

func encodeU64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Triple is the gossiped finality-signature message, per spec.md §4.D:
// "(blockHash, proTxHash, signature)".
type Triple struct {
	BlockHash types.Hash `json:"blockHash"`
	ProTxHash types.Hash `json:"proTxHash"`
	Signature []byte     `json:"signature"`
}

// Encode returns the canonical JSON encoding of the triple for gossip.
func (t Triple) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTriple parses a gossiped triple.
func DecodeTriple(data []byte) (Triple, error) {
	var t Triple
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return Triple{}, fmt.Errorf("decode finality triple: %w", err)
	}
	return t, nil
}

package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Header contains block metadata. There is no PoW/PoA difficulty or nonce:
// block production is resolved by deterministic masternode selection, and
// a block is either signed by the selected producer or it isn't.
type Header struct {
	Version          uint32     `json:"version"`
	PrevHash         types.Hash `json:"prev_hash"`
	MerkleRoot       types.Hash `json:"merkle_root"`
	FinalSaplingRoot types.Hash `json:"final_sapling_root"`
	Timestamp        uint64     `json:"timestamp"`
	Height           uint64     `json:"height"`
	BlockSig         []byte     `json:"block_sig,omitempty"`
}

// headerJSON is the JSON representation of Header with a hex-encoded signature.
type headerJSON struct {
	Version          uint32     `json:"version"`
	PrevHash         types.Hash `json:"prev_hash"`
	MerkleRoot       types.Hash `json:"merkle_root"`
	FinalSaplingRoot types.Hash `json:"final_sapling_root"`
	Timestamp        uint64     `json:"timestamp"`
	Height           uint64     `json:"height"`
	BlockSig         string     `json:"block_sig,omitempty"`
}

// MarshalJSON encodes the header with a hex-encoded block signature.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:          h.Version,
		PrevHash:         h.PrevHash,
		MerkleRoot:       h.MerkleRoot,
		FinalSaplingRoot: h.FinalSaplingRoot,
		Timestamp:        h.Timestamp,
		Height:           h.Height,
	}
	if h.BlockSig != nil {
		j.BlockSig = hex.EncodeToString(h.BlockSig)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with a hex-encoded block signature.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.PrevHash = j.PrevHash
	h.MerkleRoot = j.MerkleRoot
	h.FinalSaplingRoot = j.FinalSaplingRoot
	h.Timestamp = j.Timestamp
	h.Height = j.Height
	if j.BlockSig != "" {
		b, err := hex.DecodeString(j.BlockSig)
		if err != nil {
			return err
		}
		h.BlockSig = b
	}
	return nil
}

// Hash computes the block header hash.
// Excludes BlockSig so the hash is stable for signing.
func (h *Header) Hash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes for hashing/signing.
// Format: version(4) | prev_hash(32) | merkle_root(32) | final_sapling_root(32) | timestamp(8) | height(8)
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 116)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = append(buf, h.FinalSaplingRoot[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	return buf
}

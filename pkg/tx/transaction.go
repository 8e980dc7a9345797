// Package tx defines transaction types, wire payloads, and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Kind tags the semantic role of a transaction. Normal transactions move
// base-coin or already-minted overlay UTXOs; the other kinds each carry a
// typed ExtraPayload decoded by the matching Decode* helper below.
type Kind uint8

const (
	KindNormal Kind = iota
	KindKhuMint
	KindKhuRedeem
	KindKhuLock
	KindKhuUnlock
	KindDomcCommit
	KindDomcReveal
)

func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "Normal"
	case KindKhuMint:
		return "KhuMint"
	case KindKhuRedeem:
		return "KhuRedeem"
	case KindKhuLock:
		return "KhuLock"
	case KindKhuUnlock:
		return "KhuUnlock"
	case KindDomcCommit:
		return "DomcCommit"
	case KindDomcReveal:
		return "DomcReveal"
	default:
		return "Unknown"
	}
}

// Transaction represents a blockchain transaction. Kind and ExtraPayload are
// covered by the transaction hash (see SigningBytes); base-level structural
// validation only checks that ExtraPayload decodes for its Kind, and a
// KHU-typed transaction's ExtraPayload is applied by the state engine that
// understands its Kind.
type Transaction struct {
	Version      uint32   `json:"version"`
	Kind         Kind     `json:"kind"`
	Inputs       []Input  `json:"inputs"`
	Outputs      []Output `json:"outputs"`
	LockTime     uint64   `json:"locktime"`
	ExtraPayload []byte   `json:"extra_payload,omitempty"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO. Overlay (colored KHU) outputs use the same
// shape with Script.Type == types.ScriptTypeOverlay; the state engine is
// what gives that color meaning, not this package.
type Output struct {
	Value  uint64       `json:"value"`
	Script types.Script `json:"script"`
}

// Hash computes the transaction ID (BLAKE3 hash of the serialized signing data).
// This excludes signatures to avoid circular dependency.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for signing.
func (t *Transaction) SigningBytes() []byte {
	var buf []byte

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)
	buf = append(buf, byte(t.Kind))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
	}

	buf = binary.LittleEndian.AppendUint64(buf, t.LockTime)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.ExtraPayload)))
	buf = append(buf, t.ExtraPayload...)

	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// IsKhuTyped reports whether this transaction carries a KHU-relevant
// ExtraPayload that the state engine must decode and apply.
func (t *Transaction) IsKhuTyped() bool {
	return t.Kind != KindNormal
}

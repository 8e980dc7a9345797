package tx

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Payload decode errors. Decoding is always a fallible step performed
// before any state mutation — a transaction whose Kind doesn't match its
// ExtraPayload shape is rejected outright, never partially applied.
var (
	ErrPayloadTooShort   = errors.New("extra payload too short for its kind")
	ErrPayloadTrailing   = errors.New("extra payload has trailing bytes")
	ErrPayloadBadSigLen  = errors.New("extra payload signature length out of range")
	ErrUnknownKind       = errors.New("unknown transaction kind")
)

// MintPayload is the ExtraPayload shape for KindKhuMint and KindKhuRedeem.
type MintPayload struct {
	Amount       int64
	ScriptPubKey []byte
}

// Encode serializes a MintPayload: amount i64 LE, scriptPubKey length-prefixed.
func (p MintPayload) Encode() []byte {
	buf := make([]byte, 0, 8+4+len(p.ScriptPubKey))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Amount))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.ScriptPubKey)))
	buf = append(buf, p.ScriptPubKey...)
	return buf
}

// DecodeMintPayload parses a MintPayload from raw ExtraPayload bytes. Used
// for both KindKhuMint and KindKhuRedeem, which share this shape.
func DecodeMintPayload(b []byte) (MintPayload, error) {
	if len(b) < 12 {
		return MintPayload{}, fmt.Errorf("mint payload: %w", ErrPayloadTooShort)
	}
	amount := int64(binary.LittleEndian.Uint64(b[:8]))
	n := binary.LittleEndian.Uint32(b[8:12])
	rest := b[12:]
	if uint32(len(rest)) < n {
		return MintPayload{}, fmt.Errorf("mint payload: %w", ErrPayloadTooShort)
	}
	if uint32(len(rest)) != n {
		return MintPayload{}, fmt.Errorf("mint payload: %w", ErrPayloadTrailing)
	}
	script := make([]byte, n)
	copy(script, rest[:n])
	return MintPayload{Amount: amount, ScriptPubKey: script}, nil
}

// UnlockPayload is the ExtraPayload shape for KindKhuUnlock: the commitment
// of the note being unlocked.
type UnlockPayload struct {
	Commitment types.Hash
}

func (p UnlockPayload) Encode() []byte {
	return append([]byte{}, p.Commitment[:]...)
}

func DecodeUnlockPayload(b []byte) (UnlockPayload, error) {
	if len(b) < types.HashSize {
		return UnlockPayload{}, fmt.Errorf("unlock payload: %w", ErrPayloadTooShort)
	}
	if len(b) != types.HashSize {
		return UnlockPayload{}, fmt.Errorf("unlock payload: %w", ErrPayloadTrailing)
	}
	var p UnlockPayload
	copy(p.Commitment[:], b)
	return p, nil
}

// DomcCommitPayload is the ExtraPayload shape for KindDomcCommit.
type DomcCommitPayload struct {
	CommitHash   types.Hash
	MNOutpoint   types.Outpoint
	CycleID      uint32
	CommitHeight uint32
	Sig          []byte
}

func (p DomcCommitPayload) Encode() []byte {
	buf := make([]byte, 0, 32+36+4+4+4+len(p.Sig))
	buf = append(buf, p.CommitHash[:]...)
	buf = append(buf, p.MNOutpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, p.MNOutpoint.Index)
	buf = binary.LittleEndian.AppendUint32(buf, p.CycleID)
	buf = binary.LittleEndian.AppendUint32(buf, p.CommitHeight)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Sig)))
	buf = append(buf, p.Sig...)
	return buf
}

func DecodeDomcCommitPayload(b []byte) (DomcCommitPayload, error) {
	const fixed = 32 + 36 + 4 + 4 + 4
	if len(b) < fixed {
		return DomcCommitPayload{}, fmt.Errorf("domc commit payload: %w", ErrPayloadTooShort)
	}
	var p DomcCommitPayload
	copy(p.CommitHash[:], b[0:32])
	copy(p.MNOutpoint.TxID[:], b[32:64])
	p.MNOutpoint.Index = binary.LittleEndian.Uint32(b[64:68])
	p.CycleID = binary.LittleEndian.Uint32(b[68:72])
	p.CommitHeight = binary.LittleEndian.Uint32(b[72:76])
	sigLen := binary.LittleEndian.Uint32(b[76:80])
	rest := b[80:]
	if uint32(len(rest)) < sigLen {
		return DomcCommitPayload{}, fmt.Errorf("domc commit payload: %w", ErrPayloadTooShort)
	}
	if uint32(len(rest)) != sigLen {
		return DomcCommitPayload{}, fmt.Errorf("domc commit payload: %w", ErrPayloadTrailing)
	}
	p.Sig = append([]byte{}, rest[:sigLen]...)
	return p, nil
}

// DomcRevealPayload is the ExtraPayload shape for KindDomcReveal.
type DomcRevealPayload struct {
	ProposedR    uint16
	Salt         [32]byte
	MNOutpoint   types.Outpoint
	CycleID      uint32
	RevealHeight uint32
	Sig          []byte
}

func (p DomcRevealPayload) Encode() []byte {
	buf := make([]byte, 0, 2+32+36+4+4+4+len(p.Sig))
	buf = binary.LittleEndian.AppendUint16(buf, p.ProposedR)
	buf = append(buf, p.Salt[:]...)
	buf = append(buf, p.MNOutpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, p.MNOutpoint.Index)
	buf = binary.LittleEndian.AppendUint32(buf, p.CycleID)
	buf = binary.LittleEndian.AppendUint32(buf, p.RevealHeight)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Sig)))
	buf = append(buf, p.Sig...)
	return buf
}

func DecodeDomcRevealPayload(b []byte) (DomcRevealPayload, error) {
	const fixed = 2 + 32 + 36 + 4 + 4 + 4
	if len(b) < fixed {
		return DomcRevealPayload{}, fmt.Errorf("domc reveal payload: %w", ErrPayloadTooShort)
	}
	var p DomcRevealPayload
	p.ProposedR = binary.LittleEndian.Uint16(b[0:2])
	copy(p.Salt[:], b[2:34])
	copy(p.MNOutpoint.TxID[:], b[34:66])
	p.MNOutpoint.Index = binary.LittleEndian.Uint32(b[66:70])
	p.CycleID = binary.LittleEndian.Uint32(b[70:74])
	p.RevealHeight = binary.LittleEndian.Uint32(b[74:78])
	sigLen := binary.LittleEndian.Uint32(b[78:82])
	rest := b[82:]
	if uint32(len(rest)) < sigLen {
		return DomcRevealPayload{}, fmt.Errorf("domc reveal payload: %w", ErrPayloadTooShort)
	}
	if uint32(len(rest)) != sigLen {
		return DomcRevealPayload{}, fmt.Errorf("domc reveal payload: %w", ErrPayloadTrailing)
	}
	p.Sig = append([]byte{}, rest[:sigLen]...)
	return p, nil
}

// NoteMemoSize is the fixed size of a KHU note memo, exactly 512 bytes.
const NoteMemoSize = 512

var noteMemoMagic = [4]byte{'Z', 'K', 'H', 'U'}

const noteMemoVersion = 1

// NoteMemo is the plaintext payload carried by a locked staking note.
type NoteMemo struct {
	LockStartHeight uint32
	Amount          int64
	UrAccumulated   int64
}

// Encode serializes the memo to its fixed 512-byte wire form:
// "ZKHU"(4) | version=1(1) | lockStartHeight u32(4) | amount i64(8) |
// Ur_accumulated i64(8) | 487 zero bytes.
func (m NoteMemo) Encode() [NoteMemoSize]byte {
	var out [NoteMemoSize]byte
	copy(out[0:4], noteMemoMagic[:])
	out[4] = noteMemoVersion
	binary.LittleEndian.PutUint32(out[5:9], m.LockStartHeight)
	binary.LittleEndian.PutUint64(out[9:17], uint64(m.Amount))
	binary.LittleEndian.PutUint64(out[17:25], uint64(m.UrAccumulated))
	return out
}

// DecodeNoteMemo validates the magic and version, then parses the fields.
func DecodeNoteMemo(b []byte) (NoteMemo, error) {
	if len(b) != NoteMemoSize {
		return NoteMemo{}, fmt.Errorf("note memo: want %d bytes, got %d", NoteMemoSize, len(b))
	}
	if [4]byte(b[0:4]) != noteMemoMagic {
		return NoteMemo{}, fmt.Errorf("note memo: bad magic")
	}
	if b[4] != noteMemoVersion {
		return NoteMemo{}, fmt.Errorf("note memo: unsupported version %d", b[4])
	}
	return NoteMemo{
		LockStartHeight: binary.LittleEndian.Uint32(b[5:9]),
		Amount:          int64(binary.LittleEndian.Uint64(b[9:17])),
		UrAccumulated:   int64(binary.LittleEndian.Uint64(b[17:25])),
	}, nil
}

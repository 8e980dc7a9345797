package types

import (
	"encoding/hex"
	"encoding/json"
)

// ScriptType identifies the type of locking/unlocking script an output
// carries. The base-coin side only needs P2PKH/P2SH/OP_RETURN/HTLC; the
// KHU overlay reuses the same output shape for its transparent UTXOs.
type ScriptType uint8

const (
	ScriptTypeP2PKH    ScriptType = 0x01 // Pay to public key hash
	ScriptTypeP2SH     ScriptType = 0x02 // Pay to script hash
	ScriptTypeReturn   ScriptType = 0x03 // OP_RETURN — provably unspendable, carries opaque data
	ScriptTypeHTLC     ScriptType = 0x04 // Conditional (hashlock-or-timeout) script, see pkg/htlc
	ScriptTypeOverlay  ScriptType = 0x10 // Transparent KHU overlay output (colored UTXO)
	ScriptTypeShielded ScriptType = 0x11 // Shielded staking-note output marker, produced only by KhuLock
)

// String returns a human-readable name for the script type.
func (st ScriptType) String() string {
	switch st {
	case ScriptTypeP2PKH:
		return "P2PKH"
	case ScriptTypeP2SH:
		return "P2SH"
	case ScriptTypeReturn:
		return "Return"
	case ScriptTypeHTLC:
		return "HTLC"
	case ScriptTypeOverlay:
		return "Overlay"
	case ScriptTypeShielded:
		return "Shielded"
	default:
		return "Unknown"
	}
}

// Script defines the locking condition for a UTXO.
type Script struct {
	Type ScriptType `json:"type"`
	Data []byte     `json:"data"`
}

// scriptJSON is the JSON representation of a Script with hex-encoded data.
type scriptJSON struct {
	Type ScriptType `json:"type"`
	Data string     `json:"data"`
}

// MarshalJSON encodes the script with hex-encoded data.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(scriptJSON{
		Type: s.Type,
		Data: hex.EncodeToString(s.Data),
	})
}

// UnmarshalJSON decodes a script with hex-encoded data.
func (s *Script) UnmarshalJSON(data []byte) error {
	var j scriptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Type = j.Type
	if j.Data != "" {
		b, err := hex.DecodeString(j.Data)
		if err != nil {
			return err
		}
		s.Data = b
	}
	return nil
}

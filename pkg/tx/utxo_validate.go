package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound     = errors.New("input UTXO not found")
	ErrInsufficientFee   = errors.New("insufficient fee")
	ErrInputOverflow     = errors.New("input values overflow")
	ErrScriptMismatch    = errors.New("pubkey does not match UTXO script")
	ErrUnspendableOutput = errors.New("output is unspendable")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value uint64, script types.Script, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// ValidateWithUTXOs performs full validation of a transaction against the
// UTXO set: every input exists and is unspent, P2PKH ownership matches,
// signatures verify, and inputs cover outputs. It does not enforce KHU
// coloring rules (overlay input/output balance, lock maturity) — those are
// the state engine's job once it has decoded the kind-specific payload.
// Returns the fee (inputs - outputs).
func (t *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range t.Inputs {
		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, script, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if script.Type == types.ScriptTypeReturn {
			return 0, fmt.Errorf("input %d (%s): %w: return output cannot be spent", i, in.PrevOut, ErrUnspendableOutput)
		}

		if script.Type == types.ScriptTypeP2PKH {
			if err := verifyP2PKH(in.PubKey, script.Data); err != nil {
				return 0, fmt.Errorf("input %d: %w", i, err)
			}
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	if err := t.VerifySignatures(); err != nil {
		return 0, err
	}

	totalOutput, ovfErr := t.TotalOutputValue()
	if ovfErr != nil {
		return 0, fmt.Errorf("output overflow: %w", ovfErr)
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyP2PKH checks that a public key hashes to the expected address in the script.
func verifyP2PKH(pubKey []byte, scriptData []byte) error {
	if len(scriptData) != types.AddressSize {
		return fmt.Errorf("%w: script data length %d", ErrScriptMismatch, len(scriptData))
	}
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}

	expected := crypto.AddressFromPubKey(pubKey)
	var want types.Address
	copy(want[:], scriptData)

	if expected != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrScriptMismatch, want, expected)
	}
	return nil
}

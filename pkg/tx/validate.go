package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs           = errors.New("transaction has no inputs")
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrZeroOutput         = errors.New("output value is zero")
	ErrMissingPubKey      = errors.New("input missing public key")
	ErrMissingSig         = errors.New("input missing signature")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
	ErrKhuShapeMismatch   = errors.New("transaction shape does not match its kind")
)

// Validate checks transaction structure and basic rules. This does NOT
// check UTXO existence (that requires the UTXO set) and does NOT decode
// or apply a KHU-typed ExtraPayload — that belongs to the state engine
// that understands the kind. It only confirms the payload decodes cleanly
// and the input/output shape is consistent with the kind's contract.
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), config.MaxTxInputs)
	}
	if len(t.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), config.MaxTxOutputs)
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
		if len(in.PubKey) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
		}
		if len(in.Signature) == 0 {
			return fmt.Errorf("input %d: %w", i, ErrMissingSig)
		}
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if len(out.Script.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.Script.Data), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
	}

	return t.validateKindShape()
}

// validateKindShape confirms the ExtraPayload decodes and the transaction's
// input/output shape matches what that kind requires, per the wire layout
// each kind defines.
func (t *Transaction) validateKindShape() error {
	switch t.Kind {
	case KindNormal:
		return nil
	case KindKhuMint, KindKhuRedeem:
		_, err := DecodeMintPayload(t.ExtraPayload)
		return err
	case KindKhuLock:
		// Carries no ExtraPayload; only the presence of at least one output
		// is checked here.
		if len(t.Outputs) < 1 {
			return fmt.Errorf("khu lock: %w", ErrKhuShapeMismatch)
		}
		return nil
	case KindKhuUnlock:
		_, err := DecodeUnlockPayload(t.ExtraPayload)
		return err
	case KindDomcCommit:
		_, err := DecodeDomcCommitPayload(t.ExtraPayload)
		return err
	case KindDomcReveal:
		_, err := DecodeDomcRevealPayload(t.ExtraPayload)
		return err
	default:
		return fmt.Errorf("kind %d: %w", t.Kind, ErrUnknownKind)
	}
}

// VerifySignatures checks that all input signatures are valid for this transaction.
func (t *Transaction) VerifySignatures() error {
	hash := t.Hash()
	for i, in := range t.Inputs {
		if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}

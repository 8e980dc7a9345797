package block

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Validation errors.
var (
	ErrNilHeader           = errors.New("block has nil header")
	ErrNoTransactions      = errors.New("block has no transactions")
	ErrBadMerkleRoot       = errors.New("merkle root mismatch")
	ErrBadVersion          = errors.New("unsupported block version")
	ErrZeroTimestamp       = errors.New("block timestamp is zero")
	ErrTooManyTxs          = errors.New("too many transactions in block")
	ErrBlockTooLarge       = errors.New("block too large")
	ErrDuplicateBlockInput = errors.New("duplicate input across transactions in block")
)

// Block version constants.
const (
	CurrentVersion = 1
	MaxVersion     = 1
)

// Validate checks block structure and internal consistency. Transaction
// effects (KHU mint/redeem/lock/unlock, DOMC commit/reveal) are applied in
// exactly the order transactions appear in the block, so this does not
// reorder or require any particular transaction to come first — there is
// no coinbase convention here, since base-coin issuance is not part of
// this core.
func (b *Block) Validate() error {
	if b.Header == nil {
		return ErrNilHeader
	}
	if b.Header.Version == 0 || b.Header.Version > MaxVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, b.Header.Version)
	}
	if b.Header.Timestamp == 0 {
		return ErrZeroTimestamp
	}
	if len(b.Transactions) == 0 {
		return ErrNoTransactions
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return fmt.Errorf("%w: %d, max %d", ErrTooManyTxs, len(b.Transactions), config.MaxBlockTxs)
	}

	var size int
	txHashes := make([]types.Hash, len(b.Transactions))
	seenInputs := make(map[types.Outpoint]bool)
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
		size += len(t.SigningBytes())
		txHashes[i] = t.Hash()
		for _, in := range t.Inputs {
			if seenInputs[in.PrevOut] {
				return fmt.Errorf("tx %d: %w", i, ErrDuplicateBlockInput)
			}
			seenInputs[in.PrevOut] = true
		}
	}
	if size > config.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, config.MaxBlockSize)
	}

	root := ComputeMerkleRoot(txHashes)
	if !bytes.Equal(root[:], b.Header.MerkleRoot[:]) {
		return ErrBadMerkleRoot
	}

	return nil
}

func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

package domc

import (
	"encoding/binary"
	"fmt"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// CommitHash computes commit_hash = SHA256(proposed_R || salt), the
// bit-exact formula of spec.md §4.G.
func CommitHash(proposedR uint16, salt [32]byte) types.Hash {
	buf := make([]byte, 2+32)
	binary.LittleEndian.PutUint16(buf[:2], proposedR)
	copy(buf[2:], salt[:])
	return crypto.SHA256(buf)
}

// ErrBindingMismatch signals that SHA256(R || salt) != commit_hash.
var ErrBindingMismatch = fmt.Errorf("reveal does not match recorded commit hash")

// ErrRateTooHigh signals proposed_R > R_MAX_dynamic.
var ErrRateTooHigh = fmt.Errorf("proposed rate exceeds R_MAX_dynamic")

// ValidateReveal checks spec.md §4.G's binding rule: a matching commit must
// exist and its hash must equal CommitHash(proposedR, salt); proposedR must
// not exceed rMaxDynamic.
func (s *Store) ValidateReveal(op types.Outpoint, cycleID uint32, proposedR uint16, salt [32]byte, rMaxDynamic uint16) error {
	commit, err := s.ReadCommit(op, cycleID)
	if err != nil {
		return err
	}
	if CommitHash(proposedR, salt) != commit.CommitHash {
		return ErrBindingMismatch
	}
	if proposedR > rMaxDynamic {
		return ErrRateTooHigh
	}
	return nil
}

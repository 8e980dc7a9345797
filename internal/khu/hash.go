package khu

import (
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// stateHash hashes a serialized state snapshot. Not one of the bit-exact
// SHA-256 formulas of spec.md §4.B/D/G, so it uses the domain hash like
// every other non-consensus-mandated identifier.
func stateHash(data []byte) types.Hash {
	return crypto.Hash(data)
}

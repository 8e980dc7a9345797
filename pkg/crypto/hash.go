// Package crypto provides cryptographic primitives for the consensus core.
package crypto

import (
	"crypto/sha256"

	"github.com/piv2-project/khu-consensus/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data. Used for block and
// transaction identifiers and for merkle trees, where no formula fixes the
// algorithm bit-for-bit.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// SHA256 computes a SHA-256 hash of the input data. Producer scoring, quorum
// seed/member scoring, and commit-reveal commitment hashes are all defined
// bit-for-bit in terms of SHA-256; swapping in the domain hash there would
// fork consensus, so those call sites use this instead of Hash.
func SHA256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes. Used for building
// merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}

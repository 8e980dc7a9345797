package types

import "encoding/hex"

// AddressSize is the length of a pubkey-hash address in bytes.
const AddressSize = 20

// Address is an opaque pubkey-hash identifier embedded in P2PKH scripts and
// HTLC branches. Human-readable address encoding (base58/bech32 and
// network-version bytes) is left to wallet-side collaborators; this core
// only ever compares and hashes the raw 20 bytes.
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the hex-encoded address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

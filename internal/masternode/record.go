// Package masternode implements the ordered registry of masternode
// registrations that producer selection, block verification, and finality
// quorum selection all read from.
package masternode

import (
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Record is a single masternode registration, per spec.md §3.
type Record struct {
	ProTxHash          types.Hash     `json:"proTxHash"`
	OperatorPubKey     []byte         `json:"operatorPubKey"`
	CollateralOutpoint types.Outpoint `json:"collateralOutpoint"`
	ServiceAddr        string         `json:"serviceAddr"`
	RegisteredHeight   uint64         `json:"registeredHeight"`
	ConfirmedHash      types.Hash     `json:"confirmedHash"` // zero until first confirmation
	PoSeBanned         bool           `json:"poSeBanned"`
	PayoutScript       types.Script   `json:"payoutScript"`
}

// Confirmed reports whether the record has a non-zero confirmedHash.
func (r *Record) Confirmed() bool {
	return !r.ConfirmedHash.IsZero()
}

// Eligible reports whether the record may be selected as producer or
// counted into a finality quorum: not PoSe-banned and confirmed.
func (r *Record) Eligible() bool {
	return !r.PoSeBanned && r.Confirmed()
}

// clone returns a deep-enough copy safe to hand to callers outside the lock.
func (r *Record) clone() *Record {
	cp := *r
	cp.OperatorPubKey = append([]byte(nil), r.OperatorPubKey...)
	cp.PayoutScript.Data = append([]byte(nil), r.PayoutScript.Data...)
	return &cp
}

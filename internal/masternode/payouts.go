package masternode

import (
	"encoding/binary"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// PayoutLedger is a rolling per-masternode "last paid height" record,
// mirrored from the original masternode-payments.cpp bookkeeping. It is
// operator-facing only (masternode.status/masternode.list reporting) and
// carries no consensus weight: the DAO/treasury flow of spec.md §4.H is
// the only consensus-critical payout path.
type PayoutLedger struct {
	db storage.DB
}

var prefixPayout = []byte("p/") // p/<proTxHash> -> last paid height (u64 BE)

// NewPayoutLedger creates a payout ledger backed by db, which should
// already be scoped to its own namespace (see storage.PrefixDB).
func NewPayoutLedger(db storage.DB) *PayoutLedger {
	return &PayoutLedger{db: db}
}

func payoutKey(proTxHash types.Hash) []byte {
	key := make([]byte, len(prefixPayout)+types.HashSize)
	copy(key, prefixPayout)
	copy(key[len(prefixPayout):], proTxHash[:])
	return key
}

// RecordPayout sets proTxHash's last-paid height to height. Nothing in this
// repository calls it, the consensus-critical DAO engine included, so the
// ledger holds only what an external caller records.
func (l *PayoutLedger) RecordPayout(proTxHash types.Hash, height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return l.db.Put(payoutKey(proTxHash), buf)
}

// LastPaidHeight returns the last height at which proTxHash was paid, and
// false if no payout has ever been recorded for it.
func (l *PayoutLedger) LastPaidHeight(proTxHash types.Hash) (uint64, bool, error) {
	data, err := l.db.Get(payoutKey(proTxHash))
	if err != nil {
		return 0, false, nil
	}
	if len(data) != 8 {
		return 0, false, fmt.Errorf("corrupt payout record for %s", proTxHash)
	}
	return binary.BigEndian.Uint64(data), true, nil
}

// PayoutRecord is a single masternode's payout-ledger entry, used by
// operator-facing reporting (masternode.list/masternode.status).
type PayoutRecord struct {
	ProTxHash      types.Hash `json:"proTxHash"`
	LastPaidHeight uint64     `json:"lastPaidHeight"`
	EverPaid       bool       `json:"everPaid"`
}

func (l *PayoutLedger) recordFor(proTxHash types.Hash) PayoutRecord {
	height, ok, _ := l.LastPaidHeight(proTxHash)
	return PayoutRecord{ProTxHash: proTxHash, LastPaidHeight: height, EverPaid: ok}
}

// Snapshot returns payout records for every proTxHash given, in the same
// order, for bulk operator-facing reporting.
func (l *PayoutLedger) Snapshot(proTxHashes []types.Hash) []PayoutRecord {
	out := make([]PayoutRecord, 0, len(proTxHashes))
	for _, h := range proTxHashes {
		out = append(out, l.recordFor(h))
	}
	return out
}

package masternode

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func testHash(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestRegistry_PutGet(t *testing.T) {
	reg := New(storage.NewMemory())
	rec := &Record{
		ProTxHash:      testHash(1),
		OperatorPubKey: []byte{0x02, 0x03},
	}

	if err := reg.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := reg.Get(rec.ProTxHash)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ProTxHash != rec.ProTxHash {
		t.Errorf("ProTxHash mismatch")
	}
}

func TestRegistry_GetValid_SkipsBannedAndUnconfirmed(t *testing.T) {
	reg := New(storage.NewMemory())

	banned := &Record{ProTxHash: testHash(1), PoSeBanned: true, ConfirmedHash: testHash(1)}
	unconfirmed := &Record{ProTxHash: testHash(2)}
	ok := &Record{ProTxHash: testHash(3), ConfirmedHash: testHash(3)}

	for _, r := range []*Record{banned, unconfirmed, ok} {
		if err := reg.Put(r); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if _, found, _ := reg.GetValid(banned.ProTxHash); found {
		t.Error("banned record should not be valid")
	}
	if _, found, _ := reg.GetValid(unconfirmed.ProTxHash); found {
		t.Error("unconfirmed record should not be valid")
	}
	if _, found, _ := reg.GetValid(ok.ProTxHash); !found {
		t.Error("eligible record should be valid")
	}
}

func TestRegistry_List_SortedByProTxHash(t *testing.T) {
	reg := New(storage.NewMemory())
	for _, b := range []byte{3, 1, 2} {
		if err := reg.Put(&Record{ProTxHash: testHash(b)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	recs, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	for i := 0; i < len(recs)-1; i++ {
		if !recs[i].ProTxHash.Less(recs[i+1].ProTxHash) {
			t.Errorf("records not sorted ascending at index %d", i)
		}
	}
}

func TestRegistry_SizeValidAndConfirmed(t *testing.T) {
	reg := New(storage.NewMemory())
	reg.Put(&Record{ProTxHash: testHash(1), ConfirmedHash: testHash(1)})
	reg.Put(&Record{ProTxHash: testHash(2), ConfirmedHash: testHash(2), PoSeBanned: true})
	reg.Put(&Record{ProTxHash: testHash(3)})

	valid, err := reg.SizeValid()
	if err != nil {
		t.Fatalf("SizeValid: %v", err)
	}
	if valid != 1 {
		t.Errorf("SizeValid = %d, want 1", valid)
	}

	confirmed, err := reg.SizeConfirmed()
	if err != nil {
		t.Fatalf("SizeConfirmed: %v", err)
	}
	if confirmed != 2 {
		t.Errorf("SizeConfirmed = %d, want 2", confirmed)
	}
}

func TestRegistry_SnapshotAtIsImmutable(t *testing.T) {
	reg := New(storage.NewMemory())
	rec := &Record{ProTxHash: testHash(1), ConfirmedHash: testHash(1)}
	reg.Put(rec)

	if err := reg.SnapshotAt(10); err != nil {
		t.Fatalf("SnapshotAt: %v", err)
	}

	// Mutate the live set after the snapshot was taken.
	rec2 := &Record{ProTxHash: testHash(2), ConfirmedHash: testHash(2)}
	reg.Put(rec2)
	reg.Erase(rec.ProTxHash)

	snap, err := reg.ListAt(10)
	if err != nil {
		t.Fatalf("ListAt: %v", err)
	}
	if len(snap) != 1 || snap[0].ProTxHash != rec.ProTxHash {
		t.Errorf("snapshot at height 10 should still show only the original record, got %+v", snap)
	}

	live, err := reg.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(live) != 1 || live[0].ProTxHash != rec2.ProTxHash {
		t.Errorf("live set should reflect the mutation, got %+v", live)
	}
}

func TestRegistry_ListAt_FallsBackToLiveWhenNoSnapshot(t *testing.T) {
	reg := New(storage.NewMemory())
	reg.Put(&Record{ProTxHash: testHash(1)})

	recs, err := reg.ListAt(99)
	if err != nil {
		t.Fatalf("ListAt: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected fallback to live set, got %d records", len(recs))
	}
}

func TestRegistry_SeedGenesis_BypassesConfirmation(t *testing.T) {
	reg := New(storage.NewMemory())
	rec := &Record{ProTxHash: testHash(1)}

	if err := reg.SeedGenesis([]*Record{rec}); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}

	got, ok, err := reg.GetValid(rec.ProTxHash)
	if err != nil || !ok {
		t.Fatalf("seeded record should be immediately valid: ok=%v err=%v", ok, err)
	}
	if got.ConfirmedHash.IsZero() {
		t.Error("seeded record should be auto-confirmed")
	}
}

func TestRegistry_GetByOperatorKey(t *testing.T) {
	reg := New(storage.NewMemory())
	pk := []byte{0xaa, 0xbb}
	reg.Put(&Record{ProTxHash: testHash(1), OperatorPubKey: pk})

	got, ok, err := reg.GetByOperatorKey(pk)
	if err != nil || !ok {
		t.Fatalf("GetByOperatorKey: ok=%v err=%v", ok, err)
	}
	if got.ProTxHash != testHash(1) {
		t.Errorf("wrong record returned")
	}

	_, ok, err = reg.GetByOperatorKey([]byte{0xff})
	if err != nil {
		t.Fatalf("GetByOperatorKey: %v", err)
	}
	if ok {
		t.Error("unknown operator key should not be found")
	}
}

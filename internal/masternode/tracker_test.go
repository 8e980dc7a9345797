package masternode

import (
	"testing"
	"time"
)

func TestTracker_RecordMissIncreasesScore(t *testing.T) {
	tr := NewTracker()
	h := testHash(1)

	tr.RecordMiss(h)
	tr.RecordMiss(h)

	s := tr.Stats(h)
	if s == nil {
		t.Fatal("Stats returned nil")
	}
	if s.MissedBlocks != 2 {
		t.Errorf("MissedBlocks = %d, want 2", s.MissedBlocks)
	}
	if s.Score != 2*missScoreDelta {
		t.Errorf("Score = %d, want %d", s.Score, 2*missScoreDelta)
	}
}

func TestTracker_RecordFaultWeighsMoreThanMiss(t *testing.T) {
	tr := NewTracker()
	h := testHash(1)

	tr.RecordFault(h)

	s := tr.Stats(h)
	if s.Score != faultScoreDelta {
		t.Errorf("Score = %d, want %d", s.Score, faultScoreDelta)
	}
	if faultScoreDelta <= missScoreDelta {
		t.Error("a service-probe fault should weigh more than a missed slot")
	}
}

func TestTracker_Decay(t *testing.T) {
	tr := NewTracker()
	h := testHash(1)
	tr.RecordFault(h) // score = faultScoreDelta

	for i := uint64(0); i < faultScoreDelta; i++ {
		tr.Decay()
	}

	s := tr.Stats(h)
	if s.Score != 0 {
		t.Errorf("Score after full decay = %d, want 0", s.Score)
	}
}

func TestTracker_IsOnline(t *testing.T) {
	tr := NewTracker()
	h := testHash(1)

	if tr.IsOnline(h, time.Second) {
		t.Error("unseen masternode should not be online")
	}

	tr.RecordSeen(h)
	if !tr.IsOnline(h, time.Minute) {
		t.Error("just-seen masternode should be online")
	}
}

package dao

import (
	"testing"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func testOutpoint(b byte) types.Outpoint {
	var h types.Hash
	h[0] = b
	return types.Outpoint{TxID: h}
}

func newProposal(name string, amount uint64, cycleStart uint64) *Proposal {
	script := types.Script{Type: types.ScriptTypeP2PKH, Data: make([]byte, types.AddressSize)}
	p := &Proposal{
		Name:         name,
		Description:  "test",
		Amount:       amount,
		PayoutScript: script,
		CycleStart:   cycleStart,
	}
	p.Hash = ComputeHash(p.Name, p.Description, p.Amount, p.PayoutScript, p.CycleStart)
	return p
}

func TestStore_SubmitAndVote(t *testing.T) {
	s := NewStore(storage.NewMemory())
	p := newProposal("A", 50000, 0)
	if err := s.Submit(p); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	mn1, mn2, mn3 := testOutpoint(1), testOutpoint(2), testOutpoint(3)
	s.CastVote(p.Hash, mn1, VoteYes)
	s.CastVote(p.Hash, mn2, VoteYes)
	s.CastVote(p.Hash, mn3, VoteNo)

	got, err := s.Get(p.Hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.YesVotes != 2 || got.NoVotes != 1 {
		t.Errorf("votes = yes=%d no=%d, want yes=2 no=1", got.YesVotes, got.NoVotes)
	}
}

func TestStore_CastVote_OverridesPrevious(t *testing.T) {
	s := NewStore(storage.NewMemory())
	p := newProposal("A", 50000, 0)
	s.Submit(p)
	mn := testOutpoint(1)

	s.CastVote(p.Hash, mn, VoteYes)
	s.CastVote(p.Hash, mn, VoteNo)

	got, _ := s.Get(p.Hash)
	if got.YesVotes != 0 || got.NoVotes != 1 {
		t.Errorf("votes after override = yes=%d no=%d, want yes=0 no=1", got.YesVotes, got.NoVotes)
	}
}

func TestApproved(t *testing.T) {
	p := &Proposal{YesVotes: 3, NoVotes: 0}
	if !Approved(p, 5) {
		t.Error("3 yes of 5 MNs (threshold 3) should be approved")
	}
	p2 := &Proposal{YesVotes: 2, NoVotes: 0}
	if Approved(p2, 5) {
		t.Error("2 yes of 5 MNs (threshold 3) should not be approved")
	}
	p3 := &Proposal{YesVotes: 2, NoVotes: 2}
	if Approved(p3, 3) {
		t.Error("yes must strictly exceed no")
	}
}

func TestStore_ListCycle_SortedByYesVotesDesc(t *testing.T) {
	s := NewStore(storage.NewMemory())
	a := newProposal("A", 50000, 0)
	b := newProposal("B", 30000, 0)
	c := newProposal("C", 200000, 0)
	s.Submit(a)
	s.Submit(b)
	s.Submit(c)

	// S4 scenario: A=3 yes, B=2 yes, C=2 yes.
	for i := byte(0); i < 3; i++ {
		s.CastVote(a.Hash, testOutpoint(i), VoteYes)
	}
	for i := byte(0); i < 2; i++ {
		s.CastVote(b.Hash, testOutpoint(i+10), VoteYes)
		s.CastVote(c.Hash, testOutpoint(i+20), VoteYes)
	}

	list, err := s.ListCycle(0, 3)
	if err != nil {
		t.Fatalf("ListCycle: %v", err)
	}
	if len(list) != 3 || list[0].Hash != a.Hash {
		t.Fatalf("expected A first by yes-votes desc, got %+v", list)
	}
}

func TestStore_MarkPaid(t *testing.T) {
	s := NewStore(storage.NewMemory())
	p := newProposal("A", 50000, 0)
	s.Submit(p)

	if err := s.MarkPaid(p.Hash); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	got, _ := s.Get(p.Hash)
	if !got.Paid {
		t.Error("proposal should be marked paid")
	}
}

func TestStore_ListApprovedUnpaid_DAOScenario(t *testing.T) {
	// S4: A=50k(3 yes), B=30k(2 yes), C=200k(2 yes), T=100k.
	// sorted desc by yes = (A, B, C); pay A (T=50k), pay B (T=20k), C unfunded.
	s := NewStore(storage.NewMemory())
	a := newProposal("A", 50000, 0)
	b := newProposal("B", 30000, 0)
	c := newProposal("C", 200000, 0)
	s.Submit(a)
	s.Submit(b)
	s.Submit(c)
	for i := byte(0); i < 3; i++ {
		s.CastVote(a.Hash, testOutpoint(i), VoteYes)
	}
	for i := byte(0); i < 2; i++ {
		s.CastVote(b.Hash, testOutpoint(i+10), VoteYes)
		s.CastVote(c.Hash, testOutpoint(i+20), VoteYes)
	}

	approved, err := s.ListApprovedUnpaid(0, 3)
	if err != nil {
		t.Fatalf("ListApprovedUnpaid: %v", err)
	}

	var treasury uint64 = 100000
	var paid []string
	for _, p := range approved {
		if p.Amount <= treasury {
			treasury -= p.Amount
			s.MarkPaid(p.Hash)
			paid = append(paid, p.Name)
		}
	}

	if treasury != 20000 {
		t.Errorf("final treasury = %d, want 20000", treasury)
	}
	if len(paid) != 2 || paid[0] != "A" || paid[1] != "B" {
		t.Errorf("paid = %v, want [A B]", paid)
	}
}

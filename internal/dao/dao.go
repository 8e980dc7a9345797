// Package dao implements the treasury-proposal engine: submission/study/vote
// windows and payout execution from the treasury (spec.md §4.H).
package dao

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Proposal is a treasury spending proposal, spec.md §3.
type Proposal struct {
	Hash         types.Hash   `json:"hash"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Amount       uint64       `json:"amount"`
	PayoutScript types.Script `json:"payout_script"`
	SubmitHeight uint64       `json:"submit_height"`
	CycleStart   uint64       `json:"cycle_start"`
	YesVotes     int          `json:"yes_votes"`
	NoVotes      int          `json:"no_votes"`
	Paid         bool         `json:"paid"`
}

// Vote is one masternode's vote on a proposal. Abstain counts against
// approval (it raises the bar but isn't a "no"), per spec.md §4.H.
type Vote int

const (
	VoteYes Vote = iota
	VoteNo
	VoteAbstain
)

const (
	// MinNameLen and MaxNameLen bound Proposal.Name.
	MinNameLen = 1
	MaxNameLen = 20
	// MaxDescriptionLen bounds Proposal.Description.
	MaxDescriptionLen = 200
)

var (
	prefixProposal = []byte("P/")  // P/<hash> -> Proposal JSON
	prefixVote     = []byte("V/")  // V/<hash><mnOutpoint> -> Vote (1 byte)
	prefixCycle    = []byte("C/")  // C/<cycleStart><hash> -> empty (cycle index)
)

// Store is the DAO proposal store, backed by a storage.DB scoped to the
// DAO namespace.
type Store struct {
	db storage.DB
}

// NewStore creates a DAO store backed by db.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func proposalKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixProposal)+types.HashSize)
	copy(key, prefixProposal)
	copy(key[len(prefixProposal):], hash[:])
	return key
}

func voteKey(proposalHash types.Hash, mn types.Outpoint) []byte {
	key := make([]byte, len(prefixVote)+types.HashSize+types.HashSize+4)
	off := copy(key, prefixVote)
	off += copy(key[off:], proposalHash[:])
	off += copy(key[off:], mn.TxID[:])
	binary.BigEndian.PutUint32(key[off:], mn.Index)
	return key
}

func cycleKey(cycleStart uint64, hash types.Hash) []byte {
	key := make([]byte, len(prefixCycle)+8+types.HashSize)
	off := copy(key, prefixCycle)
	binary.BigEndian.PutUint64(key[off:], cycleStart)
	copy(key[off+8:], hash[:])
	return key
}

func cyclePrefix(cycleStart uint64) []byte {
	key := make([]byte, len(prefixCycle)+8)
	off := copy(key, prefixCycle)
	binary.BigEndian.PutUint64(key[off:], cycleStart)
	return key
}

// ComputeHash returns SHA256(name || description || amount || script || cycleStart),
// the bit-exact formula of spec.md §4.H.
func ComputeHash(name, description string, amount uint64, script types.Script, cycleStart uint64) types.Hash {
	buf := make([]byte, 0, len(name)+len(description)+8+len(script.Data)+1+8)
	buf = append(buf, []byte(name)...)
	buf = append(buf, []byte(description)...)
	buf = binary.LittleEndian.AppendUint64(buf, amount)
	buf = append(buf, byte(script.Type))
	buf = append(buf, script.Data...)
	buf = binary.LittleEndian.AppendUint64(buf, cycleStart)
	return crypto.SHA256(buf)
}

var (
	ErrDuplicateProposal = fmt.Errorf("proposal already submitted")
	ErrProposalNotFound  = fmt.Errorf("proposal not found")
)

// Submit stores a new proposal. Caller is responsible for the validity
// checks of spec.md §4.H (name/description length, amount bounds, window).
func (s *Store) Submit(p *Proposal) error {
	if ok, _ := s.db.Has(proposalKey(p.Hash)); ok {
		return ErrDuplicateProposal
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if err := s.db.Put(proposalKey(p.Hash), data); err != nil {
		return fmt.Errorf("put proposal: %w", err)
	}
	return s.db.Put(cycleKey(p.CycleStart, p.Hash), []byte{})
}

// Get retrieves a proposal by hash.
func (s *Store) Get(hash types.Hash) (*Proposal, error) {
	data, err := s.db.Get(proposalKey(hash))
	if err != nil {
		return nil, ErrProposalNotFound
	}
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal proposal: %w", err)
	}
	return &p, nil
}

func (s *Store) put(p *Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	return s.db.Put(proposalKey(p.Hash), data)
}

// CastVote records mn's vote on the proposal. A new vote from the same MN
// overrides its previous one (spec.md §4.H); vote tallies are recomputed
// from the vote set so overriding never double-counts.
func (s *Store) CastVote(proposalHash types.Hash, mn types.Outpoint, vote Vote) error {
	p, err := s.Get(proposalHash)
	if err != nil {
		return err
	}

	prevByte, hadPrev, err := s.getVoteByte(proposalHash, mn)
	if err != nil {
		return err
	}
	if hadPrev {
		switch Vote(prevByte) {
		case VoteYes:
			p.YesVotes--
		case VoteNo:
			p.NoVotes--
		}
	}
	switch vote {
	case VoteYes:
		p.YesVotes++
	case VoteNo:
		p.NoVotes++
	}

	if err := s.db.Put(voteKey(proposalHash, mn), []byte{byte(vote)}); err != nil {
		return fmt.Errorf("put vote: %w", err)
	}
	return s.put(p)
}

func (s *Store) getVoteByte(proposalHash types.Hash, mn types.Outpoint) (byte, bool, error) {
	data, err := s.db.Get(voteKey(proposalHash, mn))
	if err != nil {
		return 0, false, nil
	}
	if len(data) != 1 {
		return 0, false, fmt.Errorf("corrupt vote record")
	}
	return data[0], true, nil
}

// Approved reports whether a proposal meets spec.md §4.H's bar:
// yesVotes > noVotes AND yesVotes >= floor(totalMNs/2)+1.
func Approved(p *Proposal, totalMNs int) bool {
	threshold := totalMNs/2 + 1
	return p.YesVotes > p.NoVotes && p.YesVotes >= threshold
}

// MarkPaid marks a proposal as paid.
func (s *Store) MarkPaid(hash types.Hash) error {
	p, err := s.Get(hash)
	if err != nil {
		return err
	}
	p.Paid = true
	return s.put(p)
}

// SetPaidState writes back a caller-held Proposal as-is. Used by the state
// engine's disconnect path to restore a pre-payout proposal (Paid=false)
// without re-deriving it through MarkPaid.
func (s *Store) SetPaidState(p *Proposal) error {
	return s.put(p)
}

// ListCycle returns every proposal submitted in cycleStart's cycle, sorted
// by yes-votes descending (ties broken by hash ascending for determinism),
// the order spec.md §4.H's payout step reads in.
func (s *Store) ListCycle(cycleStart uint64, totalMNs int) ([]*Proposal, error) {
	var hashes []types.Hash
	err := s.db.ForEach(cyclePrefix(cycleStart), func(key, _ []byte) error {
		off := len(cyclePrefix(cycleStart))
		if len(key) < off+types.HashSize {
			return nil
		}
		var h types.Hash
		copy(h[:], key[off:])
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cycle index: %w", err)
	}

	var proposals []*Proposal
	for _, h := range hashes {
		p, err := s.Get(h)
		if err != nil {
			continue
		}
		proposals = append(proposals, p)
	}

	sort.Slice(proposals, func(i, j int) bool {
		if proposals[i].YesVotes != proposals[j].YesVotes {
			return proposals[i].YesVotes > proposals[j].YesVotes
		}
		return proposals[i].Hash.Less(proposals[j].Hash)
	})
	_ = totalMNs
	return proposals, nil
}

// ListApprovedUnpaid returns, from ListCycle's order, only the proposals
// that are approved (per totalMNs) and not yet paid.
func (s *Store) ListApprovedUnpaid(cycleStart uint64, totalMNs int) ([]*Proposal, error) {
	all, err := s.ListCycle(cycleStart, totalMNs)
	if err != nil {
		return nil, err
	}
	var out []*Proposal
	for _, p := range all {
		if !p.Paid && Approved(p, totalMNs) {
			out = append(out, p)
		}
	}
	return out, nil
}

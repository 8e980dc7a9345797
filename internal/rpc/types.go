package rpc

import (
	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── hu.* params/results ─────────────────────────────────────────────────

// StateParam optionally selects a height; the zero value (Height == nil)
// means "the current tip".
type StateParam struct {
	Height *uint64 `json:"height,omitempty"`
}

// CommitmentParam is used by hu.commitment_at.
type CommitmentParam struct {
	Height uint64 `json:"height"`
}

// CommitmentResult is the §3 state commitment (its hash) at a height.
type CommitmentResult struct {
	Height uint64     `json:"height"`
	Hash   types.Hash `json:"hash"`
}

// ── dao.* params/results ────────────────────────────────────────────────

// DaoSubmitParam mirrors spec.md §6's dao.submit(name, addr, amount), with
// an optional description since internal/dao.Proposal carries one.
type DaoSubmitParam struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Amount      uint64 `json:"amount"`
	Address     string `json:"address"` // hex pubkey-hash address, payout script destination
}

// DaoSubmitResult echoes the stored proposal's identity.
type DaoSubmitResult struct {
	Hash       types.Hash `json:"hash"`
	CycleStart uint64     `json:"cycleStart"`
}

// DaoVoteParam mirrors spec.md §6's dao.vote(hash, yes|no); Vote is
// "yes"/"no"/"abstain". MnOutpoint defaults to this node's configured
// masternode when omitted.
type DaoVoteParam struct {
	ProposalHash types.Hash      `json:"proposalHash"`
	Vote         string          `json:"vote"`
	MnOutpoint   *types.Outpoint `json:"mnOutpoint,omitempty"`
}

// DaoVoteResult reports the proposal's tallies after the vote is recorded.
type DaoVoteResult struct {
	ProposalHash types.Hash `json:"proposalHash"`
	YesVotes     int        `json:"yesVotes"`
	NoVotes      int        `json:"noVotes"`
}

// DaoProposalView is a read-facing rendering of a Proposal plus its cycle
// progress, for an operator-visibility listing endpoint.
type DaoProposalView struct {
	*dao.Proposal
	Progress string `json:"progress"`
}

// ── domc.* params/results ───────────────────────────────────────────────

// DomcCommitParam mirrors spec.md §6's domc.commit(R). The server
// generates the blinding salt and returns it — the caller must retain it
// to later call domc.reveal with the same (R, salt) pair.
type DomcCommitParam struct {
	ProposedR  uint16          `json:"proposedR"`
	MnOutpoint *types.Outpoint `json:"mnOutpoint,omitempty"`
}

// DomcCommitResult is the recorded commit plus the salt the caller must
// hold onto for the matching reveal.
type DomcCommitResult struct {
	CycleID    uint32     `json:"cycleId"`
	CommitHash types.Hash `json:"commitHash"`
	Salt       [32]byte   `json:"salt"`
}

// DomcRevealParam mirrors spec.md §6's domc.reveal(R, salt).
type DomcRevealParam struct {
	ProposedR  uint16          `json:"proposedR"`
	Salt       [32]byte        `json:"salt"`
	MnOutpoint *types.Outpoint `json:"mnOutpoint,omitempty"`
}

// DomcRevealResult confirms a reveal was recorded.
type DomcRevealResult struct {
	CycleID  uint32 `json:"cycleId"`
	Accepted bool   `json:"accepted"`
}

// ── masternode.* params/results ─────────────────────────────────────────

// MasternodeInitParam mirrors spec.md §6's masternode.init(operator_privkey),
// generalized per SPEC_FULL §11 to derive the key from a BIP-39 mnemonic
// via BIP-32 rather than accepting raw key bytes only. Leaving Mnemonic
// empty generates a fresh one, returned once in the result.
type MasternodeInitParam struct {
	Mnemonic           string         `json:"mnemonic,omitempty"`
	Passphrase         string         `json:"passphrase,omitempty"`
	ProTxHash          types.Hash     `json:"proTxHash"`
	CollateralOutpoint types.Outpoint `json:"collateralOutpoint"`
	ServiceAddr        string         `json:"serviceAddr"`
	PayoutAddress      string         `json:"payoutAddress"`
}

// MasternodeInitResult returns the derived identity. Mnemonic is only
// populated when the server generated a fresh one.
type MasternodeInitResult struct {
	Mnemonic       string     `json:"mnemonic,omitempty"`
	OperatorPubKey []byte     `json:"operatorPubKey"`
	ProTxHash      types.Hash `json:"proTxHash"`
}

// MasternodeListParam filters masternode.list's results.
type MasternodeListParam struct {
	Filter string `json:"filter,omitempty"` // "", "all", "eligible", "banned"
}

// MasternodeView renders a registry record plus operator-facing PoSe and
// payout-ledger detail not itself part of consensus state.
type MasternodeView struct {
	*masternode.Record
	PoSeScore      uint64 `json:"poSeScore"`
	Online         bool   `json:"online"`
	LastPaidHeight uint64 `json:"lastPaidHeight"`
	EverPaid       bool   `json:"everPaid"`
}

// MasternodeListResult is the listing payload.
type MasternodeListResult struct {
	Masternodes []MasternodeView `json:"masternodes"`
}

// MasternodeStatusParam looks up a single masternode; ProTxHash defaults
// to this node's configured masternode when omitted.
type MasternodeStatusParam struct {
	ProTxHash *types.Hash `json:"proTxHash,omitempty"`
}

// MasternodeStatusResult is the single-record form of MasternodeView.
type MasternodeStatusResult struct {
	Masternode MasternodeView `json:"masternode"`
}

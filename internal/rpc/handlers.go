package rpc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/domc"
	"github.com/piv2-project/khu-consensus/internal/khu"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// ── hu.* ─────────────────────────────────────────────────────────────────

func (s *Server) handleHuState(req *Request) (interface{}, *Error) {
	var params StateParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	height := s.chain.Height()
	if params.Height != nil {
		height = *params.Height
	}
	state, err := s.states.Get(height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no state at height %d: %v", height, err)}
	}
	return state, nil
}

func (s *Server) handleHuCommitmentAt(req *Request) (interface{}, *Error) {
	var params CommitmentParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	state, err := s.states.Get(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("no state at height %d: %v", params.Height, err)}
	}
	return &CommitmentResult{Height: params.Height, Hash: state.Hash()}, nil
}

// ── dao.* ────────────────────────────────────────────────────────────────

func scriptForAddress(addrHex string) (types.Script, error) {
	raw, err := hex.DecodeString(addrHex)
	if err != nil {
		return types.Script{}, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != types.AddressSize {
		return types.Script{}, fmt.Errorf("address must be %d bytes, got %d", types.AddressSize, len(raw))
	}
	return types.Script{Type: types.ScriptTypeP2PKH, Data: raw}, nil
}

func (s *Server) handleDaoSubmit(req *Request) (interface{}, *Error) {
	var params DaoSubmitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if len(params.Name) < dao.MinNameLen || len(params.Name) > dao.MaxNameLen {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("name must be %d-%d chars", dao.MinNameLen, dao.MaxNameLen)}
	}
	if len(params.Description) > dao.MaxDescriptionLen {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("description exceeds %d chars", dao.MaxDescriptionLen)}
	}
	rules := s.genesis.Protocol.DAO
	if params.Amount < rules.MinAmount || params.Amount > rules.MaxAmount {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("amount must be between %d and %d", rules.MinAmount, rules.MaxAmount)}
	}
	script, err := scriptForAddress(params.Address)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	height := s.chain.Height()
	cycleStart := dao.CycleStart(height, rules.CycleLength)
	hash := dao.ComputeHash(params.Name, params.Description, params.Amount, script, cycleStart)

	p := &dao.Proposal{
		Hash:         hash,
		Name:         params.Name,
		Description:  params.Description,
		Amount:       params.Amount,
		PayoutScript: script,
		SubmitHeight: height,
		CycleStart:   cycleStart,
	}
	if err := s.daoStore.Submit(p); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}
	return &DaoSubmitResult{Hash: hash, CycleStart: cycleStart}, nil
}

// localOutpoint returns this node's own masternode collateral outpoint,
// used as the default voter/committer identity for dao.vote/domc.commit/
// domc.reveal when the caller doesn't supply one explicitly.
func (s *Server) localOutpoint() (types.Outpoint, *Error) {
	if s.localProTxHash.IsZero() {
		return types.Outpoint{}, &Error{Code: CodeInvalidRequest, Message: "no masternode configured on this node"}
	}
	rec, ok, err := s.registry.Get(s.localProTxHash)
	if err != nil || !ok {
		return types.Outpoint{}, &Error{Code: CodeInternalError, Message: "local masternode record not found"}
	}
	return rec.CollateralOutpoint, nil
}

func (s *Server) resolveOutpoint(override *types.Outpoint) (types.Outpoint, *crypto.PrivateKey, *Error) {
	if override == nil {
		op, err := s.localOutpoint()
		if err != nil {
			return types.Outpoint{}, nil, err
		}
		return op, s.localKey, nil
	}
	local, lerr := s.localOutpoint()
	if lerr == nil && local == *override {
		return *override, s.localKey, nil
	}
	// Acting on behalf of a masternode whose key this node doesn't hold;
	// the resulting record carries no signature.
	return *override, nil, nil
}

func parseVote(v string) (dao.Vote, *Error) {
	switch v {
	case "yes":
		return dao.VoteYes, nil
	case "no":
		return dao.VoteNo, nil
	case "abstain":
		return dao.VoteAbstain, nil
	default:
		return 0, &Error{Code: CodeInvalidParams, Message: `vote must be "yes", "no", or "abstain"`}
	}
}

func (s *Server) handleDaoVote(req *Request) (interface{}, *Error) {
	var params DaoVoteParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	vote, verr := parseVote(params.Vote)
	if verr != nil {
		return nil, verr
	}
	mn, _, oerr := s.resolveOutpoint(params.MnOutpoint)
	if oerr != nil {
		return nil, oerr
	}
	if err := s.daoStore.CastVote(params.ProposalHash, mn, vote); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}
	p, err := s.daoStore.Get(params.ProposalHash)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &DaoVoteResult{ProposalHash: p.Hash, YesVotes: p.YesVotes, NoVotes: p.NoVotes}, nil
}

// ── domc.* ───────────────────────────────────────────────────────────────

func (s *Server) currentCycleID() (uint32, error) {
	state, err := s.states.Get(s.chain.Height())
	if err != nil {
		return 0, err
	}
	return khu.DomcCycleID(state, s.genesis.Protocol.DOMC), nil
}

func (s *Server) handleDomcCommit(req *Request) (interface{}, *Error) {
	var params DomcCommitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	mn, key, oerr := s.resolveOutpoint(params.MnOutpoint)
	if oerr != nil {
		return nil, oerr
	}
	cycleID, err := s.currentCycleID()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("generate salt: %v", err)}
	}
	commitHash := domc.CommitHash(params.ProposedR, salt)

	var sig []byte
	if key != nil {
		sig, err = key.Sign(commitHash[:])
		if err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("sign commit: %v", err)}
		}
	}

	c := &domc.Commit{
		MnOutpoint:     mn,
		CycleID:        cycleID,
		CommitHash:     commitHash,
		HeightRecorded: s.chain.Height(),
		Signature:      sig,
	}
	if err := s.domc.WriteCommit(c); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}
	return &DomcCommitResult{CycleID: cycleID, CommitHash: commitHash, Salt: salt}, nil
}

func (s *Server) handleDomcReveal(req *Request) (interface{}, *Error) {
	var params DomcRevealParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	mn, key, oerr := s.resolveOutpoint(params.MnOutpoint)
	if oerr != nil {
		return nil, oerr
	}
	cycleID, err := s.currentCycleID()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	state, err := s.states.Get(s.chain.Height())
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if err := s.domc.ValidateReveal(mn, cycleID, params.ProposedR, params.Salt, state.RMaxDynamic); err != nil {
		return nil, &Error{Code: CodeInvalidRequest, Message: err.Error()}
	}

	var sig []byte
	if key != nil {
		bound := domc.CommitHash(params.ProposedR, params.Salt)
		sig, err = key.Sign(bound[:])
		if err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("sign reveal: %v", err)}
		}
	}

	r := &domc.Reveal{
		MnOutpoint:     mn,
		CycleID:        cycleID,
		ProposedR:      params.ProposedR,
		Salt:           params.Salt,
		HeightRecorded: s.chain.Height(),
		Signature:      sig,
	}
	if err := s.domc.WriteReveal(r); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &DomcRevealResult{CycleID: cycleID, Accepted: true}, nil
}

// ── masternode.* ─────────────────────────────────────────────────────────

func (s *Server) handleMasternodeInit(req *Request) (interface{}, *Error) {
	var params MasternodeInitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	mnemonic := params.Mnemonic
	generated := false
	if mnemonic == "" {
		m, err := masternode.GenerateMnemonic()
		if err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("generate mnemonic: %v", err)}
		}
		mnemonic = m
		generated = true
	} else if !masternode.ValidateMnemonic(mnemonic) {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid mnemonic"}
	}

	key, err := masternode.OperatorKeyFromMnemonic(mnemonic, params.Passphrase)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("derive operator key: %v", err)}
	}

	script, serr := scriptForAddress(params.PayoutAddress)
	if serr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: serr.Error()}
	}

	rec := &masternode.Record{
		ProTxHash:          params.ProTxHash,
		OperatorPubKey:     key.PublicKey(),
		CollateralOutpoint: params.CollateralOutpoint,
		ServiceAddr:        params.ServiceAddr,
		PayoutScript:       script,
	}
	if err := s.registry.Put(rec); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("register masternode: %v", err)}
	}

	if err := s.persistOperatorKey(params.ProTxHash, key); err != nil {
		s.logger.Warn().Err(err).Msg("operator key not persisted to keystore")
	}
	s.SetLocalMasternode(params.ProTxHash, key)

	result := &MasternodeInitResult{OperatorPubKey: key.PublicKey(), ProTxHash: params.ProTxHash}
	if generated {
		result.Mnemonic = mnemonic
	}
	return result, nil
}

func (s *Server) handleMasternodeList(req *Request) (interface{}, *Error) {
	var params MasternodeListParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	recs, err := s.registry.List()
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}

	out := make([]MasternodeView, 0, len(recs))
	for _, rec := range recs {
		switch params.Filter {
		case "eligible":
			if !rec.Eligible() {
				continue
			}
		case "banned":
			if !rec.PoSeBanned {
				continue
			}
		}
		out = append(out, s.viewFor(rec))
	}
	return &MasternodeListResult{Masternodes: out}, nil
}

func (s *Server) handleMasternodeStatus(req *Request) (interface{}, *Error) {
	var params MasternodeStatusParam
	if req.Params != nil {
		if err := parseParams(req, &params); err != nil {
			return nil, err
		}
	}
	proTxHash := s.localProTxHash
	if params.ProTxHash != nil {
		proTxHash = *params.ProTxHash
	}
	if proTxHash.IsZero() {
		return nil, &Error{Code: CodeInvalidRequest, Message: "no proTxHash given and no masternode configured on this node"}
	}
	rec, ok, err := s.registry.Get(proTxHash)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: "masternode not found"}
	}
	return &MasternodeStatusResult{Masternode: s.viewFor(rec)}, nil
}

func (s *Server) viewFor(rec *masternode.Record) MasternodeView {
	var score uint64
	var online bool
	if st := s.tracker.Stats(rec.ProTxHash); st != nil {
		score = st.Score
	}
	online = s.tracker.IsOnline(rec.ProTxHash, defaultOnlineWindow)
	lastPaid, everPaid, _ := s.payouts.LastPaidHeight(rec.ProTxHash)
	return MasternodeView{
		Record:         rec,
		PoSeScore:      score,
		Online:         online,
		LastPaidHeight: lastPaid,
		EverPaid:       everPaid,
	}
}

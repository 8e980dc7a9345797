package dao

import "github.com/piv2-project/khu-consensus/config"

// CycleProgress reports which window of the submit/study/vote/payout cycle
// a height falls in, for operator visibility (the dao RPC facade) only —
// the engine itself treats the study window as a pure no-op, per the
// original dao_proposal.cpp, and never branches on this value.
type CycleProgress int

const (
	ProgressSubmit CycleProgress = iota
	ProgressStudy
	ProgressVote
	ProgressPayoutPending
)

// String returns a human-readable name for the progress phase.
func (p CycleProgress) String() string {
	switch p {
	case ProgressSubmit:
		return "submit"
	case ProgressStudy:
		return "study"
	case ProgressVote:
		return "vote"
	case ProgressPayoutPending:
		return "payout_pending"
	default:
		return "unknown"
	}
}

// CycleStart returns the start height of the DAO cycle containing height,
// the same (height/cycleLength)*cycleLength formula the state engine uses.
func CycleStart(height, cycleLength uint64) uint64 {
	if cycleLength == 0 {
		return 0
	}
	return (height / cycleLength) * cycleLength
}

// Progress reports the cycle phase at height and the start of that cycle.
func Progress(height uint64, rules config.DAORules) (CycleProgress, uint64) {
	start := CycleStart(height, rules.CycleLength)
	offset := height - start

	switch {
	case offset < rules.SubmitWindow:
		return ProgressSubmit, start
	case offset < rules.SubmitWindow+rules.StudyWindow:
		return ProgressStudy, start
	case offset < rules.SubmitWindow+rules.StudyWindow+rules.VoteWindow:
		return ProgressVote, start
	default:
		return ProgressPayoutPending, start
	}
}

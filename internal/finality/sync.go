package finality

import "time"

// IsSynced implements spec.md §4.D's bootstrap/cold-start synced-state
// rule. Below bootstrapThreshold, a node is always considered synced (no
// masternode quorum exists yet to finalize anything). Past that, a node is
// synced if a finalized block arrived within recentWindow, OR if it has
// been running longer than coldStartTimeout — the second clause breaks a
// global deadlock after network-wide downtime, where no node would
// otherwise see a recent enough finalization to consider itself synced.
func IsSynced(height, bootstrapThreshold uint64, sinceLastFinalized, uptime, coldStartTimeout, recentWindow time.Duration) bool {
	if height < bootstrapThreshold {
		return true
	}
	if sinceLastFinalized <= recentWindow {
		return true
	}
	return uptime >= coldStartTimeout
}

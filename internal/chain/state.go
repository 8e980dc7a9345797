package chain

import "github.com/piv2-project/khu-consensus/pkg/types"

// State holds the current chain tip state. There is no cumulative
// difficulty here — fork choice in this domain is the finality rule
// (spec.md §4.D/§4.J), not chain weight.
type State struct {
	Height       uint64
	TipHash      types.Hash
	TipTimestamp uint64
}

// IsGenesis returns true if no blocks have been processed yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// Denomination constants. 1 coin = 10^8 base units. All on-chain values are
// in base units.
const (
	Decimals = 8
	Coin     = 100_000_000
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize  = 2_000_000 // 2 MB max block size (header + all tx signing bytes)
	MaxBlockTxs   = 500       // Max transactions per block
	MaxTxInputs   = 2500      // Max inputs per transaction
	MaxTxOutputs  = 2500      // Max outputs per transaction
	MaxScriptData = 65_536    // 64 KB max script data per output
)

// Basis-point denominator used throughout the yield/governance formulas.
const BasisPoints = 10_000

// Genesis holds the genesis configuration and protocol rules. Immutable
// after chain launch — changes require a hard fork.
type Genesis struct {
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	Protocol ProtocolConfig `json:"protocol"`

	// Masternodes seeds the masternode registry directly at genesis,
	// bypassing the normal confirmation rules (spec.md §3/§4.J step 3).
	// Populated for test/regtest-style networks that need an eligible
	// set from block 0; empty for a mainnet launch that relies entirely
	// on provider-registration transactions observed after genesis.
	Masternodes []MasternodeSeed `json:"masternodes,omitempty"`
}

// MasternodeSeed is a masternode record pre-registered at genesis. Field
// types mirror internal/masternode.Record but are defined here, not
// imported from it, so config has no dependency on the masternode package.
type MasternodeSeed struct {
	ProTxHash          types.Hash     `json:"pro_tx_hash"`
	OperatorPubKey     []byte         `json:"operator_pub_key"`
	CollateralOutpoint types.Outpoint `json:"collateral_outpoint"`
	ServiceAddr        string         `json:"service_addr"`
	PayoutScript       types.Script   `json:"payout_script"`
}

// ProtocolConfig holds every consensus-critical rule. All nodes MUST agree
// on these values.
type ProtocolConfig struct {
	DMM      DMMRules      `json:"dmm"`
	Finality FinalityRules `json:"finality"`
	KHU      KHURules      `json:"khu"`
	DOMC     DOMCRules     `json:"domc"`
	DAO      DAORules      `json:"dao"`
}

// DMMRules governs deterministic masternode block production.
type DMMRules struct {
	BlockTime         int    `json:"block_time"`          // target seconds between blocks
	CollateralAmount  uint64 `json:"collateral_amount"`   // base units locked to register a masternode
	LeaderTimeout     int    `json:"leader_timeout"`      // seconds rank 0 has before fallback ranks become eligible
	RankFallbackDelay int    `json:"rank_fallback_delay"` // seconds per subsequent fallback rank step
	BootstrapHeight   uint64 `json:"bootstrap_height"`    // blocks whose predecessor height is below this skip producer-signature checks
}

// FinalityRules governs cycle-based quorum selection and signature thresholds.
type FinalityRules struct {
	RotationLength     uint64  `json:"rotation_length"`      // blocks per quorum cycle
	QuorumSize         int     `json:"quorum_size"`          // members selected per cycle
	Threshold          float64 `json:"threshold"`            // fraction of quorum signatures required, e.g. 2.0/3.0
	BootstrapThreshold uint64  `json:"bootstrap_threshold"`  // heights below this are auto-synced
	ColdStartTimeout   int     `json:"cold_start_timeout"`   // seconds node may run unsynced before self-declaring synced
	RecentWindow       int     `json:"recent_finality_window"` // seconds; a finalized block inside this window implies synced
	MaxReorgDepth      uint64  `json:"max_reorg_depth"`      // disconnect refuses a reorg deeper than this from the current tip
}

// KHURules governs the colored-overlay state engine and staking notes.
type KHURules struct {
	MaturityBlocks     uint64 `json:"maturity_blocks"`     // blocks before a locked note may unlock
	BlocksPerDay       uint64 `json:"blocks_per_day"`      // yield-step cadence
	BlocksPerYear      uint64 `json:"blocks_per_year"`     // decay-step cadence
	V6ActivationHeight uint64 `json:"v6_activation_height"`
	TDivisor           uint64 `json:"t_divisor"`           // treasury-accumulation divisor
	RAnnualInitial     uint16 `json:"r_annual_initial"`    // initial yield rate, basis points
	RMaxInitial        uint16 `json:"r_max_initial"`       // R_MAX_dynamic at V6 activation, basis points
	RFloor             uint16 `json:"r_floor"`             // R_MAX_dynamic never decays below this
	DecayPerYear        uint16 `json:"decay_per_year"`     // basis points subtracted from R_MAX_dynamic per elapsed year
	RMaxDynamic         uint16 `json:"r_max_dynamic"`      // clamp ceiling for R_annual at genesis (== RMaxInitial)
	MinLockAmount       uint64 `json:"min_lock_amount"`    // minimum amount a lock transaction may stake
	TreasuryInitial     uint64 `json:"treasury_initial"`   // T at genesis, base units
}

// DOMCRules governs the commit-reveal yield-rate governance cycle.
type DOMCRules struct {
	CycleLength      uint64 `json:"cycle_length"`       // blocks per DOMC cycle
	CommitPhaseStart uint64 `json:"commit_phase_start"` // offset from cycle start
	RevealPhaseStart uint64 `json:"reveal_phase_start"` // offset from cycle start
	RevealInstant    uint64 `json:"reveal_instant"`     // offset from cycle start
	MinParticipation int    `json:"min_participation"`  // minimum reveal count for a non-no-op activation
}

// DAORules governs the treasury proposal/payout cycle.
type DAORules struct {
	CycleLength  uint64 `json:"cycle_length"`  // blocks per DAO cycle
	SubmitWindow uint64 `json:"submit_window"`
	StudyWindow  uint64 `json:"study_window"`
	VoteWindow   uint64 `json:"vote_window"`
	MinAmount    uint64 `json:"min_amount"`
	MaxAmount    uint64 `json:"max_amount"`
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "khu-mainnet-1",
		ChainName: "KHU Consensus Mainnet",
		Timestamp: 1770734103,
		ExtraData: "KHU genesis",
		Protocol: ProtocolConfig{
			DMM: DMMRules{
				BlockTime:         60,
				CollateralAmount:  10_000 * Coin,
				LeaderTimeout:     75,
				RankFallbackDelay: 15,
				BootstrapHeight:   100,
			},
			Finality: FinalityRules{
				RotationLength:     720,
				QuorumSize:         5,
				Threshold:          2.0 / 3.0,
				BootstrapThreshold: 100,
				ColdStartTimeout:   3600,
				RecentWindow:       600,
				MaxReorgDepth:      100,
			},
			KHU: KHURules{
				MaturityBlocks:     43200,
				BlocksPerDay:       1440,
				BlocksPerYear:      525_600,
				V6ActivationHeight: 0,
				TDivisor:           1,
				RAnnualInitial:     600,
				RMaxInitial:        2000,
				RFloor:             200,
				DecayPerYear:       100,
				RMaxDynamic:        2000,
				MinLockAmount:      10 * Coin,
				TreasuryInitial:    0,
			},
			DOMC: DOMCRules{
				CycleLength:      4320,
				CommitPhaseStart: 0,
				RevealPhaseStart: 2160,
				RevealInstant:    4000,
				MinParticipation: 1,
			},
			DAO: DAORules{
				CycleLength:  4320,
				SubmitWindow: 1440,
				StudyWindow:  1440,
				VoteWindow:   1439,
				MinAmount:    10 * Coin,
				MaxAmount:    1_000_000 * Coin,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration: same shape,
// much shorter cycles so the full DMM/DOMC/DAO cadence is observable
// within a few minutes of regtest-style block production.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "khu-testnet-1"
	g.ChainName = "KHU Consensus Testnet"
	g.ExtraData = "KHU testnet genesis"

	g.Protocol.DMM.BlockTime = 5
	g.Protocol.DMM.CollateralAmount = 100 * Coin
	g.Protocol.DMM.LeaderTimeout = 6
	g.Protocol.DMM.RankFallbackDelay = 2
	g.Protocol.DMM.BootstrapHeight = 10

	g.Protocol.Finality.RotationLength = 20
	g.Protocol.Finality.QuorumSize = 3
	g.Protocol.Finality.BootstrapThreshold = 10
	g.Protocol.Finality.ColdStartTimeout = 120
	g.Protocol.Finality.RecentWindow = 60
	g.Protocol.Finality.MaxReorgDepth = 20

	g.Protocol.KHU.MaturityBlocks = 10
	g.Protocol.KHU.BlocksPerDay = 10
	g.Protocol.KHU.BlocksPerYear = 3650
	g.Protocol.KHU.RAnnualInitial = 4000
	g.Protocol.KHU.MinLockAmount = Coin

	g.Protocol.DOMC.CycleLength = 30
	g.Protocol.DOMC.CommitPhaseStart = 0
	g.Protocol.DOMC.RevealPhaseStart = 15
	g.Protocol.DOMC.RevealInstant = 29
	g.Protocol.DOMC.MinParticipation = 1

	g.Protocol.DAO.CycleLength = 30
	g.Protocol.DAO.SubmitWindow = 10
	g.Protocol.DAO.StudyWindow = 10
	g.Protocol.DAO.VoteWindow = 9
	g.Protocol.DAO.MinAmount = Coin
	g.Protocol.DAO.MaxAmount = 1_000_000 * Coin

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	if network == Testnet {
		return TestnetGenesis()
	}
	return MainnetGenesis()
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}
	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that the genesis configuration is internally consistent:
// required fields, positive timing and cadence parameters, DOMC phase
// order, and DAO window and amount bounds. It does not check that the DMM
// rotation length, DOMC cycle length, and DAO cycle length divide one
// another.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.DMM.BlockTime <= 0 {
		return fmt.Errorf("dmm.block_time must be positive")
	}
	if g.Protocol.DMM.LeaderTimeout <= 0 {
		return fmt.Errorf("dmm.leader_timeout must be positive")
	}
	if g.Protocol.DMM.RankFallbackDelay <= 0 {
		return fmt.Errorf("dmm.rank_fallback_delay must be positive")
	}
	if g.Protocol.Finality.QuorumSize <= 0 {
		return fmt.Errorf("finality.quorum_size must be positive")
	}
	if g.Protocol.Finality.Threshold <= 0 || g.Protocol.Finality.Threshold > 1 {
		return fmt.Errorf("finality.threshold must be in (0, 1]")
	}
	if g.Protocol.Finality.MaxReorgDepth == 0 {
		return fmt.Errorf("finality.max_reorg_depth must be positive")
	}
	if g.Protocol.KHU.BlocksPerDay == 0 {
		return fmt.Errorf("khu.blocks_per_day must be positive")
	}
	if g.Protocol.KHU.TDivisor == 0 {
		return fmt.Errorf("khu.t_divisor must be positive")
	}
	if g.Protocol.KHU.BlocksPerYear == 0 {
		return fmt.Errorf("khu.blocks_per_year must be positive")
	}
	if g.Protocol.KHU.MinLockAmount == 0 {
		return fmt.Errorf("khu.min_lock_amount must be positive")
	}
	if g.Protocol.KHU.RMaxDynamic == 0 || g.Protocol.KHU.RMaxDynamic > math.MaxUint16 {
		return fmt.Errorf("khu.r_max_dynamic must be in (0, %d]", math.MaxUint16)
	}
	if g.Protocol.DOMC.RevealPhaseStart <= g.Protocol.DOMC.CommitPhaseStart {
		return fmt.Errorf("domc.reveal_phase_start must be after commit_phase_start")
	}
	if g.Protocol.DOMC.RevealInstant >= g.Protocol.DOMC.CycleLength {
		return fmt.Errorf("domc.reveal_instant must fall within the cycle")
	}
	if g.Protocol.DAO.SubmitWindow+g.Protocol.DAO.StudyWindow+g.Protocol.DAO.VoteWindow > g.Protocol.DAO.CycleLength {
		return fmt.Errorf("dao windows exceed dao.cycle_length")
	}
	if g.Protocol.DAO.MinAmount == 0 || g.Protocol.DAO.MinAmount > g.Protocol.DAO.MaxAmount {
		return fmt.Errorf("dao amount bounds invalid")
	}
	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}

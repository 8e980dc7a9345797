// Package chain implements the block connect/disconnect driver, spec.md
// §4.J. It orchestrates per-block consensus checks (internal/consensus) and
// the KHU state transition (internal/khu.Engine) — it does not itself
// track a base-coin UTXO set or evaluate general transaction scripts,
// both of which belong to the underlying chain this core overlays.
package chain

import (
	"fmt"
	"sync"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/finality"
	"github.com/piv2-project/khu-consensus/internal/khu"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// Chain drives block connect/disconnect against the KHU state machine. mu
// is the cs_main-equivalent lock of spec.md §5: a single process-wide
// mutex serializing every connect/disconnect, with cs_khu (internal to
// khu.Engine's component stores) nested beneath it.
type Chain struct {
	mu sync.Mutex

	gen      *config.Genesis
	blocks   *BlockStore
	registry *masternode.Registry
	engine   *khu.Engine
	finality *finality.Store
	signaler *finality.Signaler // nil if this node holds no masternode key

	state       State
	genesisHash types.Hash
}

// New wires a Chain to its component stores and recovers tip state from
// the block store. Call InitFromGenesis on a fresh store before connecting
// any blocks.
func New(gen *config.Genesis, db storage.DB, registry *masternode.Registry, engine *khu.Engine, finalityStore *finality.Store) (*Chain, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if db == nil {
		return nil, fmt.Errorf("storage db is nil")
	}

	blocks := NewBlockStore(db)
	tipHash, height, err := blocks.GetTip()
	if err != nil {
		return nil, fmt.Errorf("recover tip: %w", err)
	}

	var genesisHash types.Hash
	if genBlk, err := blocks.GetBlockByHeight(0); err == nil {
		genesisHash = genBlk.Hash()
	}

	var tipTimestamp uint64
	if !tipHash.IsZero() {
		if tipBlk, err := blocks.GetBlock(tipHash); err == nil {
			tipTimestamp = tipBlk.Header.Timestamp
		}
	}

	return &Chain{
		gen:         gen,
		blocks:      blocks,
		registry:    registry,
		engine:      engine,
		finality:    finalityStore,
		state:       State{Height: height, TipHash: tipHash, TipTimestamp: tipTimestamp},
		genesisHash: genesisHash,
	}, nil
}

// SetSignaler attaches the finality signaler used to sign and broadcast
// this node's vote when it sits in the active quorum (spec.md §4.J connect
// step 7). A node with no masternode key never calls this and SignalBlock
// is simply skipped.
func (c *Chain) SetSignaler(s *finality.Signaler) {
	c.signaler = s
}

// State returns a copy of the current chain tip state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Height returns the current chain height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Height
}

// TipHash returns the hash of the current chain tip.
func (c *Chain) TipHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.TipHash
}

// GenesisHash returns the hash of block 0.
func (c *Chain) GenesisHash() types.Hash {
	return c.genesisHash
}

// GetBlock retrieves a block by its hash.
func (c *Chain) GetBlock(hash types.Hash) (*block.Block, error) {
	return c.blocks.GetBlock(hash)
}

// GetBlockByHeight retrieves a block by its height.
func (c *Chain) GetBlockByHeight(height uint64) (*block.Block, error) {
	return c.blocks.GetBlockByHeight(height)
}

// GetTransaction looks up a confirmed transaction by hash via the tx index.
func (c *Chain) GetTransaction(hash types.Hash) (*tx.Transaction, error) {
	_, blockHash, err := c.blocks.GetTxLocation(hash)
	if err != nil {
		return nil, err
	}
	blk, err := c.blocks.GetBlock(blockHash)
	if err != nil {
		return nil, fmt.Errorf("load block for tx: %w", err)
	}
	for _, t := range blk.Transactions {
		if t.Hash() == hash {
			return t, nil
		}
	}
	return nil, fmt.Errorf("tx %s not found in block %s (index corrupt)", hash, blockHash)
}

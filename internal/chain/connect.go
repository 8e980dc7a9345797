package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/consensus"
	"github.com/piv2-project/khu-consensus/pkg/block"
)

var (
	ErrNotCurrentTip = errors.New("chain: block does not extend the current tip")
	ErrBadHeight     = errors.New("chain: block height does not follow the tip")
	ErrStateCorrupt  = errors.New("chain: loaded KHU state fails its own invariants")
)

// ConnectBlock validates and applies blk on top of the current tip,
// following spec.md §4.J's seven connect steps. blk must extend the
// current tip directly; branch/reorg handling lives in reorg.go.
func (c *Chain) ConnectBlock(ctx context.Context, blk *block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx, blk)
}

func (c *Chain) connectLocked(ctx context.Context, blk *block.Block) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("block structure: %w", err)
	}
	if blk.Header.PrevHash != c.state.TipHash {
		return ErrNotCurrentTip
	}
	if blk.Header.Height != c.state.Height+1 {
		return ErrBadHeight
	}

	// Step 1/2: MN-only consensus, with the bootstrap exception and the
	// empty-eligible-set waiver, both handled inside VerifyBlockSignature.
	records, err := c.registry.ListAt(c.state.Height)
	if err != nil {
		return fmt.Errorf("list producer set: %w", err)
	}
	if err := consensus.VerifyBlockSignature(blk.Header, c.state.TipHash, c.state.Height, c.gen.Protocol.DMM.BootstrapHeight, records); err != nil {
		return fmt.Errorf("producer signature: %w", err)
	}

	// Step 3: load S_{n-1}; genesis's S_0 was already synthesized by
	// InitFromGenesis, so any height > 0 must already have a predecessor
	// state on disk.
	prev, err := c.engine.States.Get(c.state.Height)
	if err != nil {
		return fmt.Errorf("load predecessor state at height %d: %w", c.state.Height, err)
	}

	// Step 4: corruption guard.
	if err := prev.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	// Step 5/6: apply spec.md §4.E canonical order and persist S_n. The
	// engine writes S_n to the state store itself.
	next, undo, err := c.engine.ConnectBlock(prev, blk)
	if err != nil {
		return fmt.Errorf("apply block: %w", err)
	}
	if err := next.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}

	blkHash := blk.Hash()
	undoData, err := json.Marshal(undo)
	if err != nil {
		return fmt.Errorf("marshal block undo: %w", err)
	}
	if err := c.blocks.PutUndo(blkHash, undoData); err != nil {
		return fmt.Errorf("store undo: %w", err)
	}
	if err := c.blocks.PutBlock(blk); err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	if err := c.registry.SnapshotAt(blk.Header.Height); err != nil {
		return fmt.Errorf("snapshot masternode registry: %w", err)
	}
	if err := c.blocks.SetTip(blkHash, blk.Header.Height); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}

	c.state = State{Height: blk.Header.Height, TipHash: blkHash, TipTimestamp: blk.Header.Timestamp}

	// Step 7: if this node is in the active quorum for n, sign and
	// broadcast a finality signature. The signaler itself no-ops for a
	// node with no masternode key or one outside the current quorum; the
	// caller is responsible for swapping in a fresh signaler at each
	// finality cycle boundary (spec.md §4.D), since quorum membership is
	// fixed per cycle, not per block.
	if c.signaler != nil {
		if err := c.signaler.SignalBlock(ctx, blkHash); err != nil {
			return fmt.Errorf("signal finality: %w", err)
		}
	}

	return nil
}

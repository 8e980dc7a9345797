package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/piv2-project/khu-consensus/internal/khu"
	"github.com/piv2-project/khu-consensus/pkg/block"
)

var (
	// ErrReorgRefusedFinalized is returned when the fork point is at or
	// behind a finalized block, spec.md §4.J disconnect step 1.
	ErrReorgRefusedFinalized = errors.New("chain: reorg refused, fork point is at or behind a finalized block")
	// ErrReorgTooDeep is returned when the fork point is deeper than
	// max_reorg_depth below the current tip, spec.md §4.J disconnect step 2.
	ErrReorgTooDeep = errors.New("chain: reorg refused, fork point exceeds max_reorg_depth")
)

// DisconnectTip reverses the current tip block, following spec.md §4.J's
// four disconnect steps. It refuses the disconnect (leaving state
// untouched) if the tip height is at or behind the latest finalized block.
func (c *Chain) DisconnectTip() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectTipLocked()
}

func (c *Chain) disconnectTipLocked() error {
	if c.state.Height == 0 {
		return fmt.Errorf("chain: cannot disconnect the genesis block")
	}
	n := c.state.Height

	// Step 1: refuse if n <= latest_finalized_height.
	refused, err := c.finality.RefusesReorg(n)
	if err != nil {
		return fmt.Errorf("check finality refusal: %w", err)
	}
	if refused {
		return ErrReorgRefusedFinalized
	}

	blk, err := c.blocks.GetBlock(c.state.TipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	undoData, err := c.blocks.GetUndo(c.state.TipHash)
	if err != nil {
		return fmt.Errorf("load undo data: %w", err)
	}
	var undo khu.BlockUndo
	if err := json.Unmarshal(undoData, &undo); err != nil {
		return fmt.Errorf("unmarshal undo data: %w", err)
	}

	state, err := c.engine.States.Get(n)
	if err != nil {
		return fmt.Errorf("load state at height %d: %w", n, err)
	}

	// Step 3: undo §4.E in reverse order (DAO payouts, transactions, yield,
	// treasury, reveal, cycle start, cycle finalization, R_MAX_dynamic — all
	// reversed inside DisconnectBlock).
	if err := c.engine.DisconnectBlock(state, &undo); err != nil {
		return fmt.Errorf("disconnect block: %w", err)
	}

	// Step 4: verify invariants of the now-restored predecessor state,
	// erase S_n (done inside DisconnectBlock) and the masternode snapshot
	// for n.
	prev, err := c.engine.States.Get(n - 1)
	if err != nil {
		return fmt.Errorf("load restored predecessor state: %w", err)
	}
	if err := prev.CheckInvariants(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	if err := c.registry.EraseSnapshot(n); err != nil {
		return fmt.Errorf("erase masternode snapshot: %w", err)
	}
	if err := c.blocks.DeleteUndo(c.state.TipHash); err != nil {
		return fmt.Errorf("delete undo data: %w", err)
	}

	var prevTimestamp uint64
	if prevBlk, err := c.blocks.GetBlock(blk.Header.PrevHash); err == nil {
		prevTimestamp = prevBlk.Header.Timestamp
	}
	if err := c.blocks.SetTip(blk.Header.PrevHash, n-1); err != nil {
		return fmt.Errorf("set tip: %w", err)
	}
	c.state = State{Height: n - 1, TipHash: blk.Header.PrevHash, TipTimestamp: prevTimestamp}
	return nil
}

// Reorg disconnects every block above forkHeight, leaving the block at
// forkHeight as the tip, then connects branch, which must extend from that
// fork point in order. It refuses the whole operation up front, before
// anything is disconnected, if the fork point fails either disconnect-step
// check (finality refusal or max_reorg_depth). An error after that point
// returns with the blocks handled so far left as they are and the reorg
// checkpoint still written.
func (c *Chain) Reorg(ctx context.Context, forkHeight uint64, branch []*block.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if forkHeight >= c.state.Height {
		return fmt.Errorf("chain: fork height %d is not below current tip %d", forkHeight, c.state.Height)
	}
	refused, err := c.finality.RefusesReorg(forkHeight)
	if err != nil {
		return fmt.Errorf("check finality refusal: %w", err)
	}
	if refused {
		return ErrReorgRefusedFinalized
	}
	depth := c.state.Height - forkHeight
	if depth > c.gen.Protocol.Finality.MaxReorgDepth {
		return ErrReorgTooDeep
	}

	if err := c.blocks.PutReorgCheckpoint(forkHeight); err != nil {
		return fmt.Errorf("write reorg checkpoint: %w", err)
	}

	for c.state.Height > forkHeight {
		if err := c.disconnectTipLocked(); err != nil {
			return fmt.Errorf("disconnect during reorg: %w", err)
		}
	}

	for _, blk := range branch {
		if err := c.connectLocked(ctx, blk); err != nil {
			return fmt.Errorf("connect branch block at height %d: %w", blk.Header.Height, err)
		}
	}

	return c.blocks.DeleteReorgCheckpoint()
}

// FindForkPoint checks that branch (ordered ascending by height, each
// linking to the previous via PrevHash) attaches to our chain: the first
// block's PrevHash must match the block we hold at the height below it,
// and that height is returned as the shared ancestor. Only the first block
// is checked; if it does not attach, the result is an error. Used by callers assembling a Reorg branch from a
// peer-announced alternate chain.
func (c *Chain) FindForkPoint(branch []*block.Block) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(branch) == 0 {
		return 0, fmt.Errorf("chain: empty branch")
	}
	first := branch[0]
	height := first.Header.Height - 1
	ours, err := c.blocks.GetBlockByHeight(height)
	if err != nil {
		return 0, fmt.Errorf("load our block at height %d: %w", height, err)
	}
	if ours.Hash() != first.Header.PrevHash {
		return 0, fmt.Errorf("chain: branch does not connect to our chain at height %d", height)
	}
	return height, nil
}

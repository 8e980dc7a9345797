package chain

import (
	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/khu"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// CreateGenesisBlock builds the block-0 marker block from the genesis
// configuration. Its single transaction carries gen.ExtraData in an
// OP_RETURN-style output and has no inputs, so it cannot pass the normal
// tx.Validate() (which requires every transaction to have a signed input)
// — InitFromGenesis below stores and applies it directly, bypassing
// block.Validate()/tx.Validate() entirely, the way block 0 is
// special-cased in every UTXO-chain codebase this one is descended from.
func CreateGenesisBlock(gen *config.Genesis) *block.Block {
	marker := &tx.Transaction{
		Version: block.CurrentVersion,
		Kind:    tx.KindNormal,
		Outputs: []tx.Output{
			{
				Value: 0,
				Script: types.Script{
					Type: types.ScriptTypeReturn,
					Data: []byte(gen.ExtraData),
				},
			},
		},
	}

	merkle := block.ComputeMerkleRoot([]types.Hash{marker.Hash()})
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{},
		MerkleRoot: merkle,
		Timestamp:  gen.Timestamp,
		Height:     0,
	}
	return block.NewBlock(header, []*tx.Transaction{marker})
}

// InitFromGenesis stores the genesis block, synthesizes S_0, and seeds the
// masternode registry from gen.Masternodes (spec.md §4.J connect step 3 and
// §3's genesis-seeding allowance). It does not go through ConnectBlock: the
// genesis marker transaction has no signed input and the genesis state has
// no predecessor to load, so both the structural and KHU connect paths are
// bypassed here rather than special-cased inside them.
func (c *Chain) InitFromGenesis() error {
	gen := c.gen
	genBlock := CreateGenesisBlock(gen)
	genHash := genBlock.Hash()

	if err := c.blocks.PutBlock(genBlock); err != nil {
		return err
	}

	s0 := khu.Genesis(
		gen.Protocol.KHU.TreasuryInitial,
		gen.Protocol.KHU.RAnnualInitial,
		gen.Protocol.KHU.RMaxInitial,
		0, // the first DOMC cycle starts at height 0
		gen.Protocol.DOMC.CommitPhaseStart,
		gen.Protocol.DOMC.RevealPhaseStart,
	)
	s0.BlockHash = genHash
	if err := c.engine.States.Put(s0); err != nil {
		return err
	}

	if len(gen.Masternodes) > 0 {
		records := make([]*masternode.Record, len(gen.Masternodes))
		for i, seed := range gen.Masternodes {
			records[i] = &masternode.Record{
				ProTxHash:          seed.ProTxHash,
				OperatorPubKey:     seed.OperatorPubKey,
				CollateralOutpoint: seed.CollateralOutpoint,
				ServiceAddr:        seed.ServiceAddr,
				RegisteredHeight:   0,
				PayoutScript:       seed.PayoutScript,
			}
		}
		if err := c.registry.SeedGenesis(records); err != nil {
			return err
		}
		if err := c.registry.SnapshotAt(0); err != nil {
			return err
		}
	}

	if err := c.blocks.SetTip(genHash, 0); err != nil {
		return err
	}
	c.state = State{Height: 0, TipHash: genHash, TipTimestamp: genBlock.Header.Timestamp}
	c.genesisHash = genHash
	return nil
}

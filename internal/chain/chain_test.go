package chain

import (
	"context"
	"testing"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/domc"
	"github.com/piv2-project/khu-consensus/internal/finality"
	"github.com/piv2-project/khu-consensus/internal/khu"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/internal/notes"
	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/block"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/tx"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

// testChain wires a fresh in-memory Chain with no masternodes seeded, so
// every block's producer-signature check is waived (empty eligible set).
func testChain(t *testing.T) (*Chain, *config.Genesis) {
	t.Helper()
	gen := config.TestnetGenesis()
	db := storage.NewMemory()

	registry := masternode.New(storage.NewPrefixDB(db, []byte("mn/")))
	engine := khu.NewEngine(
		khu.NewStore(storage.NewPrefixDB(db, []byte("st/"))),
		khu.NewOverlayStore(storage.NewPrefixDB(db, []byte("ov/"))),
		notes.NewStore(storage.NewPrefixDB(db, []byte("nt/"))),
		domc.NewStore(storage.NewPrefixDB(db, []byte("dm/"))),
		dao.NewStore(storage.NewPrefixDB(db, []byte("da/"))),
		registry,
		gen,
	)
	finalityStore := finality.NewStore(storage.NewPrefixDB(db, []byte("fi/")))

	ch, err := New(gen, storage.NewPrefixDB(db, []byte("ch/")), registry, engine, finalityStore)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.InitFromGenesis(); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	return ch, gen
}

func signedMarkerTx(t *testing.T) *tx.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	b := tx.NewBuilder(tx.KindNormal).
		AddInput(types.Outpoint{TxID: crypto.Hash([]byte("fake-prevout")), Index: 0}).
		AddOutput(1, types.Script{Type: types.ScriptTypeReturn, Data: []byte("marker")})
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return b.Build()
}

func nextBlock(t *testing.T, ch *Chain, timestamp uint64) *block.Block {
	t.Helper()
	st := ch.State()
	transaction := signedMarkerTx(t)
	merkle := block.ComputeMerkleRoot([]types.Hash{transaction.Hash()})
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   st.TipHash,
		MerkleRoot: merkle,
		Timestamp:  timestamp,
		Height:     st.Height + 1,
	}
	return block.NewBlock(header, []*tx.Transaction{transaction})
}

func TestInitFromGenesis(t *testing.T) {
	ch, _ := testChain(t)
	st := ch.State()
	if st.Height != 0 {
		t.Fatalf("height = %d, want 0", st.Height)
	}
	if st.TipHash.IsZero() {
		t.Fatal("genesis tip hash is zero")
	}
	if ch.GenesisHash() != st.TipHash {
		t.Fatal("genesis hash does not match tip")
	}
}

func TestConnectBlock_ExtendsTipAndPersistsState(t *testing.T) {
	ch, gen := testChain(t)

	blk := nextBlock(t, ch, gen.Timestamp+uint64(gen.Protocol.DMM.BlockTime))
	if err := ch.ConnectBlock(context.Background(), blk); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}

	st := ch.State()
	if st.Height != 1 {
		t.Fatalf("height = %d, want 1", st.Height)
	}
	if st.TipHash != blk.Hash() {
		t.Fatal("tip hash does not match connected block")
	}

	got, err := ch.GetBlockByHeight(1)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if got.Hash() != blk.Hash() {
		t.Fatal("stored block does not match connected block")
	}
}

func TestConnectBlock_RejectsWrongPrevHash(t *testing.T) {
	ch, gen := testChain(t)
	blk := nextBlock(t, ch, gen.Timestamp+1)
	blk.Header.PrevHash = crypto.Hash([]byte("not the tip"))
	merkle := block.ComputeMerkleRoot([]types.Hash{blk.Transactions[0].Hash()})
	blk.Header.MerkleRoot = merkle

	if err := ch.ConnectBlock(context.Background(), blk); err != ErrNotCurrentTip {
		t.Fatalf("err = %v, want ErrNotCurrentTip", err)
	}
}

func TestConnectBlock_RejectsWrongHeight(t *testing.T) {
	ch, gen := testChain(t)
	blk := nextBlock(t, ch, gen.Timestamp+1)
	blk.Header.Height = 5

	if err := ch.ConnectBlock(context.Background(), blk); err != ErrBadHeight {
		t.Fatalf("err = %v, want ErrBadHeight", err)
	}
}

func TestDisconnectTip_RestoresPriorState(t *testing.T) {
	ch, gen := testChain(t)
	blk := nextBlock(t, ch, gen.Timestamp+uint64(gen.Protocol.DMM.BlockTime))
	if err := ch.ConnectBlock(context.Background(), blk); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}

	if err := ch.DisconnectTip(); err != nil {
		t.Fatalf("DisconnectTip: %v", err)
	}

	st := ch.State()
	if st.Height != 0 {
		t.Fatalf("height = %d, want 0 after disconnect", st.Height)
	}
	if st.TipHash != ch.GenesisHash() {
		t.Fatal("tip did not revert to genesis")
	}
}

func TestDisconnectTip_RefusesAtGenesis(t *testing.T) {
	ch, _ := testChain(t)
	if err := ch.disconnectTipLocked(); err == nil {
		t.Fatal("expected error disconnecting the genesis block")
	}
}

func TestDisconnectTip_RefusedOnceFinalized(t *testing.T) {
	ch, gen := testChain(t)
	blk := nextBlock(t, ch, gen.Timestamp+uint64(gen.Protocol.DMM.BlockTime))
	if err := ch.ConnectBlock(context.Background(), blk); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if err := ch.finality.MarkFinalized(blk.Hash(), 1); err != nil {
		t.Fatalf("MarkFinalized: %v", err)
	}

	if err := ch.DisconnectTip(); err != ErrReorgRefusedFinalized {
		t.Fatalf("err = %v, want ErrReorgRefusedFinalized", err)
	}
}

func TestConnectDisconnect_RoundTripLeavesNoUndoResidue(t *testing.T) {
	ch, gen := testChain(t)
	blk := nextBlock(t, ch, gen.Timestamp+uint64(gen.Protocol.DMM.BlockTime))
	if err := ch.ConnectBlock(context.Background(), blk); err != nil {
		t.Fatalf("ConnectBlock: %v", err)
	}
	if err := ch.DisconnectTip(); err != nil {
		t.Fatalf("DisconnectTip: %v", err)
	}
	if _, err := ch.blocks.GetUndo(blk.Hash()); err == nil {
		t.Fatal("expected undo data to be deleted after disconnect")
	}
}

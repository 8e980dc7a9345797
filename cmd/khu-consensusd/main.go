// khu-consensusd runs the DMM/KHU consensus core as a standalone daemon:
// block-store/state recovery, the governance RPC surface, and (when
// configured with a masternode identity) finality-signature gossip.
//
// Usage:
//
//	khu-consensusd [--masternode --operator-key=...] Run node
//	khu-consensusd --help                            Show help
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"

	"github.com/piv2-project/khu-consensus/config"
	"github.com/piv2-project/khu-consensus/internal/chain"
	"github.com/piv2-project/khu-consensus/internal/dao"
	"github.com/piv2-project/khu-consensus/internal/domc"
	"github.com/piv2-project/khu-consensus/internal/finality"
	"github.com/piv2-project/khu-consensus/internal/khu"
	klog "github.com/piv2-project/khu-consensus/internal/log"
	"github.com/piv2-project/khu-consensus/internal/masternode"
	"github.com/piv2-project/khu-consensus/internal/notes"
	"github.com/piv2-project/khu-consensus/internal/rpc"
	"github.com/piv2-project/khu-consensus/internal/storage"
	"github.com/piv2-project/khu-consensus/pkg/crypto"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/khu-consensusd.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")

	// ── 3. Genesis (hardcoded, not loaded from file) ─────────────────────
	gen := config.GenesisFor(cfg.Network)
	logger.Info().Str("network", string(cfg.Network)).Msg("loaded genesis")

	// ── 4. Storage, one BadgerDB with a PrefixDB namespace per component ─
	db, err := storage.NewBadger(cfg.StateDir())
	if err != nil {
		logger.Fatal().Err(err).Msg("open state store")
	}
	defer db.Close()

	registry := masternode.New(storage.NewPrefixDB(db, []byte("mn/")))
	tracker := masternode.NewTracker()
	payouts := masternode.NewPayoutLedger(storage.NewPrefixDB(db, []byte("pay/")))

	states := khu.NewStore(storage.NewPrefixDB(db, []byte("khu/")))
	overlay := khu.NewOverlayStore(storage.NewPrefixDB(db, []byte("ovl/")))
	noteStore := notes.NewStore(storage.NewPrefixDB(db, []byte("note/")))
	domcStore := domc.NewStore(storage.NewPrefixDB(db, []byte("domc/")))
	daoStore := dao.NewStore(storage.NewPrefixDB(db, []byte("dao/")))
	engine := khu.NewEngine(states, overlay, noteStore, domcStore, daoStore, registry, gen)

	finalityStore := finality.NewStore(storage.NewPrefixDB(db, []byte("fin/")))

	ch, err := chain.New(gen, storage.NewPrefixDB(db, []byte("blk/")), registry, engine, finalityStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("wire chain driver")
	}
	if ch.Height() == 0 && ch.TipHash().IsZero() {
		if err := ch.InitFromGenesis(); err != nil {
			logger.Fatal().Err(err).Msg("init genesis")
		}
		logger.Info().Msg("initialized from genesis")
	}

	// ── 5. Masternode operator identity, if configured ───────────────────
	var localKey *crypto.PrivateKey
	var localProTxHash types.Hash
	if cfg.Masternode.Enabled {
		localKey, localProTxHash, err = loadOperatorIdentity(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("load masternode operator identity")
		}
		logger.Info().Str("proTxHash", localProTxHash.String()).Msg("running as masternode")
	}

	// ── 6. Finality-signature gossip (narrow pubsub, no DHT/discovery) ───
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gossip *finality.Gossip
	if cfg.Gossip.Enabled {
		ps, err := newGossipRouter(cfg.Gossip, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("start gossip router")
		}
		topic := cfg.Gossip.Topic
		if topic == "" {
			topic = "khu-consensus/finality/v1"
		}
		gossip, err = finality.NewGossip(ctx, ps, topic)
		if err != nil {
			logger.Fatal().Err(err).Msg("join finality gossip topic")
		}
		defer gossip.Close()

		if localKey != nil {
			quorum, err := currentQuorum(registry, finalityStore, ch, gen)
			if err != nil {
				logger.Warn().Err(err).Msg("select finality quorum, signaling disabled")
			} else {
				local, ok, err := registry.Get(localProTxHash)
				if err != nil || !ok {
					logger.Warn().Msg("local masternode record not found, signaling disabled")
				} else {
					signaler := finality.NewSignaler(finalityStore, gossip, quorum, local, localKey)
					ch.SetSignaler(signaler)
					go receiveFinalitySignatures(ctx, gossip, signaler, logger)
				}
			}
		}
	}

	// ── 7. Governance RPC surface ─────────────────────────────────────────
	var server *rpc.Server
	if cfg.RPC.Enabled {
		addr := cfg.RPC.Addr
		if addr == "" {
			addr = "127.0.0.1"
		}
		port := cfg.RPC.Port
		if port == 0 {
			port = 9650
		}
		server = rpc.New(addr+":"+strconv.Itoa(port), ch, states, registry, tracker, payouts,
			daoStore, domcStore, finalityStore, gen, cfg.RPC.AllowedIPs)
		server.SetKeystoreDir(cfg.KeystoreDir())
		if localKey != nil {
			server.SetLocalMasternode(localProTxHash, localKey)
		}
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("start rpc server")
		}
		logger.Info().Str("addr", server.Addr()).Msg("rpc server listening")
		defer server.Stop()
	}

	// ── 8. Wait for shutdown signal ───────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
}

// loadOperatorIdentity reads the hex-encoded operator key masternode.init
// wrote to cfg.Masternode.OperatorKeyPath and resolves the configured
// proTxHash alongside it.
func loadOperatorIdentity(cfg *config.Config) (*crypto.PrivateKey, types.Hash, error) {
	if cfg.Masternode.OperatorKeyPath == "" {
		return nil, types.Hash{}, fmt.Errorf("masternode enabled but no operator key path configured")
	}
	raw, err := os.ReadFile(cfg.Masternode.OperatorKeyPath)
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("read operator key: %w", err)
	}
	keyBytes, err := hex.DecodeString(string(raw))
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("decode operator key: %w", err)
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("parse operator key: %w", err)
	}
	proTxHash, err := types.HexToHash(cfg.Masternode.ProTxHash)
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("parse configured proTxHash: %w", err)
	}
	return key, proTxHash, nil
}

// newGossipRouter brings up the bare-minimum libp2p host this core needs:
// a single listening address and a GossipSub router, with no DHT, no peer
// discovery, and no persistent identity — the finality-signature topic is
// the only traffic this core puts on the wire (spec.md §1 keeps the rest
// of the P2P transport out of scope as an external collaborator).
func newGossipRouter(cfg config.GossipConfig, logger zerolog.Logger) (*pubsub.PubSub, error) {
	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = "0.0.0.0"
	}
	port := cfg.Port
	if port == 0 {
		port = 26656
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(
		fmt.Sprintf("/ip4/%s/tcp/%d", listenAddr, port),
	))
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	for _, seed := range cfg.Seeds {
		if err := dialSeed(h, seed); err != nil {
			logger.Warn().Err(err).Str("seed", seed).Msg("connect to gossip seed")
			continue
		}
		logger.Info().Str("seed", seed).Msg("connected to gossip seed")
	}

	return pubsub.NewGossipSub(context.Background(), h)
}

// dialSeed connects h to a seed given as a libp2p multiaddr, e.g.
// "/ip4/1.2.3.4/tcp/26656/p2p/<peerID>".
func dialSeed(h host.Host, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("parse seed address: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Connect(ctx, *info)
}

// currentQuorum selects the active finality quorum from the registry's
// live eligible set, seeded from the chain's last finalized block (or the
// genesis hash before anything has finalized), per spec.md §4.D.
func currentQuorum(registry *masternode.Registry, finalityStore *finality.Store, ch *chain.Chain, gen *config.Genesis) ([]*masternode.Record, error) {
	records, err := registry.List()
	if err != nil {
		return nil, fmt.Errorf("list masternodes: %w", err)
	}
	lastFinalized, _, err := finalityStore.LatestFinalized()
	if err != nil || lastFinalized.IsZero() {
		lastFinalized = ch.GenesisHash()
	}
	cycle := finality.Cycle(ch.Height(), gen.Protocol.Finality.RotationLength)
	seed := finality.Seed(lastFinalized, cycle)
	return finality.SelectQuorum(records, seed, gen.Protocol.Finality.QuorumSize), nil
}

// receiveFinalitySignatures feeds inbound gossip triples into the signaler
// until ctx is canceled, logging (but not stopping on) receive or
// signature-verification failures — a bad gossip message from one peer
// must not interrupt this node's own signaling.
func receiveFinalitySignatures(ctx context.Context, gossip *finality.Gossip, signaler *finality.Signaler, logger zerolog.Logger) {
	for {
		triple, err := gossip.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("receive finality gossip message")
			continue
		}
		if _, err := signaler.ReceiveTriple(triple); err != nil {
			logger.Warn().Err(err).Msg("reject finality signature")
		}
	}
}

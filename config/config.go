// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: defined in genesis, immutable, must match across all nodes
//   - Node settings: runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Finality signature gossip (narrowly scoped libp2p-pubsub, not a full
	// P2P transport layer).
	Gossip GossipConfig

	// RPC server exposing the governance/masternode command surface.
	RPC RPCConfig

	// Masternode operator identity, if this node runs one.
	Masternode MasternodeConfig

	// Logging.
	Log LogConfig
}

// GossipConfig holds finality-signature gossip settings.
type GossipConfig struct {
	Enabled    bool     `conf:"gossip.enabled"`
	ListenAddr string   `conf:"gossip.listen"`
	Port       int      `conf:"gossip.port"`
	Seeds      []string `conf:"gossip.seeds"`
	Topic      string   `conf:"gossip.topic"`
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled    bool     `conf:"rpc.enabled"`
	Addr       string   `conf:"rpc.addr"`
	Port       int      `conf:"rpc.port"`
	AllowedIPs []string `conf:"rpc.allowed"`
}

// MasternodeConfig holds operator identity settings for a node running a
// masternode. OperatorKeyPath points to a BIP-32-derived operator key
// produced by the masternode.init RPC.
type MasternodeConfig struct {
	Enabled        bool   `conf:"masternode.enabled"`
	OperatorKeyPath string `conf:"masternode.operatorkey"`
	ProTxHash      string `conf:"masternode.protx"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".khu-consensus"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KhuConsensus")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KhuConsensus")
		}
		return filepath.Join(home, "AppData", "Roaming", "KhuConsensus")
	default:
		return filepath.Join(home, ".khu-consensus")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the blocks storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// StateDir returns the root of the keyed-value store (UTXO + KHU + DOMC +
// DAO + finality + masternode namespaces all live under here, partitioned
// by PrefixDB).
func (c *Config) StateDir() string {
	return filepath.Join(c.ChainDataDir(), "state")
}

// KeystoreDir returns the operator keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "khu-consensus.conf")
}

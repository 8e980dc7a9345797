package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a node config value by key. Only node-operational
// settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	case "gossip.enabled":
		cfg.Gossip.Enabled = parseBool(value)
	case "gossip.listen":
		cfg.Gossip.ListenAddr = value
	case "gossip.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Gossip.Port = n
	case "gossip.seeds":
		cfg.Gossip.Seeds = parseStringList(value)
	case "gossip.topic":
		cfg.Gossip.Topic = value

	case "rpc.enabled":
		cfg.RPC.Enabled = parseBool(value)
	case "rpc.addr":
		cfg.RPC.Addr = value
	case "rpc.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.RPC.Port = n
	case "rpc.allowed":
		cfg.RPC.AllowedIPs = parseStringList(value)

	case "masternode.enabled":
		cfg.Masternode.Enabled = parseBool(value)
	case "masternode.operatorkey":
		cfg.Masternode.OperatorKeyPath = value
	case "masternode.protx":
		cfg.Masternode.ProTxHash = value

	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored.
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	content := `# khu-consensus node configuration
#
# This file contains NODE settings only. Protocol rules (DMM, KHU, DOMC,
# DAO parameters) are hardcoded in the genesis configuration and cannot be
# changed without a hard fork.

network = ` + string(network) + `
# datadir = ~/.khu-consensus

# ============================================================================
# Finality signature gossip
# ============================================================================

gossip.enabled = true
gossip.listen = 0.0.0.0
gossip.port = ` + defaultGossipPort(network) + `
gossip.topic = khu-finality-sigs
# gossip.seeds = /ip4/203.0.113.1/tcp/26656/p2p/12D3KooW...

# ============================================================================
# RPC server
# ============================================================================

rpc.enabled = true
rpc.addr = 127.0.0.1
rpc.port = ` + defaultRPCPort(network) + `
rpc.allowed = 127.0.0.1

# ============================================================================
# Masternode
# ============================================================================

masternode.enabled = false
# masternode.operatorkey = ~/.khu-consensus/keystore/operator.key
# masternode.protx = <protxhash>

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}

func defaultGossipPort(network NetworkType) string {
	if network == Testnet {
		return "26756"
	}
	return "26656"
}

func defaultRPCPort(network NetworkType) string {
	if network == Testnet {
		return "26757"
	}
	return "26657"
}

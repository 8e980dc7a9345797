package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Gossip: GossipConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Port:       26656,
			Seeds:      []string{},
			Topic:      "khu-finality-sigs",
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       26657,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Masternode: MasternodeConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Gossip.Port = 26756
	cfg.RPC.Port = 26757
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	if network == Testnet {
		return DefaultTestnet()
	}
	return DefaultMainnet()
}

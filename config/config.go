package config

import (
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config carries the service tunables. Every field has a usable zero-config
// default so the service starts (in simulation mode) with no file at all.
type Config struct {
	// RPCEndpoint is accepted only if it matches one of AllowedProviders;
	// anything else is treated as unset and the service stays in simulation.
	RPCEndpoint      string   `toml:"rpc_endpoint"`
	AllowedProviders []string `toml:"allowed_providers"`

	// Mints offered for decoy notes and reported as supported in simulation.
	SupportedTokens []TokenConfig `toml:"supported_tokens"`

	CapabilityTTLSeconds int `toml:"capability_ttl_seconds"`
	StateTreeTTLSeconds  int `toml:"state_tree_ttl_seconds"`
	RPCProbeSeconds      int `toml:"rpc_probe_seconds"`
	ProverProbeSeconds   int `toml:"prover_probe_seconds"`

	MinDecoyCount int `toml:"min_decoy_count"`
	MaxDecoyCount int `toml:"max_decoy_count"`
}

type TokenConfig struct {
	Mint   string `toml:"mint"`
	Symbol string `toml:"symbol"`
}

var defaultProviders = []string{
	"helius",
	"quicknode",
	"alchemy",
	"triton",
	"ankr",
	"api.mainnet-beta.solana.com",
	"api.devnet.solana.com",
	"localhost",
	"127.0.0.1",
}

var defaultTokens = []TokenConfig{
	{Mint: "So11111111111111111111111111111111111111112", Symbol: "SOL"},
	{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC"},
	{Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT"},
}

func Default() Config {
	return Config{
		AllowedProviders:     append([]string{}, defaultProviders...),
		SupportedTokens:      append([]TokenConfig{}, defaultTokens...),
		CapabilityTTLSeconds: 60,
		StateTreeTTLSeconds:  30,
		RPCProbeSeconds:      5,
		ProverProbeSeconds:   10,
		MinDecoyCount:        2,
		MaxDecoyCount:        4,
	}
}

func ReadConfig(file string) (Config, error) {
	cfg := Default()
	configFileData, err := os.ReadFile(file)
	if err != nil {
		return cfg, err
	}
	err = toml.Unmarshal(configFileData, &cfg)
	if err != nil {
		return cfg, err
	}
	cfg.fillDefaults()
	return cfg, nil
}

func (cfg *Config) fillDefaults() {
	if len(cfg.AllowedProviders) == 0 {
		cfg.AllowedProviders = append([]string{}, defaultProviders...)
	}
	if len(cfg.SupportedTokens) == 0 {
		cfg.SupportedTokens = append([]TokenConfig{}, defaultTokens...)
	}
	if cfg.CapabilityTTLSeconds <= 0 {
		cfg.CapabilityTTLSeconds = 60
	}
	if cfg.StateTreeTTLSeconds <= 0 {
		cfg.StateTreeTTLSeconds = 30
	}
	if cfg.RPCProbeSeconds <= 0 {
		cfg.RPCProbeSeconds = 5
	}
	if cfg.ProverProbeSeconds <= 0 {
		cfg.ProverProbeSeconds = 10
	}
	if cfg.MinDecoyCount <= 0 {
		cfg.MinDecoyCount = 2
	}
	if cfg.MaxDecoyCount < cfg.MinDecoyCount {
		cfg.MaxDecoyCount = cfg.MinDecoyCount
	}
}

// EndpointAllowed reports whether url names one of the allow-listed
// providers. An empty url is never allowed.
func (cfg *Config) EndpointAllowed(url string) bool {
	if url == "" {
		return false
	}
	lowered := strings.ToLower(url)
	for _, provider := range cfg.AllowedProviders {
		if strings.Contains(lowered, strings.ToLower(provider)) {
			return true
		}
	}
	return false
}

// ResolveEndpoint returns the configured RPC endpoint, or "" when it is
// missing or not allow-listed.
func (cfg *Config) ResolveEndpoint() string {
	if cfg.EndpointAllowed(cfg.RPCEndpoint) {
		return cfg.RPCEndpoint
	}
	return ""
}

func (cfg *Config) CapabilityTTL() time.Duration {
	return time.Duration(cfg.CapabilityTTLSeconds) * time.Second
}

func (cfg *Config) StateTreeTTL() time.Duration {
	return time.Duration(cfg.StateTreeTTLSeconds) * time.Second
}

func (cfg *Config) RPCProbeTimeout() time.Duration {
	return time.Duration(cfg.RPCProbeSeconds) * time.Second
}

func (cfg *Config) ProverProbeTimeout() time.Duration {
	return time.Duration(cfg.ProverProbeSeconds) * time.Second
}

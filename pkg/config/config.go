// Copyright 2025 Certen Protocol
//
// Node configuration: defaults, then an optional YAML file, then environment
// variables. CLI flags are applied last by the entrypoint.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the node.
type Config struct {
	// Network Configuration
	Network string `yaml:"network"` // "mainnet", "testnet", "devnet"
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	Connect []string `yaml:"connect"` // bootstrap peer addresses
	MaxPeers int     `yaml:"max_peers"`
	MinPeers int     `yaml:"min_peers"`

	// RPC / status surface
	RPCPort     int `yaml:"rpc_port"`
	MetricsPort int `yaml:"metrics_port"`

	// Storage Configuration
	DBPath string `yaml:"db"` // database directory

	// Parameter files (posw circuit, outer verification keys)
	ParamsDir string `yaml:"params_dir"`

	// Miner Configuration
	Miner        bool   `yaml:"miner"`
	MinerAddress string `yaml:"miner_address"` // hex, 32 bytes

	// Consensus tuning (devnet overrides; zero means network default)
	MaxBlockSize    int   `yaml:"max_block_size"`
	TargetBlockTime int64 `yaml:"target_block_time"`
	OrphanLimit     int   `yaml:"orphan_limit"`
	OrphanTTL       time.Duration `yaml:"orphan_ttl"`

	// Sync tuning
	SyncBatchSize  int           `yaml:"sync_batch_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Service Configuration
	LogLevel string `yaml:"log_level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Network:        "mainnet",
		IP:             "0.0.0.0",
		Port:           4130,
		MaxPeers:       50,
		MinPeers:       2,
		RPCPort:        3030,
		MetricsPort:    9090,
		DBPath:         "./data/db",
		ParamsDir:      "./data/params",
		OrphanTTL:      time.Hour,
		SyncBatchSize:  64,
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
	}
}

// Load builds the configuration: defaults, YAML file (when path non-empty),
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Network = getEnv("ZKPOW_NETWORK", c.Network)
	c.IP = getEnv("ZKPOW_IP", c.IP)
	c.Port = getEnvInt("ZKPOW_PORT", c.Port)
	if peers := getEnv("ZKPOW_CONNECT", ""); peers != "" {
		c.Connect = splitList(peers)
	}
	c.MaxPeers = getEnvInt("ZKPOW_MAX_PEERS", c.MaxPeers)
	c.MinPeers = getEnvInt("ZKPOW_MIN_PEERS", c.MinPeers)
	c.RPCPort = getEnvInt("ZKPOW_RPC_PORT", c.RPCPort)
	c.MetricsPort = getEnvInt("ZKPOW_METRICS_PORT", c.MetricsPort)
	c.DBPath = getEnv("ZKPOW_DB", c.DBPath)
	c.ParamsDir = getEnv("ZKPOW_PARAMS_DIR", c.ParamsDir)
	c.Miner = getEnvBool("ZKPOW_MINER", c.Miner)
	c.MinerAddress = getEnv("ZKPOW_MINER_ADDRESS", c.MinerAddress)
	c.LogLevel = getEnv("ZKPOW_LOG_LEVEL", c.LogLevel)
}

// Validate rejects configurations the node cannot start with.
func (c *Config) Validate() error {
	switch c.Network {
	case "mainnet", "testnet", "devnet":
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RPCPort < 0 || c.RPCPort > 65535 {
		return fmt.Errorf("invalid rpc port %d", c.RPCPort)
	}
	if c.Miner && c.MinerAddress == "" {
		return fmt.Errorf("miner enabled without miner address")
	}
	if c.MinPeers > c.MaxPeers {
		return fmt.Errorf("min peers %d exceeds max peers %d", c.MinPeers, c.MaxPeers)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

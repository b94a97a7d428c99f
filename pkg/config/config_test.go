// Copyright 2025 Certen Protocol

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "mainnet" || cfg.Port != 4130 || cfg.RPCPort != 3030 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	data := []byte("network: devnet\nport: 14130\nminer: true\nminer_address: \"00\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "devnet" || cfg.Port != 14130 || !cfg.Miner {
		t.Errorf("yaml overrides not applied: %+v", cfg)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte("network: devnet\nport: 14130\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ZKPOW_NETWORK", "testnet")
	t.Setenv("ZKPOW_PORT", "24130")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "testnet" || cfg.Port != 24130 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown network":     func(c *Config) { c.Network = "moonnet" },
		"bad port":            func(c *Config) { c.Port = -1 },
		"miner no address":    func(c *Config) { c.Miner = true; c.MinerAddress = "" },
		"min exceeds max":     func(c *Config) { c.MinPeers = 10; c.MaxPeers = 1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: validation passed", name)
		}
	}
}

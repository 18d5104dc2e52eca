package core

import (
	"os"
	"path/filepath"
	"testing"
)

const testGenesisJSON = `{
  "network_id": "testnet",
  "chain_id": 7,
  "timestamp_ms": 1700000000000,
  "max_header_size": 1024,
  "max_tx_count": 100,
  "max_block_size": 65536,
  "max_tx_size": 4096,
  "max_frame_size": 1048576,
  "clock_skew_ms": 60000,
  "difficulty": {
    "genesis": "1024",
    "target_block_time_ms": 60000,
    "half_life_ms": 86400000,
    "min_difficulty": "1"
  },
  "block_reward": "100",
  "reward_pool_address": "0000000000000000000000000000000000000000",
  "fee_floor": "1",
  "native_token": {
    "name": "Test",
    "symbol": "TST",
    "decimals": 8,
    "treasury": "0000000000000000000000000000000000000001",
    "initial_supply": 1000
  },
  "authorities": [
    {"address": "0000000000000000000000000000000000000002", "wallet": "", "role": 4}
  ]
}`

func writeTestGenesis(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(testGenesisJSON), 0o644); err != nil {
		t.Fatalf("write genesis fixture: %v", err)
	}
	return path
}

func TestLoadGenesisFileAndBuildConfig(t *testing.T) {
	doc, err := LoadGenesisFile(writeTestGenesis(t))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	cfg, err := doc.BuildConfig()
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if cfg.NetworkID != "testnet" || cfg.ChainID != 7 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.BlockReward.Uint64() != 100 {
		t.Fatalf("expected block reward 100, got %s", cfg.BlockReward)
	}
}

func TestGenesisBootstrapIsIdempotent(t *testing.T) {
	resetStore(t)
	doc, err := LoadGenesisFile(writeTestGenesis(t))
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}

	store, err := OpenBlockStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("open block store: %v", err)
	}
	defer store.Close()

	cfg1, err := doc.Bootstrap(store)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if NativeBalance(mustParseAddr(t, "0000000000000000000000000000000000000001")) != 1000 {
		t.Fatalf("expected treasury funded with initial supply")
	}

	authority := mustParseAddr(t, "0000000000000000000000000000000000000002")
	as := NewAuthoritySet(nil)
	if !as.IsAuthority(authority) {
		t.Fatalf("expected seeded genesis authority to be active")
	}

	cfg2, err := doc.Bootstrap(store)
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if cfg1.GenesisHash != cfg2.GenesisHash {
		t.Fatalf("expected stable genesis hash across bootstrap calls")
	}
	if sb, err := store.GetHeader(cfg2.GenesisHash); err != nil || sb == nil {
		t.Fatalf("expected genesis header persisted: %v", err)
	}
}

func mustParseAddr(t *testing.T, s string) Address {
	t.Helper()
	a, err := parseAddress(s)
	if err != nil {
		t.Fatalf("parse address %s: %v", s, err)
	}
	return a
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "walletbridge.json")
	content := `{
  "web3": {"rpc_url": "http://127.0.0.1:8545", "expected_chain_id": "0xAA36A7", "chain_config": "chains.yaml"},
  "session": {"driver": "file", "file_path": "state/session.json"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address %s", cfg.Server.Address)
	}
	if cfg.Web3.ExpectedChainID != "0xaa36a7" {
		t.Fatalf("expected chain id to be normalised, got %s", cfg.Web3.ExpectedChainID)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("unexpected chain config path %s", cfg.Web3.ChainConfig)
	}
	if cfg.Session.FilePath != filepath.Join(dir, "state", "session.json") {
		t.Fatalf("unexpected session path %s", cfg.Session.FilePath)
	}
	if cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected events driver %s", cfg.Events.Driver)
	}
	if cfg.History.Layout != "1/2/2006, 3:04:05 PM" {
		t.Fatalf("unexpected history layout %s", cfg.History.Layout)
	}
	if cfg.Web3.PollInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected poll interval %s", cfg.Web3.PollInterval())
	}
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHistoryLocation(t *testing.T) {
	loc, err := HistoryConfig{Timezone: "UTC"}.Location()
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	if loc.String() != "UTC" {
		t.Fatalf("unexpected location %s", loc)
	}
	if _, err := (HistoryConfig{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Fatal("expected unknown timezone to fail")
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "walletbridge.json"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Session.Driver != "file" || cfg.Events.Driver != "memory" {
		t.Fatalf("unexpected drivers %s/%s", cfg.Session.Driver, cfg.Events.Driver)
	}
	if _, err := os.Stat(cfg.Web3.ChainConfig); err != nil {
		t.Fatalf("chain config not found next to the sample: %v", err)
	}
}

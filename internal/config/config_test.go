package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("output: plain\nslippage_bps: 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SWAPCLI_OUTPUT", "json")
	t.Setenv("SWAPCLI_SLIPPAGE_BPS", "25")
	settings, err := Load(GlobalFlags{ConfigPath: configPath, Plain: true, SlippageBps: 75})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.OutputMode != "plain" {
		t.Fatalf("expected flag to win, got output=%s", settings.OutputMode)
	}
	if settings.SlippageBps != 75 {
		t.Fatalf("expected slippage from flags, got %d", settings.SlippageBps)
	}
}

func TestLoadMutuallyExclusiveOutputFlags(t *testing.T) {
	if _, err := Load(GlobalFlags{JSON: true, Plain: true}); err == nil {
		t.Fatal("expected error with --json and --plain")
	}
}

func TestLoadDefaultsFeeRecipient(t *testing.T) {
	t.Setenv("SWAPCLI_FEE_RECIPIENT", "")
	settings, err := Load(GlobalFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), SlippageBps: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.FeeRecipient != DefaultFeeRecipient {
		t.Fatalf("fee recipient = %s", settings.FeeRecipient)
	}
	if settings.SlippageBps != 50 {
		t.Fatalf("default slippage = %d", settings.SlippageBps)
	}
}

func TestLoadPerChainRPC(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	body := "rpc:\n  \"1\": http://localhost:8545\n  \"8453\": http://localhost:8546\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	settings, err := Load(GlobalFlags{ConfigPath: configPath, SlippageBps: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := settings.RPCFor(1); got != "http://localhost:8545" {
		t.Fatalf("rpc for chain 1 = %q", got)
	}
	if got := settings.RPCFor(56); got != "" {
		t.Fatalf("rpc for unconfigured chain = %q", got)
	}

	// The explicit --rpc flag overrides every per-chain entry.
	settings, err = Load(GlobalFlags{ConfigPath: configPath, RPC: "http://override:8545", SlippageBps: -1})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := settings.RPCFor(1); got != "http://override:8545" {
		t.Fatalf("rpc override = %q", got)
	}
}

func TestLoadInvalidChainIDInRPCMap(t *testing.T) {
	tmp := t.TempDir()
	configPath := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(configPath, []byte("rpc:\n  mainnet: http://x\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(GlobalFlags{ConfigPath: configPath, SlippageBps: -1}); err == nil {
		t.Fatal("expected invalid chain id error")
	}
}

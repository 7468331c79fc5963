package signer

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testPrivateKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func TestNewLocalSignerFromEnvHex(t *testing.T) {
	t.Setenv(EnvPrivateKey, testPrivateKey)
	s, err := NewLocalSignerFromEnv(KeySourceEnv)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       21_000,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
	})
	signed, err := s.SignTx(big.NewInt(1), tx)
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	if signed.Hash() == (common.Hash{}) {
		t.Fatal("expected signed transaction hash")
	}
}

func TestNewLocalSignerFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv(EnvPrivateKeyFile, keyFile)

	s, err := NewLocalSignerFromEnv(KeySourceFile)
	if err != nil {
		t.Fatalf("NewLocalSignerFromEnv failed: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestNewLocalSignerFromEnvAutoUsesDefaultKeyFile(t *testing.T) {
	cfgDir := t.TempDir()
	keyDir := filepath.Join(cfgDir, "swapcli")
	keyFile := filepath.Join(keyDir, "key.hex")
	if err := os.MkdirAll(keyDir, 0o755); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(keyFile, []byte(testPrivateKey), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", cfgDir)
	t.Setenv(EnvPrivateKey, "")
	t.Setenv(EnvPrivateKeyFile, "")
	t.Setenv(EnvKeystorePath, "")

	s, err := NewLocalSignerFromEnv(KeySourceAuto)
	if err != nil {
		t.Fatalf("expected auto key-source to use default key path: %v", err)
	}
	if s.Address() == (common.Address{}) {
		t.Fatal("expected non-zero signer address")
	}
}

func TestNewLocalSignerMissingKey(t *testing.T) {
	t.Setenv(EnvPrivateKey, "")
	t.Setenv(EnvPrivateKeyFile, "")
	t.Setenv(EnvKeystorePath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := NewLocalSignerFromEnv(KeySourceAuto); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestNewLocalSignerRejectsBadHex(t *testing.T) {
	if _, err := NewLocalSigner(LocalSignerConfig{PrivateKeyHex: "not-hex"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewLocalSignerRejectsUnknownSource(t *testing.T) {
	if _, err := NewLocalSignerFromEnv("vault"); err == nil {
		t.Fatal("expected unsupported key source error")
	}
}

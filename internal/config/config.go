package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFeeRecipient receives the protocol fee collected on every swap.
const DefaultFeeRecipient = "0x67FEa3f7Ba299F10269519E9987180Cb80C92C61"

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Timeout     string
	RPC         string
	SlippageBps int64
	KeySource   string
	NoSimulate  bool
}

type Settings struct {
	OutputMode     string
	Timeout        time.Duration
	SlippageBps    int64
	FeeRecipient   string
	RPCOverride    string
	RPCByChain     map[int64]string
	TokenStorePath string
	TokenLockPath  string
	PlanStorePath  string
	PlanLockPath   string
	KeySource      string
	Simulate       bool
}

type fileConfig struct {
	Output       string            `yaml:"output"`
	Timeout      string            `yaml:"timeout"`
	SlippageBps  *int64            `yaml:"slippage_bps"`
	FeeRecipient string            `yaml:"fee_recipient"`
	KeySource    string            `yaml:"key_source"`
	Simulate     *bool             `yaml:"simulate"`
	RPC          map[string]string `yaml:"rpc"`
	Stores       struct {
		TokensPath     string `yaml:"tokens_path"`
		TokensLockPath string `yaml:"tokens_lock_path"`
		PlansPath      string `yaml:"plans_path"`
		PlansLockPath  string `yaml:"plans_lock_path"`
	} `yaml:"stores"`
}

// Load merges defaults, the yaml config file, SWAPCLI_* environment
// variables, and command-line flags, in that order of precedence.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}
	applyEnv(&settings)
	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.SlippageBps < 0 {
		settings.SlippageBps = 50
	}
	if strings.TrimSpace(settings.FeeRecipient) == "" {
		settings.FeeRecipient = DefaultFeeRecipient
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Settings{}, err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "swapcli")
	return Settings{
		OutputMode:     "json",
		Timeout:        30 * time.Second,
		SlippageBps:    50,
		FeeRecipient:   DefaultFeeRecipient,
		RPCByChain:     map[int64]string{},
		TokenStorePath: filepath.Join(dir, "tokens.db"),
		TokenLockPath:  filepath.Join(dir, "tokens.lock"),
		PlanStorePath:  filepath.Join(dir, "plans.db"),
		PlanLockPath:   filepath.Join(dir, "plans.lock"),
		KeySource:      "auto",
		Simulate:       true,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapcli", "config.yaml"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.SlippageBps != nil {
		settings.SlippageBps = *cfg.SlippageBps
	}
	if cfg.FeeRecipient != "" {
		settings.FeeRecipient = cfg.FeeRecipient
	}
	if cfg.KeySource != "" {
		settings.KeySource = cfg.KeySource
	}
	if cfg.Simulate != nil {
		settings.Simulate = *cfg.Simulate
	}
	for key, url := range cfg.RPC {
		chainID, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("config rpc: invalid chain id %q", key)
		}
		settings.RPCByChain[chainID] = url
	}
	if cfg.Stores.TokensPath != "" {
		settings.TokenStorePath = cfg.Stores.TokensPath
	}
	if cfg.Stores.TokensLockPath != "" {
		settings.TokenLockPath = cfg.Stores.TokensLockPath
	}
	if cfg.Stores.PlansPath != "" {
		settings.PlanStorePath = cfg.Stores.PlansPath
	}
	if cfg.Stores.PlansLockPath != "" {
		settings.PlanLockPath = cfg.Stores.PlansLockPath
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SWAPCLI_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPCLI_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SWAPCLI_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("SWAPCLI_FEE_RECIPIENT"); v != "" {
		settings.FeeRecipient = v
	}
	if v := os.Getenv("SWAPCLI_RPC_URL"); v != "" {
		settings.RPCOverride = v
	}
	if v := os.Getenv("SWAPCLI_KEY_SOURCE"); v != "" {
		settings.KeySource = v
	}
	if v := os.Getenv("SWAPCLI_SIMULATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.Simulate = b
		}
	}
	if v := os.Getenv("SWAPCLI_TOKENS_PATH"); v != "" {
		settings.TokenStorePath = v
	}
	if v := os.Getenv("SWAPCLI_TOKENS_LOCK_PATH"); v != "" {
		settings.TokenLockPath = v
	}
	if v := os.Getenv("SWAPCLI_PLANS_PATH"); v != "" {
		settings.PlanStorePath = v
	}
	if v := os.Getenv("SWAPCLI_PLANS_LOCK_PATH"); v != "" {
		settings.PlanLockPath = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if strings.TrimSpace(flags.RPC) != "" {
		settings.RPCOverride = flags.RPC
	}
	if flags.SlippageBps >= 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if strings.TrimSpace(flags.KeySource) != "" {
		settings.KeySource = flags.KeySource
	}
	if flags.NoSimulate {
		settings.Simulate = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

// RPCFor resolves the endpoint override for one chain: the explicit
// --rpc flag wins over per-chain config entries.
func (s Settings) RPCFor(chainID int64) string {
	if strings.TrimSpace(s.RPCOverride) != "" {
		return s.RPCOverride
	}
	return s.RPCByChain[chainID]
}

// Package config holds the trading engine's YAML-backed configuration,
// matching the teacher's node-config idiom: a literal DefaultConfig,
// create-if-missing LoadConfig, and a Save that writes the file in place
// with a generated-header comment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/curvewatch/internal/chainparams"
)

// TradingMode selects whether the engine submits real transactions.
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// TakeProfitLevelConfig is one rung of the configured take-profit ladder.
type TakeProfitLevelConfig struct {
	GainPct       int `yaml:"gain_pct"`
	SellFractionPct int `yaml:"sell_fraction_pct"`
}

// Config is the engine's full runtime configuration.
type Config struct {
	Network chainparams.Network `yaml:"network"`

	TradingMode            TradingMode             `yaml:"trading_mode"`
	InitialInvestmentQuote string                  `yaml:"initial_investment_quote"`
	StopLossPct            int                     `yaml:"stop_loss_pct"`
	BuySlippageBps         uint64                  `yaml:"buy_slippage_bps"`
	SellSlippageBps        uint64                  `yaml:"sell_slippage_bps"`
	TakeProfitLevels       []TakeProfitLevelConfig `yaml:"take_profit_levels"`

	RPCEndpoint             string `yaml:"rpc_endpoint"`
	RPCConcurrency          int    `yaml:"rpc_concurrency"`
	SigningKeyMaterial      string `yaml:"signing_key_material"`
	MaxPositions            int    `yaml:"max_positions"`
	ConfirmationDelayMs     int    `yaml:"confirmation_delay_ms"`
	MaxRetries              int    `yaml:"max_retries"`
	PriceCacheTTLMs         int    `yaml:"price_cache_ttl_ms"`
	ReconcileScanLimit      int    `yaml:"reconcile_signature_scan_limit"`

	DataDir             string `yaml:"data_dir"`
	LogLevel            string `yaml:"log_level"`
	WebsocketListenAddr string `yaml:"websocket_listen_addr"`
}

// ConfigFileName is the default config file name within DataDir.
const ConfigFileName = "config.yaml"

// DefaultConfig returns a Config with the repository's default risk
// parameters: 30% entry slippage, up to 100% exit slippage, a three-level
// take-profit ladder at +100%/+300%/+900% gain, and a 50% stop-loss.
func DefaultConfig() *Config {
	return &Config{
		Network:                 chainparams.Mainnet,
		TradingMode:             ModePaper,
		InitialInvestmentQuote:  "0.01",
		StopLossPct:             50,
		BuySlippageBps:          3000,
		SellSlippageBps:         10000,
		TakeProfitLevels: []TakeProfitLevelConfig{
			{GainPct: 100, SellFractionPct: 50},
			{GainPct: 300, SellFractionPct: 25},
			{GainPct: 900, SellFractionPct: 100},
		},
		RPCConcurrency:      8,
		MaxPositions:        10,
		ConfirmationDelayMs: 5000,
		MaxRetries:          3,
		PriceCacheTTLMs:     3000,
		ReconcileScanLimit:  50,
		DataDir:             "~/.curvewatch",
		LogLevel:            "info",
	}
}

// ConfigPath returns the full path to the config file for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// LoadConfig loads the YAML config from <dataDir>/config.yaml, creating it
// with defaults if it does not yet exist.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("config: create default: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path with a generated-header comment,
// owner-only permissions (it may be adjacent to secrets on disk).
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	header := []byte("# curvewatch engine configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

// ConfirmationDelay returns ConfirmationDelayMs as a time.Duration-friendly
// millisecond count; kept as an int in YAML for human readability.
func (c *Config) ConfirmationDelay() int {
	if c.ConfirmationDelayMs <= 0 {
		return 5000
	}
	return c.ConfirmationDelayMs
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

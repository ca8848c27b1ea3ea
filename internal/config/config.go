package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	RPC      RPCConfig      `yaml:"rpc"`
	Stream   StreamConfig   `yaml:"stream"`
	State    StateConfig    `yaml:"state"`
	Journal  JournalConfig  `yaml:"journal"`
	Vault    VaultConfig    `yaml:"vault"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr       string `yaml:"addr"`
	AdminToken string `yaml:"admin_token"`
}

type RPCConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Paper     bool          `yaml:"paper"`
	SignerKey string        `yaml:"signer_key"`
}

type StreamConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type VaultConfig struct {
	VaultProgram       string `yaml:"vault_program"`
	LendingProgram     string `yaml:"lending_program"`
	DerivativesProgram string `yaml:"derivatives_program"`
	TokenProgram       string `yaml:"token_program"`
	Market             string `yaml:"market"`
	Reserve            string `yaml:"reserve"`
	Group              string `yaml:"group"`
	AssetMint          string `yaml:"asset_mint"`
	AllocationBps      uint64 `yaml:"allocation_bps"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.RPC.Timeout == 0 {
		cfg.RPC.Timeout = 10 * time.Second
	}
	if cfg.Stream.ReconnectDelay == 0 {
		cfg.Stream.ReconnectDelay = 3 * time.Second
	}
	if cfg.Stream.PingInterval == 0 {
		cfg.Stream.PingInterval = 30 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/epoch-vault.db"
	}
	if cfg.Journal.QueueSize <= 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Vault.AllocationBps == 0 {
		cfg.Vault.AllocationBps = 5000
	}
	if cfg.Vault.TokenProgram == "" {
		cfg.Vault.TokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	}
	if cfg.RPC.SignerKey == "" {
		cfg.RPC.SignerKey = os.Getenv("VAULT_SIGNER_KEY")
	}
}

func validate(cfg *Config) error {
	if !cfg.RPC.Paper {
		if cfg.RPC.BaseURL == "" {
			return errors.New("rpc.base_url is required when paper mode is off")
		}
		if cfg.RPC.SignerKey == "" {
			return errors.New("rpc.signer_key (or VAULT_SIGNER_KEY) is required when paper mode is off")
		}
	}
	if cfg.Vault.VaultProgram == "" || cfg.Vault.LendingProgram == "" || cfg.Vault.DerivativesProgram == "" {
		return errors.New("vault.vault_program, vault.lending_program, and vault.derivatives_program are required")
	}
	if cfg.Vault.Market == "" || cfg.Vault.Reserve == "" || cfg.Vault.Group == "" {
		return errors.New("vault.market, vault.reserve, and vault.group are required")
	}
	if cfg.Vault.AssetMint == "" {
		return errors.New("vault.asset_mint is required")
	}
	if cfg.Vault.AllocationBps > 10000 {
		return errors.New("vault.allocation_bps must be <= 10000")
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"openbounty/observability/otel"
)

const (
	envListenAddress = "BOUNTY_LISTEN"
	envDataDir       = "BOUNTY_DATA_DIR"
	envAuthSecret    = "BOUNTY_AUTH_SECRET"
	envOTelHeaders   = "BOUNTY_OTEL_HEADERS"

	defaultListenAddress = "127.0.0.1:8545"
	defaultDataDir       = "./bounty-data"
	defaultNetworkName   = "openbounty-local"
	defaultEnvironment   = "dev"
	defaultLogLevel      = "info"
	defaultEventLogFile  = "events.db"
)

type Config struct {
	ListenAddress   string      `toml:"ListenAddress"`
	DataDir         string      `toml:"DataDir"`
	NetworkName     string      `toml:"NetworkName"`
	Environment     string      `toml:"Environment"`
	LogLevel        string      `toml:"LogLevel"`
	GenesisFile     string      `toml:"GenesisFile"`
	EventLogPath    string      `toml:"EventLogPath"`
	EnableFaucet    bool        `toml:"EnableFaucet"`
	FaucetMaxAmount string      `toml:"FaucetMaxAmount"`
	AllowedOrigins  []string    `toml:"AllowedOrigins"`
	RateLimit       RateLimit   `toml:"RateLimit"`
	Auth            Auth        `toml:"Auth"`
	Idempotency     Idempotency `toml:"Idempotency"`
	Telemetry       Telemetry   `toml:"Telemetry"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.fillDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	cfg := &Config{
		ListenAddress: defaultListenAddress,
		DataDir:       defaultDataDir,
		NetworkName:   defaultNetworkName,
		Environment:   defaultEnvironment,
		LogLevel:      defaultLogLevel,
		RateLimit: RateLimit{
			RequestsPerMinute: defaultRequestsPerMinute,
			Burst:             defaultBurst,
		},
	}
	return cfg
}

func (c *Config) fillDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = defaultNetworkName
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = defaultEnvironment
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.RateLimit.RequestsPerMinute == 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.RequestsPerMinute = defaultRequestsPerMinute
		c.RateLimit.Burst = defaultBurst
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envListenAddress)); v != "" {
		c.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv(envDataDir)); v != "" {
		c.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envAuthSecret)); v != "" {
		c.Auth.HMACSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(envOTelHeaders)); v != "" {
		if c.Telemetry.Headers == nil {
			c.Telemetry.Headers = map[string]string{}
		}
		for k, val := range otel.ParseHeaders(v) {
			c.Telemetry.Headers[k] = val
		}
	}
}

// ChainDir is the leveldb directory under DataDir.
func (c *Config) ChainDir() string {
	return filepath.Join(c.DataDir, "ledger")
}

// EventLog resolves the SQLite journal path. Relative paths live under DataDir.
func (c *Config) EventLog() string {
	path := strings.TrimSpace(c.EventLogPath)
	if path == "" {
		path = defaultEventLogFile
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

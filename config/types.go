package config

import (
	"path/filepath"
	"strings"
	"time"

	"openbounty/observability/otel"
)

const (
	defaultRequestsPerMinute = 600
	defaultBurst             = 60
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultIdempotencyFile   = "idempotency.db"
)

// RateLimit bounds RPC requests per client address.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// Auth gates privileged RPC methods behind HS256 bearer tokens.
type Auth struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

// Idempotency configures the Idempotency-Key response cache of the RPC
// endpoint. DSN may be a SQLite path (relative to DataDir) or a postgres:// URL.
type Idempotency struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
	TTL     string `toml:"TTL"`
}

// Retention parses TTL, defaulting to 24h.
func (i Idempotency) Retention() (time.Duration, error) {
	if strings.TrimSpace(i.TTL) == "" {
		return defaultIdempotencyTTL, nil
	}
	return time.ParseDuration(strings.TrimSpace(i.TTL))
}

// Source resolves the store DSN against dataDir.
func (i Idempotency) Source(dataDir string) string {
	dsn := strings.TrimSpace(i.DSN)
	if dsn == "" {
		dsn = defaultIdempotencyFile
	}
	if strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(dataDir, dsn)
}

// Telemetry controls the OTLP exporters.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers"`
}

// OTel converts the section into exporter settings for service.
func (t Telemetry) OTel(service, env, network string) otel.Config {
	headers := make(map[string]string, len(t.Headers))
	for k, v := range t.Headers {
		headers[k] = v
	}
	return otel.Config{
		ServiceName: service,
		Environment: env,
		Network:     network,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		Headers:     headers,
		Traces:      t.Traces,
		Metrics:     t.Metrics,
		SampleRatio: t.SampleRatio,
	}
}

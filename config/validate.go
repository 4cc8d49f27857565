package config

import (
	"fmt"
	"strings"
)

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: RateLimit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		return fmt.Errorf("config: RateLimit.Burst must be positive when RequestsPerMinute is set")
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: Auth.HMACSecret required when Auth is enabled")
	}
	if _, err := c.FaucetLimit(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Idempotency.Enabled {
		ttl, err := c.Idempotency.Retention()
		if err != nil {
			return fmt.Errorf("config: invalid Idempotency.TTL: %w", err)
		}
		if ttl <= 0 {
			return fmt.Errorf("config: Idempotency.TTL must be positive")
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: Telemetry.SampleRatio must be within [0,1]")
	}
	if c.Telemetry.Traces || c.Telemetry.Metrics {
		if strings.Contains(c.Telemetry.Endpoint, "://") {
			return fmt.Errorf("config: Telemetry.Endpoint must be host:port, got %q", c.Telemetry.Endpoint)
		}
	}
	return nil
}

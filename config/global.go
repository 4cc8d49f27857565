package config

import (
	"fmt"
	"math/big"
	"strings"
)

// FaucetLimit parses FaucetMaxAmount. A blank value means no per-call cap and
// yields nil.
func (c *Config) FaucetLimit() (*big.Int, error) {
	amount, err := parseUintAmount(c.FaucetMaxAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid FaucetMaxAmount: %w", err)
	}
	return amount, nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a base-10 integer", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%q must not be negative", value)
	}
	return amount, nil
}

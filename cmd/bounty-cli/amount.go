package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// normalizeAmount turns "1_000", "2.5e9" or "100" into a base-10 integer
// string. Fractional results are rejected.
func normalizeAmount(value, flagName string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in %s", flagName)
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid %s format", flagName)
	}
	fractional := ""
	if len(parts) == 2 {
		fractional = parts[1]
	}
	digits := parts[0] + fractional
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid %s format", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractional)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	totalExponent := exponent - fracLen
	if digits == "" {
		return "", fmt.Errorf("%s must be positive", flagName)
	}
	if totalExponent < 0 {
		return "", fmt.Errorf("%s must be an integer number of base units", flagName)
	}
	return digits + strings.Repeat("0", totalExponent), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseDeadline accepts +duration (with a d suffix for days), RFC3339 or unix
// seconds.
func parseDeadline(value string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, fmt.Errorf("deadline duration must be positive")
		}
		return now.Add(dur).Unix(), nil
	}
	if isDigits(trimmed) && trimmed != "" {
		ts, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid unix deadline")
		}
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline %q: use +duration, RFC3339 or unix seconds", value)
	}
	if ts.Unix() < 0 {
		return 0, fmt.Errorf("deadline must not precede the unix epoch")
	}
	return ts.Unix(), nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		days, err := strconv.ParseFloat(value[:len(value)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid deadline duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	return dur, nil
}

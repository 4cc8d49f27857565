package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"openbounty/crypto"
)

// Spec describes the initial ledger contents: opening balances and, optionally,
// the treasury authority so a fresh node starts with an initialized treasury.
type Spec struct {
	GenesisTime       string            `json:"genesisTime"`
	TreasuryAuthority string            `json:"treasuryAuthority,omitempty"`
	Alloc             map[string]string `json:"alloc"` // addr -> amount in base units

	genesisTimestamp time.Time
	authority        crypto.Address
	hasAuthority     bool
	allocations      []Allocation
}

// Allocation is a validated opening balance.
type Allocation struct {
	Address crypto.Address
	Amount  *big.Int
}

// LoadSpec reads and validates a JSON genesis file.
func LoadSpec(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseSpec decodes and validates a genesis document.
func ParseSpec(raw []byte) (*Spec, error) {
	var spec Spec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *Spec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Authority returns the treasury authority if the spec names one.
func (s *Spec) Authority() (crypto.Address, bool) {
	return s.authority, s.hasAuthority
}

// Allocations returns the opening balances sorted by address.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, alloc := range s.allocations {
		out[i] = Allocation{Address: alloc.Address, Amount: new(big.Int).Set(alloc.Amount)}
	}
	return out
}

func (s *Spec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts

	s.hasAuthority = false
	if trimmed := strings.TrimSpace(s.TreasuryAuthority); trimmed != "" {
		addr, err := crypto.ParseAddress(trimmed)
		if err != nil {
			return fmt.Errorf("treasuryAuthority: %w", err)
		}
		if addr.IsZero() {
			return fmt.Errorf("treasuryAuthority must not be the zero address")
		}
		s.authority = addr
		s.hasAuthority = true
	}

	seen := make(map[crypto.Address]string, len(s.Alloc))
	s.allocations = s.allocations[:0]
	for rawAddr, rawAmount := range s.Alloc {
		addr, err := crypto.ParseAddress(strings.TrimSpace(rawAddr))
		if err != nil {
			return fmt.Errorf("alloc %q: %w", rawAddr, err)
		}
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("alloc %q: duplicates %q", rawAddr, prev)
		}
		seen[addr] = rawAddr
		amount, err := parseAmountString(rawAmount)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", rawAddr, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		s.allocations = append(s.allocations, Allocation{Address: addr, Amount: amount})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Address[:], s.allocations[j].Address[:]) < 0
	})
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}

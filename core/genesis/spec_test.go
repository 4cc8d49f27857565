package genesis

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"openbounty/core/state"
	"openbounty/crypto"
	"openbounty/native/treasury"
	"openbounty/storage"
)

func TestLoadSpecAndApply(t *testing.T) {
	alice := crypto.DeriveAddress([]byte("alice"))
	bob := crypto.DeriveAddress([]byte("bob"))
	authority := crypto.DeriveAddress([]byte("authority"))

	doc := `{
  "genesisTime": "2024-01-01T00:00:00Z",
  "treasuryAuthority": "` + authority.String() + `",
  "alloc": {
    "` + alice.String() + `": "1000",
    "` + bob.Hex() + `": "2500",
    "` + crypto.DeriveAddress([]byte("empty")).String() + `": "0"
  }
}`
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	spec, err := LoadSpec(path)
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}
	if len(spec.Allocations()) != 2 {
		t.Fatalf("expected zero allocations to be skipped, got %d", len(spec.Allocations()))
	}

	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)

	evts, err := Apply(manager, spec)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != treasury.EventTypeTreasuryInitialized {
		t.Fatalf("expected treasury initialization event, got %v", evts)
	}
	for addr, want := range map[crypto.Address]int64{alice: 1000, bob: 2500} {
		account, err := manager.GetAccount(addr)
		if err != nil {
			t.Fatalf("get account: %v", err)
		}
		if account.Balance.Int64() != want {
			t.Fatalf("%s: expected %d, got %s", addr, want, account.Balance)
		}
	}
	var record treasury.Treasury
	if ok, err := manager.KVGet([]byte("treasury/record"), &record); err != nil || !ok {
		t.Fatalf("expected treasury record, ok=%v err=%v", ok, err)
	}
	if record.Authority != authority || record.InitializedAt != uint64(spec.GenesisTimestamp().Unix()) {
		t.Fatalf("unexpected treasury record: %+v", record)
	}

	applied, err := Applied(manager)
	if err != nil || !applied {
		t.Fatalf("expected genesis marker, applied=%v err=%v", applied, err)
	}
	if _, err := Apply(manager, spec); !errors.Is(err, ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	account, _ := manager.GetAccount(alice)
	if account.Balance.Int64() != 1000 {
		t.Fatalf("second apply must not credit again")
	}
}

func TestParseSpecRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing time":    `{"alloc": {}}`,
		"bad time":        `{"genesisTime": "yesterday", "alloc": {}}`,
		"unknown field":   `{"genesisTime": "2024-01-01T00:00:00Z", "validators": []}`,
		"bad address":     `{"genesisTime": "2024-01-01T00:00:00Z", "alloc": {"nope": "1"}}`,
		"negative amount": `{"genesisTime": "2024-01-01T00:00:00Z", "alloc": {"` + crypto.DeriveAddress([]byte("a")).String() + `": "-1"}}`,
		"bad authority":   `{"genesisTime": "2024-01-01T00:00:00Z", "treasuryAuthority": "bnty1xyz"}`,
	}
	for name, doc := range cases {
		if _, err := ParseSpec([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyWithoutAuthorityLeavesTreasuryUninitialized(t *testing.T) {
	spec, err := ParseSpec([]byte(`{"genesisTime": "2024-01-01T00:00:00Z", "alloc": {}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	db := storage.NewMemDB()
	defer db.Close()
	manager := state.NewManager(db)
	evts, err := Apply(manager, spec)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("expected no events")
	}
	if ok, _ := manager.KVGet([]byte("treasury/record"), nil); ok {
		t.Fatalf("treasury must stay uninitialized")
	}
}

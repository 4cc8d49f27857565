package hunter

import (
	"errors"
	"testing"

	"openbounty/core/state"
	"openbounty/crypto"
	"openbounty/storage"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tx := state.NewManager(db).Begin()
	t.Cleanup(tx.Discard)
	ledger := NewLedger(tx)
	ledger.SetNowFunc(func() int64 { return 42 })
	return ledger
}

func TestCreateAndRecordWins(t *testing.T) {
	ledger := newLedger(t)
	wallet := crypto.DeriveAddress([]byte("wallet"))

	if _, ok, err := ledger.Get(wallet); err != nil || ok {
		t.Fatalf("expected no profile, ok=%v err=%v", ok, err)
	}
	profile, err := ledger.Create(wallet)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if profile.BountiesCompleted != 0 || profile.CreatedAt != 42 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Address() != crypto.ProfileAddress(wallet) {
		t.Fatalf("profile address mismatch")
	}
	for i := 0; i < 3; i++ {
		if _, err := ledger.RecordWin(wallet); err != nil {
			t.Fatalf("record win: %v", err)
		}
	}
	loaded, ok, err := ledger.Get(wallet)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if loaded.BountiesCompleted != 3 {
		t.Fatalf("expected 3 wins, got %d", loaded.BountiesCompleted)
	}
}

func TestCreateTwiceFails(t *testing.T) {
	ledger := newLedger(t)
	wallet := crypto.DeriveAddress([]byte("wallet"))
	if _, err := ledger.Create(wallet); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ledger.Create(wallet); !errors.Is(err, ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
}

func TestRecordWinRequiresProfile(t *testing.T) {
	ledger := newLedger(t)
	if _, err := ledger.RecordWin(crypto.DeriveAddress([]byte("nobody"))); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

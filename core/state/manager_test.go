package state

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

func addr(fill byte) crypto.Address {
	var a crypto.Address
	for i := range a {
		a[i] = fill
	}
	return a
}

type record struct {
	Name  string
	Count uint64
}

func TestUpdateCommitsAtomically(t *testing.T) {
	mgr := newTestManager(t)
	owner := addr(0x01)

	_, err := mgr.Update([]crypto.Address{owner}, func(tx *Tx) error {
		if err := tx.PutAccount(owner, &types.Account{Balance: big.NewInt(50)}); err != nil {
			return err
		}
		return tx.KVPut([]byte("record/a"), &record{Name: "a", Count: 1})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	account, err := mgr.GetAccount(owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected balance 50, got %s", account.Balance)
	}
	var rec record
	ok, err := mgr.KVGet([]byte("record/a"), &rec)
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if rec.Name != "a" || rec.Count != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	mgr := newTestManager(t)
	owner := addr(0x02)
	boom := errors.New("boom")

	evts, err := mgr.Update([]crypto.Address{owner}, func(tx *Tx) error {
		if err := tx.PutAccount(owner, &types.Account{Balance: big.NewInt(10)}); err != nil {
			return err
		}
		tx.Emit(&types.Event{Type: "never"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("rolled back update must not return events")
	}
	account, err := mgr.GetAccount(owner)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.Sign() != 0 {
		t.Fatalf("expected untouched balance, got %s", account.Balance)
	}
}

func TestTxReadsOwnWrites(t *testing.T) {
	mgr := newTestManager(t)
	owner := addr(0x03)
	tx := mgr.Begin()
	if err := tx.PutAccount(owner, &types.Account{Nonce: 4, Balance: big.NewInt(7)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	account, err := tx.GetAccount(owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Nonce != 4 || account.Balance.Int64() != 7 {
		t.Fatalf("overlay read mismatch: %+v", account)
	}
	committed, err := mgr.GetAccount(owner)
	if err != nil {
		t.Fatalf("get committed: %v", err)
	}
	if committed.Nonce != 0 {
		t.Fatalf("uncommitted write leaked")
	}
	tx.Discard()
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected ErrTxClosed, got %v", err)
	}
}

func TestPutAccountRejectsInvalidBalances(t *testing.T) {
	mgr := newTestManager(t)
	tx := mgr.Begin()
	defer tx.Discard()

	if err := tx.PutAccount(addr(0x04), &types.Account{Balance: big.NewInt(-1)}); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := tx.PutAccount(addr(0x04), &types.Account{Balance: huge}); err == nil {
		t.Fatalf("expected oversized balance to be rejected")
	}
}

func TestKVIterateByPrefix(t *testing.T) {
	mgr := newTestManager(t)
	_, err := mgr.Update(nil, func(tx *Tx) error {
		for i, name := range []string{"x", "y", "z"} {
			if err := tx.KVPut([]byte("item/"+name), &record{Name: name, Count: uint64(i)}); err != nil {
				return err
			}
		}
		return tx.KVPut([]byte("other/x"), &record{Name: "other"})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	var names []string
	err = mgr.KVIterate([]byte("item/"), func(_ []byte, decode func(interface{}) error) bool {
		var rec record
		if err := decode(&rec); err != nil {
			t.Fatalf("decode: %v", err)
		}
		names = append(names, rec.Name)
		return true
	})
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(names) != 3 || names[0] != "x" || names[2] != "z" {
		t.Fatalf("unexpected iteration result: %v", names)
	}
}

func TestUpdateEventsReturnedAfterCommit(t *testing.T) {
	mgr := newTestManager(t)
	evts, err := mgr.Update(nil, func(tx *Tx) error {
		tx.Emit(&types.Event{Type: "first"})
		tx.Emit(&types.Event{Type: "second"})
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(evts) != 2 || evts[0].EventType() != "first" || evts[1].EventType() != "second" {
		t.Fatalf("unexpected events: %v", evts)
	}
}

func TestConcurrentUpdatesSerializePerAddress(t *testing.T) {
	mgr := newTestManager(t)
	shared := addr(0x05)
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			own := addr(byte(0x10 + i))
			_, err := mgr.Update([]crypto.Address{own, shared}, func(tx *Tx) error {
				account, err := tx.GetAccount(shared)
				if err != nil {
					return err
				}
				account.Balance.Add(account.Balance, big.NewInt(1))
				return tx.PutAccount(shared, account)
			})
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	account, err := mgr.GetAccount(shared)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.Balance.Int64() != workers {
		t.Fatalf("expected %d increments, got %s", workers, account.Balance)
	}
	if size := mgr.Locks().Size(); size != 0 {
		t.Fatalf("expected lock table to drain, %d entries remain", size)
	}
}

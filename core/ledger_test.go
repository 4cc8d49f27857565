package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"openbounty/core/events"
	"openbounty/core/state"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bounty"
	"openbounty/native/fees"
	"openbounty/native/hunter"
	"openbounty/native/treasury"
	"openbounty/storage"
)

const ledgerStart int64 = 1_750_000_000

type captured struct {
	mu    sync.Mutex
	types []string
}

func (c *captured) Emit(evt events.Event) {
	c.mu.Lock()
	c.types = append(c.types, evt.EventType())
	c.mu.Unlock()
}

func (c *captured) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.types...)
}

func newTestLedger(t *testing.T) (*Ledger, *int64) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	ledger := NewLedger(state.NewManager(db))
	now := ledgerStart
	ledger.SetNowFunc(func() int64 { return now })
	ledger.EnableFaucet(nil)
	return ledger, &now
}

func wallet(name string) crypto.Address {
	return crypto.DeriveAddress([]byte("wallet"), []byte(name))
}

func mustInit(t *testing.T, l *Ledger) {
	t.Helper()
	if _, err := l.InitializeTreasury(wallet("authority")); err != nil {
		t.Fatalf("initialize treasury: %v", err)
	}
}

func mustFund(t *testing.T, l *Ledger, addr crypto.Address, amount *big.Int) {
	t.Helper()
	if _, err := l.Airdrop(addr, amount); err != nil {
		t.Fatalf("airdrop: %v", err)
	}
}

func TestLedgerEndToEnd(t *testing.T) {
	l, now := newTestLedger(t)
	sink := &captured{}
	l.Subscribe(sink)
	mustInit(t, l)

	company := wallet("acme")
	hunterWallet := wallet("alice")
	mustFund(t, l, company, big.NewInt(10*fees.UnitsPerCoin))

	created, err := l.CreateBounty(company, "fix-login-bug", big.NewInt(3*fees.UnitsPerCoin), nil)
	if err != nil {
		t.Fatalf("create bounty: %v", err)
	}
	if created.ExpiryTimestamp != uint64(ledgerStart)+bounty.EscrowExpiry {
		t.Fatalf("unexpected expiry %d", created.ExpiryTimestamp)
	}
	byKey, err := l.BountyFor(company, "fix-login-bug")
	if err != nil || byKey.Address != created.Address {
		t.Fatalf("lookup by company and description failed: %v", err)
	}

	if _, err := l.SelectWinner(company, created.Address, hunterWallet, "pr-7"); !errors.Is(err, bounty.ErrWinnerProfileMissing) {
		t.Fatalf("expected WinnerProfileMissing, got %v", err)
	}
	if _, err := l.CreateHunterProfile(hunterWallet); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	*now += 86_400
	completed, err := l.SelectWinner(company, created.Address, hunterWallet, "pr-7")
	if err != nil {
		t.Fatalf("select winner: %v", err)
	}
	if !completed.Completed || completed.Winner != hunterWallet {
		t.Fatalf("unexpected bounty after selection: %+v", completed)
	}

	account, err := l.Account(hunterWallet)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.Balance.Cmp(big.NewInt(2_970_000_000)) != 0 {
		t.Fatalf("expected payout 2.97 coins, got %s", account.Balance)
	}
	view, err := l.Treasury()
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	wantTreasury := new(big.Int).Add(fees.CreationFee(), big.NewInt(30_000_000))
	if view.Balance.Cmp(wantTreasury) != 0 {
		t.Fatalf("expected treasury balance %s, got %s", wantTreasury, view.Balance)
	}
	if view.Record.TotalBountiesCreated != 1 || view.Record.TotalBountiesCompleted != 1 {
		t.Fatalf("unexpected treasury counters: %+v", view.Record)
	}
	profile, err := l.HunterProfile(hunterWallet)
	if err != nil || profile.BountiesCompleted != 1 {
		t.Fatalf("expected one win, got %+v err=%v", profile, err)
	}
	if _, err := l.ReclaimExpiredBounty(wallet("anyone"), created.Address); !errors.Is(err, bounty.ErrBountyAlreadyCompleted) {
		t.Fatalf("expected BountyAlreadyCompleted, got %v", err)
	}

	want := []string{
		treasury.EventTypeTreasuryInitialized,
		bounty.EventTypeBountyCreated,
		hunter.EventTypeProfileCreated,
		bounty.EventTypeBountyCompleted,
	}
	got := sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLedgerFailedOperationIsAtomic(t *testing.T) {
	l, _ := newTestLedger(t)
	sink := &captured{}
	l.Subscribe(sink)
	mustInit(t, l)
	company := wallet("poor")
	mustFund(t, l, company, big.NewInt(500))

	if _, err := l.CreateBounty(company, "too-big", big.NewInt(500), nil); ErrorKind(err) != "InsufficientFunds" {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	account, _ := l.Account(company)
	if account.Balance.Int64() != 500 {
		t.Fatalf("failed creation moved funds: %s", account.Balance)
	}
	if _, err := l.BountyFor(company, "too-big"); !errors.Is(err, bounty.ErrBountyNotFound) {
		t.Fatalf("failed creation left a record: %v", err)
	}
	view, _ := l.Treasury()
	if view.Record.TotalBountiesCreated != 0 || view.Balance.Sign() != 0 {
		t.Fatalf("failed creation touched the treasury")
	}
	for _, evt := range sink.snapshot() {
		if evt == bounty.EventTypeBountyCreated {
			t.Fatalf("failed creation emitted an event")
		}
	}
}

func TestLedgerReclaimLifecycle(t *testing.T) {
	l, now := newTestLedger(t)
	mustInit(t, l)
	company := wallet("acme")
	mustFund(t, l, company, big.NewInt(fees.UnitsPerCoin))

	b, err := l.CreateBounty(company, "stale", big.NewInt(5), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.ReclaimExpiredBounty(wallet("sweeper"), b.Address); !errors.Is(err, bounty.ErrBountyNotExpired) {
		t.Fatalf("expected BountyNotExpired, got %v", err)
	}
	_, escrow, err := l.BountyWithEscrow(b.Address)
	if err != nil || escrow.Int64() != 5 {
		t.Fatalf("escrow must stay funded, got %v err=%v", escrow, err)
	}

	*now = int64(b.ExpiryTimestamp)
	before, _ := l.Account(company)
	reclaimed, err := l.ReclaimExpiredBounty(wallet("sweeper"), b.Address)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !reclaimed.Expired {
		t.Fatalf("expected expired bounty")
	}
	after, _ := l.Account(company)
	if new(big.Int).Sub(after.Balance, before.Balance).Int64() != 5 {
		t.Fatalf("company not refunded")
	}
	if _, err := l.ReclaimExpiredBounty(wallet("sweeper"), b.Address); !errors.Is(err, bounty.ErrBountyAlreadyExpired) {
		t.Fatalf("expected BountyAlreadyExpired, got %v", err)
	}
	view, _ := l.Treasury()
	if view.Record.TotalExpiredFundsReclaimed.Int64() != 5 {
		t.Fatalf("reclaim total must count once, got %s", view.Record.TotalExpiredFundsReclaimed)
	}
	if _, err := l.ReclaimExpiredBounty(wallet("sweeper"), wallet("missing")); !errors.Is(err, bounty.ErrBountyNotFound) {
		t.Fatalf("expected BountyNotFound, got %v", err)
	}
}

func TestLedgerConcurrentBountiesKeepTreasuryExact(t *testing.T) {
	l, _ := newTestLedger(t)
	mustInit(t, l)
	const n = 24
	prize := big.NewInt(1_000_000)
	winner := wallet("winner")
	if _, err := l.CreateHunterProfile(winner); err != nil {
		t.Fatalf("profile: %v", err)
	}
	companies := make([]crypto.Address, n)
	for i := range companies {
		companies[i] = wallet(fmt.Sprintf("company-%d", i))
		mustFund(t, l, companies[i], big.NewInt(fees.UnitsPerCoin))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := l.CreateBounty(companies[i], "task", prize, nil)
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			if _, err := l.SelectWinner(companies[i], b.Address, winner, ""); err != nil {
				t.Errorf("select %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	view, err := l.Treasury()
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	if view.Record.TotalBountiesCreated != n || view.Record.TotalBountiesCompleted != n {
		t.Fatalf("lost counter updates: %+v", view.Record)
	}
	feePer := big.NewInt(10_000)
	wantFees := new(big.Int).Mul(feePer, big.NewInt(n))
	if view.Record.TotalFeesCollected.Cmp(wantFees) != 0 {
		t.Fatalf("expected fees %s, got %s", wantFees, view.Record.TotalFeesCollected)
	}
	wantBalance := new(big.Int).Add(wantFees, new(big.Int).Mul(fees.CreationFee(), big.NewInt(n)))
	if view.Balance.Cmp(wantBalance) != 0 {
		t.Fatalf("expected treasury balance %s, got %s", wantBalance, view.Balance)
	}
	profile, err := l.HunterProfile(winner)
	if err != nil || profile.BountiesCompleted != n {
		t.Fatalf("expected %d wins, got %+v err=%v", n, profile, err)
	}
	account, _ := l.Account(winner)
	wantPayout := new(big.Int).Mul(big.NewInt(990_000), big.NewInt(n))
	if account.Balance.Cmp(wantPayout) != 0 {
		t.Fatalf("expected payouts %s, got %s", wantPayout, account.Balance)
	}
}

func TestLedgerConcurrentSelectionOnSameBountyPaysOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	mustInit(t, l)
	company := wallet("acme")
	mustFund(t, l, company, big.NewInt(fees.UnitsPerCoin))
	b, err := l.CreateBounty(company, "race", big.NewInt(10_000), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	hunters := []crypto.Address{wallet("h1"), wallet("h2"), wallet("h3"), wallet("h4")}
	for _, h := range hunters {
		if _, err := l.CreateHunterProfile(h); err != nil {
			t.Fatalf("profile: %v", err)
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		closed    int
	)
	for _, h := range hunters {
		wg.Add(1)
		go func(h crypto.Address) {
			defer wg.Done()
			_, err := l.SelectWinner(company, b.Address, h, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, bounty.ErrBountyExpiredOrClosed):
				closed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(h)
	}
	wg.Wait()
	if successes != 1 || closed != len(hunters)-1 {
		t.Fatalf("expected exactly one payout, got %d successes %d closed", successes, closed)
	}
	view, _ := l.Treasury()
	if view.Record.TotalBountiesCompleted != 1 {
		t.Fatalf("completed counter must move once, got %d", view.Record.TotalBountiesCompleted)
	}
}

func TestLedgerBountiesFilter(t *testing.T) {
	l, now := newTestLedger(t)
	mustInit(t, l)
	acme, globex := wallet("acme"), wallet("globex")
	mustFund(t, l, acme, big.NewInt(fees.UnitsPerCoin))
	mustFund(t, l, globex, big.NewInt(fees.UnitsPerCoin))
	h := wallet("hunter")
	if _, err := l.CreateHunterProfile(h); err != nil {
		t.Fatalf("profile: %v", err)
	}

	first, _ := l.CreateBounty(acme, "a1", big.NewInt(100), nil)
	*now += 10
	if _, err := l.CreateBounty(acme, "a2", big.NewInt(100), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	*now += 10
	if _, err := l.CreateBounty(globex, "g1", big.NewInt(100), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.SelectWinner(acme, first.Address, h, ""); err != nil {
		t.Fatalf("select: %v", err)
	}

	all, err := l.Bounties(BountyFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 bounties, got %d err=%v", len(all), err)
	}
	if all[0].DescriptionHash != "a1" || all[2].DescriptionHash != "g1" {
		t.Fatalf("bounties must be oldest first")
	}
	byAcme, _ := l.Bounties(BountyFilter{Company: &acme})
	if len(byAcme) != 2 {
		t.Fatalf("expected 2 acme bounties, got %d", len(byAcme))
	}
	open := bounty.StatusOpen
	openAcme, _ := l.Bounties(BountyFilter{Company: &acme, Status: &open})
	if len(openAcme) != 1 || openAcme[0].DescriptionHash != "a2" {
		t.Fatalf("unexpected open acme bounties: %v", openAcme)
	}
	limited, _ := l.Bounties(BountyFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit not applied")
	}
}

func TestLedgerFaucetAndTreasuryGuards(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	l := NewLedger(state.NewManager(db))
	if _, err := l.Airdrop(wallet("x"), big.NewInt(1)); !errors.Is(err, ErrFaucetDisabled) {
		t.Fatalf("expected ErrFaucetDisabled, got %v", err)
	}
	l.EnableFaucet(big.NewInt(100))
	if _, err := l.Airdrop(wallet("x"), big.NewInt(101)); !errors.Is(err, ErrFaucetLimit) {
		t.Fatalf("expected ErrFaucetLimit, got %v", err)
	}
	acct, err := l.Airdrop(wallet("x"), big.NewInt(100))
	if err != nil || acct.Balance.Int64() != 100 {
		t.Fatalf("airdrop: %+v err=%v", acct, err)
	}

	if _, err := l.CreateBounty(wallet("x"), "early", big.NewInt(1), nil); ErrorKind(err) != "TreasuryNotInitialized" {
		t.Fatalf("expected TreasuryNotInitialized, got %v", err)
	}
	if _, err := l.InitializeTreasury(wallet("auth")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := l.InitializeTreasury(wallet("other")); ErrorKind(err) != "TreasuryAlreadyInitialized" {
		t.Fatalf("expected TreasuryAlreadyInitialized, got %v", err)
	}
	view, _ := l.Treasury()
	if view.Record.Authority != wallet("auth") {
		t.Fatalf("second initialization replaced the authority")
	}
	if _, err := l.HunterProfile(wallet("ghost")); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestErrorKindCoversLedgerErrors(t *testing.T) {
	cases := map[string]error{
		"InvalidNonce":           ErrInvalidNonce,
		"FaucetDisabled":         ErrFaucetDisabled,
		"UnknownTransactionType": ErrUnknownTxType,
		"BountyNotExpired":       fmt.Errorf("wrapped: %w", bounty.ErrBountyNotExpired),
		"Unauthorized":           bounty.ErrUnauthorized,
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
	if ErrorKind(types.ErrUnsigned) != "" {
		t.Fatalf("signature errors carry no ledger kind")
	}
}

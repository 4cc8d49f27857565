package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"openbounty/core/events"
	"openbounty/core/state"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bank"
	"openbounty/native/bounty"
	"openbounty/native/hunter"
	"openbounty/native/treasury"
	"openbounty/observability"
)

var (
	// ErrInvalidNonce rejects a transaction whose nonce is not the sender's
	// next nonce.
	ErrInvalidNonce = errors.New("core: invalid nonce")
	// ErrFaucetDisabled is returned by Airdrop unless the faucet is enabled.
	ErrFaucetDisabled = errors.New("core: faucet disabled")
	// ErrFaucetLimit rejects airdrops above the configured maximum.
	ErrFaucetLimit = errors.New("core: airdrop exceeds faucet limit")
	// ErrProfileNotFound marks a hunter without a profile.
	ErrProfileNotFound = hunter.ErrProfileNotFound
)

// ErrorKind returns the canonical error kind string for ledger errors.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidNonce):
		return "InvalidNonce"
	case errors.Is(err, ErrFaucetDisabled):
		return "FaucetDisabled"
	case errors.Is(err, ErrFaucetLimit):
		return "FaucetLimitExceeded"
	case errors.Is(err, ErrUnknownTxType):
		return "UnknownTransactionType"
	}
	return bounty.Kind(err)
}

// Operation names used in logs and metrics.
const (
	OpInitializeTreasury   = "initialize_treasury"
	OpCreateHunterProfile  = "create_hunter_profile"
	OpCreateBounty         = "create_bounty"
	OpSelectWinner         = "select_winner"
	OpReclaimExpiredBounty = "reclaim_expired_bounty"
	OpAirdrop              = "airdrop"
)

// Ledger is the operation layer. Every mutating call locks the addresses it
// writes, runs inside one state.Tx and commits atomically, so a failed call
// leaves no trace. Calls on disjoint write sets run concurrently; every
// fund-moving call includes the treasury and is therefore serialized on it.
type Ledger struct {
	state   *state.Manager
	fanout  *events.Fanout
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	nowFn   func() int64

	faucetEnabled bool
	faucetMax     *big.Int
}

// NewLedger wires the operation layer over a state manager.
func NewLedger(manager *state.Manager) *Ledger {
	l := &Ledger{
		state:   manager,
		fanout:  events.NewFanout(),
		logger:  slog.Default(),
		metrics: observability.Ledger(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	l.fanout.Add(metricsEmitter{metrics: l.metrics})
	manager.SetEmitter(l.fanout)
	return l
}

// State exposes the underlying state manager.
func (l *Ledger) State() *state.Manager { return l.state }

// Subscribe registers an emitter that receives every committed event in
// commit order per write set.
func (l *Ledger) Subscribe(emitter events.Emitter) {
	l.fanout.Add(emitter)
}

// SetLogger overrides the logger. Passing nil restores slog.Default().
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger
}

// SetNowFunc overrides the ledger clock. Primarily intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	l.nowFn = now
}

// EnableFaucet turns on Airdrop with the supplied per-call maximum. A nil or
// non-positive maximum leaves individual airdrops unbounded.
func (l *Ledger) EnableFaucet(max *big.Int) {
	l.faucetEnabled = true
	if max != nil && max.Sign() > 0 {
		l.faucetMax = new(big.Int).Set(max)
	}
}

func (l *Ledger) now() int64 { return l.nowFn() }

// Now returns the ledger clock in Unix seconds.
func (l *Ledger) Now() int64 { return l.nowFn() }

type metricsEmitter struct {
	metrics *observability.LedgerMetrics
}

func (m metricsEmitter) Emit(evt events.Event) {
	m.metrics.RecordEvent(evt.EventType())
}

// nonceGuard consumes the sender's nonce inside the operation's Tx so a
// rejected operation never burns it.
type nonceGuard struct {
	sender crypto.Address
	nonce  uint64
}

func (g *nonceGuard) apply(tx *state.Tx) error {
	if g == nil {
		return nil
	}
	account, err := tx.GetAccount(g.sender)
	if err != nil {
		return err
	}
	if account.Nonce != g.nonce {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, account.Nonce, g.nonce)
	}
	account = account.Clone()
	account.Nonce++
	return tx.PutAccount(g.sender, account)
}

func (l *Ledger) engine(tx *state.Tx) *bounty.Engine {
	engine := bounty.NewEngine()
	engine.SetNowFunc(l.now)
	engine.SetState(tx)
	engine.SetEmitter(&tx.Events)
	return engine
}

// run executes fn as one atomic unit over writeSet and records the outcome.
func (l *Ledger) run(op string, guard *nonceGuard, writeSet []crypto.Address, fn func(tx *state.Tx) error, attrs ...any) ([]*types.Event, error) {
	start := time.Now()
	if guard != nil {
		writeSet = append(writeSet, guard.sender)
	}
	holdsTreasury := false
	for _, addr := range writeSet {
		if addr == treasury.Address() {
			holdsTreasury = true
		}
	}
	var totals *treasury.Treasury
	committed, err := l.state.Update(writeSet, func(tx *state.Tx) error {
		if err := guard.apply(tx); err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			return err
		}
		if holdsTreasury {
			if record, err := treasury.NewLedger(tx).Get(); err == nil {
				totals = record
			}
		}
		return nil
	})
	if err != nil {
		kind := ErrorKind(err)
		l.metrics.ObserveOperation(op, kind, time.Since(start))
		l.logger.Debug("ledger operation rejected", append([]any{"op", op, "kind", kind, "error", err}, attrs...)...)
		return nil, err
	}
	l.metrics.ObserveOperation(op, "ok", time.Since(start))
	if totals != nil {
		l.metrics.SetTreasuryTotals(totals.TotalBountiesCreated, totals.TotalBountiesCompleted, totals.TotalFeesCollected, totals.TotalExpiredFundsReclaimed)
	}
	l.logger.Info("ledger operation committed", append([]any{"op", op, "events", len(committed)}, attrs...)...)

	out := make([]*types.Event, 0, len(committed))
	for _, evt := range committed {
		if payload, ok := events.Payload(evt); ok {
			out = append(out, payload)
		}
	}
	return out, nil
}

// InitializeTreasury creates the treasury singleton with authority as its
// owner. It fails if the treasury already exists.
func (l *Ledger) InitializeTreasury(authority crypto.Address) (*treasury.Treasury, error) {
	record, _, err := l.initializeTreasury(nil, authority)
	return record, err
}

func (l *Ledger) initializeTreasury(guard *nonceGuard, authority crypto.Address) (*treasury.Treasury, []*types.Event, error) {
	var record *treasury.Treasury
	evts, err := l.run(OpInitializeTreasury, guard, []crypto.Address{authority, treasury.Address()}, func(tx *state.Tx) error {
		ledger := treasury.NewLedger(tx)
		ledger.SetNowFunc(l.now)
		created, err := ledger.Initialize(authority)
		if err != nil {
			return err
		}
		record = created
		tx.Emit(treasury.NewInitializedEvent(created))
		return nil
	}, "caller", authority.String())
	return record, evts, err
}

// CreateHunterProfile registers wallet as a hunter eligible to win bounties.
func (l *Ledger) CreateHunterProfile(wallet crypto.Address) (*hunter.Profile, error) {
	profile, _, err := l.createHunterProfile(nil, wallet)
	return profile, err
}

func (l *Ledger) createHunterProfile(guard *nonceGuard, wallet crypto.Address) (*hunter.Profile, []*types.Event, error) {
	var profile *hunter.Profile
	evts, err := l.run(OpCreateHunterProfile, guard, []crypto.Address{wallet, crypto.ProfileAddress(wallet)}, func(tx *state.Tx) error {
		ledger := hunter.NewLedger(tx)
		ledger.SetNowFunc(l.now)
		created, err := ledger.Create(wallet)
		if err != nil {
			return err
		}
		profile = created
		tx.Emit(hunter.NewProfileCreatedEvent(created))
		return nil
	}, "hunter", wallet.String())
	return profile, evts, err
}

// CreateBounty escrows prize from company into a new bounty keyed by
// descriptionHash. deadline is optional and informational.
func (l *Ledger) CreateBounty(company crypto.Address, descriptionHash string, prize *big.Int, deadline *int64) (*bounty.Bounty, error) {
	b, _, err := l.createBounty(nil, company, descriptionHash, prize, deadline)
	return b, err
}

func (l *Ledger) createBounty(guard *nonceGuard, company crypto.Address, descriptionHash string, prize *big.Int, deadline *int64) (*bounty.Bounty, []*types.Event, error) {
	addr := crypto.BountyAddress(company, descriptionHash)
	var created *bounty.Bounty
	evts, err := l.run(OpCreateBounty, guard, []crypto.Address{company, addr, treasury.Address()}, func(tx *state.Tx) error {
		b, err := l.engine(tx).Create(company, descriptionHash, prize, deadline)
		if err != nil {
			return err
		}
		created = b
		return nil
	}, "company", company.String(), "bounty", addr.String(), "amount", amountString(prize))
	return created, evts, err
}

// SelectWinner pays out bountyAddr to winner on behalf of caller, which must
// be the bounty company.
func (l *Ledger) SelectWinner(caller, bountyAddr, winner crypto.Address, submissionRef string) (*bounty.Bounty, error) {
	b, _, err := l.selectWinner(nil, caller, bountyAddr, winner, submissionRef)
	return b, err
}

func (l *Ledger) selectWinner(guard *nonceGuard, caller, bountyAddr, winner crypto.Address, submissionRef string) (*bounty.Bounty, []*types.Event, error) {
	writeSet := []crypto.Address{caller, bountyAddr, winner, crypto.ProfileAddress(winner), treasury.Address()}
	var completed *bounty.Bounty
	evts, err := l.run(OpSelectWinner, guard, writeSet, func(tx *state.Tx) error {
		b, err := l.engine(tx).SelectWinner(caller, bountyAddr, winner, submissionRef)
		if err != nil {
			return err
		}
		completed = b
		return nil
	}, "caller", caller.String(), "bounty", bountyAddr.String(), "winner", winner.String())
	return completed, evts, err
}

// ReclaimExpiredBounty sweeps an expired bounty's escrow back to its company.
// Any caller may trigger it.
func (l *Ledger) ReclaimExpiredBounty(caller, bountyAddr crypto.Address) (*bounty.Bounty, error) {
	b, _, err := l.reclaimExpiredBounty(nil, caller, bountyAddr)
	return b, err
}

func (l *Ledger) reclaimExpiredBounty(guard *nonceGuard, caller, bountyAddr crypto.Address) (*bounty.Bounty, []*types.Event, error) {
	// The refund recipient is part of the write set. The company of a bounty
	// never changes, so reading it before locking is safe.
	existing, err := l.Bounty(bountyAddr)
	if err != nil {
		l.metrics.ObserveOperation(OpReclaimExpiredBounty, ErrorKind(err), 0)
		return nil, nil, err
	}
	writeSet := []crypto.Address{caller, bountyAddr, existing.Company, treasury.Address()}
	var reclaimed *bounty.Bounty
	evts, err := l.run(OpReclaimExpiredBounty, guard, writeSet, func(tx *state.Tx) error {
		b, err := l.engine(tx).ReclaimExpired(caller, bountyAddr)
		if err != nil {
			return err
		}
		reclaimed = b
		return nil
	}, "caller", caller.String(), "bounty", bountyAddr.String())
	return reclaimed, evts, err
}

// Airdrop credits amount to an account when the development faucet is
// enabled.
func (l *Ledger) Airdrop(to crypto.Address, amount *big.Int) (*types.Account, error) {
	if !l.faucetEnabled {
		return nil, ErrFaucetDisabled
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("core: airdrop amount must be positive")
	}
	if l.faucetMax != nil && amount.Cmp(l.faucetMax) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrFaucetLimit, amount, l.faucetMax)
	}
	var account *types.Account
	_, err := l.run(OpAirdrop, nil, []crypto.Address{to}, func(tx *state.Tx) error {
		if err := bank.Credit(tx, to, amount); err != nil {
			return err
		}
		updated, err := tx.GetAccount(to)
		if err != nil {
			return err
		}
		account = updated.Clone()
		return nil
	}, "address", to.String(), "amount", amount.String())
	return account, err
}

// view runs a read against the committed state while holding readSet so the
// records it reads are mutually consistent.
func (l *Ledger) view(readSet []crypto.Address, fn func(tx *state.Tx) error) error {
	release := l.state.Locks().Acquire(readSet...)
	defer release()
	tx := l.state.Begin()
	defer tx.Discard()
	return fn(tx)
}

// TreasuryView is the treasury record plus its fee balance.
type TreasuryView struct {
	Record  *treasury.Treasury
	Address crypto.Address
	Balance *big.Int
}

// Treasury returns the treasury record and its fee balance.
func (l *Ledger) Treasury() (*TreasuryView, error) {
	var view *TreasuryView
	err := l.view([]crypto.Address{treasury.Address()}, func(tx *state.Tx) error {
		record, err := treasury.NewLedger(tx).Get()
		if err != nil {
			return err
		}
		balance, err := bank.Balance(tx, treasury.Address())
		if err != nil {
			return err
		}
		view = &TreasuryView{Record: record, Address: treasury.Address(), Balance: balance}
		return nil
	})
	return view, err
}

// Bounty returns the bounty stored at addr.
func (l *Ledger) Bounty(addr crypto.Address) (*bounty.Bounty, error) {
	b, _, err := l.BountyWithEscrow(addr)
	return b, err
}

// BountyWithEscrow returns the bounty stored at addr and its escrow balance.
func (l *Ledger) BountyWithEscrow(addr crypto.Address) (*bounty.Bounty, *big.Int, error) {
	var (
		found   *bounty.Bounty
		escrow  *big.Int
		viewErr error
	)
	viewErr = l.view([]crypto.Address{addr}, func(tx *state.Tx) error {
		engine := bounty.NewEngine()
		engine.SetState(tx)
		b, err := engine.Get(addr)
		if err != nil {
			return err
		}
		balance, err := bank.Balance(tx, addr)
		if err != nil {
			return err
		}
		found, escrow = b, balance
		return nil
	})
	return found, escrow, viewErr
}

// BountyFor resolves a bounty by its company and description key.
func (l *Ledger) BountyFor(company crypto.Address, descriptionHash string) (*bounty.Bounty, error) {
	return l.Bounty(crypto.BountyAddress(company, descriptionHash))
}

// HunterProfile returns the profile of wallet.
func (l *Ledger) HunterProfile(wallet crypto.Address) (*hunter.Profile, error) {
	var profile *hunter.Profile
	err := l.view([]crypto.Address{crypto.ProfileAddress(wallet)}, func(tx *state.Tx) error {
		found, ok, err := hunter.NewLedger(tx).Get(wallet)
		if err != nil {
			return err
		}
		if !ok {
			return ErrProfileNotFound
		}
		profile = found
		return nil
	})
	return profile, err
}

// Account returns the balance and nonce held at addr.
func (l *Ledger) Account(addr crypto.Address) (*types.Account, error) {
	return l.state.GetAccount(addr)
}

// BountyFilter narrows Bounties. Zero values match everything.
type BountyFilter struct {
	Company *crypto.Address
	Status  *bounty.Status
	Limit   int
}

// Bounties lists stored bounties oldest first.
func (l *Ledger) Bounties(filter BountyFilter) ([]*bounty.Bounty, error) {
	var (
		out     []*bounty.Bounty
		iterErr error
	)
	err := l.state.KVIterate(bounty.RecordPrefix(), func(_ []byte, decode func(interface{}) error) bool {
		var b bounty.Bounty
		if err := decode(&b); err != nil {
			iterErr = fmt.Errorf("core: decode bounty: %w", err)
			return false
		}
		if filter.Company != nil && b.Company != *filter.Company {
			return true
		}
		if filter.Status != nil && b.Status() != *filter.Status {
			return true
		}
		out = append(out, b.Clone())
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Address.Hex() < out[j].Address.Hex()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package bounty

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"openbounty/core/events"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bank"
	"openbounty/native/fees"
	"openbounty/native/hunter"
	"openbounty/native/treasury"
)

var recordPrefix = []byte("bounty/record/")

// RecordPrefix is the key prefix shared by every stored bounty.
func RecordPrefix() []byte {
	out := make([]byte, len(recordPrefix))
	copy(out, recordPrefix)
	return out
}

func recordKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", recordPrefix, addr[:]))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Engine runs the bounty state machine against a state transaction. It never
// commits; the caller owns atomicity and applies or discards the transaction
// as a whole.
type Engine struct {
	state    engineState
	treasury *treasury.Ledger
	profiles *hunter.Ledger
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a bounty engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.treasury = treasury.NewLedger(state)
	e.profiles = hunter.NewLedger(state)
	e.treasury.SetNowFunc(e.nowFn)
	e.profiles.SetNowFunc(e.nowFn)
}

// SetNowFunc overrides the ledger clock. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	e.nowFn = now
	if e.treasury != nil {
		e.treasury.SetNowFunc(now)
	}
	if e.profiles != nil {
		e.profiles.SetNowFunc(now)
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: event})
}

func (e *Engine) now() (uint64, error) {
	ts := e.nowFn()
	if ts < 0 {
		return 0, errClockBeforeEpoch
	}
	return uint64(ts), nil
}

// Get loads the bounty stored at addr.
func (e *Engine) Get(addr crypto.Address) (*Bounty, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var stored Bounty
	ok, err := e.state.KVGet(recordKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBountyNotFound
	}
	return stored.Clone(), nil
}

func (e *Engine) store(b *Bounty) error {
	return e.state.KVPut(recordKey(b.Address), b.Clone())
}

// ValidateDescriptionHash checks the description key used in address
// derivation.
func ValidateDescriptionHash(hash string) error {
	if len(hash) == 0 || len(hash) > MaxDescriptionHashLen {
		return fmt.Errorf("%w: length %d not in 1..%d", ErrInvalidDescriptionHash, len(hash), MaxDescriptionHashLen)
	}
	return nil
}

// Create funds a new bounty escrow from the company's balance and charges the
// flat creation fee to the treasury. deadline is informational; it never moves
// the expiry.
func (e *Engine) Create(company crypto.Address, descriptionHash string, prize *big.Int, deadline *int64) (*Bounty, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.treasury.Get()
	if err != nil {
		return nil, err
	}
	if err := ValidateDescriptionHash(descriptionHash); err != nil {
		return nil, err
	}
	if prize == nil || prize.Sign() <= 0 {
		return nil, ErrInvalidPrizeAmount
	}
	if deadline != nil && *deadline < 0 {
		return nil, ErrInvalidDeadline
	}
	addr := crypto.BountyAddress(company, descriptionHash)
	if _, err := e.Get(addr); err == nil {
		return nil, ErrBountyAlreadyExists
	} else if !errors.Is(err, ErrBountyNotFound) {
		return nil, err
	}

	creationFee := fees.CreationFee()
	required := new(big.Int).Add(prize, creationFee)
	balance, err := bank.Balance(e.state, company)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: need %s (prize %s + fee %s), have %s", bank.ErrInsufficientFunds, required, prize, creationFee, balance)
	}

	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if now > math.MaxUint64-EscrowExpiry {
		return nil, ErrArithmeticOverflow
	}
	b := &Bounty{
		Address:         addr,
		Company:         company,
		DescriptionHash: descriptionHash,
		PrizeAmount:     new(big.Int).Set(prize),
		CreatedAt:       now,
		ExpiryTimestamp: now + EscrowExpiry,
		ReclaimedAmount: big.NewInt(0),
	}
	if deadline != nil {
		b.HasDeadline = true
		b.DeadlineTimestamp = uint64(*deadline)
	}

	if err := bank.Transfer(e.state, company, addr, b.PrizeAmount); err != nil {
		return nil, err
	}
	if err := bank.Transfer(e.state, company, treasury.Address(), creationFee); err != nil {
		return nil, err
	}
	if err := record.RecordCreated(); err != nil {
		return nil, err
	}
	if err := e.treasury.Put(record); err != nil {
		return nil, err
	}
	if err := e.store(b); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(b, creationFee))
	return b, nil
}

// SelectWinner pays the escrowed prize to winner minus the platform fee and
// closes the bounty. Only the bounty company may call it, strictly before the
// expiry, and only for a winner holding a hunter profile.
func (e *Engine) SelectWinner(caller, bountyAddr, winner crypto.Address, submissionRef string) (*Bounty, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(submissionRef) > MaxSubmissionRefLen {
		return nil, ErrInvalidSubmissionRef
	}
	b, err := e.Get(bountyAddr)
	if err != nil {
		return nil, err
	}
	if caller != b.Company {
		return nil, ErrUnauthorized
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if b.Terminal() || b.ExpiredAt(now) {
		return nil, ErrBountyExpiredOrClosed
	}
	if _, ok, err := e.profiles.Get(winner); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrWinnerProfileMissing
	}
	record, err := e.treasury.Get()
	if err != nil {
		return nil, err
	}

	fee, payout, err := fees.PlatformSplit(b.PrizeAmount)
	if err != nil {
		return nil, err
	}
	escrowed, err := bank.Balance(e.state, bountyAddr)
	if err != nil {
		return nil, err
	}
	if escrowed.Cmp(b.PrizeAmount) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", errEscrowShortfall, escrowed, b.PrizeAmount)
	}
	if err := bank.Transfer(e.state, bountyAddr, winner, payout); err != nil {
		return nil, err
	}
	if err := bank.Transfer(e.state, bountyAddr, treasury.Address(), fee); err != nil {
		return nil, err
	}
	// Credits beyond the prize return to the company; the escrow ends empty.
	surplus := new(big.Int).Sub(escrowed, b.PrizeAmount)
	if surplus.Sign() > 0 {
		if err := bank.Transfer(e.state, bountyAddr, b.Company, surplus); err != nil {
			return nil, err
		}
	}
	if _, err := e.profiles.RecordWin(winner); err != nil {
		return nil, err
	}
	if err := record.RecordCompleted(fee); err != nil {
		return nil, err
	}
	if err := e.treasury.Put(record); err != nil {
		return nil, err
	}

	b.Completed = true
	b.Winner = winner
	b.SubmissionRef = submissionRef
	b.ClosedAt = now
	if err := e.store(b); err != nil {
		return nil, err
	}
	e.emit(NewCompletedEvent(b, payout, fee, surplus))
	return b, nil
}

// ReclaimExpired sweeps the full escrow balance of an expired, un-awarded
// bounty back to its company. Any caller may trigger it.
func (e *Engine) ReclaimExpired(caller, bountyAddr crypto.Address) (*Bounty, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	b, err := e.Get(bountyAddr)
	if err != nil {
		return nil, err
	}
	if b.Completed {
		return nil, ErrBountyAlreadyCompleted
	}
	if b.Expired {
		return nil, ErrBountyAlreadyExpired
	}
	now, err := e.now()
	if err != nil {
		return nil, err
	}
	if !b.ExpiredAt(now) {
		return nil, ErrBountyNotExpired
	}
	record, err := e.treasury.Get()
	if err != nil {
		return nil, err
	}

	swept, err := bank.Balance(e.state, bountyAddr)
	if err != nil {
		return nil, err
	}
	if err := bank.Transfer(e.state, bountyAddr, b.Company, swept); err != nil {
		return nil, err
	}
	if err := record.RecordReclaimed(swept); err != nil {
		return nil, err
	}
	if err := e.treasury.Put(record); err != nil {
		return nil, err
	}

	b.Expired = true
	b.ClosedAt = now
	b.ReclaimedAmount = swept
	if err := e.store(b); err != nil {
		return nil, err
	}
	e.emit(NewReclaimedEvent(b, caller, b.Company))
	return b, nil
}

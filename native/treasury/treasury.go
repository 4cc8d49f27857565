package treasury

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"openbounty/crypto"
)

var (
	// ErrNotInitialized is returned when the singleton has not been created.
	ErrNotInitialized = errors.New("treasury: not initialized")
	// ErrAlreadyInitialized blocks a second initialization from resetting the
	// counters.
	ErrAlreadyInitialized = errors.New("treasury: already initialized")
	// ErrOverflow marks a counter increment that would wrap.
	ErrOverflow = errors.New("treasury: arithmetic overflow")
)

var recordKey = []byte("treasury/record")

// kvStore abstracts the subset of state functionality required by the
// treasury ledger.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Treasury is the platform-wide singleton. Fee revenue itself is the balance of
// Address(); the record only tracks counters.
type Treasury struct {
	Authority                  crypto.Address
	TotalBountiesCreated       uint64
	TotalBountiesCompleted     uint64
	TotalFeesCollected         *big.Int
	TotalExpiredFundsReclaimed *big.Int
	InitializedAt              uint64
}

// Address returns the treasury account address.
func Address() crypto.Address {
	return crypto.TreasuryAddress()
}

// Clone returns a deep copy of the record.
func (t *Treasury) Clone() *Treasury {
	if t == nil {
		return nil
	}
	clone := *t
	clone.TotalFeesCollected = cloneBigInt(t.TotalFeesCollected)
	clone.TotalExpiredFundsReclaimed = cloneBigInt(t.TotalExpiredFundsReclaimed)
	return &clone
}

// RecordCreated counts a new bounty.
func (t *Treasury) RecordCreated() error {
	if t.TotalBountiesCreated == math.MaxUint64 {
		return fmt.Errorf("%w: totalBountiesCreated", ErrOverflow)
	}
	t.TotalBountiesCreated++
	return nil
}

// RecordCompleted counts a paid out bounty and the fee it produced.
func (t *Treasury) RecordCompleted(fee *big.Int) error {
	if t.TotalBountiesCompleted == math.MaxUint64 {
		return fmt.Errorf("%w: totalBountiesCompleted", ErrOverflow)
	}
	total, err := checkedAdd(t.TotalFeesCollected, fee)
	if err != nil {
		return fmt.Errorf("%w: totalFeesCollected", err)
	}
	t.TotalBountiesCompleted++
	t.TotalFeesCollected = total
	return nil
}

// RecordReclaimed adds swept escrow funds to the reclaim total.
func (t *Treasury) RecordReclaimed(amount *big.Int) error {
	total, err := checkedAdd(t.TotalExpiredFundsReclaimed, amount)
	if err != nil {
		return fmt.Errorf("%w: totalExpiredFundsReclaimed", err)
	}
	t.TotalExpiredFundsReclaimed = total
	return nil
}

func checkedAdd(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() < 0 {
		return nil, fmt.Errorf("treasury: increment must be non-negative")
	}
	x, overflow := uint256.FromBig(cloneBigInt(a))
	if overflow {
		return nil, ErrOverflow
	}
	y, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return sum.ToBig(), nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Ledger persists the treasury singleton.
type Ledger struct {
	store kvStore
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store kvStore) *Ledger {
	return &Ledger{store: store, nowFn: func() int64 { return time.Now().Unix() }}
}

// SetNowFunc overrides the clock used to stamp initialization.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// Get loads the treasury record.
func (l *Ledger) Get() (*Treasury, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("treasury: storage unavailable")
	}
	var stored Treasury
	ok, err := l.store.KVGet(recordKey, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	stored.TotalFeesCollected = cloneBigInt(stored.TotalFeesCollected)
	stored.TotalExpiredFundsReclaimed = cloneBigInt(stored.TotalExpiredFundsReclaimed)
	return &stored, nil
}

// Put persists the treasury record.
func (l *Ledger) Put(t *Treasury) error {
	if l == nil || l.store == nil {
		return errors.New("treasury: storage unavailable")
	}
	if t == nil {
		return errors.New("treasury: record required")
	}
	return l.store.KVPut(recordKey, t.Clone())
}

// Initialize creates the singleton with zero counters.
func (l *Ledger) Initialize(authority crypto.Address) (*Treasury, error) {
	if authority.IsZero() {
		return nil, errors.New("treasury: authority required")
	}
	if _, err := l.Get(); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return nil, err
	}
	now := l.nowFn()
	if now < 0 {
		return nil, errors.New("treasury: clock before epoch")
	}
	record := &Treasury{
		Authority:                  authority,
		TotalFeesCollected:         big.NewInt(0),
		TotalExpiredFundsReclaimed: big.NewInt(0),
		InitializedAt:              uint64(now),
	}
	if err := l.Put(record); err != nil {
		return nil, err
	}
	return record, nil
}

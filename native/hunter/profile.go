package hunter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"openbounty/crypto"
)

var (
	// ErrProfileExists blocks re-creating a profile.
	ErrProfileExists = errors.New("hunter: profile already exists")
	// ErrProfileNotFound marks a wallet that never created a profile.
	ErrProfileNotFound = errors.New("hunter: profile not found")
	// ErrOverflow marks a win counter that would wrap.
	ErrOverflow = errors.New("hunter: arithmetic overflow")
)

var profilePrefix = []byte("hunter/profile/")

// kvStore abstracts the subset of state functionality required by the
// profile ledger.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Profile is the per-wallet reputation record. It lives at
// crypto.ProfileAddress(Hunter).
type Profile struct {
	Hunter            crypto.Address
	BountiesCompleted uint64
	CreatedAt         uint64
}

// Address returns the derived account address of the profile.
func (p *Profile) Address() crypto.Address {
	return crypto.ProfileAddress(p.Hunter)
}

func profileKey(hunter crypto.Address) []byte {
	addr := crypto.ProfileAddress(hunter)
	return []byte(fmt.Sprintf("%s%x", profilePrefix, addr[:]))
}

// Ledger persists hunter profiles.
type Ledger struct {
	store kvStore
	nowFn func() int64
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store kvStore) *Ledger {
	return &Ledger{store: store, nowFn: func() int64 { return time.Now().Unix() }}
}

// SetNowFunc overrides the clock used to stamp profile creation.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// Get returns the profile of hunter. The boolean is false when the hunter has
// not created one.
func (l *Ledger) Get(hunter crypto.Address) (*Profile, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, errors.New("hunter: storage unavailable")
	}
	var profile Profile
	ok, err := l.store.KVGet(profileKey(hunter), &profile)
	if err != nil || !ok {
		return nil, false, err
	}
	return &profile, true, nil
}

// Create registers a profile with zero wins.
func (l *Ledger) Create(hunter crypto.Address) (*Profile, error) {
	if hunter.IsZero() {
		return nil, errors.New("hunter: address required")
	}
	_, exists, err := l.Get(hunter)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrProfileExists
	}
	now := l.nowFn()
	if now < 0 {
		return nil, errors.New("hunter: clock before epoch")
	}
	profile := &Profile{Hunter: hunter, CreatedAt: uint64(now)}
	if err := l.store.KVPut(profileKey(hunter), profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// RecordWin increments the completed bounty count of an existing profile by one.
func (l *Ledger) RecordWin(hunter crypto.Address) (*Profile, error) {
	profile, exists, err := l.Get(hunter)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrProfileNotFound
	}
	if profile.BountiesCompleted == math.MaxUint64 {
		return nil, ErrOverflow
	}
	profile.BountiesCompleted++
	if err := l.store.KVPut(profileKey(hunter), profile); err != nil {
		return nil, err
	}
	return profile, nil
}

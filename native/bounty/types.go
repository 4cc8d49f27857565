package bounty

import (
	"math/big"

	"openbounty/crypto"
)

const (
	// EscrowExpiry is the number of seconds after creation at which an
	// un-awarded bounty becomes reclaimable.
	EscrowExpiry uint64 = 15_552_000

	// MaxDescriptionHashLen bounds the description key used in address
	// derivation.
	MaxDescriptionHashLen = 32
	// MaxSubmissionRefLen bounds the opaque submission reference.
	MaxSubmissionRefLen = 128
)

// Status enumerates the lifecycle states of a bounty.
type Status uint8

const (
	StatusOpen Status = iota
	StatusCompleted
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCompleted:
		return "completed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseStatus maps a status name back to a Status.
func ParseStatus(value string) (Status, bool) {
	switch value {
	case "open":
		return StatusOpen, true
	case "completed":
		return StatusCompleted, true
	case "expired":
		return StatusExpired, true
	default:
		return 0, false
	}
}

// Bounty is the escrow record stored at crypto.BountyAddress(Company,
// DescriptionHash). The escrowed funds are the balance of that address.
type Bounty struct {
	Address           crypto.Address
	Company           crypto.Address
	DescriptionHash   string
	PrizeAmount       *big.Int
	CreatedAt         uint64
	HasDeadline       bool
	DeadlineTimestamp uint64
	ExpiryTimestamp   uint64
	Completed         bool
	Expired           bool
	Winner            crypto.Address
	SubmissionRef     string
	ClosedAt          uint64
	ReclaimedAmount   *big.Int
}

// Status derives the lifecycle state from the completion flags.
func (b *Bounty) Status() Status {
	switch {
	case b.Completed:
		return StatusCompleted
	case b.Expired:
		return StatusExpired
	default:
		return StatusOpen
	}
}

// Terminal reports whether the bounty accepts no further mutation.
func (b *Bounty) Terminal() bool {
	return b.Completed || b.Expired
}

// HasWinner reports whether a winner has been recorded.
func (b *Bounty) HasWinner() bool {
	return b.Completed && !b.Winner.IsZero()
}

// ExpiredAt reports whether ledger time now is at or past the expiry.
func (b *Bounty) ExpiredAt(now uint64) bool {
	return now >= b.ExpiryTimestamp
}

// Clone returns a deep copy of the bounty.
func (b *Bounty) Clone() *Bounty {
	if b == nil {
		return nil
	}
	clone := *b
	clone.PrizeAmount = cloneBigInt(b.PrizeAmount)
	clone.ReclaimedAmount = cloneBigInt(b.ReclaimedAmount)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

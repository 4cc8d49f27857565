package bounty

import (
	"math/big"
	"strconv"

	"openbounty/core/types"
	"openbounty/crypto"
)

const (
	EventTypeBountyCreated   = "bounty.created"
	EventTypeBountyCompleted = "bounty.completed"
	EventTypeBountyReclaimed = "bounty.reclaimed"
)

// NewCreatedEvent returns the canonical payload for a newly funded bounty.
func NewCreatedEvent(b *Bounty, creationFee *big.Int) *types.Event {
	evt := newBountyEvent(EventTypeBountyCreated, b)
	evt.Attributes["creationFee"] = amountString(creationFee)
	if b.HasDeadline {
		evt.Attributes["deadlineTimestamp"] = strconv.FormatUint(b.DeadlineTimestamp, 10)
	}
	return evt
}

// NewCompletedEvent returns the payload emitted when a winner is paid.
func NewCompletedEvent(b *Bounty, payout, fee, refund *big.Int) *types.Event {
	evt := newBountyEvent(EventTypeBountyCompleted, b)
	evt.Attributes["winner"] = b.Winner.String()
	evt.Attributes["payout"] = amountString(payout)
	evt.Attributes["fee"] = amountString(fee)
	if refund != nil && refund.Sign() > 0 {
		evt.Attributes["refund"] = amountString(refund)
	}
	evt.Attributes["submissionRef"] = b.SubmissionRef
	return evt
}

// NewReclaimedEvent returns the payload emitted when an expired escrow is
// swept.
func NewReclaimedEvent(b *Bounty, caller, recipient crypto.Address) *types.Event {
	evt := newBountyEvent(EventTypeBountyReclaimed, b)
	evt.Attributes["caller"] = caller.String()
	evt.Attributes["recipient"] = recipient.String()
	evt.Attributes["amount"] = amountString(b.ReclaimedAmount)
	return evt
}

func newBountyEvent(eventType string, b *Bounty) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"bounty":          b.Address.String(),
			"company":         b.Company.String(),
			"descriptionHash": b.DescriptionHash,
			"prizeAmount":     amountString(b.PrizeAmount),
			"createdAt":       strconv.FormatUint(b.CreatedAt, 10),
			"expiryTimestamp": strconv.FormatUint(b.ExpiryTimestamp, 10),
			"status":          b.Status().String(),
		},
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

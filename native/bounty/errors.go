package bounty

import (
	"errors"

	"openbounty/native/bank"
	"openbounty/native/hunter"
	"openbounty/native/treasury"
)

var (
	ErrInvalidPrizeAmount     = errors.New("bounty: prize amount must be positive")
	ErrBountyNotExpired       = errors.New("bounty: escrow has not expired")
	ErrBountyAlreadyCompleted = errors.New("bounty: already completed")
	ErrBountyAlreadyExpired   = errors.New("bounty: already expired")
	ErrBountyExpiredOrClosed  = errors.New("bounty: expired or closed")
	ErrWinnerProfileMissing   = errors.New("bounty: winner has no hunter profile")
	ErrUnauthorized           = errors.New("bounty: caller is not the bounty company")

	ErrBountyAlreadyExists    = errors.New("bounty: already exists")
	ErrBountyNotFound         = errors.New("bounty: not found")
	ErrInvalidDescriptionHash = errors.New("bounty: invalid description hash")
	ErrInvalidDeadline        = errors.New("bounty: deadline must be non-negative")
	ErrInvalidSubmissionRef   = errors.New("bounty: submission reference too long")
	ErrArithmeticOverflow     = errors.New("bounty: arithmetic overflow")

	errNilState         = errors.New("bounty engine: state not configured")
	errClockBeforeEpoch = errors.New("bounty engine: clock before epoch")
	errEscrowShortfall  = errors.New("bounty engine: escrow balance below prize")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidPrizeAmount, "InvalidPrizeAmount"},
	{ErrBountyNotExpired, "BountyNotExpired"},
	{ErrBountyAlreadyCompleted, "BountyAlreadyCompleted"},
	{ErrBountyAlreadyExpired, "BountyAlreadyExpired"},
	{ErrBountyExpiredOrClosed, "BountyExpiredOrClosed"},
	{ErrWinnerProfileMissing, "WinnerProfileMissing"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrBountyAlreadyExists, "BountyAlreadyExists"},
	{ErrBountyNotFound, "BountyNotFound"},
	{ErrInvalidDescriptionHash, "InvalidDescriptionHash"},
	{ErrInvalidDeadline, "InvalidDeadline"},
	{ErrInvalidSubmissionRef, "InvalidSubmissionReference"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{bank.ErrInsufficientFunds, "InsufficientFunds"},
	{treasury.ErrNotInitialized, "TreasuryNotInitialized"},
	{treasury.ErrAlreadyInitialized, "TreasuryAlreadyInitialized"},
	{treasury.ErrOverflow, "ArithmeticOverflow"},
	{hunter.ErrProfileExists, "ProfileAlreadyExists"},
	{hunter.ErrProfileNotFound, "ProfileNotFound"},
	{hunter.ErrOverflow, "ArithmeticOverflow"},
}

// Kind returns the canonical error kind of a ledger error, or the empty string
// for errors that are not part of the ledger vocabulary.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

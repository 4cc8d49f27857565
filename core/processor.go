package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bounty"
)

// ErrUnknownTxType rejects transactions of a type the ledger does not handle.
var ErrUnknownTxType = errors.New("core: unknown transaction type")

// Receipt describes a committed transaction.
type Receipt struct {
	TxHash  string         `json:"txHash"`
	Type    string         `json:"type"`
	Sender  crypto.Address `json:"sender"`
	Nonce   uint64         `json:"nonce"`
	Subject crypto.Address `json:"subject"`
	Events  []*types.Event `json:"events"`
}

// Processor authenticates signed transactions and dispatches them to the
// ledger. The recovered signer is the caller identity of the operation and its
// nonce is consumed in the same atomic unit as the operation itself.
type Processor struct {
	ledger *Ledger
}

// NewProcessor binds a processor to the ledger.
func NewProcessor(ledger *Ledger) *Processor {
	return &Processor{ledger: ledger}
}

// Apply verifies tx and runs the operation it encodes.
func (p *Processor) Apply(tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("core: transaction required")
	}
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
	}
	sender, err := tx.From()
	if err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	guard := &nonceGuard{sender: sender, nonce: tx.Nonce}
	receipt := &Receipt{
		TxHash: "0x" + hex.EncodeToString(hash),
		Type:   tx.Type.String(),
		Sender: sender,
		Nonce:  tx.Nonce,
	}

	var evts []*types.Event
	switch tx.Type {
	case types.TxTypeInitializeTreasury:
		receipt.Subject = crypto.TreasuryAddress()
		_, evts, err = p.ledger.initializeTreasury(guard, sender)

	case types.TxTypeCreateHunterProfile:
		receipt.Subject = crypto.ProfileAddress(sender)
		_, evts, err = p.ledger.createHunterProfile(guard, sender)

	case types.TxTypeCreateBounty:
		var payload types.CreateBountyPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, err
		}
		var deadline *int64
		if payload.HasDeadline {
			if payload.Deadline > math.MaxInt64 {
				return nil, bounty.ErrInvalidDeadline
			}
			value := int64(payload.Deadline)
			deadline = &value
		}
		receipt.Subject = crypto.BountyAddress(sender, payload.DescriptionHash)
		_, evts, err = p.ledger.createBounty(guard, sender, payload.DescriptionHash, payload.PrizeAmount, deadline)

	case types.TxTypeSelectWinner:
		var payload types.SelectWinnerPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, err
		}
		receipt.Subject = payload.Bounty
		_, evts, err = p.ledger.selectWinner(guard, sender, payload.Bounty, payload.Winner, payload.SubmissionRef)

	case types.TxTypeReclaimExpiredBounty:
		var payload types.ReclaimPayload
		if err := tx.DecodePayload(&payload); err != nil {
			return nil, err
		}
		receipt.Subject = payload.Bounty
		_, evts, err = p.ledger.reclaimExpiredBounty(guard, sender, payload.Bounty)
	}
	if err != nil {
		return nil, err
	}
	receipt.Events = evts
	return receipt, nil
}

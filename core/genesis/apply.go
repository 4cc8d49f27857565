package genesis

import (
	"errors"
	"fmt"

	"openbounty/core/state"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bank"
	"openbounty/native/treasury"
)

var appliedKey = []byte("genesis/applied")

// ErrAlreadyApplied is returned when the ledger already carries a genesis.
var ErrAlreadyApplied = errors.New("genesis: already applied")

type appliedMarker struct {
	GenesisTime uint64
	Accounts    uint64
}

// Applied reports whether a genesis has been written to the ledger.
func Applied(manager *state.Manager) (bool, error) {
	if manager == nil {
		return false, fmt.Errorf("genesis: state manager required")
	}
	return manager.KVGet(appliedKey, nil)
}

// Apply credits the opening balances and initializes the treasury when the
// spec names an authority. The whole genesis commits atomically, exactly once.
func Apply(manager *state.Manager, spec *Spec) ([]*types.Event, error) {
	if manager == nil {
		return nil, fmt.Errorf("genesis: state manager required")
	}
	if spec == nil {
		return nil, fmt.Errorf("genesis: spec required")
	}
	allocs := spec.Allocations()
	writeSet := make([]crypto.Address, 0, len(allocs)+1)
	for _, alloc := range allocs {
		writeSet = append(writeSet, alloc.Address)
	}
	writeSet = append(writeSet, treasury.Address())

	var applied []*types.Event
	_, err := manager.Update(writeSet, func(tx *state.Tx) error {
		exists, err := tx.KVGet(appliedKey, nil)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyApplied
		}
		for _, alloc := range allocs {
			if err := bank.Credit(tx, alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("genesis: credit %s: %w", alloc.Address, err)
			}
		}
		ts := spec.GenesisTimestamp().Unix()
		if ts < 0 {
			return fmt.Errorf("genesis: genesisTime before epoch")
		}
		if authority, ok := spec.Authority(); ok {
			ledger := treasury.NewLedger(tx)
			ledger.SetNowFunc(func() int64 { return ts })
			record, err := ledger.Initialize(authority)
			if err != nil {
				return fmt.Errorf("genesis: %w", err)
			}
			applied = append(applied, treasury.NewInitializedEvent(record))
		}
		return tx.KVPut(appliedKey, &appliedMarker{GenesisTime: uint64(ts), Accounts: uint64(len(allocs))})
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

package bank

import (
	"errors"
	"fmt"
	"math/big"

	"openbounty/core/types"
	"openbounty/crypto"
)

// ErrInsufficientFunds is returned when the source account cannot cover a
// debit.
var ErrInsufficientFunds = errors.New("bank: insufficient funds")

// accounts abstracts the account accessors of the state transaction.
type accounts interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Balance returns a copy of the balance held at addr.
func Balance(st accounts, addr crypto.Address) (*big.Int, error) {
	if st == nil {
		return nil, fmt.Errorf("bank: state required")
	}
	account, err := st.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Clone().Balance, nil
}

// Transfer moves amount from one account to another. Nothing is written when
// the source balance is insufficient.
func Transfer(st accounts, from, to crypto.Address, amount *big.Int) error {
	if st == nil {
		return fmt.Errorf("bank: state required")
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative transfer amount")
	}
	source, err := st.GetAccount(from)
	if err != nil {
		return err
	}
	source = source.Clone()
	if source.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from, source.Balance, amount)
	}
	if from == to {
		return nil
	}
	dest, err := st.GetAccount(to)
	if err != nil {
		return err
	}
	dest = dest.Clone()
	source.Balance.Sub(source.Balance, amount)
	dest.Balance.Add(dest.Balance, amount)
	if err := st.PutAccount(from, source); err != nil {
		return err
	}
	return st.PutAccount(to, dest)
}

// Credit mints amount into addr. It backs genesis allocations and the dev
// faucet; ledger operations only ever use Transfer.
func Credit(st accounts, to crypto.Address, amount *big.Int) error {
	if st == nil {
		return fmt.Errorf("bank: state required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: credit amount must be positive")
	}
	account, err := st.GetAccount(to)
	if err != nil {
		return err
	}
	account = account.Clone()
	account.Balance.Add(account.Balance, amount)
	return st.PutAccount(to, account)
}

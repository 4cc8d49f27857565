package types

import "math/big"

// Account holds the spendable balance and replay nonce of a ledger address.
// Derived accounts (treasury, bounty escrow, hunter profile) use the same
// shape; their nonce stays zero because no key can sign for them.
type Account struct {
	Nonce   uint64   `json:"nonce"`
	Balance *big.Int `json:"balance"`
}

// Clone returns a deep copy so callers can mutate it safely.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance.Set(a.Balance)
	}
	return clone
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"openbounty/core/types"
	"openbounty/crypto"
)

var accountPrefix = []byte("account/")

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+crypto.AddressLength)
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func encodeAccount(account *types.Account) ([]byte, error) {
	if account == nil {
		return nil, fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("negative balance")
	}
	if _, overflow := uint256.FromBig(balance); overflow {
		return nil, fmt.Errorf("balance overflow")
	}
	return rlp.EncodeToBytes(&storedAccount{Nonce: account.Nonce, Balance: balance})
}

func decodeAccount(data []byte) (*types.Account, error) {
	var stored storedAccount
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	account := &types.Account{Nonce: stored.Nonce, Balance: big.NewInt(0)}
	if stored.Balance != nil {
		account.Balance.Set(stored.Balance)
	}
	return account, nil
}

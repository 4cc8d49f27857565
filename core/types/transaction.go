package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"openbounty/crypto"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeInitializeTreasury   TxType = 0x01
	TxTypeCreateHunterProfile  TxType = 0x02
	TxTypeCreateBounty         TxType = 0x03
	TxTypeSelectWinner         TxType = 0x04
	TxTypeReclaimExpiredBounty TxType = 0x05
)

var txTypeNames = map[TxType]string{
	TxTypeInitializeTreasury:   "initializeTreasury",
	TxTypeCreateHunterProfile:  "createHunterProfile",
	TxTypeCreateBounty:         "createBounty",
	TxTypeSelectWinner:         "selectWinner",
	TxTypeReclaimExpiredBounty: "reclaimExpiredBounty",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

// Valid reports whether the type is one the ledger understands.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// ErrUnsigned is returned when recovering the sender of an unsigned transaction.
var ErrUnsigned = errors.New("transaction: missing signature")

// Transaction is a signed request to run one ledger operation. The signer is
// the caller identity of the operation.
type Transaction struct {
	Type    TxType `json:"type"`
	Nonce   uint64 `json:"nonce"`
	Payload []byte `json:"payload,omitempty"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from *crypto.Address
}

type txSigningData struct {
	Type    uint8
	Nonce   uint64
	Payload []byte
}

// Hash returns keccak256 over the RLP encoding of the signed fields.
func (tx *Transaction) Hash() ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(&txSigningData{Type: uint8(tx.Type), Nonce: tx.Nonce, Payload: tx.Payload})
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256(encoded), nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := ethcrypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address.
func (tx *Transaction) From() (crypto.Address, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return crypto.Address{}, ErrUnsigned
	}
	if tx.R.BitLen() > 256 || tx.S.BitLen() > 256 || !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 28 {
		return crypto.Address{}, fmt.Errorf("transaction: malformed signature")
	}
	hash, err := tx.Hash()
	if err != nil {
		return crypto.Address{}, err
	}
	sig := make([]byte, 65)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return crypto.Address{}, err
	}
	addr := crypto.PubkeyToAddress(pubKey)
	tx.from = &addr
	return addr, nil
}

// CreateBountyPayload carries createBounty arguments. Deadline is only
// meaningful when HasDeadline is set.
type CreateBountyPayload struct {
	DescriptionHash string
	PrizeAmount     *big.Int
	HasDeadline     bool
	Deadline        uint64
}

// SelectWinnerPayload carries selectWinner arguments.
type SelectWinnerPayload struct {
	Bounty        crypto.Address
	Winner        crypto.Address
	SubmissionRef string
}

// ReclaimPayload names the bounty to sweep.
type ReclaimPayload struct {
	Bounty crypto.Address
}

// EncodePayload RLP-encodes a payload struct.
func EncodePayload(payload interface{}) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return rlp.EncodeToBytes(payload)
}

// DecodePayload decodes the transaction payload into out.
func (tx *Transaction) DecodePayload(out interface{}) error {
	if len(tx.Payload) == 0 {
		return fmt.Errorf("transaction: %s requires a payload", tx.Type)
	}
	if err := rlp.DecodeBytes(tx.Payload, out); err != nil {
		return fmt.Errorf("transaction: decode %s payload: %w", tx.Type, err)
	}
	return nil
}

// NewTransaction builds an unsigned transaction with an encoded payload.
func NewTransaction(txType TxType, nonce uint64, payload interface{}) (*Transaction, error) {
	encoded, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{Type: txType, Nonce: nonce, Payload: encoded}, nil
}

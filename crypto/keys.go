package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part used when rendering addresses.
const AddressPrefix = "bnty"

// AddressLength is the byte length of every ledger address.
const AddressLength = 20

// Address identifies a key holder or a derived ledger account.
type Address [AddressLength]byte

// ZeroAddress is the unset address.
var ZeroAddress Address

// BytesToAddress copies the trailing AddressLength bytes of b into an Address.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Hex returns the 0x-prefixed hex form of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// MarshalText renders the address in bech32 form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts bech32 or 0x-prefixed hex.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a bech32 address with the ledger prefix or a 0x-prefixed
// 20-byte hex string.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Address{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("invalid hex address: %w", err)
		}
		if len(raw) != AddressLength {
			return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(raw))
		}
		return BytesToAddress(raw), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return BytesToAddress(conv), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address returns the address controlled by the key.
func (k *PrivateKey) Address() Address {
	return k.PubKey().Address()
}

func (k *PublicKey) Address() Address {
	return PubkeyToAddress(k.PublicKey)
}

// PubkeyToAddress maps a secp256k1 public key to its ledger address.
func PubkeyToAddress(pub *ecdsa.PublicKey) Address {
	return Address(crypto.PubkeyToAddress(*pub))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 private key.
func PrivateKeyFromHex(value string) (*PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

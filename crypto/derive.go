package crypto

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// derivationTag separates derived addresses from key-holder addresses, which
// are keccak256(pubkey)[12:] and never start from this preimage.
var derivationTag = []byte("openbounty/derived")

// Seed tags naming the derived account families.
var (
	SeedTreasury = []byte("treasury")
	SeedBounty   = []byte("bounty")
	SeedProfile  = []byte("profile")
)

// DeriveAddress computes a deterministic account address from seed material.
// Every seed is length-prefixed so distinct seed lists never share a preimage.
func DeriveAddress(seeds ...[]byte) Address {
	size := len(derivationTag)
	for _, seed := range seeds {
		size += 4 + len(seed)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, derivationTag...)
	var lenBuf [4]byte
	for _, seed := range seeds {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seed)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, seed...)
	}
	return BytesToAddress(crypto.Keccak256(buf))
}

// TreasuryAddress is the address of the Treasury singleton.
func TreasuryAddress() Address {
	return DeriveAddress(SeedTreasury)
}

// BountyAddress is the escrow account for a company's description key.
func BountyAddress(company Address, descriptionHash string) Address {
	return DeriveAddress(SeedBounty, company[:], []byte(descriptionHash))
}

// ProfileAddress is the hunter profile account of a wallet.
func ProfileAddress(hunter Address) Address {
	return DeriveAddress(SeedProfile, hunter[:])
}

package crypto

import (
	"bytes"
	"testing"
)

func testAddress(fill byte) Address {
	var addr Address
	copy(addr[:], bytes.Repeat([]byte{fill}, AddressLength))
	return addr
}

func TestBountyAddressDeterministic(t *testing.T) {
	company := testAddress(0x01)
	first := BountyAddress(company, "QmHash")
	second := BountyAddress(company, "QmHash")
	if first != second {
		t.Fatalf("expected identical derived addresses, got %s and %s", first, second)
	}
	if first.IsZero() {
		t.Fatalf("derived address must not be zero")
	}
}

func TestBountyAddressSeparatesInputs(t *testing.T) {
	companyA := testAddress(0x01)
	companyB := testAddress(0x02)
	cases := map[string]Address{
		"other hash":    BountyAddress(companyA, "QmOther"),
		"other company": BountyAddress(companyB, "QmHash"),
		"profile":       ProfileAddress(companyA),
		"treasury":      TreasuryAddress(),
	}
	base := BountyAddress(companyA, "QmHash")
	for name, addr := range cases {
		if addr == base {
			t.Fatalf("%s: expected distinct address", name)
		}
	}
}

func TestDeriveAddressLengthPrefixed(t *testing.T) {
	left := DeriveAddress([]byte("ab"), []byte("c"))
	right := DeriveAddress([]byte("a"), []byte("bc"))
	if left == right {
		t.Fatalf("seed boundaries must affect the derived address")
	}
}

func TestDerivedAddressNotKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.Address()
	if ProfileAddress(owner) == owner {
		t.Fatalf("profile address must differ from the wallet address")
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	addr := testAddress(0x7F)
	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if parsed != addr {
		t.Fatalf("bech32 round trip mismatch")
	}
	parsed, err = ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed != addr {
		t.Fatalf("hex round trip mismatch")
	}
	if _, err := ParseAddress("tb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
	if _, err := ParseAddress(""); err == nil {
		t.Fatalf("expected empty address to be rejected")
	}
}

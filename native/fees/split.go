package fees

import (
	"fmt"
	"math/big"
)

const (
	// BasisPointsDenominator is the divisor used by every bps rate.
	BasisPointsDenominator = 10_000
	// PlatformFeeBps is the share of a prize retained by the treasury on payout.
	PlatformFeeBps uint32 = 100

	// UnitsPerCoin is the number of base units in one whole coin.
	UnitsPerCoin = 1_000_000_000
	// CreationFeeUnits is the flat fee charged when a bounty is created.
	CreationFeeUnits = UnitsPerCoin / 1_000
)

// CreationFee returns the flat bounty creation fee in base units.
func CreationFee() *big.Int {
	return big.NewInt(CreationFeeUnits)
}

// Split partitions gross into a fee of gross*bps/10000 (rounded down) and the
// remaining net amount. fee + net always equals gross.
func Split(gross *big.Int, bps uint32) (fee, net *big.Int, err error) {
	if gross == nil || gross.Sign() < 0 {
		return nil, nil, fmt.Errorf("fees: gross amount must be non-negative")
	}
	if bps > BasisPointsDenominator {
		return nil, nil, fmt.Errorf("fees: rate %d bps exceeds %d", bps, BasisPointsDenominator)
	}
	fee = new(big.Int).Mul(gross, big.NewInt(int64(bps)))
	fee.Quo(fee, big.NewInt(BasisPointsDenominator))
	net = new(big.Int).Sub(gross, fee)
	return fee, net, nil
}

// PlatformSplit applies PlatformFeeBps to a prize.
func PlatformSplit(prize *big.Int) (fee, payout *big.Int, err error) {
	return Split(prize, PlatformFeeBps)
}

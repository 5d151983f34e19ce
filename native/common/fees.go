package common

import "math/big"

// BasisPointsDenom is the denominator for every bips-expressed fraction.
const BasisPointsDenom uint64 = 10_000

// MaxTotalFeeBps caps the sum of a strategy's admin, dev and reinvest fees.
const MaxTotalFeeBps uint64 = 2_000

var basisPoints = new(big.Int).SetUint64(BasisPointsDenom)

// BpsShare returns amount*bps/10000, never negative, never nil.
func BpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

package strategy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxWithdraw is the sentinel amount requesting a full withdrawal from a
// yield source, mirroring the uint256 max convention of lending markets.
var MaxWithdraw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// YieldSource is the external lending-market capability a strategy deploys
// into. Positions are reported as the base-asset balance of a receipt-bearing
// proxy token, so BalanceOf is always a live read.
type YieldSource interface {
	Supply(asset common.Address, amount *big.Int, onBehalfOf common.Address) error
	Withdraw(asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	BalanceOf(asset, account common.Address) (*big.Int, error)
}

// RewardClaimer is the incentive source paying rewards on deployed positions.
// Claimed tokens are pushed to the recipient; the parallel slices pair each
// reward token with its amount.
type RewardClaimer interface {
	ClaimAllRewards(assets []common.Address, to common.Address) ([]common.Address, []*big.Int, error)
	PendingRewards(assets []common.Address, account common.Address) ([]common.Address, []*big.Int, error)
}

// SwapRouter is the swap venue. Swap consumes amountIn of tokenIn from the
// caller's balance and credits the returned amountOut of tokenOut back to it.
type SwapRouter interface {
	Swap(amountIn *big.Int, tokenIn, tokenOut, pair common.Address) (*big.Int, error)
	ContainsPair(pair, tokenA, tokenB common.Address) (bool, error)
}

package strategy

import (
	"errors"
	"math/big"

	nativecommon "autovault/native/common"
)

var errFeeCapExceeded = errors.New("strategy engine: fees exceed global cap")

// Config carries the per-strategy fee and threshold parameters. Each strategy
// instance owns exactly one Config, mutated only through the engine's
// validated setters; there is no shared or ambient fee state.
type Config struct {
	// AdminFeeBps, DevFeeBps and ReinvestFeeBps are each applied as
	// amount*bips/10000 during the harvest fee split. Their sum may never
	// exceed nativecommon.MaxTotalFeeBps, enforced at set time.
	AdminFeeBps    uint64
	DevFeeBps      uint64
	ReinvestFeeBps uint64

	// MinTokensToReinvest gates public reinvest calls; deposit-hook reinvests
	// bypass it.
	MinTokensToReinvest *big.Int

	// MinTokensToBuyBack gates public buyback calls.
	MinTokensToBuyBack *big.Int

	// MaxTokensToDepositWithoutReinvest triggers an opportunistic reinvest
	// inside deposit when the pending claimable reward exceeds it. Zero or
	// nil disables the hook.
	MaxTokensToDepositWithoutReinvest *big.Int

	// MaxSurplusToDepositWithoutBuyBack triggers an opportunistic buyback
	// inside deposit when the yield-above-par surplus exceeds it. Zero or
	// nil disables the hook.
	MaxSurplusToDepositWithoutBuyBack *big.Int

	// MinWithdrawAmount is the smallest withdrawal a strategy accepts.
	MinWithdrawAmount *big.Int
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	clone := c
	clone.MinTokensToReinvest = copyBig(c.MinTokensToReinvest)
	clone.MinTokensToBuyBack = copyBig(c.MinTokensToBuyBack)
	clone.MaxTokensToDepositWithoutReinvest = copyBig(c.MaxTokensToDepositWithoutReinvest)
	clone.MaxSurplusToDepositWithoutBuyBack = copyBig(c.MaxSurplusToDepositWithoutBuyBack)
	clone.MinWithdrawAmount = copyBig(c.MinWithdrawAmount)
	return clone
}

func (c Config) validateFees() error {
	if c.AdminFeeBps+c.DevFeeBps+c.ReinvestFeeBps > nativecommon.MaxTotalFeeBps {
		return errFeeCapExceeded
	}
	return nil
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

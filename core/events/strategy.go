package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeStrategyDeposit  = "strategy.deposit"
	TypeStrategyWithdraw = "strategy.withdraw"
	TypeStrategyReinvest = "strategy.reinvest"
	TypeStrategyBuyBack  = "strategy.buyback"
	TypeStrategyRescue   = "strategy.rescue"
)

// StrategyDeposit is emitted when capital is staked into the external yield
// source through a strategy.
type StrategyDeposit struct {
	Strategy  common.Address
	Depositor common.Address
	Amount    *big.Int
}

func (StrategyDeposit) EventType() string { return TypeStrategyDeposit }

func (e StrategyDeposit) Record() *Record {
	return &Record{
		Type: TypeStrategyDeposit,
		Attributes: map[string]string{
			"strategy":  e.Strategy.Hex(),
			"depositor": e.Depositor.Hex(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// StrategyWithdraw is emitted when shares are redeemed against a strategy.
type StrategyWithdraw struct {
	Strategy  common.Address
	Recipient common.Address
	Amount    *big.Int
}

func (StrategyWithdraw) EventType() string { return TypeStrategyWithdraw }

func (e StrategyWithdraw) Record() *Record {
	return &Record{
		Type: TypeStrategyWithdraw,
		Attributes: map[string]string{
			"strategy":  e.Strategy.Hex(),
			"recipient": e.Recipient.Hex(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

// StrategyHarvest reports the outcome of a reinvest or buyback run: the gross
// amount processed, the fee cut, and the post-harvest deployed position.
type StrategyHarvest struct {
	Type          string
	Strategy      common.Address
	Caller        common.Address
	Gross         *big.Int
	Fees          *big.Int
	TreasuryOut   *big.Int
	TotalDeposits *big.Int
	TotalSupply   *big.Int
}

func (e StrategyHarvest) EventType() string { return e.Type }

func (e StrategyHarvest) Record() *Record {
	return &Record{
		Type: e.Type,
		Attributes: map[string]string{
			"strategy":      e.Strategy.Hex(),
			"caller":        e.Caller.Hex(),
			"gross":         formatAmount(e.Gross),
			"fees":          formatAmount(e.Fees),
			"treasuryOut":   formatAmount(e.TreasuryOut),
			"totalDeposits": formatAmount(e.TotalDeposits),
			"totalSupply":   formatAmount(e.TotalSupply),
		},
	}
}

// StrategyRescue is emitted after an emergency full withdrawal from the
// external yield source.
type StrategyRescue struct {
	Strategy         common.Address
	Recovered        *big.Int
	DepositsDisabled bool
	TotalDeposits    *big.Int
	TotalSupply      *big.Int
}

func (StrategyRescue) EventType() string { return TypeStrategyRescue }

func (e StrategyRescue) Record() *Record {
	disabled := "false"
	if e.DepositsDisabled {
		disabled = "true"
	}
	return &Record{
		Type: TypeStrategyRescue,
		Attributes: map[string]string{
			"strategy":         e.Strategy.Hex(),
			"recovered":        formatAmount(e.Recovered),
			"depositsDisabled": disabled,
			"totalDeposits":    formatAmount(e.TotalDeposits),
			"totalSupply":      formatAmount(e.TotalSupply),
		},
	}
}

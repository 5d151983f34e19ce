package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeVaultDeposit           = "vault.deposit"
	TypeVaultWithdraw          = "vault.withdraw"
	TypeVaultPartialFulfilment = "vault.withdraw.partial"
	TypeVaultStrategyAdded     = "vault.strategy.added"
	TypeVaultStrategyRemoved   = "vault.strategy.removed"
	TypeVaultActiveStrategySet = "vault.strategy.active"
	TypeVaultRebalance         = "vault.rebalance"
)

// VaultDeposit is emitted when a depositor's assets enter the vault.
type VaultDeposit struct {
	Depositor common.Address
	Amount    *big.Int
	Forwarded *big.Int
	Strategy  common.Address
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Record() *Record {
	return &Record{
		Type: TypeVaultDeposit,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"amount":    formatAmount(e.Amount),
			"forwarded": formatAmount(e.Forwarded),
			"strategy":  e.Strategy.Hex(),
		},
	}
}

// VaultWithdraw is emitted on every withdrawal, including fully-covered ones.
type VaultWithdraw struct {
	Recipient common.Address
	Requested *big.Int
	Paid      *big.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Record() *Record {
	return &Record{
		Type: TypeVaultWithdraw,
		Attributes: map[string]string{
			"recipient": e.Recipient.Hex(),
			"requested": formatAmount(e.Requested),
			"paid":      formatAmount(e.Paid),
		},
	}
}

// VaultPartialFulfilment is emitted when aggregate liquidity could not cover a
// withdrawal and the payout was capped while the full share amount burned.
type VaultPartialFulfilment struct {
	Recipient common.Address
	Requested *big.Int
	Paid      *big.Int
}

func (VaultPartialFulfilment) EventType() string { return TypeVaultPartialFulfilment }

func (e VaultPartialFulfilment) Record() *Record {
	return &Record{
		Type: TypeVaultPartialFulfilment,
		Attributes: map[string]string{
			"recipient": e.Recipient.Hex(),
			"requested": formatAmount(e.Requested),
			"paid":      formatAmount(e.Paid),
		},
	}
}

// VaultStrategyChange covers supported-set mutations and active designation.
type VaultStrategyChange struct {
	Type     string
	Strategy common.Address
}

func (e VaultStrategyChange) EventType() string { return e.Type }

func (e VaultStrategyChange) Record() *Record {
	return &Record{
		Type: e.Type,
		Attributes: map[string]string{
			"strategy": e.Strategy.Hex(),
		},
	}
}

// VaultRebalance is emitted for owner-driven capital moves between the idle
// balance and a supported strategy.
type VaultRebalance struct {
	Strategy  common.Address
	Amount    *big.Int
	Direction string
}

func (VaultRebalance) EventType() string { return TypeVaultRebalance }

func (e VaultRebalance) Record() *Record {
	return &Record{
		Type: TypeVaultRebalance,
		Attributes: map[string]string{
			"strategy":  e.Strategy.Hex(),
			"amount":    formatAmount(e.Amount),
			"direction": e.Direction,
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

package vault

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autovault/core/events"
	nativecommon "autovault/native/common"
	"autovault/native/ledger"
	"autovault/native/strategy"
	"autovault/native/token"
)

var (
	errNilDependency     = errors.New("vault engine: dependency not configured")
	errInvalidAmount     = errors.New("vault engine: amount must be positive")
	errInvalidPercentage = errors.New("vault engine: percentage exceeds 100%")
	errTokenMismatch     = errors.New("vault engine: strategy deposit token mismatch")
	errNotSupported      = errors.New("vault engine: strategy not in supported set")
	errAlreadySupported  = errors.New("vault engine: strategy already supported")
	errNotRegistryActive = errors.New("vault engine: strategy not active in registry")
	errSupportedHalted   = errors.New("vault engine: a supported strategy is halted")
	errRemovalBlocked    = errors.New("vault engine: strategy healthy and still holds deployed funds")
)

// RegistryView is the read-only slice of the strategy registry the vault
// consults. The vault never mutates registry state.
type RegistryView interface {
	IsActive(addr common.Address) bool
	IsHalted(addr common.Address) bool
	IsDisabled(addr common.Address) bool
}

// Vault is the user-facing aggregator: it pools deposits against its own
// share ledger, forwards capital to the designated active strategy and
// services withdrawals through the multi-source waterfall.
type Vault struct {
	addr         common.Address
	depositToken token.Token
	shares       *ledger.ShareLedger
	registry     RegistryView
	strategies   []strategy.Strategy
	active       int
	owner        *nativecommon.Ownership
	guard        nativecommon.ReentrancyGuard
	pauses       nativecommon.PauseView
	emitter      events.Emitter
}

const moduleName = "vault"

// New constructs an empty vault with no supported strategies and no active
// designation.
func New(self, owner common.Address, depositToken token.Token, registry RegistryView) (*Vault, error) {
	if depositToken == nil || registry == nil {
		return nil, errNilDependency
	}
	return &Vault{
		addr:         self,
		depositToken: depositToken,
		shares:       ledger.New(),
		registry:     registry,
		active:       -1,
		owner:        nativecommon.NewOwnership(owner, func() int64 { return time.Now().Unix() }),
		emitter:      events.NoopEmitter{},
	}, nil
}

// SetEmitter overrides the event sink.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	v.emitter = emitter
}

// SetPauses wires the module pause switchboard.
func (v *Vault) SetPauses(pauses nativecommon.PauseView) { v.pauses = pauses }

// Ownership exposes the two-step owner handover state machine.
func (v *Vault) Ownership() *nativecommon.Ownership { return v.owner }

// Address returns the vault's account identity.
func (v *Vault) Address() common.Address { return v.addr }

// TotalSupply returns the outstanding vault share supply.
func (v *Vault) TotalSupply() *big.Int { return v.shares.TotalSupply() }

// SharesOf returns holder's vault share balance.
func (v *Vault) SharesOf(holder common.Address) *big.Int { return v.shares.BalanceOf(holder) }

// IdleBalance returns the deposit-token liquidity held outside strategies.
func (v *Vault) IdleBalance() *big.Int { return v.depositToken.BalanceOf(v.addr) }

// Strategies returns the supported set in insertion order.
func (v *Vault) Strategies() []strategy.Strategy {
	return append([]strategy.Strategy(nil), v.strategies...)
}

// ActiveStrategy returns the default deposit target, nil when none is set.
func (v *Vault) ActiveStrategy() strategy.Strategy {
	if v.active < 0 || v.active >= len(v.strategies) {
		return nil
	}
	return v.strategies[v.active]
}

// TotalDeposits is the idle balance plus the live deployed balance of every
// supported strategy.
func (v *Vault) TotalDeposits() (*big.Int, error) {
	total := v.IdleBalance()
	for _, s := range v.strategies {
		deployed, err := s.TotalDeposits()
		if err != nil {
			return nil, err
		}
		total.Add(total, deployed)
	}
	return total, nil
}

// AddStrategy appends a registry-active strategy with a matching deposit
// token to the supported set.
func (v *Vault) AddStrategy(caller common.Address, s strategy.Strategy) error {
	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	if s == nil {
		return errNilDependency
	}
	if v.indexOf(s.Address()) >= 0 {
		return errAlreadySupported
	}
	if !v.registry.IsActive(s.Address()) {
		return errNotRegistryActive
	}
	if s.DepositTokenAddress() != v.depositToken.Address() {
		return errTokenMismatch
	}
	v.strategies = append(v.strategies, s)
	v.emitter.Emit(events.VaultStrategyChange{
		Type:     events.TypeVaultStrategyAdded,
		Strategy: s.Address(),
	})
	return nil
}

// RemoveStrategy drops a strategy from the supported set. A strategy still
// holding deployed funds can only leave once the registry disabled it; a
// healthy strategy must be drained first.
func (v *Vault) RemoveStrategy(caller, addr common.Address) error {
	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	idx := v.indexOf(addr)
	if idx < 0 {
		return errNotSupported
	}
	if !v.registry.IsDisabled(addr) {
		deployed, err := v.strategies[idx].TotalDeposits()
		if err != nil {
			return err
		}
		if deployed.Sign() > 0 {
			return errRemovalBlocked
		}
	}
	v.strategies = append(v.strategies[:idx], v.strategies[idx+1:]...)
	switch {
	case v.active == idx:
		v.active = -1
	case v.active > idx:
		v.active--
	}
	v.emitter.Emit(events.VaultStrategyChange{
		Type:     events.TypeVaultStrategyRemoved,
		Strategy: addr,
	})
	return nil
}

// SetActiveStrategy designates the default deposit target. It must be a
// member of the supported set and active in the registry.
func (v *Vault) SetActiveStrategy(caller, addr common.Address) error {
	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	idx := v.indexOf(addr)
	if idx < 0 {
		return errNotSupported
	}
	if !v.registry.IsActive(addr) {
		return errNotRegistryActive
	}
	v.active = idx
	v.emitter.Emit(events.VaultStrategyChange{
		Type:     events.TypeVaultActiveStrategySet,
		Strategy: addr,
	})
	return nil
}

// ClearActiveStrategy removes the default deposit target; deposits then stay
// idle until the owner rebalances.
func (v *Vault) ClearActiveStrategy(caller common.Address) error {
	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	v.active = -1
	return nil
}

// Deposit mints vault shares 1:1 against the transferred amount. The whole
// vault pauses whenever ANY supported strategy is halted by the registry, not
// just the halted strategy's share: a halted strategy makes aggregate
// accounting untrustworthy.
func (v *Vault) Deposit(from common.Address, amount *big.Int) error {
	release, err := v.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	for _, s := range v.strategies {
		if v.registry.IsHalted(s.Address()) {
			return errSupportedHalted
		}
	}

	if err := v.depositToken.TransferFrom(v.addr, from, v.addr, amount); err != nil {
		return err
	}
	if err := v.shares.Mint(from, amount); err != nil {
		return err
	}

	forwarded := big.NewInt(0)
	var target common.Address
	if active := v.ActiveStrategy(); active != nil {
		if err := v.forwardToStrategy(active, amount); err != nil {
			return err
		}
		forwarded = new(big.Int).Set(amount)
		target = active.Address()
	}

	v.emitter.Emit(events.VaultDeposit{
		Depositor: from,
		Amount:    new(big.Int).Set(amount),
		Forwarded: forwarded,
		Strategy:  target,
	})
	return nil
}

// Withdraw redeems shares through the multi-source waterfall and returns the
// amount actually paid out. The full requested share amount is burned up
// front; when aggregate liquidity across idle funds and every strategy cannot
// cover the request, the payout is silently capped at what was raised. That
// asymmetry socializes the shortfall onto the withdrawer and is preserved
// deliberately; callers needing exactness must check TotalDeposits first.
func (v *Vault) Withdraw(to common.Address, amount *big.Int) (*big.Int, error) {
	release, err := v.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(v.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := v.shares.Burn(to, amount); err != nil {
		return nil, err
	}

	idle := v.IdleBalance()
	if idle.Cmp(amount) < 0 {
		remaining := new(big.Int).Sub(amount, idle)
		if err := v.pullFromStrategies(remaining); err != nil {
			return nil, err
		}
	}

	available := v.IdleBalance()
	payout := new(big.Int).Set(amount)
	if available.Cmp(payout) < 0 {
		payout = available
	}
	if payout.Sign() > 0 {
		if err := v.depositToken.Transfer(v.addr, to, payout); err != nil {
			return nil, err
		}
	}

	if payout.Cmp(amount) < 0 {
		v.emitter.Emit(events.VaultPartialFulfilment{
			Recipient: to,
			Requested: new(big.Int).Set(amount),
			Paid:      payout,
		})
	}
	v.emitter.Emit(events.VaultWithdraw{
		Recipient: to,
		Requested: new(big.Int).Set(amount),
		Paid:      payout,
	})
	return payout, nil
}

// pullFromStrategies raises remaining deposit tokens into the vault's idle
// balance. A single strategy able to cover the whole debt is preferred so
// smaller positions stay untouched; otherwise strategies drain fully in
// insertion order until the debt falls to dust (≤ 1 unit). Balances are
// re-read from the source at every step, never assumed stable across calls.
func (v *Vault) pullFromStrategies(remaining *big.Int) error {
	remaining = new(big.Int).Set(remaining)

	for _, s := range v.strategies {
		deployed, err := s.TotalDeposits()
		if err != nil {
			return err
		}
		if deployed.Cmp(remaining) > 0 {
			return v.withdrawFromStrategy(s, remaining)
		}
	}

	for _, s := range v.strategies {
		deployed, err := s.TotalDeposits()
		if err != nil {
			return err
		}
		if deployed.Cmp(remaining) > 0 {
			return v.withdrawFromStrategy(s, remaining)
		}
		if deployed.Sign() > 0 {
			if err := v.withdrawFromStrategy(s, deployed); err != nil {
				return err
			}
			remaining.Sub(remaining, deployed)
			if remaining.Cmp(big.NewInt(1)) <= 0 {
				return nil
			}
		}
	}
	return nil
}

// DepositToStrategy moves idle liquidity into a supported strategy outside
// the automatic routing.
func (v *Vault) DepositToStrategy(caller, strategyAddr common.Address, amount *big.Int) error {
	release, err := v.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	idx := v.indexOf(strategyAddr)
	if idx < 0 {
		return errNotSupported
	}
	if err := v.forwardToStrategy(v.strategies[idx], amount); err != nil {
		return err
	}
	v.emitter.Emit(events.VaultRebalance{
		Strategy:  strategyAddr,
		Amount:    new(big.Int).Set(amount),
		Direction: "deploy",
	})
	return nil
}

// DepositToStrategyPct deploys bips/10000 of the current idle balance.
func (v *Vault) DepositToStrategyPct(caller, strategyAddr common.Address, bips uint64) error {
	if bips == 0 || bips > nativecommon.BasisPointsDenom {
		return errInvalidPercentage
	}
	return v.DepositToStrategy(caller, strategyAddr, nativecommon.BpsShare(v.IdleBalance(), bips))
}

// WithdrawFromStrategy pulls capital from a supported strategy back into the
// idle balance.
func (v *Vault) WithdrawFromStrategy(caller, strategyAddr common.Address, amount *big.Int) error {
	release, err := v.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := v.owner.RequireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	idx := v.indexOf(strategyAddr)
	if idx < 0 {
		return errNotSupported
	}
	if err := v.withdrawFromStrategy(v.strategies[idx], amount); err != nil {
		return err
	}
	v.emitter.Emit(events.VaultRebalance{
		Strategy:  strategyAddr,
		Amount:    new(big.Int).Set(amount),
		Direction: "recall",
	})
	return nil
}

// WithdrawFromStrategyPct recalls bips/10000 of the vault's share position in
// the strategy.
func (v *Vault) WithdrawFromStrategyPct(caller, strategyAddr common.Address, bips uint64) error {
	if bips == 0 || bips > nativecommon.BasisPointsDenom {
		return errInvalidPercentage
	}
	idx := v.indexOf(strategyAddr)
	if idx < 0 {
		return errNotSupported
	}
	shares := v.strategies[idx].SharesOf(v.addr)
	return v.WithdrawFromStrategy(caller, strategyAddr, nativecommon.BpsShare(shares, bips))
}

// forwardToStrategy approves and deposits vault funds into a strategy.
func (v *Vault) forwardToStrategy(s strategy.Strategy, amount *big.Int) error {
	if err := v.depositToken.Approve(v.addr, s.Address(), amount); err != nil {
		return err
	}
	return s.Deposit(v.addr, amount)
}

// withdrawFromStrategy redeems vault-held strategy shares. The request is
// capped at the vault's share balance: yield drift can push a strategy's
// deployed balance above its share supply, and the excess belongs to the
// buyback pipeline, not to this vault.
func (v *Vault) withdrawFromStrategy(s strategy.Strategy, amount *big.Int) error {
	shares := s.SharesOf(v.addr)
	request := new(big.Int).Set(amount)
	if shares.Cmp(request) < 0 {
		request = shares
	}
	if request.Sign() == 0 {
		return nil
	}
	return s.Withdraw(v.addr, request)
}

func (v *Vault) indexOf(addr common.Address) int {
	for i, s := range v.strategies {
		if s.Address() == addr {
			return i
		}
	}
	return -1
}

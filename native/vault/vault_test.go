package vault

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"autovault/core/events"
	nativecommon "autovault/native/common"
	"autovault/native/ledger"
	"autovault/native/token"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

var (
	vaultAddr = addr(0x01)
	ownerAddr = addr(0x02)
	userAddr  = addr(0x03)
)

// stubRegistry is a RegistryView with directly settable flags.
type stubRegistry struct {
	active   map[common.Address]bool
	halted   map[common.Address]bool
	disabled map[common.Address]bool
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		active:   make(map[common.Address]bool),
		halted:   make(map[common.Address]bool),
		disabled: make(map[common.Address]bool),
	}
}

func (r *stubRegistry) IsActive(a common.Address) bool   { return r.active[a] }
func (r *stubRegistry) IsHalted(a common.Address) bool   { return r.halted[a] }
func (r *stubRegistry) IsDisabled(a common.Address) bool { return r.disabled[a] }

// stubStrategy satisfies the strategy capability set with direct control over
// the deployed balance, so tests can simulate yield and losses.
type stubStrategy struct {
	addr       common.Address
	deposit    *token.Book
	shares     *ledger.ShareLedger
	deployed   *big.Int
	enabled    bool
	onWithdraw func() error
}

func newStubStrategy(a common.Address, deposit *token.Book) *stubStrategy {
	return &stubStrategy{
		addr:     a,
		deposit:  deposit,
		shares:   ledger.New(),
		deployed: big.NewInt(0),
		enabled:  true,
	}
}

func (s *stubStrategy) Address() common.Address             { return s.addr }
func (s *stubStrategy) DepositTokenAddress() common.Address { return s.deposit.Address() }
func (s *stubStrategy) DepositsEnabled() bool               { return s.enabled }
func (s *stubStrategy) Reinvest(common.Address) error       { return nil }
func (s *stubStrategy) BuyBack(common.Address) error        { return nil }
func (s *stubStrategy) CheckReward() (*big.Int, error)      { return big.NewInt(0), nil }
func (s *stubStrategy) CheckBuyBack() (*big.Int, error)     { return big.NewInt(0), nil }

func (s *stubStrategy) SharesOf(holder common.Address) *big.Int {
	return s.shares.BalanceOf(holder)
}

func (s *stubStrategy) TotalDeposits() (*big.Int, error) {
	return new(big.Int).Set(s.deployed), nil
}

func (s *stubStrategy) Deposit(from common.Address, amount *big.Int) error {
	if err := s.deposit.TransferFrom(s.addr, from, s.addr, amount); err != nil {
		return err
	}
	if err := s.shares.Mint(from, amount); err != nil {
		return err
	}
	s.deployed = new(big.Int).Add(s.deployed, amount)
	return nil
}

func (s *stubStrategy) Withdraw(to common.Address, amount *big.Int) error {
	if s.onWithdraw != nil {
		if err := s.onWithdraw(); err != nil {
			return err
		}
	}
	if err := s.shares.Burn(to, amount); err != nil {
		return err
	}
	pay := new(big.Int).Set(amount)
	if s.deployed.Cmp(pay) < 0 {
		pay = new(big.Int).Set(s.deployed)
	}
	if pay.Sign() > 0 {
		if err := s.deposit.Transfer(s.addr, to, pay); err != nil {
			return err
		}
		s.deployed = new(big.Int).Sub(s.deployed, pay)
	}
	return nil
}

// setDeployed simulates external gains or losses without share movement.
func (s *stubStrategy) setDeployed(t *testing.T, amount int64) {
	t.Helper()
	next := big.NewInt(amount)
	diff := new(big.Int).Sub(next, s.deployed)
	if diff.Sign() > 0 {
		if err := s.deposit.Mint(s.addr, diff); err != nil {
			t.Fatalf("mint: %v", err)
		}
	} else if diff.Sign() < 0 {
		if err := s.deposit.Transfer(s.addr, addr(0xFF), new(big.Int).Neg(diff)); err != nil {
			t.Fatalf("burn to sink: %v", err)
		}
	}
	s.deployed = next
}

type fixture struct {
	vault    *Vault
	deposit  *token.Book
	registry *stubRegistry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	deposit := token.NewBook(addr(0xD0), "DEP")
	registry := newStubRegistry()
	v, err := New(vaultAddr, ownerAddr, deposit, registry)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return &fixture{vault: v, deposit: deposit, registry: registry}
}

func (f *fixture) addStrategy(t *testing.T, b byte) *stubStrategy {
	t.Helper()
	s := newStubStrategy(addr(b), f.deposit)
	f.registry.active[s.addr] = true
	if err := f.vault.AddStrategy(ownerAddr, s); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	return s
}

func (f *fixture) userDeposit(t *testing.T, amount int64) {
	t.Helper()
	amt := big.NewInt(amount)
	if err := f.deposit.Mint(userAddr, amt); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.deposit.Approve(userAddr, vaultAddr, amt); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.vault.Deposit(userAddr, amt); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestDepositIdleRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.userDeposit(t, 100)

	if got := f.vault.SharesOf(userAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("shares = %s, want 100", got)
	}
	paid, err := f.vault.Withdraw(userAddr, big.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("paid = %s, want 100", paid)
	}
	if got := f.deposit.BalanceOf(userAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("returned = %s, want 100", got)
	}
	if got := f.vault.TotalSupply(); got.Sign() != 0 {
		t.Fatalf("supply = %s, want 0", got)
	}
}

func TestDepositForwardsToActiveStrategy(t *testing.T) {
	f := newFixture(t)
	s := f.addStrategy(t, 0x10)
	if err := f.vault.SetActiveStrategy(ownerAddr, s.addr); err != nil {
		t.Fatalf("set active: %v", err)
	}
	f.userDeposit(t, 100)

	if got := f.vault.IdleBalance(); got.Sign() != 0 {
		t.Fatalf("idle = %s, want 0 after forwarding", got)
	}
	deployed, _ := s.TotalDeposits()
	if deployed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("deployed = %s, want 100", deployed)
	}
	if got := s.SharesOf(vaultAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault strategy shares = %s, want 100", got)
	}
}

func TestDepositBlockedWhenAnyStrategyHalted(t *testing.T) {
	f := newFixture(t)
	s1 := f.addStrategy(t, 0x10)
	f.addStrategy(t, 0x11)

	f.registry.halted[s1.addr] = true
	if err := f.deposit.Mint(userAddr, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.deposit.Approve(userAddr, vaultAddr, big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.vault.Deposit(userAddr, big.NewInt(10)); err != errSupportedHalted {
		t.Fatalf("expected errSupportedHalted, got %v", err)
	}
	if got := f.vault.TotalSupply(); got.Sign() != 0 {
		t.Fatalf("failed deposit must not mint shares")
	}
}

func TestWaterfallSingleSourcePreferred(t *testing.T) {
	f := newFixture(t)
	s0 := f.addStrategy(t, 0x10)
	s1 := f.addStrategy(t, 0x11)

	f.userDeposit(t, 80)
	if err := f.vault.DepositToStrategy(ownerAddr, s0.addr, big.NewInt(30)); err != nil {
		t.Fatalf("deploy s0: %v", err)
	}
	if err := f.vault.DepositToStrategy(ownerAddr, s1.addr, big.NewInt(50)); err != nil {
		t.Fatalf("deploy s1: %v", err)
	}
	if got := f.vault.IdleBalance(); got.Sign() != 0 {
		t.Fatalf("idle = %s, want 0", got)
	}

	if _, err := f.vault.Withdraw(userAddr, big.NewInt(40)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.deposit.BalanceOf(userAddr); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("paid = %s, want 40", got)
	}
	d0, _ := s0.TotalDeposits()
	if d0.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("strategy 0 touched: deployed = %s, want 30", d0)
	}
	d1, _ := s1.TotalDeposits()
	if d1.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("strategy 1 deployed = %s, want 10", d1)
	}
}

func TestWaterfallPartialCoverageBurnsFullShares(t *testing.T) {
	f := newFixture(t)
	s0 := f.addStrategy(t, 0x10)
	s1 := f.addStrategy(t, 0x11)

	f.userDeposit(t, 100)
	if err := f.vault.DepositToStrategy(ownerAddr, s0.addr, big.NewInt(50)); err != nil {
		t.Fatalf("deploy s0: %v", err)
	}
	if err := f.vault.DepositToStrategy(ownerAddr, s1.addr, big.NewInt(50)); err != nil {
		t.Fatalf("deploy s1: %v", err)
	}
	// External losses shrink the deployed balances to 10 and 5.
	s0.setDeployed(t, 10)
	s1.setDeployed(t, 5)

	collector := &events.Collector{}
	f.vault.SetEmitter(collector)

	paid, err := f.vault.Withdraw(userAddr, big.NewInt(100))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if paid.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("paid = %s, want 15", paid)
	}
	if got := f.deposit.BalanceOf(userAddr); got.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("received = %s, want 15", got)
	}
	if got := f.vault.SharesOf(userAddr); got.Sign() != 0 {
		t.Fatalf("shares = %s, want 0 (full burn despite partial payout)", got)
	}
	sawPartial := false
	for _, evt := range collector.Events {
		if evt.EventType() == events.TypeVaultPartialFulfilment {
			sawPartial = true
		}
	}
	if !sawPartial {
		t.Fatalf("expected a partial fulfilment event")
	}
}

func TestRemoveStrategyGates(t *testing.T) {
	f := newFixture(t)
	s := f.addStrategy(t, 0x10)
	f.userDeposit(t, 100)
	if err := f.vault.DepositToStrategy(ownerAddr, s.addr, big.NewInt(100)); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	if err := f.vault.RemoveStrategy(ownerAddr, s.addr); err != errRemovalBlocked {
		t.Fatalf("expected errRemovalBlocked, got %v", err)
	}

	// Registry-disabled strategies may leave even with deployed funds.
	f.registry.disabled[s.addr] = true
	if err := f.vault.RemoveStrategy(ownerAddr, s.addr); err != nil {
		t.Fatalf("remove disabled: %v", err)
	}
	if len(f.vault.Strategies()) != 0 {
		t.Fatalf("supported set should be empty")
	}
}

func TestRemoveDrainedStrategy(t *testing.T) {
	f := newFixture(t)
	s := f.addStrategy(t, 0x10)
	if err := f.vault.SetActiveStrategy(ownerAddr, s.addr); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if err := f.vault.RemoveStrategy(ownerAddr, s.addr); err != nil {
		t.Fatalf("remove drained: %v", err)
	}
	if f.vault.ActiveStrategy() != nil {
		t.Fatalf("removing the active strategy must clear the designation")
	}
}

func TestActiveStrategyMustBeMember(t *testing.T) {
	f := newFixture(t)
	outsider := newStubStrategy(addr(0x33), f.deposit)
	f.registry.active[outsider.addr] = true
	if err := f.vault.SetActiveStrategy(ownerAddr, outsider.addr); err != errNotSupported {
		t.Fatalf("expected errNotSupported, got %v", err)
	}
}

func TestPercentageRebalance(t *testing.T) {
	f := newFixture(t)
	s := f.addStrategy(t, 0x10)
	f.userDeposit(t, 1_000)

	if err := f.vault.DepositToStrategyPct(ownerAddr, s.addr, 10_001); err != errInvalidPercentage {
		t.Fatalf("expected errInvalidPercentage, got %v", err)
	}
	if err := f.vault.DepositToStrategyPct(ownerAddr, s.addr, 2_500); err != nil {
		t.Fatalf("deploy pct: %v", err)
	}
	deployed, _ := s.TotalDeposits()
	if deployed.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("deployed = %s, want 250", deployed)
	}
	if err := f.vault.WithdrawFromStrategyPct(ownerAddr, s.addr, 5_000); err != nil {
		t.Fatalf("recall pct: %v", err)
	}
	deployed, _ = s.TotalDeposits()
	if deployed.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("deployed = %s, want 125", deployed)
	}
}

func TestWithdrawReentrancyRejected(t *testing.T) {
	f := newFixture(t)
	s := f.addStrategy(t, 0x10)
	f.userDeposit(t, 100)
	if err := f.vault.DepositToStrategy(ownerAddr, s.addr, big.NewInt(100)); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	var depositErr, withdrawErr error
	s.onWithdraw = func() error {
		_, withdrawErr = f.vault.Withdraw(userAddr, big.NewInt(1))
		depositErr = f.vault.Deposit(userAddr, big.NewInt(1))
		return nil
	}
	if _, err := f.vault.Withdraw(userAddr, big.NewInt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !errors.Is(withdrawErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("nested withdraw: expected ErrReentrantCall, got %v", withdrawErr)
	}
	if !errors.Is(depositErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("nested deposit: expected ErrReentrantCall, got %v", depositErr)
	}
}

func TestTotalDepositsAggregates(t *testing.T) {
	f := newFixture(t)
	s0 := f.addStrategy(t, 0x10)
	f.userDeposit(t, 300)
	if err := f.vault.DepositToStrategy(ownerAddr, s0.addr, big.NewInt(120)); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	total, err := f.vault.TotalDeposits()
	if err != nil {
		t.Fatalf("totalDeposits: %v", err)
	}
	if total.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("total = %s, want 300", total)
	}
}

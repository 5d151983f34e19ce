package strategy

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "autovault/native/common"
	"autovault/native/token"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

var (
	stratAddr    = addr(0x01)
	ownerAddr    = addr(0x02)
	devAddr      = addr(0x03)
	adminAddr    = addr(0x04)
	treasuryAddr = addr(0x05)
	userAddr     = addr(0x06)
	callerAddr   = addr(0x07)
	sourceAddr   = addr(0x08)
	routerAddr   = addr(0x09)
	receiptAddr  = addr(0x0A)

	pairRewardStable   = addr(0x20)
	pairStablePlatform = addr(0x21)
	pairDepositStable  = addr(0x22)
)

// mockYieldSource tracks per-account deployed balances and moves the deposit
// token between the strategy and its own account, mirroring a lending market
// with a receipt-bearing proxy token.
type mockYieldSource struct {
	deposit  *token.Book
	balances map[common.Address]*big.Int
}

func newMockYieldSource(deposit *token.Book) *mockYieldSource {
	return &mockYieldSource{deposit: deposit, balances: make(map[common.Address]*big.Int)}
}

func (m *mockYieldSource) balance(account common.Address) *big.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockYieldSource) Supply(asset common.Address, amount *big.Int, onBehalfOf common.Address) error {
	if err := m.deposit.Transfer(onBehalfOf, sourceAddr, amount); err != nil {
		return err
	}
	m.balances[onBehalfOf] = new(big.Int).Add(m.balance(onBehalfOf), amount)
	return nil
}

func (m *mockYieldSource) Withdraw(asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	available := m.balance(to)
	actual := new(big.Int).Set(amount)
	if amount.Cmp(MaxWithdraw) == 0 || amount.Cmp(available) > 0 {
		actual = new(big.Int).Set(available)
	}
	if actual.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := m.deposit.Transfer(sourceAddr, to, actual); err != nil {
		return nil, err
	}
	m.balances[to] = new(big.Int).Sub(available, actual)
	return actual, nil
}

func (m *mockYieldSource) BalanceOf(asset, account common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.balance(account)), nil
}

// accrue simulates yield: the deployed balance grows and the source is funded
// to honour the eventual withdrawal.
func (m *mockYieldSource) accrue(account common.Address, amount *big.Int) {
	m.balances[account] = new(big.Int).Add(m.balance(account), amount)
	_ = m.deposit.Mint(sourceAddr, amount)
}

// mockClaimer pays out whatever pending rewards tests stage.
type mockClaimer struct {
	books   map[common.Address]*token.Book
	pending map[common.Address]*big.Int
	order   []common.Address
}

func newMockClaimer() *mockClaimer {
	return &mockClaimer{
		books:   make(map[common.Address]*token.Book),
		pending: make(map[common.Address]*big.Int),
	}
}

func (m *mockClaimer) stage(book *token.Book, amount *big.Int) {
	tok := book.Address()
	if _, ok := m.pending[tok]; !ok {
		m.order = append(m.order, tok)
	}
	m.books[tok] = book
	m.pending[tok] = amount
}

func (m *mockClaimer) PendingRewards(assets []common.Address, account common.Address) ([]common.Address, []*big.Int, error) {
	tokens := make([]common.Address, 0, len(m.order))
	amounts := make([]*big.Int, 0, len(m.order))
	for _, tok := range m.order {
		tokens = append(tokens, tok)
		amounts = append(amounts, new(big.Int).Set(m.pending[tok]))
	}
	return tokens, amounts, nil
}

func (m *mockClaimer) ClaimAllRewards(assets []common.Address, to common.Address) ([]common.Address, []*big.Int, error) {
	tokens, amounts, _ := m.PendingRewards(assets, to)
	for i, tok := range tokens {
		if amounts[i].Sign() > 0 {
			if err := m.books[tok].Mint(to, amounts[i]); err != nil {
				return nil, nil, err
			}
		}
		m.pending[tok] = big.NewInt(0)
	}
	return tokens, amounts, nil
}

// mockRouter swaps 1:1, debiting the bound account and crediting it back.
// A hook lets reentrancy tests call back into the engine mid-swap.
type mockRouter struct {
	books   map[common.Address]*token.Book
	account common.Address
	onSwap  func() error
}

func newMockRouter(account common.Address, books ...*token.Book) *mockRouter {
	m := &mockRouter{books: make(map[common.Address]*token.Book), account: account}
	for _, b := range books {
		m.books[b.Address()] = b
	}
	return m
}

func (m *mockRouter) Swap(amountIn *big.Int, tokenIn, tokenOut, pair common.Address) (*big.Int, error) {
	if m.onSwap != nil {
		if err := m.onSwap(); err != nil {
			return nil, err
		}
	}
	if err := m.books[tokenIn].Transfer(m.account, routerAddr, amountIn); err != nil {
		return nil, err
	}
	if err := m.books[tokenOut].Mint(m.account, amountIn); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amountIn), nil
}

func (m *mockRouter) ContainsPair(pair, tokenA, tokenB common.Address) (bool, error) {
	return true, nil
}

type fixture struct {
	strategy *YieldStrategy
	deposit  *token.Book
	reward   *token.Book
	stable   *token.Book
	platform *token.Book
	source   *mockYieldSource
	claimer  *mockClaimer
	router   *mockRouter
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	deposit := token.NewBook(addr(0xD0), "DEP")
	reward := token.NewBook(addr(0xE0), "RWD")
	stable := token.NewBook(addr(0xF0), "USD")
	platform := token.NewBook(addr(0xF1), "AVT")

	source := newMockYieldSource(deposit)
	claimer := newMockClaimer()
	router := newMockRouter(stratAddr, deposit, reward, stable, platform)

	s, err := NewYieldStrategy(Params{
		Self:               stratAddr,
		Owner:              ownerAddr,
		DevAddr:            devAddr,
		AdminAddr:          adminAddr,
		Treasury:           treasuryAddr,
		DepositToken:       deposit,
		RewardToken:        reward,
		StableToken:        stable,
		PlatformToken:      platform,
		Source:             source,
		Claimer:            claimer,
		Router:             router,
		ReceiptAsset:       receiptAddr,
		PairRewardStable:   pairRewardStable,
		PairStablePlatform: pairStablePlatform,
		PairDepositStable:  pairDepositStable,
		Config:             cfg,
	})
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	return &fixture{
		strategy: s, deposit: deposit, reward: reward, stable: stable,
		platform: platform, source: source, claimer: claimer, router: router,
	}
}

func (f *fixture) fundAndDeposit(t *testing.T, from common.Address, amount int64) {
	t.Helper()
	amt := big.NewInt(amount)
	if err := f.deposit.Mint(from, amt); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := f.deposit.Approve(from, stratAddr, amt); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.strategy.Deposit(from, amt); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func TestDepositMintsParSharesAndStakes(t *testing.T) {
	f := newFixture(t, Config{})
	f.fundAndDeposit(t, userAddr, 1_000)

	if got := f.strategy.SharesOf(userAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("shares = %s, want 1000", got)
	}
	deployed, err := f.strategy.TotalDeposits()
	if err != nil {
		t.Fatalf("totalDeposits: %v", err)
	}
	if deployed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("deployed = %s, want 1000", deployed)
	}
	if got := f.deposit.BalanceOf(userAddr); got.Sign() != 0 {
		t.Fatalf("user retains %s deposit tokens", got)
	}
}

func TestRoundTripDepositWithdraw(t *testing.T) {
	f := newFixture(t, Config{})
	f.fundAndDeposit(t, userAddr, 500)

	if err := f.strategy.Withdraw(userAddr, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := f.deposit.BalanceOf(userAddr); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("returned = %s, want 500", got)
	}
	if got := f.strategy.SharesOf(userAddr); got.Sign() != 0 {
		t.Fatalf("shares = %s, want 0", got)
	}
	if got := f.strategy.TotalSupply(); got.Sign() != 0 {
		t.Fatalf("supply = %s, want 0", got)
	}
}

func TestWithdrawBelowMinimumRejected(t *testing.T) {
	f := newFixture(t, Config{MinWithdrawAmount: big.NewInt(10)})
	f.fundAndDeposit(t, userAddr, 100)
	if err := f.strategy.Withdraw(userAddr, big.NewInt(5)); err != errBelowMinWithdraw {
		t.Fatalf("expected errBelowMinWithdraw, got %v", err)
	}
	if got := f.strategy.SharesOf(userAddr); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed withdraw must not burn shares, have %s", got)
	}
}

func TestReinvestSplitsFeesAndForwardsTreasury(t *testing.T) {
	f := newFixture(t, Config{
		AdminFeeBps:         200,
		DevFeeBps:           300,
		ReinvestFeeBps:      100,
		MinTokensToReinvest: big.NewInt(100),
	})
	f.fundAndDeposit(t, userAddr, 1_000)
	f.claimer.stage(f.reward, big.NewInt(1_000))

	if err := f.strategy.Reinvest(callerAddr); err != nil {
		t.Fatalf("reinvest: %v", err)
	}

	if got := f.reward.BalanceOf(devAddr); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("dev fee = %s, want 30", got)
	}
	if got := f.reward.BalanceOf(adminAddr); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("admin fee = %s, want 20", got)
	}
	if got := f.reward.BalanceOf(callerAddr); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("caller fee = %s, want 10", got)
	}
	// 940 remainder swaps reward→stable→platform at 1:1.
	if got := f.platform.BalanceOf(treasuryAddr); got.Cmp(big.NewInt(940)) != 0 {
		t.Fatalf("treasury platform = %s, want 940", got)
	}
}

func TestReinvestBelowMinimumRejected(t *testing.T) {
	f := newFixture(t, Config{MinTokensToReinvest: big.NewInt(500)})
	f.fundAndDeposit(t, userAddr, 1_000)
	f.claimer.stage(f.reward, big.NewInt(499))
	if err := f.strategy.Reinvest(callerAddr); err != errBelowMinReinvest {
		t.Fatalf("expected errBelowMinReinvest, got %v", err)
	}
}

func TestReinvestConvertsSecondaryRewards(t *testing.T) {
	bonus := token.NewBook(addr(0xE1), "BNS")
	f := newFixture(t, Config{})
	f.strategy.params.RewardPairs = map[common.Address]common.Address{
		bonus.Address(): addr(0x23),
	}
	f.router.books[bonus.Address()] = bonus
	f.fundAndDeposit(t, userAddr, 1_000)
	f.claimer.stage(f.reward, big.NewInt(600))
	f.claimer.stage(bonus, big.NewInt(400))

	if err := f.strategy.Reinvest(callerAddr); err != nil {
		t.Fatalf("reinvest: %v", err)
	}
	// 600 base + 400 converted at 1:1, no fees configured.
	if got := f.platform.BalanceOf(treasuryAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("treasury platform = %s, want 1000", got)
	}
}

func TestBuyBackSurplusFloorsAtZero(t *testing.T) {
	f := newFixture(t, Config{MinTokensToBuyBack: big.NewInt(1)})
	f.fundAndDeposit(t, userAddr, 1_000)

	surplus, err := f.strategy.CheckBuyBack()
	if err != nil {
		t.Fatalf("checkBuyBack: %v", err)
	}
	if surplus.Sign() != 0 {
		t.Fatalf("surplus = %s, want 0 at par", surplus)
	}
	if err := f.strategy.BuyBack(callerAddr); err != errBelowMinBuyBack {
		t.Fatalf("expected errBelowMinBuyBack, got %v", err)
	}
}

func TestBuyBackConvertsSurplus(t *testing.T) {
	f := newFixture(t, Config{
		AdminFeeBps:        200,
		DevFeeBps:          300,
		ReinvestFeeBps:     100,
		MinTokensToBuyBack: big.NewInt(100),
	})
	f.fundAndDeposit(t, userAddr, 1_000)
	f.source.accrue(stratAddr, big.NewInt(500))

	if err := f.strategy.BuyBack(callerAddr); err != nil {
		t.Fatalf("buyback: %v", err)
	}
	// 500 surplus withdrawn, 6% fees = 30, remainder 470 at 1:1 to treasury.
	if got := f.platform.BalanceOf(treasuryAddr); got.Cmp(big.NewInt(470)) != 0 {
		t.Fatalf("treasury platform = %s, want 470", got)
	}
	deployed, _ := f.strategy.TotalDeposits()
	if deployed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("deployed = %s, want 1000 after surplus skim", deployed)
	}
}

func TestDepositHookTriggersReinvest(t *testing.T) {
	f := newFixture(t, Config{
		MinTokensToReinvest:               big.NewInt(10_000),
		MaxTokensToDepositWithoutReinvest: big.NewInt(100),
	})
	f.fundAndDeposit(t, userAddr, 1_000)
	f.claimer.stage(f.reward, big.NewInt(150))

	// The hook bypasses the public reinvest minimum.
	f.fundAndDeposit(t, userAddr, 10)
	if got := f.platform.BalanceOf(treasuryAddr); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("treasury platform = %s, want 150 from hook reinvest", got)
	}
}

func TestRescueDeployedFunds(t *testing.T) {
	f := newFixture(t, Config{})
	f.fundAndDeposit(t, userAddr, 1_000)

	if err := f.strategy.RescueDeployedFunds(userAddr, nil, true); err != nativecommon.ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := f.strategy.RescueDeployedFunds(ownerAddr, big.NewInt(2_000), true); err != errRescueShortfall {
		t.Fatalf("expected errRescueShortfall, got %v", err)
	}
	// Shortfall rescue re-supplied the funds.
	deployed, _ := f.strategy.TotalDeposits()
	if deployed.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("deployed = %s after failed rescue, want 1000", deployed)
	}
	if f.strategy.RescueInProgress() {
		t.Fatalf("failed rescue must not flag the strategy")
	}

	if err := f.strategy.RescueDeployedFunds(ownerAddr, big.NewInt(1_000), true); err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if !f.strategy.RescueInProgress() || f.strategy.DepositsEnabled() {
		t.Fatalf("rescue must flag and disable deposits")
	}
	if got := f.deposit.BalanceOf(stratAddr); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("strategy holds %s, want 1000 recovered", got)
	}
}

func TestFeeSettersEnforceCap(t *testing.T) {
	f := newFixture(t, Config{AdminFeeBps: 1_000, DevFeeBps: 900})
	if err := f.strategy.SetReinvestFeeBps(ownerAddr, 101); err != errFeeCapExceeded {
		t.Fatalf("expected errFeeCapExceeded, got %v", err)
	}
	if err := f.strategy.SetReinvestFeeBps(ownerAddr, 100); err != nil {
		t.Fatalf("set reinvest fee: %v", err)
	}
	admin, dev, reinvest := f.strategy.FeeBps()
	if admin+dev+reinvest != nativecommon.MaxTotalFeeBps {
		t.Fatalf("fees = %d+%d+%d, want exactly the cap", admin, dev, reinvest)
	}
	if err := f.strategy.SetAdminFeeBps(userAddr, 1); err != nativecommon.ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestDevAddrAuthority(t *testing.T) {
	f := newFixture(t, Config{})
	if err := f.strategy.SetDevAddr(ownerAddr, addr(0x55)); err != errNotDev {
		t.Fatalf("owner must not control dev addr, got %v", err)
	}
	if err := f.strategy.SetDevAddr(devAddr, addr(0x55)); err != nil {
		t.Fatalf("set dev addr: %v", err)
	}
	if err := f.strategy.SetDevAddr(devAddr, addr(0x56)); err != errNotDev {
		t.Fatalf("old dev must lose authority, got %v", err)
	}
}

func TestSetNowFuncKeepsOwnershipProposal(t *testing.T) {
	f := newFixture(t, Config{})
	clock := int64(1_000)
	f.strategy.SetNowFunc(func() int64 { return clock })

	next := addr(0x57)
	if err := f.strategy.Ownership().Propose(ownerAddr, next); err != nil {
		t.Fatalf("propose: %v", err)
	}
	readyAt := f.strategy.Ownership().ReadyAt()

	// Swapping the clock again must not reset the handover in flight.
	f.strategy.SetNowFunc(func() int64 { return clock })
	if f.strategy.Ownership().PendingOwner() != next {
		t.Fatalf("pending owner lost across SetNowFunc")
	}
	if f.strategy.Ownership().ReadyAt() != readyAt {
		t.Fatalf("readyAt reset across SetNowFunc")
	}

	clock = readyAt
	if err := f.strategy.Ownership().Accept(next); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.strategy.Ownership().Owner() != next {
		t.Fatalf("owner = %v, want %v", f.strategy.Ownership().Owner(), next)
	}
}

func TestReinvestReentrancyRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.fundAndDeposit(t, userAddr, 1_000)
	f.claimer.stage(f.reward, big.NewInt(100))

	var reentryErr error
	f.router.onSwap = func() error {
		reentryErr = f.strategy.Withdraw(userAddr, big.NewInt(1))
		return nil
	}
	if err := f.strategy.Reinvest(callerAddr); err != nil {
		t.Fatalf("reinvest: %v", err)
	}
	if !errors.Is(reentryErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall from nested withdraw, got %v", reentryErr)
	}
}

package strategy

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autovault/core/events"
	nativecommon "autovault/native/common"
	"autovault/native/ledger"
	"autovault/native/token"
)

var (
	errNilDependency       = errors.New("strategy engine: dependency not configured")
	errInvalidAmount       = errors.New("strategy engine: amount must be positive")
	errDepositsDisabled    = errors.New("strategy engine: deposits disabled")
	errBelowMinWithdraw    = errors.New("strategy engine: amount below minimum withdrawal")
	errBelowMinReinvest    = errors.New("strategy engine: reward below reinvest minimum")
	errBelowMinBuyBack     = errors.New("strategy engine: surplus below buyback minimum")
	errNotDev              = errors.New("strategy engine: caller is not the dev address")
	errRescueShortfall     = errors.New("strategy engine: rescue recovered less than accepted minimum")
	errRewardLengthsDiffer = errors.New("strategy engine: reward token and amount lengths differ")
)

// Strategy is the closed capability set the vault aggregates over. Every
// integration, whatever its external yield source, satisfies it.
type Strategy interface {
	Address() common.Address
	DepositTokenAddress() common.Address
	Deposit(from common.Address, amount *big.Int) error
	Withdraw(to common.Address, amount *big.Int) error
	Reinvest(caller common.Address) error
	BuyBack(caller common.Address) error
	TotalDeposits() (*big.Int, error)
	CheckReward() (*big.Int, error)
	CheckBuyBack() (*big.Int, error)
	SharesOf(holder common.Address) *big.Int
	DepositsEnabled() bool
}

// Params bundles the wiring for a YieldStrategy. Everything here is fixed for
// the strategy's lifetime; the mutable knobs live in Config.
type Params struct {
	// Self is the strategy's own account, holder of in-flight balances.
	Self common.Address
	// Owner seeds the two-step ownership state machine.
	Owner common.Address
	// DevAddr receives the dev fee and alone may replace itself.
	DevAddr common.Address
	// AdminAddr receives the admin fee.
	AdminAddr common.Address
	// Treasury receives the platform-token output of harvests.
	Treasury common.Address

	DepositToken  token.Token
	RewardToken   token.Token
	StableToken   token.Token
	PlatformToken token.Token

	Source  YieldSource
	Claimer RewardClaimer
	Router  SwapRouter

	// ReceiptAsset is the yield source's receipt-bearing proxy token for the
	// deposit asset; position reads and reward claims key on it.
	ReceiptAsset common.Address

	// RewardPairs maps a non-base reward token to the DEX pair swapping it
	// into the base reward token. Native-asset rewards arriving already as
	// the base token need no entry.
	RewardPairs map[common.Address]common.Address

	// Swap chain pairs for the harvest conversions.
	PairRewardStable   common.Address
	PairStablePlatform common.Address
	PairDepositStable  common.Address

	Config Config
}

// YieldStrategy owns deployed capital in one external lending-market yield
// source and runs the reinvest/buyback pipeline against it. It maintains its
// own share ledger: shares mint 1:1 with deposits, so value drifts above par
// as yield accrues and buyback exists to true that up.
type YieldStrategy struct {
	params  Params
	cfg     Config
	shares  *ledger.ShareLedger
	owner   *nativecommon.Ownership
	guard   nativecommon.ReentrancyGuard
	emitter events.Emitter
	nowFn   func() int64

	depositsEnabled bool
	rescued         bool
}

// NewYieldStrategy validates the wiring and returns a strategy with deposits
// enabled.
func NewYieldStrategy(params Params) (*YieldStrategy, error) {
	if params.DepositToken == nil || params.RewardToken == nil ||
		params.StableToken == nil || params.PlatformToken == nil ||
		params.Source == nil || params.Claimer == nil || params.Router == nil {
		return nil, errNilDependency
	}
	if err := params.Config.validateFees(); err != nil {
		return nil, err
	}
	nowFn := func() int64 { return time.Now().Unix() }
	s := &YieldStrategy{
		params:          params,
		cfg:             params.Config.Clone(),
		shares:          ledger.New(),
		owner:           nativecommon.NewOwnership(params.Owner, nowFn),
		emitter:         events.NoopEmitter{},
		nowFn:           nowFn,
		depositsEnabled: true,
	}
	return s, nil
}

// SetEmitter overrides the event sink.
func (s *YieldStrategy) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
func (s *YieldStrategy) SetNowFunc(nowFn func() int64) {
	if nowFn == nil {
		return
	}
	s.nowFn = nowFn
	s.owner.SetNowFunc(nowFn)
}

// Ownership exposes the two-step owner handover state machine.
func (s *YieldStrategy) Ownership() *nativecommon.Ownership { return s.owner }

// Address returns the strategy's account identity.
func (s *YieldStrategy) Address() common.Address { return s.params.Self }

// DepositTokenAddress reports the asset this strategy accepts.
func (s *YieldStrategy) DepositTokenAddress() common.Address {
	return s.params.DepositToken.Address()
}

// RewardTokenAddress reports the base reward token of the incentive source.
func (s *YieldStrategy) RewardTokenAddress() common.Address {
	return s.params.RewardToken.Address()
}

// FeeBps reports the current fee configuration.
func (s *YieldStrategy) FeeBps() (admin, dev, reinvest uint64) {
	return s.cfg.AdminFeeBps, s.cfg.DevFeeBps, s.cfg.ReinvestFeeBps
}

// MinTokensToReinvest reports the public reinvest gate.
func (s *YieldStrategy) MinTokensToReinvest() *big.Int {
	return copyBig(orZero(s.cfg.MinTokensToReinvest))
}

// MinTokensToBuyBack reports the public buyback gate.
func (s *YieldStrategy) MinTokensToBuyBack() *big.Int {
	return copyBig(orZero(s.cfg.MinTokensToBuyBack))
}

// DepositsEnabled reports whether the strategy currently accepts deposits.
func (s *YieldStrategy) DepositsEnabled() bool { return s.depositsEnabled }

// RescueInProgress reports whether deployed funds were emergency-withdrawn.
func (s *YieldStrategy) RescueInProgress() bool { return s.rescued }

// TotalSupply returns the outstanding share supply.
func (s *YieldStrategy) TotalSupply() *big.Int { return s.shares.TotalSupply() }

// SharesOf returns holder's share balance.
func (s *YieldStrategy) SharesOf(holder common.Address) *big.Int {
	return s.shares.BalanceOf(holder)
}

// TotalDeposits reads the live deployed balance from the yield source; it is
// never a cached snapshot.
func (s *YieldStrategy) TotalDeposits() (*big.Int, error) {
	return s.params.Source.BalanceOf(s.params.ReceiptAsset, s.params.Self)
}

// CheckReward estimates the claimable reward denominated in the base reward
// token. Non-base entries without a configured pair count at face value; the
// figure only gates the deposit hook, so the approximation is acceptable.
func (s *YieldStrategy) CheckReward() (*big.Int, error) {
	tokens, amounts, err := s.params.Claimer.PendingRewards(
		[]common.Address{s.params.ReceiptAsset}, s.params.Self)
	if err != nil {
		return nil, err
	}
	if len(tokens) != len(amounts) {
		return nil, errRewardLengthsDiffer
	}
	total := big.NewInt(0)
	for i := range tokens {
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			continue
		}
		total.Add(total, amounts[i])
	}
	return total, nil
}

// CheckBuyBack returns the buyback-eligible surplus, floored at zero.
func (s *YieldStrategy) CheckBuyBack() (*big.Int, error) {
	deployed, err := s.TotalDeposits()
	if err != nil {
		return nil, err
	}
	surplus := new(big.Int).Sub(deployed, s.shares.TotalSupply())
	if surplus.Sign() < 0 {
		return big.NewInt(0), nil
	}
	return surplus, nil
}

// Deposit pulls amount of the deposit token from the depositor, mints shares
// 1:1 and stakes the assets into the yield source. Pending rewards or surplus
// above the configured ceilings are harvested first so drift stays bounded.
func (s *YieldStrategy) Deposit(from common.Address, amount *big.Int) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if !s.depositsEnabled {
		return errDepositsDisabled
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	if ceiling := s.cfg.MaxTokensToDepositWithoutReinvest; ceiling != nil && ceiling.Sign() > 0 {
		pending, err := s.CheckReward()
		if err != nil {
			return err
		}
		if pending.Cmp(ceiling) > 0 {
			if err := s.reinvest(from, true); err != nil {
				return err
			}
		}
	}
	if ceiling := s.cfg.MaxSurplusToDepositWithoutBuyBack; ceiling != nil && ceiling.Sign() > 0 {
		surplus, err := s.CheckBuyBack()
		if err != nil {
			return err
		}
		if surplus.Cmp(ceiling) > 0 {
			if err := s.buyBack(from, true); err != nil {
				return err
			}
		}
	}

	if err := s.params.DepositToken.TransferFrom(s.params.Self, from, s.params.Self, amount); err != nil {
		return err
	}
	if err := s.shares.Mint(from, amount); err != nil {
		return err
	}
	if err := s.params.Source.Supply(s.params.DepositToken.Address(), amount, s.params.Self); err != nil {
		return err
	}

	s.emitter.Emit(events.StrategyDeposit{
		Strategy:  s.params.Self,
		Depositor: from,
		Amount:    copyBig(amount),
	})
	return nil
}

// Withdraw burns the holder's shares first, then unwinds the position.
// Burning before the external call favours share-supply consistency over
// strict atomicity across the yield source. When the requested amount exceeds
// the tracked deployed balance the full position is requested instead, so
// rounding drift cannot lock dust in the source.
func (s *YieldStrategy) Withdraw(to common.Address, amount *big.Int) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if min := s.cfg.MinWithdrawAmount; min != nil && amount.Cmp(min) < 0 {
		return errBelowMinWithdraw
	}

	if err := s.shares.Burn(to, amount); err != nil {
		return err
	}

	deployed, err := s.TotalDeposits()
	if err != nil {
		return err
	}
	request := amount
	if amount.Cmp(deployed) > 0 {
		request = MaxWithdraw
	}
	if _, err := s.params.Source.Withdraw(s.params.DepositToken.Address(), request, s.params.Self); err != nil {
		return err
	}

	// Pay from the strategy's full idle balance so rescued funds remain
	// redeemable after the position was pulled out of the source.
	available := s.params.DepositToken.BalanceOf(s.params.Self)
	payout := copyBig(amount)
	if available.Cmp(payout) < 0 {
		payout = available
	}
	if payout.Sign() > 0 {
		if err := s.params.DepositToken.Transfer(s.params.Self, to, payout); err != nil {
			return err
		}
	}

	s.emitter.Emit(events.StrategyWithdraw{
		Strategy:  s.params.Self,
		Recipient: to,
		Amount:    payout,
	})
	return nil
}

// Reinvest claims pending rewards, converts them to the base reward token,
// splits fees and forwards the swapped remainder to the treasury.
func (s *YieldStrategy) Reinvest(caller common.Address) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return s.reinvest(caller, false)
}

func (s *YieldStrategy) reinvest(caller common.Address, fromDeposit bool) error {
	tokens, amounts, err := s.params.Claimer.ClaimAllRewards(
		[]common.Address{s.params.ReceiptAsset}, s.params.Self)
	if err != nil {
		return err
	}
	if len(tokens) != len(amounts) {
		return errRewardLengthsDiffer
	}

	rewardAddr := s.params.RewardToken.Address()
	total := big.NewInt(0)
	for i := range tokens {
		amt := amounts[i]
		if amt == nil || amt.Sign() <= 0 {
			continue
		}
		if tokens[i] == rewardAddr {
			// Native-asset rewards arrive pre-wrapped as the base token.
			total.Add(total, amt)
			continue
		}
		pair, ok := s.params.RewardPairs[tokens[i]]
		if !ok {
			// Unknown reward tokens accumulate at the strategy for sweep.
			continue
		}
		out, err := s.params.Router.Swap(amt, tokens[i], rewardAddr, pair)
		if err != nil {
			return err
		}
		total.Add(total, out)
	}

	if !fromDeposit {
		if min := s.cfg.MinTokensToReinvest; min != nil && total.Cmp(min) < 0 {
			return errBelowMinReinvest
		}
	}
	if total.Sign() == 0 {
		return nil
	}

	fees, err := s.splitFees(s.params.RewardToken, total, caller)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(total, fees)

	treasuryOut, err := s.swapToTreasury(s.params.RewardToken, remainder,
		s.params.PairRewardStable)
	if err != nil {
		return err
	}

	deployed, err := s.TotalDeposits()
	if err != nil {
		return err
	}
	s.emitter.Emit(events.StrategyHarvest{
		Type:          events.TypeStrategyReinvest,
		Strategy:      s.params.Self,
		Caller:        caller,
		Gross:         total,
		Fees:          fees,
		TreasuryOut:   treasuryOut,
		TotalDeposits: deployed,
		TotalSupply:   s.shares.TotalSupply(),
	})
	return nil
}

// BuyBack converts the yield accrued above par into the platform token. The
// surplus is withdrawn from the yield source, fee-split exactly like a
// reinvest, swapped and forwarded to the treasury.
func (s *YieldStrategy) BuyBack(caller common.Address) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return s.buyBack(caller, false)
}

func (s *YieldStrategy) buyBack(caller common.Address, fromDeposit bool) error {
	surplus, err := s.CheckBuyBack()
	if err != nil {
		return err
	}
	if !fromDeposit {
		if min := s.cfg.MinTokensToBuyBack; min != nil && surplus.Cmp(min) < 0 {
			return errBelowMinBuyBack
		}
	}
	if surplus.Sign() == 0 {
		return nil
	}

	actual, err := s.params.Source.Withdraw(s.params.DepositToken.Address(), surplus, s.params.Self)
	if err != nil {
		return err
	}
	if actual == nil || actual.Sign() <= 0 {
		return nil
	}

	fees, err := s.splitFees(s.params.DepositToken, actual, caller)
	if err != nil {
		return err
	}
	remainder := new(big.Int).Sub(actual, fees)

	treasuryOut, err := s.swapToTreasury(s.params.DepositToken, remainder,
		s.params.PairDepositStable)
	if err != nil {
		return err
	}

	deployed, err := s.TotalDeposits()
	if err != nil {
		return err
	}
	s.emitter.Emit(events.StrategyHarvest{
		Type:          events.TypeStrategyBuyBack,
		Strategy:      s.params.Self,
		Caller:        caller,
		Gross:         actual,
		Fees:          fees,
		TreasuryOut:   treasuryOut,
		TotalDeposits: deployed,
		TotalSupply:   s.shares.TotalSupply(),
	})
	return nil
}

// splitFees applies the three-way dev/admin/caller split in the given token
// and returns the total fee amount taken.
func (s *YieldStrategy) splitFees(tok token.Token, amount *big.Int, caller common.Address) (*big.Int, error) {
	devFee := nativecommon.BpsShare(amount, s.cfg.DevFeeBps)
	adminFee := nativecommon.BpsShare(amount, s.cfg.AdminFeeBps)
	reinvestFee := nativecommon.BpsShare(amount, s.cfg.ReinvestFeeBps)

	if devFee.Sign() > 0 {
		if err := tok.Transfer(s.params.Self, s.params.DevAddr, devFee); err != nil {
			return nil, err
		}
	}
	if adminFee.Sign() > 0 {
		if err := tok.Transfer(s.params.Self, s.params.AdminAddr, adminFee); err != nil {
			return nil, err
		}
	}
	if reinvestFee.Sign() > 0 {
		if err := tok.Transfer(s.params.Self, caller, reinvestFee); err != nil {
			return nil, err
		}
	}

	total := new(big.Int).Add(devFee, adminFee)
	return total.Add(total, reinvestFee), nil
}

// swapToTreasury runs the from→stable→platform chain, skipping the first hop
// when from already is the stable token, and forwards the output.
func (s *YieldStrategy) swapToTreasury(from token.Token, amount *big.Int, pairFromStable common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	stableAddr := s.params.StableToken.Address()
	stableAmount := amount
	if from.Address() != stableAddr {
		out, err := s.params.Router.Swap(amount, from.Address(), stableAddr, pairFromStable)
		if err != nil {
			return nil, err
		}
		stableAmount = out
	}
	platformOut, err := s.params.Router.Swap(stableAmount, stableAddr,
		s.params.PlatformToken.Address(), s.params.PairStablePlatform)
	if err != nil {
		return nil, err
	}
	if platformOut.Sign() > 0 {
		if err := s.params.PlatformToken.Transfer(s.params.Self, s.params.Treasury, platformOut); err != nil {
			return nil, err
		}
	}
	return platformOut, nil
}

// RescueDeployedFunds pulls the entire position out of the yield source. The
// recovered amount must meet minReturnAccepted or the funds are re-supplied
// and the call fails with no observable effect. Rescue is irreversible: the
// flag stays set for the life of the strategy.
func (s *YieldStrategy) RescueDeployedFunds(caller common.Address, minReturnAccepted *big.Int, disableDeposits bool) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}

	actual, err := s.params.Source.Withdraw(s.params.DepositToken.Address(), MaxWithdraw, s.params.Self)
	if err != nil {
		return err
	}
	if actual == nil {
		actual = big.NewInt(0)
	}
	if minReturnAccepted != nil && actual.Cmp(minReturnAccepted) < 0 {
		if actual.Sign() > 0 {
			if err := s.params.Source.Supply(s.params.DepositToken.Address(), actual, s.params.Self); err != nil {
				return err
			}
		}
		return errRescueShortfall
	}

	s.rescued = true
	if disableDeposits {
		s.depositsEnabled = false
	}

	deployed, err := s.TotalDeposits()
	if err != nil {
		return err
	}
	s.emitter.Emit(events.StrategyRescue{
		Strategy:         s.params.Self,
		Recovered:        actual,
		DepositsDisabled: !s.depositsEnabled,
		TotalDeposits:    deployed,
		TotalSupply:      s.shares.TotalSupply(),
	})
	return nil
}

// Sweep transfers stray tokens held by the strategy account to the owner.
func (s *YieldStrategy) Sweep(caller common.Address, tok token.Token, amount *big.Int) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return tok.Transfer(s.params.Self, s.owner.Owner(), amount)
}

// EnableDeposits re-opens the strategy for deposits.
func (s *YieldStrategy) EnableDeposits(caller common.Address) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	s.depositsEnabled = true
	return nil
}

// DisableDeposits closes the strategy for deposits. Withdrawals stay open.
func (s *YieldStrategy) DisableDeposits(caller common.Address) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	s.depositsEnabled = false
	return nil
}

// SetAdminFeeBps updates the admin fee, validating the combined cap.
func (s *YieldStrategy) SetAdminFeeBps(caller common.Address, bps uint64) error {
	return s.setFee(caller, func(c *Config) { c.AdminFeeBps = bps })
}

// SetDevFeeBps updates the dev fee, validating the combined cap.
func (s *YieldStrategy) SetDevFeeBps(caller common.Address, bps uint64) error {
	return s.setFee(caller, func(c *Config) { c.DevFeeBps = bps })
}

// SetReinvestFeeBps updates the caller reinvest reward, validating the
// combined cap.
func (s *YieldStrategy) SetReinvestFeeBps(caller common.Address, bps uint64) error {
	return s.setFee(caller, func(c *Config) { c.ReinvestFeeBps = bps })
}

func (s *YieldStrategy) setFee(caller common.Address, apply func(*Config)) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	next := s.cfg.Clone()
	apply(&next)
	if err := next.validateFees(); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// SetMinTokensToReinvest updates the public reinvest gate.
func (s *YieldStrategy) SetMinTokensToReinvest(caller common.Address, min *big.Int) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	s.cfg.MinTokensToReinvest = copyBig(min)
	return nil
}

// SetMinTokensToBuyBack updates the public buyback gate.
func (s *YieldStrategy) SetMinTokensToBuyBack(caller common.Address, min *big.Int) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	s.cfg.MinTokensToBuyBack = copyBig(min)
	return nil
}

// SetDepositCeilings updates the opportunistic harvest triggers used by the
// deposit hooks.
func (s *YieldStrategy) SetDepositCeilings(caller common.Address, maxReinvest, maxBuyBack *big.Int) error {
	if err := s.owner.RequireOwner(caller); err != nil {
		return err
	}
	s.cfg.MaxTokensToDepositWithoutReinvest = copyBig(maxReinvest)
	s.cfg.MaxSurplusToDepositWithoutBuyBack = copyBig(maxBuyBack)
	return nil
}

// SetDevAddr replaces the dev fee recipient. Only the current dev address may
// do this; the owner has no authority over it.
func (s *YieldStrategy) SetDevAddr(caller, next common.Address) error {
	if caller != s.params.DevAddr {
		return errNotDev
	}
	s.params.DevAddr = next
	return nil
}

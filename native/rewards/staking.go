package rewards

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"autovault/native/ledger"
	"autovault/native/token"
)

var (
	errNotDistributor   = errors.New("rewards staking: caller is not the reward distributor")
	errZeroStake        = errors.New("rewards staking: amount must be positive")
	errZeroDuration     = errors.New("rewards staking: rewards duration must be positive")
	errRewardTooHigh    = errors.New("rewards staking: notified reward exceeds funded balance")
	errNilStakingToken  = errors.New("rewards staking: token not configured")
	errUnstakeExceeds   = errors.New("rewards staking: amount exceeds staked balance")
	errNothingToGetOut  = errors.New("rewards staking: nothing staked")
	errInvalidNotifyAmt = errors.New("rewards staking: notified amount must be positive")
)

// rewardPrecision scales rewardPerToken so integer division keeps enough
// resolution for small stakes against large reward rates.
var rewardPrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// StakingLedger accrues a linear payout schedule over stakers, proportional to
// stake. Rewards arrive through NotifyRewardAmount from a single authorized
// distributor; a re-notify before the current period ends rolls the leftover
// into the new schedule.
type StakingLedger struct {
	addr         common.Address
	stakingToken token.Token
	rewardToken  token.Token
	distributor  common.Address

	stakes *ledger.ShareLedger
	nowFn  func() int64

	rewardsDuration        int64
	periodFinish           int64
	lastUpdateTime         int64
	rewardRate             *big.Int
	rewardPerTokenStored   *big.Int
	userRewardPerTokenPaid map[common.Address]*big.Int
	rewards                map[common.Address]*big.Int
}

// NewStakingLedger constructs an empty ledger paying rewardToken to stakers of
// stakingToken over rewardsDuration seconds per notified tranche.
func NewStakingLedger(addr common.Address, stakingToken, rewardToken token.Token, distributor common.Address, rewardsDuration int64) (*StakingLedger, error) {
	if stakingToken == nil || rewardToken == nil {
		return nil, errNilStakingToken
	}
	if rewardsDuration <= 0 {
		return nil, errZeroDuration
	}
	return &StakingLedger{
		addr:                   addr,
		stakingToken:           stakingToken,
		rewardToken:            rewardToken,
		distributor:            distributor,
		stakes:                 ledger.New(),
		nowFn:                  func() int64 { return time.Now().Unix() },
		rewardsDuration:        rewardsDuration,
		rewardRate:             big.NewInt(0),
		rewardPerTokenStored:   big.NewInt(0),
		userRewardPerTokenPaid: make(map[common.Address]*big.Int),
		rewards:                make(map[common.Address]*big.Int),
	}, nil
}

// SetNowFunc overrides the clock, used by tests to replay schedules.
func (l *StakingLedger) SetNowFunc(now func() int64) {
	if now == nil {
		return
	}
	l.nowFn = now
}

func (l *StakingLedger) now() int64 {
	return l.nowFn()
}

// Address returns the ledger's funding account.
func (l *StakingLedger) Address() common.Address { return l.addr }

// TotalStaked returns the aggregate staked balance.
func (l *StakingLedger) TotalStaked() *big.Int { return l.stakes.TotalSupply() }

// StakedOf returns account's staked balance.
func (l *StakingLedger) StakedOf(account common.Address) *big.Int {
	return l.stakes.BalanceOf(account)
}

// lastTimeRewardApplicable clamps the clock to the end of the active period.
func (l *StakingLedger) lastTimeRewardApplicable() int64 {
	now := l.now()
	if now > l.periodFinish {
		return l.periodFinish
	}
	return now
}

// rewardPerToken returns the cumulative reward per staked unit, scaled by
// rewardPrecision.
func (l *StakingLedger) rewardPerToken() *big.Int {
	total := l.stakes.TotalSupply()
	if total.Sign() == 0 {
		return new(big.Int).Set(l.rewardPerTokenStored)
	}
	elapsed := big.NewInt(l.lastTimeRewardApplicable() - l.lastUpdateTime)
	accrued := new(big.Int).Mul(elapsed, l.rewardRate)
	accrued.Mul(accrued, rewardPrecision)
	accrued.Div(accrued, total)
	return accrued.Add(accrued, l.rewardPerTokenStored)
}

// Earned returns account's claimable reward at the current clock.
func (l *StakingLedger) Earned(account common.Address) *big.Int {
	paid := l.userRewardPerTokenPaid[account]
	if paid == nil {
		paid = big.NewInt(0)
	}
	delta := new(big.Int).Sub(l.rewardPerToken(), paid)
	earned := delta.Mul(delta, l.stakes.BalanceOf(account))
	earned.Div(earned, rewardPrecision)
	if pending := l.rewards[account]; pending != nil {
		earned.Add(earned, pending)
	}
	return earned
}

func (l *StakingLedger) updateReward(account common.Address) {
	l.rewardPerTokenStored = l.rewardPerToken()
	l.lastUpdateTime = l.lastTimeRewardApplicable()
	if account != (common.Address{}) {
		l.rewards[account] = l.Earned(account)
		l.userRewardPerTokenPaid[account] = new(big.Int).Set(l.rewardPerTokenStored)
	}
}

// Stake locks amount of the staking token for account.
func (l *StakingLedger) Stake(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errZeroStake
	}
	l.updateReward(account)
	if err := l.stakingToken.TransferFrom(l.addr, account, l.addr, amount); err != nil {
		return err
	}
	return l.stakes.Mint(account, amount)
}

// Unstake releases amount back to account.
func (l *StakingLedger) Unstake(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errZeroStake
	}
	if l.stakes.BalanceOf(account).Cmp(amount) < 0 {
		return errUnstakeExceeds
	}
	l.updateReward(account)
	if err := l.stakes.Burn(account, amount); err != nil {
		return err
	}
	return l.stakingToken.Transfer(l.addr, account, amount)
}

// GetReward pays out account's accrued reward.
func (l *StakingLedger) GetReward(account common.Address) (*big.Int, error) {
	l.updateReward(account)
	reward := l.rewards[account]
	if reward == nil || reward.Sign() == 0 {
		return big.NewInt(0), nil
	}
	l.rewards[account] = big.NewInt(0)
	if err := l.rewardToken.Transfer(l.addr, account, reward); err != nil {
		return nil, err
	}
	return new(big.Int).Set(reward), nil
}

// Exit unstakes the full balance and claims the accrued reward in one call.
func (l *StakingLedger) Exit(account common.Address) error {
	staked := l.stakes.BalanceOf(account)
	if staked.Sign() == 0 {
		return errNothingToGetOut
	}
	if err := l.Unstake(account, staked); err != nil {
		return err
	}
	_, err := l.GetReward(account)
	return err
}

// NotifyRewardAmount starts a payout schedule for a freshly funded reward
// tranche, folding any remainder of an in-flight period into the new rate. The
// reward tokens must already sit on the ledger's account when this is called.
func (l *StakingLedger) NotifyRewardAmount(caller common.Address, amount *big.Int) error {
	if caller != l.distributor {
		return errNotDistributor
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidNotifyAmt
	}
	l.updateReward(common.Address{})

	now := l.now()
	duration := big.NewInt(l.rewardsDuration)
	var rate *big.Int
	if now >= l.periodFinish {
		rate = new(big.Int).Div(amount, duration)
	} else {
		remaining := big.NewInt(l.periodFinish - now)
		leftover := new(big.Int).Mul(remaining, l.rewardRate)
		rate = new(big.Int).Div(new(big.Int).Add(amount, leftover), duration)
	}

	// The rate must be coverable by the funded balance for a full period,
	// otherwise later claims would fail mid-schedule.
	funded := l.rewardToken.BalanceOf(l.addr)
	maxRate := new(big.Int).Div(funded, duration)
	if rate.Cmp(maxRate) > 0 {
		return errRewardTooHigh
	}

	l.rewardRate = rate
	l.lastUpdateTime = now
	l.periodFinish = now + l.rewardsDuration
	return nil
}

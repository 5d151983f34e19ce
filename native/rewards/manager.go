package rewards

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"autovault/core/events"
	nativecommon "autovault/native/common"
	"autovault/native/token"
)

var (
	errNilDependency       = errors.New("rewards engine: dependency not configured")
	errAlreadyWhitelisted  = errors.New("rewards engine: strategy already whitelisted")
	errNotWhitelisted      = errors.New("rewards engine: strategy not whitelisted")
	errZeroWeight          = errors.New("rewards engine: weight must be positive")
	errDistributionPending = errors.New("rewards engine: distribution round pending")
	errNoPendingRound      = errors.New("rewards engine: no distribution round pending")
	errEmptyPool           = errors.New("rewards engine: unallocated pool is empty")
	errEmptyWhitelist      = errors.New("rewards engine: whitelist is empty")
	errSlotOutOfRange      = errors.New("rewards engine: slot index out of range")
	errPoolOutstanding     = errors.New("rewards engine: unallocated pool still outstanding")
	errVestingShortfall    = errors.New("rewards engine: vesting source delivered less than claimed")
	errNotStakeholder      = errors.New("rewards engine: caller is not the designated stakeholder")
)

// Stakeholder partition of each vesting claim, in basis points. The remainder
// after the three fixed cuts funds the unallocated distribution pool.
const (
	OperationsShareBps = 2_500
	InvestorsShareBps  = 3_000
	TreasuryShareBps   = 1_000
)

// VestingSource releases the next vested tranche to the caller's account and
// reports the amount pushed.
type VestingSource interface {
	Claim() (*big.Int, error)
}

type whitelistEntry struct {
	strategy common.Address
	ledger   *StakingLedger
	weight   uint64
}

// Stakeholders names the three addresses entitled to the fixed vesting cuts.
type Stakeholders struct {
	Operations common.Address
	Investors  common.Address
	Treasury   common.Address
}

// Manager drives the reward flow: vested tranches arrive through
// ClaimVestedTokens and split into three stakeholder accumulators plus an
// unallocated pool; the pool is then snapshotted into a weighted distribution
// round and paid out to the whitelisted strategies' staking ledgers.
type Manager struct {
	addr        common.Address
	rewardToken token.Token
	vesting     VestingSource

	owner   *nativecommon.Ownership
	guard   nativecommon.ReentrancyGuard
	pauses  nativecommon.PauseView
	emitter events.Emitter

	whitelist []whitelistEntry

	// pending holds the snapshot of the in-flight round, parallel to the
	// whitelist at calculation time; nil when no round is pending.
	pending      []*big.Int
	pendingRound uuid.UUID

	unallocatedPool *big.Int
	stakeholders    Stakeholders
	operationsOwed  *big.Int
	investorsOwed   *big.Int
	treasuryOwed    *big.Int
}

// NewManager constructs an idle rewards manager with an empty whitelist.
func NewManager(addr common.Address, rewardToken token.Token, vesting VestingSource, owner common.Address, stakeholders Stakeholders, nowFn func() int64) (*Manager, error) {
	if rewardToken == nil || vesting == nil {
		return nil, errNilDependency
	}
	if nowFn == nil {
		nowFn = func() int64 { return 0 }
	}
	return &Manager{
		addr:            addr,
		rewardToken:     rewardToken,
		vesting:         vesting,
		owner:           nativecommon.NewOwnership(owner, nowFn),
		emitter:         events.NoopEmitter{},
		unallocatedPool: big.NewInt(0),
		stakeholders:    stakeholders,
		operationsOwed:  big.NewInt(0),
		investorsOwed:   big.NewInt(0),
		treasuryOwed:    big.NewInt(0),
	}, nil
}

const moduleName = "rewards"

// SetPauses wires the module pause switchboard.
func (m *Manager) SetPauses(pauses nativecommon.PauseView) { m.pauses = pauses }

// SetEmitter overrides the event sink.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

// Ownership exposes the two-step owner handover state machine.
func (m *Manager) Ownership() *nativecommon.Ownership { return m.owner }

// Address returns the manager's funding account.
func (m *Manager) Address() common.Address { return m.addr }

// UnallocatedPool returns the balance awaiting weighted distribution.
func (m *Manager) UnallocatedPool() *big.Int { return new(big.Int).Set(m.unallocatedPool) }

// DistributionPending reports whether a snapshotted round awaits payout.
func (m *Manager) DistributionPending() bool { return m.pending != nil }

// PendingRound returns the identifier of the in-flight round, zero when none.
func (m *Manager) PendingRound() uuid.UUID { return m.pendingRound }

// StakeholderOwed returns the three accumulator balances.
func (m *Manager) StakeholderOwed() (operations, investors, treasury *big.Int) {
	return new(big.Int).Set(m.operationsOwed), new(big.Int).Set(m.investorsOwed), new(big.Int).Set(m.treasuryOwed)
}

// AddToWhitelist registers a strategy's staking ledger with a distribution
// weight. The whitelist is frozen while a round is pending so the snapshot and
// the live list cannot drift apart mid-round.
func (m *Manager) AddToWhitelist(caller, strategy common.Address, ledger *StakingLedger, weight uint64) error {
	if err := m.owner.RequireOwner(caller); err != nil {
		return err
	}
	if ledger == nil {
		return errNilDependency
	}
	if weight == 0 {
		return errZeroWeight
	}
	if m.pending != nil {
		return errDistributionPending
	}
	if m.indexOf(strategy) >= 0 {
		return errAlreadyWhitelisted
	}
	m.whitelist = append(m.whitelist, whitelistEntry{strategy: strategy, ledger: ledger, weight: weight})
	return nil
}

// RemoveFromWhitelist drops a strategy from future rounds.
func (m *Manager) RemoveFromWhitelist(caller, strategy common.Address) error {
	if err := m.owner.RequireOwner(caller); err != nil {
		return err
	}
	if m.pending != nil {
		return errDistributionPending
	}
	idx := m.indexOf(strategy)
	if idx < 0 {
		return errNotWhitelisted
	}
	m.whitelist = append(m.whitelist[:idx], m.whitelist[idx+1:]...)
	return nil
}

// SetWeight adjusts a whitelisted strategy's distribution weight.
func (m *Manager) SetWeight(caller, strategy common.Address, weight uint64) error {
	if err := m.owner.RequireOwner(caller); err != nil {
		return err
	}
	if weight == 0 {
		return errZeroWeight
	}
	if m.pending != nil {
		return errDistributionPending
	}
	idx := m.indexOf(strategy)
	if idx < 0 {
		return errNotWhitelisted
	}
	m.whitelist[idx].weight = weight
	return nil
}

// CalculateReturns snapshots the current whitelist weights into a pending
// distribution round over the unallocated pool. Integer division leaks the
// remainder; it stays in the pool balance and is zeroed on full payout.
func (m *Manager) CalculateReturns() (uuid.UUID, error) {
	if m.pending != nil {
		return uuid.Nil, errDistributionPending
	}
	if m.unallocatedPool.Sign() == 0 {
		return uuid.Nil, errEmptyPool
	}
	if len(m.whitelist) == 0 {
		return uuid.Nil, errEmptyWhitelist
	}

	var totalWeight uint64
	for _, entry := range m.whitelist {
		totalWeight += entry.weight
	}
	total := new(big.Int).SetUint64(totalWeight)

	amounts := make([]*big.Int, len(m.whitelist))
	for i, entry := range m.whitelist {
		amount := new(big.Int).SetUint64(entry.weight)
		amount.Mul(amount, m.unallocatedPool)
		amount.Div(amount, total)
		amounts[i] = amount
	}
	m.pending = amounts
	m.pendingRound = uuid.New()

	m.emitter.Emit(events.RewardsCalculated{
		RoundID:     m.pendingRound.String(),
		Pool:        new(big.Int).Set(m.unallocatedPool),
		TotalWeight: totalWeight,
		Slots:       len(amounts),
	})
	return m.pendingRound, nil
}

// DistributeTokens pays every remaining slot of the pending round, clears the
// pending flag and zeroes the pool. Slots already paid through the single-slot
// fallback are skipped.
func (m *Manager) DistributeTokens() error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if m.pending == nil {
		return errNoPendingRound
	}

	paid := big.NewInt(0)
	for i := range m.pending {
		if err := m.paySlot(i); err != nil {
			return err
		}
		paid.Add(paid, m.pending[i])
	}

	m.emitter.Emit(events.RewardsDistributed{
		RoundID: m.pendingRound.String(),
		Paid:    paid,
	})
	m.pending = nil
	m.pendingRound = uuid.Nil
	m.unallocatedPool = big.NewInt(0)
	return nil
}

// DistributeTokensSinglePool pays one slot of the pending round out of order.
// The round stays pending; the caller is responsible for eventually finishing
// it, typically with a final DistributeTokens that sweeps the rest.
func (m *Manager) DistributeTokensSinglePool(index int) error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if m.pending == nil {
		return errNoPendingRound
	}
	if index < 0 || index >= len(m.pending) {
		return errSlotOutOfRange
	}

	amount := new(big.Int).Set(m.pending[index])
	if err := m.paySlot(index); err != nil {
		return err
	}
	m.unallocatedPool.Sub(m.unallocatedPool, amount)

	m.emitter.Emit(events.RewardsSlotDistributed{
		RoundID:  m.pendingRound.String(),
		Index:    index,
		Strategy: m.whitelist[index].strategy,
		Paid:     amount,
	})
	return nil
}

// paySlot transfers a slot's snapshot amount to its staking ledger, notifies
// the ledger and zeroes the slot. Zero slots are no-ops.
func (m *Manager) paySlot(index int) error {
	amount := m.pending[index]
	if amount.Sign() == 0 {
		return nil
	}
	entry := m.whitelist[index]
	if err := m.rewardToken.Transfer(m.addr, entry.ledger.Address(), amount); err != nil {
		return err
	}
	if err := entry.ledger.NotifyRewardAmount(m.addr, amount); err != nil {
		return err
	}
	m.pending[index] = big.NewInt(0)
	return nil
}

// ClaimVestedTokens pulls the next vested tranche and partitions it: the three
// fixed stakeholder cuts accrue to their accumulators and the remainder funds
// the unallocated pool. A still-outstanding pool blocks the claim so tranches
// never merge across distribution rounds. The source may over-deliver, in
// which case the surplus is partitioned along with the tranche; delivering
// less than it claimed is a hard failure.
func (m *Manager) ClaimVestedTokens() error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return err
	}
	if m.unallocatedPool.Sign() != 0 || m.pending != nil {
		return errPoolOutstanding
	}

	before := m.rewardToken.BalanceOf(m.addr)
	claimed, err := m.vesting.Claim()
	if err != nil {
		return err
	}
	received := new(big.Int).Sub(m.rewardToken.BalanceOf(m.addr), before)
	if claimed != nil && received.Cmp(claimed) < 0 {
		return errVestingShortfall
	}
	if received.Sign() <= 0 {
		return errVestingShortfall
	}

	operations := nativecommon.BpsShare(received, OperationsShareBps)
	investors := nativecommon.BpsShare(received, InvestorsShareBps)
	treasury := nativecommon.BpsShare(received, TreasuryShareBps)

	pool := new(big.Int).Set(received)
	pool.Sub(pool, operations)
	pool.Sub(pool, investors)
	pool.Sub(pool, treasury)

	m.operationsOwed.Add(m.operationsOwed, operations)
	m.investorsOwed.Add(m.investorsOwed, investors)
	m.treasuryOwed.Add(m.treasuryOwed, treasury)
	m.unallocatedPool = pool

	m.emitter.Emit(events.RewardsVestingClaimed{
		Received:   received,
		Operations: operations,
		Investors:  investors,
		Treasury:   treasury,
		Pool:       new(big.Int).Set(pool),
	})
	return nil
}

// ClaimOperationsTokens drains the operations accumulator to its address.
func (m *Manager) ClaimOperationsTokens(caller common.Address) error {
	return m.claimStakeholder(caller, m.stakeholders.Operations, m.operationsOwed, "operations")
}

// ClaimInvestorTokens drains the investors accumulator to its address.
func (m *Manager) ClaimInvestorTokens(caller common.Address) error {
	return m.claimStakeholder(caller, m.stakeholders.Investors, m.investorsOwed, "investors")
}

// ClaimTreasuryTokens drains the treasury accumulator to its address.
func (m *Manager) ClaimTreasuryTokens(caller common.Address) error {
	return m.claimStakeholder(caller, m.stakeholders.Treasury, m.treasuryOwed, "treasury")
}

func (m *Manager) claimStakeholder(caller, designated common.Address, owed *big.Int, label string) error {
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

	if caller != designated {
		return errNotStakeholder
	}
	if owed.Sign() == 0 {
		return nil
	}
	amount := new(big.Int).Set(owed)
	if err := m.rewardToken.Transfer(m.addr, designated, amount); err != nil {
		return err
	}
	owed.SetInt64(0)

	m.emitter.Emit(events.RewardsStakeholderClaim{
		Stakeholder: label,
		Recipient:   designated,
		Amount:      amount,
	})
	return nil
}

func (m *Manager) indexOf(strategy common.Address) int {
	for i, entry := range m.whitelist {
		if entry.strategy == strategy {
			return i
		}
	}
	return -1
}

package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeRewardsCalculated       = "rewards.calculated"
	TypeRewardsDistributed      = "rewards.distributed"
	TypeRewardsSlotDistributed  = "rewards.slot_distributed"
	TypeRewardsVestingClaimed   = "rewards.vesting_claimed"
	TypeRewardsStakeholderClaim = "rewards.stakeholder_claimed"
)

// RewardsCalculated is emitted when a distribution round is snapshotted.
type RewardsCalculated struct {
	RoundID     string
	Pool        *big.Int
	TotalWeight uint64
	Slots       int
}

func (RewardsCalculated) EventType() string { return TypeRewardsCalculated }

func (e RewardsCalculated) Record() *Record {
	return &Record{
		Type: TypeRewardsCalculated,
		Attributes: map[string]string{
			"roundId":     e.RoundID,
			"pool":        formatAmount(e.Pool),
			"totalWeight": strconv.FormatUint(e.TotalWeight, 10),
			"slots":       strconv.Itoa(e.Slots),
		},
	}
}

// RewardsDistributed is emitted when every slot of a round has been paid via
// the batch path.
type RewardsDistributed struct {
	RoundID string
	Paid    *big.Int
}

func (RewardsDistributed) EventType() string { return TypeRewardsDistributed }

func (e RewardsDistributed) Record() *Record {
	return &Record{
		Type: TypeRewardsDistributed,
		Attributes: map[string]string{
			"roundId": e.RoundID,
			"paid":    formatAmount(e.Paid),
		},
	}
}

// RewardsSlotDistributed is emitted by the out-of-order single-slot fallback.
type RewardsSlotDistributed struct {
	RoundID  string
	Index    int
	Strategy common.Address
	Paid     *big.Int
}

func (RewardsSlotDistributed) EventType() string { return TypeRewardsSlotDistributed }

func (e RewardsSlotDistributed) Record() *Record {
	return &Record{
		Type: TypeRewardsSlotDistributed,
		Attributes: map[string]string{
			"roundId":  e.RoundID,
			"index":    strconv.Itoa(e.Index),
			"strategy": e.Strategy.Hex(),
			"paid":     formatAmount(e.Paid),
		},
	}
}

// RewardsVestingClaimed is emitted after a vesting interval is pulled and
// partitioned into the stakeholder accumulators plus the unallocated pool.
type RewardsVestingClaimed struct {
	Received   *big.Int
	Operations *big.Int
	Investors  *big.Int
	Treasury   *big.Int
	Pool       *big.Int
}

func (RewardsVestingClaimed) EventType() string { return TypeRewardsVestingClaimed }

func (e RewardsVestingClaimed) Record() *Record {
	return &Record{
		Type: TypeRewardsVestingClaimed,
		Attributes: map[string]string{
			"received":   formatAmount(e.Received),
			"operations": formatAmount(e.Operations),
			"investors":  formatAmount(e.Investors),
			"treasury":   formatAmount(e.Treasury),
			"pool":       formatAmount(e.Pool),
		},
	}
}

// RewardsStakeholderClaim is emitted when a stakeholder drains its accumulator.
type RewardsStakeholderClaim struct {
	Stakeholder string
	Recipient   common.Address
	Amount      *big.Int
}

func (RewardsStakeholderClaim) EventType() string { return TypeRewardsStakeholderClaim }

func (e RewardsStakeholderClaim) Record() *Record {
	return &Record{
		Type: TypeRewardsStakeholderClaim,
		Attributes: map[string]string{
			"stakeholder": e.Stakeholder,
			"recipient":   e.Recipient.Hex(),
			"amount":      formatAmount(e.Amount),
		},
	}
}

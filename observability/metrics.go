package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type vaultMetrics struct {
	deposits           *prometheus.CounterVec
	withdrawals        *prometheus.CounterVec
	partialFulfilments prometheus.Counter
	rebalances         *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *vaultMetrics
)

// Vault returns the collectors tracking vault share flow.
func Vault() *vaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "vault",
				Name:      "deposits_total",
				Help:      "Count of vault deposits segmented by routing target.",
			}, []string{"routed"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "vault",
				Name:      "withdrawals_total",
				Help:      "Count of vault withdrawals segmented by fulfilment.",
			}, []string{"fulfilment"}),
			partialFulfilments: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "vault",
				Name:      "partial_fulfilments_total",
				Help:      "Withdrawals whose payout was capped below the requested amount.",
			}),
			rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "vault",
				Name:      "rebalances_total",
				Help:      "Owner-driven capital moves segmented by direction.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.withdrawals,
			vaultRegistry.partialFulfilments,
			vaultRegistry.rebalances,
		)
	})
	return vaultRegistry
}

func (m *vaultMetrics) RecordDeposit(routed bool) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(boolLabel(routed, "strategy", "idle")).Inc()
}

func (m *vaultMetrics) RecordWithdrawal(partial bool) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(boolLabel(partial, "partial", "full")).Inc()
	if partial {
		m.partialFulfilments.Inc()
	}
}

func (m *vaultMetrics) RecordRebalance(direction string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(direction).Inc()
}

type strategyMetrics struct {
	harvests *prometheus.CounterVec
	rescues  prometheus.Counter
}

var (
	strategyOnce     sync.Once
	strategyRegistry *strategyMetrics
)

// Strategy returns the collectors tracking the reinvest/buyback pipeline.
func Strategy() *strategyMetrics {
	strategyOnce.Do(func() {
		strategyRegistry = &strategyMetrics{
			harvests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "strategy",
				Name:      "harvests_total",
				Help:      "Reinvest and buyback executions segmented by kind.",
			}, []string{"kind"}),
			rescues: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "strategy",
				Name:      "rescues_total",
				Help:      "Emergency rescues of deployed funds.",
			}),
		}
		prometheus.MustRegister(strategyRegistry.harvests, strategyRegistry.rescues)
	})
	return strategyRegistry
}

func (m *strategyMetrics) RecordHarvest(kind string) {
	if m == nil {
		return
	}
	m.harvests.WithLabelValues(kind).Inc()
}

func (m *strategyMetrics) RecordRescue() {
	if m == nil {
		return
	}
	m.rescues.Inc()
}

type rewardsMetrics struct {
	rounds            prometheus.Counter
	slotPayouts       prometheus.Counter
	vestingClaims     prometheus.Counter
	stakeholderClaims *prometheus.CounterVec
}

var (
	rewardsOnce     sync.Once
	rewardsRegistry *rewardsMetrics
)

// Rewards returns the collectors tracking the distribution state machine.
func Rewards() *rewardsMetrics {
	rewardsOnce.Do(func() {
		rewardsRegistry = &rewardsMetrics{
			rounds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "rewards",
				Name:      "rounds_total",
				Help:      "Distribution rounds snapshotted.",
			}),
			slotPayouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "rewards",
				Name:      "slot_payouts_total",
				Help:      "Single-slot out-of-order payouts.",
			}),
			vestingClaims: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "rewards",
				Name:      "vesting_claims_total",
				Help:      "Vesting tranches pulled and partitioned.",
			}),
			stakeholderClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "autovault",
				Subsystem: "rewards",
				Name:      "stakeholder_claims_total",
				Help:      "Accumulator drains segmented by stakeholder.",
			}, []string{"stakeholder"}),
		}
		prometheus.MustRegister(
			rewardsRegistry.rounds,
			rewardsRegistry.slotPayouts,
			rewardsRegistry.vestingClaims,
			rewardsRegistry.stakeholderClaims,
		)
	})
	return rewardsRegistry
}

func (m *rewardsMetrics) RecordRound()      { m.rounds.Inc() }
func (m *rewardsMetrics) RecordSlotPayout() { m.slotPayouts.Inc() }
func (m *rewardsMetrics) RecordVesting()    { m.vestingClaims.Inc() }

func (m *rewardsMetrics) RecordStakeholderClaim(stakeholder string) {
	m.stakeholderClaims.WithLabelValues(stakeholder).Inc()
}

func boolLabel(v bool, whenTrue, whenFalse string) string {
	if v {
		return whenTrue
	}
	return whenFalse
}

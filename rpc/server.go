package rpc

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nativecommon "autovault/native/common"
	"autovault/native/registry"
	"autovault/native/rewards"
	"autovault/native/strategy"
	"autovault/native/token"
	"autovault/native/vault"
	"autovault/observability"
)

var (
	errUnknownStrategy = errors.New("rpc: unknown strategy")
	errUnknownToken    = errors.New("rpc: unknown token")
	errMissingArgument = errors.New("rpc: amount or bips must be set")
)

// Node bundles the engines the server fronts.
type Node struct {
	Vault      *vault.Vault
	Registry   *registry.Engine
	Rewards    *rewards.Manager
	Strategies []*strategy.YieldStrategy

	// Tokens resolves an asset address for sweep requests.
	Tokens func(common.Address) (token.Token, bool)
}

// Server exposes the owner operations behind JWT auth and the public queries
// behind a per-client rate limit.
type Server struct {
	node    Node
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
}

func NewServer(node Node, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, auth: auth, limiter: limiter, logger: logger}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware())
		}
		r.Get("/v1/vault", s.handleVaultSummary)
		r.Get("/v1/vault/shares/{address}", s.handleVaultShares)
		r.Get("/v1/strategies", s.handleStrategyList)
		r.Get("/v1/strategies/{address}", s.handleStrategyDetail)
		r.Get("/v1/rewards", s.handleRewardsSummary)
	})

	r.Route("/v1/admin", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware())
		}
		r.Post("/vault/active-strategy", s.handleSetActiveStrategy)
		r.Post("/vault/remove-strategy", s.handleRemoveStrategy)
		r.Post("/vault/deposit-to-strategy", s.handleDepositToStrategy)
		r.Post("/vault/withdraw-from-strategy", s.handleWithdrawFromStrategy)

		r.Post("/registry/{address}/pause", s.registryTransition((*registry.Engine).Pause))
		r.Post("/registry/{address}/resume", s.registryTransition((*registry.Engine).Resume))
		r.Post("/registry/{address}/disable", s.registryTransition((*registry.Engine).Disable))
		r.Post("/registry/{address}/remove", s.registryTransition((*registry.Engine).Remove))

		r.Post("/strategies/{address}/reinvest", s.handleReinvest)
		r.Post("/strategies/{address}/buyback", s.handleBuyBack)
		r.Post("/strategies/{address}/fees", s.handleSetFees)
		r.Post("/strategies/{address}/thresholds", s.handleSetThresholds)
		r.Post("/strategies/{address}/deposits", s.handleSetDepositsEnabled)
		r.Post("/strategies/{address}/rescue", s.handleRescue)
		r.Post("/strategies/{address}/sweep", s.handleSweep)

		r.Post("/rewards/calculate", s.handleRewardsCalculate)
		r.Post("/rewards/distribute", s.handleRewardsDistribute)
		r.Post("/rewards/distribute-slot", s.handleRewardsDistributeSlot)
		r.Post("/rewards/claim-vesting", s.handleClaimVesting)
	})

	r.Route("/v1/account", func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware())
		}
		r.Post("/vault/deposit", s.handleVaultDeposit)
		r.Post("/vault/withdraw", s.handleVaultWithdraw)
		r.Post("/rewards/claim-operations",
			s.stakeholderClaim("operations", (*rewards.Manager).ClaimOperationsTokens))
		r.Post("/rewards/claim-investors",
			s.stakeholderClaim("investors", (*rewards.Manager).ClaimInvestorTokens))
		r.Post("/rewards/claim-treasury",
			s.stakeholderClaim("treasury", (*rewards.Manager).ClaimTreasuryTokens))
	})

	return r
}

func (s *Server) strategyByAddress(addr common.Address) (*strategy.YieldStrategy, bool) {
	for _, st := range s.node.Strategies {
		if st.Address() == addr {
			return st, true
		}
	}
	return nil, false
}

func pathAddress(r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// writeEngineError maps engine failures: authority errors surface as 403,
// everything else as 422 since the request was well formed.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	if errors.Is(err, nativecommon.ErrNotOwner) {
		status = http.StatusForbidden
	}
	writeError(w, status, err)
}

// --- public queries ---

type vaultSummary struct {
	Address        string   `json:"address"`
	TotalSupply    string   `json:"totalSupply"`
	IdleBalance    string   `json:"idleBalance"`
	TotalDeposits  string   `json:"totalDeposits"`
	ActiveStrategy string   `json:"activeStrategy,omitempty"`
	Strategies     []string `json:"strategies"`
}

func (s *Server) handleVaultSummary(w http.ResponseWriter, _ *http.Request) {
	v := s.node.Vault
	total, err := v.TotalDeposits()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	summary := vaultSummary{
		Address:       v.Address().Hex(),
		TotalSupply:   v.TotalSupply().String(),
		IdleBalance:   v.IdleBalance().String(),
		TotalDeposits: total.String(),
	}
	if active := v.ActiveStrategy(); active != nil {
		summary.ActiveStrategy = active.Address().Hex()
	}
	for _, st := range v.Strategies() {
		summary.Strategies = append(summary.Strategies, st.Address().Hex())
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleVaultShares(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"shares":  s.node.Vault.SharesOf(addr).String(),
	})
}

type strategyDetail struct {
	Address         string `json:"address"`
	DepositToken    string `json:"depositToken"`
	RewardToken     string `json:"rewardToken"`
	Slot            uint64 `json:"slot"`
	Generation      uint64 `json:"generation"`
	AdminFeeBps     uint64 `json:"adminFeeBps"`
	DevFeeBps       uint64 `json:"devFeeBps"`
	ReinvestFeeBps  uint64 `json:"reinvestFeeBps"`
	Paused          bool   `json:"paused"`
	Disabled        bool   `json:"disabled"`
	DepositsEnabled bool   `json:"depositsEnabled"`
	TotalDeposits   string `json:"totalDeposits,omitempty"`
	TotalSupply     string `json:"totalSupply,omitempty"`
	PendingReward   string `json:"pendingReward,omitempty"`
	BuyBackSurplus  string `json:"buyBackSurplus,omitempty"`
}

func (s *Server) strategyDetailOf(addr common.Address) (strategyDetail, error) {
	rec, err := s.node.Registry.Get(addr)
	if err != nil {
		return strategyDetail{}, err
	}
	detail := strategyDetail{
		Address:        rec.Strategy.Hex(),
		DepositToken:   rec.DepositToken.Hex(),
		RewardToken:    rec.RewardToken.Hex(),
		Slot:           rec.ID.Slot,
		Generation:     rec.ID.Generation,
		AdminFeeBps:    rec.AdminFeeBps,
		DevFeeBps:      rec.DevFeeBps,
		ReinvestFeeBps: rec.ReinvestFeeBps,
		Paused:         rec.Paused,
		Disabled:       rec.Disabled,
	}
	if st, ok := s.strategyByAddress(addr); ok {
		detail.DepositsEnabled = st.DepositsEnabled()
		detail.TotalSupply = st.TotalSupply().String()
		if deployed, err := st.TotalDeposits(); err == nil {
			detail.TotalDeposits = deployed.String()
		}
		if reward, err := st.CheckReward(); err == nil {
			detail.PendingReward = reward.String()
		}
		if surplus, err := st.CheckBuyBack(); err == nil {
			detail.BuyBackSurplus = surplus.String()
		}
	}
	return detail, nil
}

func (s *Server) handleStrategyList(w http.ResponseWriter, _ *http.Request) {
	details := make([]strategyDetail, 0, len(s.node.Strategies))
	for _, st := range s.node.Strategies {
		detail, err := s.strategyDetailOf(st.Address())
		if err != nil {
			continue
		}
		details = append(details, detail)
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleStrategyDetail(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	detail, err := s.strategyDetailOf(addr)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type rewardsSummary struct {
	UnallocatedPool     string `json:"unallocatedPool"`
	DistributionPending bool   `json:"distributionPending"`
	PendingRound        string `json:"pendingRound,omitempty"`
	OperationsOwed      string `json:"operationsOwed"`
	InvestorsOwed       string `json:"investorsOwed"`
	TreasuryOwed        string `json:"treasuryOwed"`
}

func (s *Server) handleRewardsSummary(w http.ResponseWriter, _ *http.Request) {
	m := s.node.Rewards
	ops, inv, tre := m.StakeholderOwed()
	summary := rewardsSummary{
		UnallocatedPool:     m.UnallocatedPool().String(),
		DistributionPending: m.DistributionPending(),
		OperationsOwed:      ops.String(),
		InvestorsOwed:       inv.String(),
		TreasuryOwed:        tre.String(),
	}
	if summary.DistributionPending {
		summary.PendingRound = m.PendingRound().String()
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- owner operations ---

type strategyTarget struct {
	Strategy addressParam `json:"strategy"`
}

func (s *Server) handleSetActiveStrategy(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req strategyTarget
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Vault.SetActiveStrategy(caller, req.Strategy.value); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleRemoveStrategy(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req strategyTarget
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Vault.RemoveStrategy(caller, req.Strategy.value); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

type rebalanceRequest struct {
	Strategy addressParam `json:"strategy"`
	Amount   *amountParam `json:"amount,omitempty"`
	Bips     uint64       `json:"bips,omitempty"`
}

func (s *Server) handleDepositToStrategy(w http.ResponseWriter, r *http.Request) {
	s.handleRebalance(w, r, "deploy",
		s.node.Vault.DepositToStrategy, s.node.Vault.DepositToStrategyPct)
}

func (s *Server) handleWithdrawFromStrategy(w http.ResponseWriter, r *http.Request) {
	s.handleRebalance(w, r, "recall",
		s.node.Vault.WithdrawFromStrategy, s.node.Vault.WithdrawFromStrategyPct)
}

func (s *Server) handleRebalance(
	w http.ResponseWriter,
	r *http.Request,
	direction string,
	byAmount func(common.Address, common.Address, *big.Int) error,
	byBips func(common.Address, common.Address, uint64) error,
) {
	caller, _ := CallerFromContext(r.Context())
	var req rebalanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var err error
	switch {
	case req.Amount != nil:
		err = byAmount(caller, req.Strategy.value, req.Amount.value)
	case req.Bips > 0:
		err = byBips(caller, req.Strategy.value, req.Bips)
	default:
		writeError(w, http.StatusBadRequest, errMissingArgument)
		return
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Vault().RecordRebalance(direction)
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) registryTransition(op func(*registry.Engine, common.Address, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		addr, ok := pathAddress(r)
		if !ok {
			writeError(w, http.StatusBadRequest, errors.New("invalid address"))
			return
		}
		if err := op(s.node.Registry, caller, addr); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	}
}

func (s *Server) withStrategy(w http.ResponseWriter, r *http.Request, fn func(caller common.Address, st *strategy.YieldStrategy) error) {
	caller, _ := CallerFromContext(r.Context())
	addr, ok := pathAddress(r)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid address"))
		return
	}
	st, ok := s.strategyByAddress(addr)
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownStrategy)
		return
	}
	if err := fn(caller, st); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleReinvest(w http.ResponseWriter, r *http.Request) {
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if err := st.Reinvest(caller); err != nil {
			return err
		}
		observability.Strategy().RecordHarvest("reinvest")
		return nil
	})
}

func (s *Server) handleBuyBack(w http.ResponseWriter, r *http.Request) {
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if err := st.BuyBack(caller); err != nil {
			return err
		}
		observability.Strategy().RecordHarvest("buyback")
		return nil
	})
}

type feesRequest struct {
	AdminFeeBps    *uint64 `json:"adminFeeBps,omitempty"`
	DevFeeBps      *uint64 `json:"devFeeBps,omitempty"`
	ReinvestFeeBps *uint64 `json:"reinvestFeeBps,omitempty"`
}

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if req.AdminFeeBps != nil {
			if err := st.SetAdminFeeBps(caller, *req.AdminFeeBps); err != nil {
				return err
			}
		}
		if req.DevFeeBps != nil {
			if err := st.SetDevFeeBps(caller, *req.DevFeeBps); err != nil {
				return err
			}
		}
		if req.ReinvestFeeBps != nil {
			if err := st.SetReinvestFeeBps(caller, *req.ReinvestFeeBps); err != nil {
				return err
			}
		}
		return nil
	})
}

type thresholdsRequest struct {
	MinTokensToReinvest *amountParam `json:"minTokensToReinvest,omitempty"`
	MinTokensToBuyBack  *amountParam `json:"minTokensToBuyBack,omitempty"`
}

func (s *Server) handleSetThresholds(w http.ResponseWriter, r *http.Request) {
	var req thresholdsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if req.MinTokensToReinvest != nil {
			if err := st.SetMinTokensToReinvest(caller, req.MinTokensToReinvest.value); err != nil {
				return err
			}
		}
		if req.MinTokensToBuyBack != nil {
			if err := st.SetMinTokensToBuyBack(caller, req.MinTokensToBuyBack.value); err != nil {
				return err
			}
		}
		return nil
	})
}

type depositsRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetDepositsEnabled(w http.ResponseWriter, r *http.Request) {
	var req depositsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if req.Enabled {
			return st.EnableDeposits(caller)
		}
		return st.DisableDeposits(caller)
	})
}

type rescueRequest struct {
	MinReturnAccepted *amountParam `json:"minReturnAccepted,omitempty"`
	DisableDeposits   bool         `json:"disableDeposits"`
}

func (s *Server) handleRescue(w http.ResponseWriter, r *http.Request) {
	var req rescueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minReturn := big.NewInt(0)
	if req.MinReturnAccepted != nil {
		minReturn = req.MinReturnAccepted.value
	}
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if err := st.RescueDeployedFunds(caller, minReturn, req.DisableDeposits); err != nil {
			return err
		}
		observability.Strategy().RecordRescue()
		return nil
	})
}

type sweepRequest struct {
	Token  addressParam `json:"token"`
	Amount amountParam  `json:"amount"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.withStrategy(w, r, func(caller common.Address, st *strategy.YieldStrategy) error {
		if s.node.Tokens == nil {
			return errUnknownToken
		}
		tok, ok := s.node.Tokens(req.Token.value)
		if !ok {
			return errUnknownToken
		}
		return st.Sweep(caller, tok, req.Amount.value)
	})
}

func (s *Server) handleRewardsCalculate(w http.ResponseWriter, r *http.Request) {
	round, err := s.node.Rewards.CalculateReturns()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Rewards().RecordRound()
	writeJSON(w, http.StatusOK, map[string]string{"roundId": round.String()})
}

func (s *Server) handleRewardsDistribute(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Rewards.DistributeTokens(); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

type distributeSlotRequest struct {
	Index int `json:"index"`
}

func (s *Server) handleRewardsDistributeSlot(w http.ResponseWriter, r *http.Request) {
	var req distributeSlotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.node.Rewards.DistributeTokensSinglePool(req.Index); err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Rewards().RecordSlotPayout()
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleClaimVesting(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Rewards.ClaimVestedTokens(); err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Rewards().RecordVesting()
	writeJSON(w, http.StatusOK, statusOK)
}

// --- caller operations ---

type amountRequest struct {
	Amount amountParam `json:"amount"`
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	routed := s.node.Vault.ActiveStrategy() != nil
	if err := s.node.Vault.Deposit(caller, req.Amount.value); err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Vault().RecordDeposit(routed)
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	paid, err := s.node.Vault.Withdraw(caller, req.Amount.value)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	observability.Vault().RecordWithdrawal(paid.Cmp(req.Amount.value) < 0)
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

func (s *Server) stakeholderClaim(name string, op func(*rewards.Manager, common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		if err := op(s.node.Rewards, caller); err != nil {
			writeEngineError(w, err)
			return
		}
		observability.Rewards().RecordStakeholderClaim(name)
		writeJSON(w, http.StatusOK, statusOK)
	}
}

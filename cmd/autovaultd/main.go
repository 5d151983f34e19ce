package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"autovault/config"
	"autovault/core/events"
	"autovault/native/registry"
	"autovault/native/rewards"
	"autovault/native/strategy"
	"autovault/native/token"
	"autovault/native/vault"
	"autovault/observability"
	"autovault/observability/logging"
	otelobs "autovault/observability/otel"
	"autovault/rpc"
	"autovault/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("daemon exited", "error", err.Error())
		os.Exit(1)
	}
}

// systemAddress derives a stable account identity for protocol-owned actors.
func systemAddress(name string) common.Address {
	return common.BytesToAddress(gethcrypto.Keccak256([]byte("autovault/" + name))[12:])
}

// logEmitter renders protocol events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	rec := evt.Record()
	args := make([]any, 0, 2*len(rec.Attributes)+2)
	args = append(args, "type", rec.Type)
	for k, v := range rec.Attributes {
		args = append(args, k, v)
	}
	l.logger.Info("protocol event", args...)
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	var logger *slog.Logger
	if cfg.LogFile != "" {
		logger = logging.SetupWithOutput(cfg.ServiceName, cfg.Environment,
			logging.RotatingFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups))
	} else {
		logger = logging.Setup(cfg.ServiceName, cfg.Environment)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := otelobs.Init(ctx, otelobs.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
			Traces:      true,
			Metrics:     true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", "error", err.Error())
			}
		}()
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	keeper := storage.NewKeeper(db)

	owner, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	operations, investors, treasury, err := cfg.StakeholderAddresses()
	if err != nil {
		return err
	}

	now := func() int64 { return time.Now().Unix() }
	emitter := observability.NewMeteredEmitter(logEmitter{logger: logger})

	reg := registry.NewEngine(owner, now)
	reg.SetState(keeper)
	reg.SetEmitter(emitter)

	manifest, err := config.LoadManifest(cfg.ManifestFile)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	specs, err := manifest.Specs()
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return errors.New("manifest lists no strategies")
	}

	books := newBookSet()
	source := newSimYieldSource(systemAddress("yield-source"), books)
	stableToken := books.book(systemAddress("stable-token"), "STB")
	platformToken := books.book(systemAddress("platform-token"), "AVT")

	// The vault pools the first manifest strategy's deposit asset; strategies
	// on other assets register with the catalog but stay outside this vault.
	depositBook := books.book(specs[0].DepositToken, "DEP")
	v, err := vault.New(systemAddress("vault"), owner, depositBook, reg)
	if err != nil {
		return err
	}
	v.SetPauses(cfg.Global.Pauses)
	v.SetEmitter(emitter)

	rewardBook := books.book(systemAddress("reward-token"), "RWD")
	tranche := big.NewInt(0)
	if raw := cfg.Global.Rewards.VestingTranche; raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok || parsed.Sign() < 0 {
			return fmt.Errorf("config: invalid VestingTranche %q", raw)
		}
		tranche = parsed
	}
	managerAddr := systemAddress("rewards-manager")
	manager, err := rewards.NewManager(managerAddr, rewardBook,
		&simVesting{book: rewardBook, to: managerAddr, tranche: tranche},
		owner, rewards.Stakeholders{
			Operations: operations,
			Investors:  investors,
			Treasury:   treasury,
		}, now)
	if err != nil {
		return err
	}
	manager.SetPauses(cfg.Global.Pauses)
	manager.SetEmitter(emitter)

	strategies := make([]*strategy.YieldStrategy, 0, len(specs))
	for _, spec := range specs {
		st, err := buildStrategy(spec, owner, treasury, books, source, stableToken, platformToken)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", spec.Name, err)
		}
		// A restart finds the strategy already persisted; re-attach the live
		// handle instead of failing the boot.
		if _, err := reg.Add(owner, st); errors.Is(err, registry.ErrAlreadyRegistered) {
			if _, err := reg.Attach(owner, st); err != nil {
				return fmt.Errorf("reattach %s: %w", spec.Name, err)
			}
		} else if err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
		if st.DepositTokenAddress() == depositBook.Address() {
			if err := v.AddStrategy(owner, st); err != nil {
				return fmt.Errorf("support %s: %w", spec.Name, err)
			}
		}

		ledgerAddr := systemAddress("staking/" + spec.Name)
		stakingLedger, err := rewards.NewStakingLedger(ledgerAddr,
			books.book(spec.DepositToken, "DEP"), rewardBook, managerAddr,
			int64(cfg.Global.Rewards.StakingDurationSecs))
		if err != nil {
			return fmt.Errorf("staking ledger %s: %w", spec.Name, err)
		}
		if err := manager.AddToWhitelist(owner, st.Address(), stakingLedger, spec.Weight); err != nil {
			return fmt.Errorf("whitelist %s: %w", spec.Name, err)
		}

		st.SetEmitter(emitter)
		strategies = append(strategies, st)
		logger.Info("strategy registered",
			"name", spec.Name,
			"address", st.Address().Hex(),
			"weight", spec.Weight)
	}

	auth := rpc.NewAuthenticator(cfg.JWTSecret, cfg.ServiceName, logger)
	limiter := rpc.NewRateLimiter(cfg.Global.Quota.MaxRequestsPerMin, cfg.Global.Quota.Burst)
	server := rpc.NewServer(rpc.Node{
		Vault:      v,
		Registry:   reg,
		Rewards:    manager,
		Strategies: strategies,
		Tokens:     books.lookupToken,
	}, auth, limiter, logger)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rpc listening", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("rpc server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildStrategy(
	spec config.StrategySpec,
	owner, treasury common.Address,
	books *bookSet,
	source *simYieldSource,
	stableToken, platformToken *token.Book,
) (*strategy.YieldStrategy, error) {
	params := strategy.Params{
		Self:          spec.Address,
		Owner:         owner,
		DevAddr:       owner,
		AdminAddr:     owner,
		Treasury:      treasury,
		DepositToken:  books.book(spec.DepositToken, "DEP"),
		RewardToken:   books.book(spec.RewardToken, "RWD"),
		StableToken:   stableToken,
		PlatformToken: platformToken,
		Source:        source,
		Claimer:       simClaimer{},
		Router: &simRouter{
			venue:  systemAddress("swap-venue"),
			caller: spec.Address,
			books:  books,
		},
		ReceiptAsset:       spec.DepositToken,
		PairRewardStable:   systemAddress("pair/reward-stable"),
		PairStablePlatform: systemAddress("pair/stable-platform"),
		PairDepositStable:  systemAddress("pair/deposit-stable"),
		Config: strategy.Config{
			AdminFeeBps:         spec.AdminFeeBps,
			DevFeeBps:           spec.DevFeeBps,
			ReinvestFeeBps:      spec.ReinvestFeeBps,
			MinTokensToReinvest: spec.MinTokensToReinvest,
			MinTokensToBuyBack:  spec.MinTokensToBuyBack,
		},
	}
	return strategy.NewYieldStrategy(params)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"scrollpay/config"
	"scrollpay/core/events"
	"scrollpay/gateway"
	"scrollpay/gateway/middleware"
	"scrollpay/native/bank"
	"scrollpay/native/oracle"
	"scrollpay/native/payments"
	"scrollpay/native/swap"
	"scrollpay/observability"
	"scrollpay/observability/logging"
	"scrollpay/rpc"
	"scrollpay/state"
	"scrollpay/storage"
)

// poolAddress holds the swap liquidity backing native payments. Operators fund
// it out of band.
var poolAddress = common.HexToAddress("0x5C000000000000000000000000000000000000D1")

// logEmitter bridges engine events into the structured log stream.
type logEmitter struct {
	logger  *slog.Logger
	metrics *observability.PaymentsMetrics
}

func (e *logEmitter) Emit(evt events.Event) {
	payload := evt.Event()
	args := make([]any, 0, len(payload.Attributes)*2)
	for key, value := range payload.Attributes {
		args = append(args, key, value)
	}
	e.logger.Info(payload.Type, args...)

	switch evt.EventType() {
	case events.TypePaymentProcessed:
		path := "token"
		if p, ok := evt.(events.PaymentProcessed); ok && p.Native {
			path = "native"
		}
		e.metrics.RecordPayment(path)
	case events.TypeWithdrawalRequested:
		e.metrics.RecordWithdrawal("requested")
	case events.TypeWithdrawalCompleted:
		e.metrics.RecordWithdrawal("completed")
	case events.TypeDisputeRaised:
		e.metrics.RecordDispute("raised")
	case events.TypeDisputeResolved:
		e.metrics.RecordDispute("resolved")
	case events.TypeSubscriptionCreated:
		e.metrics.RecordSubscription()
	}
}

func main() {
	configPath := flag.String("config", "./scrollpay.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("scrollpayd", os.Getenv("SCROLLPAY_ENV"), logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("scrollpayd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager)
	if err := seedGenesis(cfg, manager, ledger, logger); err != nil {
		return fmt.Errorf("seed genesis allocations: %w", err)
	}

	emitter := &logEmitter{logger: logger, metrics: observability.Payments()}

	feed, err := buildFeed(cfg)
	if err != nil {
		return err
	}
	priceOracle, err := oracle.NewOracle(feed)
	if err != nil {
		return fmt.Errorf("construct oracle: %w", err)
	}
	if err := priceOracle.SetState(manager); err != nil {
		return fmt.Errorf("load oracle state: %w", err)
	}
	priceOracle.SetOwner(cfg.Owner())
	priceOracle.SetEmitter(emitter)

	router := swap.NewRouter(ledger, priceOracle, poolAddress, uint64(cfg.SwapFeeBps))

	engine := payments.NewEngine()
	engine.SetState(manager)
	engine.SetToken(ledger)
	engine.SetSwapper(router)
	engine.SetPauses(manager)
	engine.SetOwner(cfg.Owner())
	engine.SetVault(cfg.Vault())
	engine.SetEmitter(emitter)

	rpcServer := rpc.NewServer(engine, priceOracle, manager, cfg.Owner())
	rpcServer.SetAuthToken(cfg.RPCToken)

	gatewayHandler := gateway.New(gateway.Config{
		Payments: engine,
		Oracle:   priceOracle,
		Logger:   logger,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: 600,
			Burst:             30,
		}),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcSrv := &http.Server{Addr: cfg.RPCAddress, Handler: rpcServer.Handler()}
	gatewaySrv := &http.Server{Addr: cfg.GatewayAddress, Handler: gatewayHandler}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting JSON-RPC server", "addr", cfg.RPCAddress)
		if err := rpcSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting gateway", "addr", cfg.GatewayAddress)
		if err := gatewaySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server: %w", err)
		}
	}()

	go runKeeper(ctx, logger, engine, cfg)

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		stop()
		shutdown(rpcSrv, gatewaySrv)
		return err
	}

	shutdown(rpcSrv, gatewaySrv)
	return nil
}

func shutdown(servers ...*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(ctx)
	}
}

// seedGenesis mints the configured allocations exactly once per data
// directory, typically to fund the swap pool.
func seedGenesis(cfg *config.Config, manager *state.Manager, ledger *bank.Ledger, logger *slog.Logger) error {
	if len(cfg.GenesisAllocations) == 0 {
		return nil
	}
	applied, err := manager.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range cfg.GenesisAllocations {
		addr := alloc.Addr()
		if token := alloc.Token(); token.Sign() > 0 {
			if err := ledger.Mint(addr, token); err != nil {
				return err
			}
		}
		if native := alloc.Native(); native.Sign() > 0 {
			if err := ledger.MintNative(addr, native); err != nil {
				return err
			}
		}
		logger.Info("seeded genesis allocation",
			"address", alloc.Address,
			"token", alloc.TokenBalance,
			"native", alloc.NativeBalance,
		)
	}
	return manager.MarkGenesisApplied()
}

func buildFeed(cfg *config.Config) (oracle.PriceFeed, error) {
	if cfg.FeedEndpoint == "" {
		// Without a feed the oracle serves the operator-maintained
		// fallback price until it ages out.
		return oracle.NewManualFeed(), nil
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return oracle.NewHTTPFeed(client, cfg.FeedEndpoint, cfg.FeedAPIKey)
}

// runKeeper periodically sweeps subscriptions in bounded pages, carrying the
// cursor across sweeps.
func runKeeper(ctx context.Context, logger *slog.Logger, engine *payments.Engine, cfg *config.Config) {
	interval := time.Duration(cfg.KeeperIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	metrics := observability.Payments()
	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next, charged, err := engine.ProcessSubscriptions(cursor, cfg.SubscriptionBatchSize)
			if err != nil {
				logger.Warn("subscription sweep failed", "cursor", cursor, "error", err)
				continue
			}
			cursor = next
			if charged > 0 {
				logger.Info("subscription sweep", "charged", charged, "nextCursor", next)
				metrics.RecordKeeperCharges(charged)
			}
		}
	}
}

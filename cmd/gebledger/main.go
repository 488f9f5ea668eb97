package main

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GebLedger/internal/chain"
	"GebLedger/internal/config"
	"GebLedger/internal/core"
	"GebLedger/internal/ingestion"
	"GebLedger/internal/observability"
	"GebLedger/internal/persistence"
	"GebLedger/internal/state"

	"github.com/ethereum/go-ethereum"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLoggerTo(os.Stdout, "main", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("GebLedger starting")

	addresses, err := config.LoadAddresses(cfg.AddressFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.AddressFile).Msg("load address table")
	}
	logger.Info().
		Strs("names", addresses.Names()).
		Str("accounting_engine", addresses.AccountingEngine().Hex()).
		Msg("address table loaded")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("component", "migrator").Logger())
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	entityStore := persistence.NewEntityStore(db, cfg.PersistBatchSize, metrics)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Chain reader for the accounting engine bootstrap ---
	ethClient, err := chain.Dial(ctx, cfg.EthRPCURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("eth rpc dial")
	}
	defer ethClient.Close()

	engineReader, err := chain.NewAccountingEngineReader(
		&timeoutCaller{caller: ethClient, timeout: cfg.RPCTimeout},
		observability.NewLogger("chain"),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("accounting engine reader")
	}

	// --- Processor ---
	system := state.NewSystemManager(engineReader, metrics, observability.NewLogger("state"))
	processor := core.NewProcessor(
		entityStore,
		system,
		addresses.AccountingEngine(),
		dbChecker,
		cfg.IdempotencyLRUCapacity,
		metrics,
		observability.NewLogger("core"),
	)

	// --- Recovery ---
	if _, err := processor.Restore(ctx); err != nil {
		logger.Fatal().Err(err).Msg("restore checkpoint")
	}

	keys, err := dbChecker.RecentKeys(ctx, cfg.IdempotencyLRUCapacity)
	if err != nil {
		logger.Warn().Err(err).Msg("LRU warm-up skipped")
	} else if len(keys) > 0 {
		processor.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("LRU warmed from processed events")
	}

	if pos, ok := processor.Position(); ok {
		healthChecker.SetLastBlock(pos.BlockNumber)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := ingestion.EnsureStream(ctx, js, cfg.StreamName, logger); err != nil {
		logger.Fatal().Err(err).Msg("ensure NATS stream")
	}

	rawEventChan := make(chan ingestion.RawEvent, cfg.EventBuffer)
	subscriber := ingestion.NewNATSSubscriber(js, rawEventChan, observability.NewLogger("ingestion"))

	sub := ingestion.DefaultSubscription()
	sub.StreamName = cfg.StreamName
	sub.ConsumerName = cfg.ConsumerName
	if err := subscriber.Subscribe(ctx, sub); err != nil {
		logger.Fatal().Err(err).Msg("nats subscribe")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 2)
	loopDone := make(chan struct{})

	// 1. NATS → Processor loop, the only writer
	go func() {
		defer close(loopDone)
		loop := &ingestLoop{
			processor:  processor,
			metrics:    metrics,
			health:     healthChecker,
			stallDelay: cfg.StallRetryDelay,
			logger:     observability.NewLogger("loop"),
		}
		loop.run(ctx, rawEventChan)
	}()

	// 2. Metrics and health server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("metrics and health listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().Int64("events_applied", processor.EventsApplied()).Msg("GebLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop delivery first so the loop finishes the event it holds.
	healthChecker.SetReady(false)
	subscriber.Stop()
	cancel()
	<-loopDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().
		Int64("events_applied", processor.EventsApplied()).
		Msg("GebLedger shutdown complete")
}

// timeoutCaller bounds each eth_call.
type timeoutCaller struct {
	caller  ethereum.ContractCaller
	timeout time.Duration
}

func (c *timeoutCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.caller.CallContract(ctx, msg, block)
}

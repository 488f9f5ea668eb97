package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"GebLedger/internal/chain"
	"GebLedger/internal/config"
	"GebLedger/internal/core"
	"GebLedger/internal/ingestion"
	"GebLedger/internal/ledger"
	"GebLedger/internal/observability"
	"GebLedger/internal/persistence"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gopkg.in/urfave/cli.v1"
)

var (
	fileFlag = cli.StringFlag{
		Name:  "file",
		Usage: "JSONL capture of wire envelopes",
	}
	addressesFlag = cli.StringFlag{
		Name:   "addresses",
		Usage:  "YAML address table",
		EnvVar: "GEB_ADDRESS_FILE",
		Value:  "addresses.yaml",
	}
	rpcFlag = cli.StringFlag{
		Name:   "rpc",
		Usage:  "Ethereum JSON-RPC endpoint for the accounting engine bootstrap (empty: offline)",
		EnvVar: "GEB_ETH_RPC_URL",
	}
	postgresFlag = cli.StringFlag{
		Name:  "postgres",
		Usage: "apply into this Postgres DSN instead of memory",
	}
	verifyFlag = cli.BoolFlag{
		Name:  "verify",
		Usage: "check collateral conservation after the replay",
	}
	natsFlag = cli.StringFlag{
		Name:   "nats",
		Usage:  "NATS server URL",
		EnvVar: "GEB_NATS_URL",
		Value:  "nats://localhost:4222",
	}
	streamFlag = cli.StringFlag{
		Name:   "stream",
		Usage:  "JetStream stream name",
		EnvVar: "GEB_NATS_STREAM",
		Value:  ingestion.DefaultStream,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "replay"
	app.Usage = "replay captured SAFEEngine events"
	app.Writer = os.Stdout
	app.Commands = []cli.Command{
		{
			Name:   "apply",
			Usage:  "apply a capture in chain order and print the resulting state hash",
			Flags:  []cli.Flag{fileFlag, addressesFlag, rpcFlag, postgresFlag, verifyFlag},
			Action: applyCommand,
		},
		{
			Name:   "publish",
			Usage:  "publish a capture to the event stream in chain order",
			Flags:  []cli.Flag{fileFlag, natsFlag, streamFlag},
			Action: publishCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

// listingBackend is a backend the invariant validator can enumerate.
type listingBackend interface {
	store.Backend
	store.Lister
}

func applyCommand(c *cli.Context) error {
	ctx := context.Background()
	logger := observability.NewLoggerTo(os.Stderr, "replay", observability.ParseLogLevel(os.Getenv("GEB_LOG_LEVEL")))

	captured, err := readCaptureFile(c.String(fileFlag.Name))
	if err != nil {
		return err
	}
	captured = sortCapture(captured)

	addresses, err := config.LoadAddresses(c.String(addressesFlag.Name))
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	var backend listingBackend = memory.NewBackend()
	if dsn := c.String(postgresFlag.Name); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		backend = persistence.NewEntityStore(db, 0, metrics)
	}

	source, closeSource, err := engineSource(ctx, c.String(rpcFlag.Name), logger)
	if err != nil {
		return err
	}
	defer closeSource()

	processor, applied, err := runApply(ctx, captured, backend, source, addresses.AccountingEngine(), c.Bool(verifyFlag.Name), metrics, logger)
	if err != nil {
		return err
	}

	return report(c.App.Writer, processor, len(captured), applied)
}

// runApply resumes from the backend's checkpoint and applies captured
// events in order. Already applied events are skipped by deduplication.
func runApply(
	ctx context.Context,
	captured []capturedEvent,
	backend listingBackend,
	source state.AccountingEngineSource,
	accountingEngine common.Address,
	verify bool,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*core.Processor, int64, error) {
	processor := core.NewProcessor(
		backend,
		state.NewSystemManager(source, metrics, logger),
		accountingEngine,
		core.NewStoreIdempotencyChecker(backend),
		len(captured)+1,
		metrics,
		logger,
	)
	if _, err := processor.Restore(ctx); err != nil {
		return nil, 0, err
	}

	start := time.Now()
	before := processor.EventsApplied()
	for _, ce := range captured {
		if err := processor.ProcessEvent(ctx, ce.Event); err != nil {
			return nil, 0, fmt.Errorf("line %d: %w", ce.Line, err)
		}
	}
	applied := processor.EventsApplied() - before

	logger.Info().
		Int("read", len(captured)).
		Int64("applied", applied).
		Dur("elapsed", time.Since(start)).
		Msg("replay complete")

	if verify {
		tracker := ledger.NewBalanceTracker()
		if err := tracker.Load(ctx, backend); err != nil {
			return nil, 0, err
		}
		checked, err := ledger.NewInvariantValidator(tracker, logger).ValidateAll(ctx, backend)
		if err != nil {
			return nil, 0, fmt.Errorf("verify: %w", err)
		}
		logger.Info().Int("collateral_types", checked).Msg("conservation verified")
	}

	return processor, applied, nil
}

func report(w io.Writer, processor *core.Processor, read int, applied int64) error {
	hash := processor.GetStateHash()
	_, err := fmt.Fprintf(w, "read=%d applied=%d skipped=%d state_hash=%s\n",
		read, applied, int64(read)-applied, hex.EncodeToString(hash[:]))
	return err
}

func engineSource(ctx context.Context, endpoint string, logger zerolog.Logger) (state.AccountingEngineSource, func(), error) {
	if endpoint == "" {
		return offlineSource{}, func() {}, nil
	}
	client, err := chain.Dial(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}
	reader, err := chain.NewAccountingEngineReader(client, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return reader, client.Close, nil
}

var errOffline = errors.New("no eth rpc endpoint configured")

// offlineSource fails every bootstrap read. Captures without SettleDebt
// replay fully offline.
type offlineSource struct{}

func (offlineSource) AccountingEngineConfig(context.Context, common.Address, uint64) (*state.AccountingEngineConfig, error) {
	return nil, errOffline
}

func publishCommand(c *cli.Context) error {
	ctx := context.Background()
	logger := observability.NewLoggerTo(os.Stderr, "replay", observability.ParseLogLevel(os.Getenv("GEB_LOG_LEVEL")))

	captured, err := readCaptureFile(c.String(fileFlag.Name))
	if err != nil {
		return err
	}
	captured = sortCapture(captured)

	nc, js, err := ingestion.ConnectNATS(c.String(natsFlag.Name), logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := ingestion.EnsureStream(ctx, js, c.String(streamFlag.Name), logger); err != nil {
		return err
	}

	publisher := ingestion.NewEventPublisher(js, logger)
	for _, ce := range captured {
		if err := publisher.Publish(ctx, ce.Data); err != nil {
			return fmt.Errorf("line %d: %w", ce.Line, err)
		}
	}

	_, err = fmt.Fprintf(c.App.Writer, "published=%d\n", len(captured))
	return err
}

// Command ecashgwd runs the ecash wallet coordinator daemon: it wires the
// Mint Transport, Ledger Store, Validation Gate, Reconciliation Engine,
// Operation Coordinator, Poller Registry, Monitor & Recovery, and External
// Facade components together and keeps the Poller Registry's background
// tasks running until shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ecashgwd "github.com/decred/ecashgwd"
	"github.com/decred/ecashgwd/build"
	"github.com/decred/ecashgwd/config"
	"github.com/decred/ecashgwd/coordinator"
	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/facade"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
	"github.com/decred/ecashgwd/monitor"
	"github.com/decred/ecashgwd/poller"
	"github.com/decred/ecashgwd/reconcile"
	"github.com/decred/ecashgwd/validation"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	root := build.NewRotatingLogWriter()
	if err := root.InitLogRotator(cfg.LogDir+"/ecashgwd.log", cfg.MaxLogRolls); err != nil {
		return fmt.Errorf("initializing log rotator: %w", err)
	}
	ecashgwd.SetupLoggers(root)
	root.SetLogLevels(cfg.DebugLevel)
	gwdLog := ecashgwd.Log()

	store, err := ledger.DialMongoStore(cfg.Ledger.URI, cfg.Ledger.Database)
	if err != nil {
		return fmt.Errorf("dialing ledger store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensuring ledger indexes: %w", err)
	}

	mintCfg := mint.Config{
		MintURL:       cfg.Mint.URL,
		SocketTimeout: cfg.Mint.SocketTimeout,
		MaxSockets:    cfg.Mint.MaxSockets,
		KeepAlive:     cfg.Mint.KeepAlive,
	}

	gate := validation.New(store)
	reconciler := reconcile.New(store)
	reg := prometheus.NewRegistry()
	mon := monitor.New(store, reg)

	var coord *coordinator.Coordinator
	pollers := poller.New(store, func(tickCtx context.Context, key ecash.PollerKey, amount uint64) (bool, error) {
		return tickMint(tickCtx, coord, mintCfg, key, amount)
	}, poller.Options{
		Interval:   cfg.Poller.Interval,
		Timeout:    cfg.Poller.Timeout,
		MaxWorkers: cfg.Poller.MaxWorkers,
	})

	coord = coordinator.New(coordinator.Config{
		Store:      store,
		MintCfg:    mintCfg,
		Gate:       gate,
		Reconciler: reconciler,
		Pollers:    pollers,
		EventSink:  mon.Observe,
	})

	fcd := facade.New(facade.Config{
		Store:            store,
		Coordinator:      coord,
		Monitor:          mon,
		Reconciler:       reconciler,
		MintCfg:          mintCfg,
		MaxConcurrentOps: cfg.Facade.MaxConcurrentOps,
	})

	if health := fcd.Health(ctx); health.Status == facade.HealthCritical {
		return fmt.Errorf("mint unreachable at startup: %w", health.Err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	gwdLog.Infof("ecashgwd ready, mint=%s", cfg.Mint.URL)
	<-sigCh

	gwdLog.Infof("shutting down, draining pollers")
	pollers.CleanupAll()

	return nil
}

// tickMint drives a single poller tick (§4.7): it checks the quote's state
// and, if paid, completes the mint through a freshly built mint handle.
func tickMint(ctx context.Context, coord *coordinator.Coordinator, mintCfg mint.Config, key ecash.PollerKey, amount uint64) (bool, error) {
	handle, err := mint.NewHandle(ctx, mintCfg)
	if err != nil {
		return false, err
	}
	defer handle.Close()

	status, err := handle.Oracle().CheckMintQuote(ctx, key.QuoteID)
	if err != nil {
		return false, err
	}
	if status.State != mint.StatePaid {
		return false, nil
	}

	_, err = coord.CompleteMint(ctx, handle, key.UserKey, key.QuoteID, amount, key.TransactionID)
	if err != nil {
		return true, err
	}
	return true, nil
}

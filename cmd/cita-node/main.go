// Command cita-node is the process entrypoint wiring Executor, Postman,
// and Chain into one supervised group (spec §11 ambient stack, §5
// concurrency & resource model).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/citahub/cita-sub002/chain"
	"github.com/citahub/cita-sub002/config"
	"github.com/citahub/cita-sub002/core"
	"github.com/citahub/cita-sub002/core/types"
	"github.com/citahub/cita-sub002/core/vm"
	"github.com/citahub/cita-sub002/db"
	"github.com/citahub/cita-sub002/executor"
	"github.com/citahub/cita-sub002/log"
	"github.com/citahub/cita-sub002/metrics"
	"github.com/citahub/cita-sub002/postman"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cita-node:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	cfg := config.Default()
	return &cli.App{
		Name:  "cita-node",
		Usage: "run the executor/postman/chain coordination node",
		Flags: config.Flags(&cfg),
		Action: func(ctx *cli.Context) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(ctx.Context, cfg)
		},
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run wires the three actors over one on-disk store and supervises them
// with an errgroup: if Postman surfaces postman.ErrRollback (Chain fell
// behind Backlogs' prune window), the whole group is restarted with the
// executor rolled back to the reported height (spec §4.6, §9 Testable
// Property 6 "Rollback after chain loss").
func run(parent context.Context, cfg config.Config) error {
	logger := log.New(parseLevel(cfg.LogLevel))
	log.SetDefault(logger)

	if err := cfg.InitDataDir(); err != nil {
		return err
	}
	store, err := db.OpenLevelDB(cfg.ChainDataDir())
	if err != nil {
		return fmt.Errorf("open chaindata: %w", err)
	}
	defer store.Close()

	m := metrics.New()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rollbackTo *uint64
	for {
		restart, err := runOnce(ctx, cfg, store, logger, m, rollbackTo)
		if restart == nil {
			return err
		}
		rollbackTo = restart
		logger.Warn("restarting node after rollback", "height", *rollbackTo)
	}
}

// runOnce builds and runs one generation of the actor group. It returns a
// non-nil height when the group stopped because of a rollback signal and
// should be restarted; otherwise it returns the terminal error, if any.
func runOnce(ctx context.Context, cfg config.Config, store db.KeyValueStore, logger *log.Logger, m *metrics.Metrics, rollbackTo *uint64) (*uint64, error) {
	c, err := chain.New(store, logger)
	if err != nil {
		return nil, fmt.Errorf("open chain: %w", err)
	}

	exec, err := executor.New(executor.Options{
		Store:           store,
		Schedule:        vm.DefaultSchedule(),
		Precompiles:     core.NewPrecompileRegistry(),
		Natives:         core.NewNativeRegistry(),
		Permission:      core.NewPermissionManager(),
		AccountGasLimit: cfg.AccountGasLimit,
		CheckPermission: cfg.CheckPermission,
		CheckQuota:      cfg.CheckQuota,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open executor: %w", err)
	}

	if rollbackTo != nil {
		if err := exec.Exit(ctx, types.TagHeight(*rollbackTo)); err != nil {
			return nil, fmt.Errorf("roll back executor to height %d: %w", *rollbackTo, err)
		}
	}

	genesisResult, err := exec.LoadExecutedResult(ctx, 0)
	if err != nil {
		genesisResult = nil
	}

	p := postman.New(postman.Options{
		CurrentHeight: c.CurrentHeight(),
		CurrentHash:   c.CurrentHash(),
		Executor:      exec,
		Notify:        notifyWithMetrics(c, m),
		GenesisResult: genesisResult,
		Logger:        logger,
	})

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return exec.Run(gctx) })
	group.Go(func() error { return p.Run(gctx) })
	if cfg.MetricsEnabled {
		group.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr) })
	}

	m.ChainHeight.Set(float64(c.CurrentHeight()))
	m.PostmanHeight.Set(float64(p.CurrentHeight()))

	err = group.Wait()
	var rollback *postman.ErrRollback
	if errors.As(err, &rollback) {
		m.PostmanRollbacks.Inc()
		height := rollback.Height
		return &height, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return nil, nil
}

// notifyWithMetrics adapts Chain.Notify into a postman.ExecutedResultSink
// that also records the commit in m, so the Prometheus series reflect
// every block Postman actually delivers rather than requiring a separate
// poll loop.
func notifyWithMetrics(c *chain.Chain, m *metrics.Metrics) postman.ExecutedResultSink {
	return func(ctx context.Context, closed *types.ClosedBlock, result *types.ExecutedResult) error {
		if err := c.Notify(ctx, closed, result); err != nil {
			return err
		}
		m.ChainBlocksStored.Inc()
		m.ChainHeight.Set(float64(c.CurrentHeight()))
		return nil
	}
}

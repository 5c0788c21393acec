package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/batch"
	"github.com/speedrun-hq/tokenrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/lifecycle"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/preflight"
	"github.com/speedrun-hq/tokenrunner/pkg/reconcile"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
)

// env holds the components every command is built from
type env struct {
	cfg        *config.Config
	logger     logger.Logger
	client     *rpcclient.Client
	verify     *rpcclient.Client
	backend    store.Backend
	runs       *store.Runs
	breaker    *circuitbreaker.CircuitBreaker
	engine     *lifecycle.Engine
	policy     autofill.Policy
	checks     *preflight.Checker
	orch       *batch.Orchestrator
	reconciler *reconcile.Reconciler
}

func newLogger(cfg config.LoggerConfig) logger.Logger {
	if cfg.Format == config.LogFormatZap {
		return logger.NewZapLogger(cfg.Level)
	}
	return logger.NewStdLogger(cfg.Coloring, cfg.Level)
}

// setup loads the configuration and wires the engine, store and orchestrator
func setup(ctx context.Context) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log := newLogger(cfg.LoggerConfig)

	client := rpcclient.NewClient(cfg.RPCURL, log)
	verify := client
	if cfg.VerifyRPCURL != cfg.RPCURL {
		verify = rpcclient.NewClient(cfg.VerifyRPCURL, log)
	}
	if cfg.RPCRateLimit > 0 {
		client.SetRateLimiter(rpcclient.NewLimiter(cfg.RPCRateLimit, cfg.RPCBurst))
		if verify != client {
			verify.SetRateLimiter(rpcclient.NewLimiter(cfg.RPCRateLimit, cfg.RPCBurst))
		}
	}

	backend, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	runs := store.NewRuns(backend)

	breaker := circuitbreaker.NewCircuitBreaker("ledger", cfg.CircuitBreaker, log)
	engine := lifecycle.NewEngine(client, nil, log, cfg.Network, lifecycle.Options{PollInterval: cfg.PollInterval})
	checks := preflight.NewChecker(client, log)
	policy := autofill.Policy{
		MaxFeeDrops:     cfg.Autofill.MaxFeeDrops,
		FeeCushion:      cfg.Autofill.FeeCushion,
		MaxLedgerOffset: cfg.Autofill.MaxLedgerOffset,
	}

	log.InfoWithNetwork(cfg.Network, "Using ledger server %s", cfg.RPCURL)
	return &env{
		cfg:     cfg,
		logger:  log,
		client:  client,
		verify:  verify,
		backend: backend,
		runs:    runs,
		breaker: breaker,
		engine:  engine,
		policy:  policy,
		checks:  checks,
		orch: batch.NewOrchestrator(engine, client, runs, log, batch.Options{
			ThrottleMs:     cfg.Batch.ThrottleMs,
			TxsBeforeSleep: cfg.Batch.TxsBeforeSleep,
			SleepMs:        cfg.Batch.SleepMs,
			Policy:         policy,
			Breaker:        breaker,
			Checks:         checks,
		}),
		reconciler: reconcile.NewReconciler(verify, runs, log, reconcile.Options{
			SafetyOffset: cfg.Batch.SafetyOffset,
			SafetyMargin: cfg.Batch.SafetyMargin,
		}),
	}, nil
}

func (e *env) close() {
	if err := e.backend.Close(); err != nil {
		e.logger.Error("Closing store: %v", err)
	}
}

func (e *env) signer(ctx context.Context) (signer.Signer, error) {
	s, err := signer.New(ctx, e.cfg.Signer, e.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s signer: %w", e.cfg.Signer.Kind, err)
	}
	e.logger.InfoWithNetwork(e.cfg.Network, "Signing as %s with the %s backend", s.Address(), s.Backend())
	return s, nil
}

// withEnv runs action with a wired environment and closes it afterwards
func withEnv(action func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c.Context)
		if err != nil {
			return err
		}
		defer e.close()
		return action(c, e)
	}
}

func newApp() *cli.App {
	runFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "run", Aliases: []string{"r"}, Usage: "batch run ID", Required: true}
	}

	return &cli.App{
		Name:  "tokenrunner",
		Usage: "issue, distribute and mint tokens on the ledger in resumable batches",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "create a batch run from a YAML definition and start its ledger window",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true}},
				Action: withEnv(initRun),
			},
			{
				Name:  "run",
				Usage: "submit the pending items of one or more runs",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "run", Aliases: []string{"r"}, Usage: "batch run IDs", Required: true},
					&cli.BoolFlag{Name: "verify", Usage: "reconcile runs whose submission is complete"},
					&cli.IntFlag{Name: "parallel", Usage: "accounts driven at the same time, 0 for no bound"},
				},
				Action: withEnv(runBatches),
			},
			{
				Name:  "verify",
				Usage: "reconcile a submitted run against the account history",
				Flags: []cli.Flag{
					runFlag(),
					&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "ask for a decision on every ambiguous item"},
				},
				Action: withEnv(verifyRun),
			},
			{
				Name:  "resolve",
				Usage: "apply an operator decision to one item",
				Flags: []cli.Flag{
					runFlag(),
					&cli.StringFlag{Name: "item", Required: true},
					&cli.StringFlag{Name: "decision", Required: true, Usage: "verified, failed, failed:<code>, reset or defer"},
				},
				Action: withEnv(resolveItem),
			},
			{
				Name:   "status",
				Usage:  "show all runs or the items of one run",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "run", Aliases: []string{"r"}}},
				Action: withEnv(showStatus),
			},
			{
				Name:   "serve",
				Usage:  "serve health, run status and metrics endpoints",
				Action: withEnv(serve),
			},
			{
				Name:  "seal",
				Usage: "store a seed in an encrypted vault file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Required: true},
					&cli.StringFlag{Name: "seed", EnvVars: []string{"SEED"}, Required: true},
					&cli.StringFlag{Name: "password", EnvVars: []string{"SEED_PASSWORD"}},
					&cli.StringFlag{Name: "pin", EnvVars: []string{"SEED_PIN"}},
					&cli.BoolFlag{Name: "plain", Usage: "store the seed unencrypted"},
				},
				Action: sealSeed,
			},
			txCommand(),
		},
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/tokenrunner/pkg/batch"
	"github.com/speedrun-hq/tokenrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/health"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/reconcile"
	"github.com/speedrun-hq/tokenrunner/pkg/runner"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
)

var statusColors = map[string]*color.Color{
	string(models.ItemPending):            color.New(color.FgYellow),
	string(models.ItemSent):               color.New(color.FgCyan),
	string(models.ItemVerified):           color.New(color.FgGreen),
	string(models.ItemFailed):             color.New(color.FgRed),
	string(models.RunActive):              color.New(color.FgYellow),
	string(models.RunPendingVerification): color.New(color.FgCyan),
	string(models.RunCompleted):           color.New(color.FgGreen),
}

func colored(status string) string {
	if c, ok := statusColors[status]; ok {
		return c.Sprint(status)
	}
	return status
}

func initRun(c *cli.Context, e *env) error {
	def, err := batch.LoadDefinition(c.String("file"))
	if err != nil {
		return err
	}
	run, err := e.orch.Create(c.Context, def)
	if err != nil {
		return err
	}
	run, err = e.orch.Initialize(c.Context, run.ID)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s created with %d %s items, starting at ledger %d\n", run.ID, len(run.Items), run.Kind, run.LedgerIndexStart)
	return nil
}

func runBatches(c *cli.Context, e *env) error {
	s, err := e.signer(c.Context)
	if err != nil {
		return err
	}

	var verifier runner.Verifier
	if c.Bool("verify") {
		verifier = e.reconciler
	}
	r := runner.New(e.orch, verifier, e.runs, e.logger, c.Int("parallel"))

	var jobs []runner.Job
	for _, id := range c.StringSlice("run") {
		jobs = append(jobs, runner.Job{RunID: id, Signer: s})
	}

	failed := 0
	for _, res := range r.RunAll(c.Context, jobs) {
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("%s: %v\n", res.RunID, res.Err)
		case res.Verify != nil:
			fmt.Printf("%s: %d submitted, %d verified, %d failed, %d unresolved, %s\n", res.RunID,
				res.Batch.Submitted, res.Verify.Verified, res.Verify.Failed, len(res.Verify.Unresolved), colored(string(res.Verify.Status)))
		default:
			b := res.Batch
			fmt.Printf("%s: %d submitted, %d rejected, %d declined, %d errors, %d skipped, %s\n", res.RunID,
				b.Submitted, b.Rejected, b.Declined, b.Errors, b.Skipped, colored(string(b.Status)))
			if b.Halted {
				fmt.Printf("%s: stopped early, run it again to continue\n", res.RunID)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs failed", failed, len(jobs))
	}
	return nil
}

func verifyRun(c *cli.Context, e *env) error {
	rec := e.reconciler
	if c.Bool("interactive") {
		rec = reconcile.NewReconciler(e.verify, e.runs, e.logger, reconcile.Options{
			SafetyOffset: e.cfg.Batch.SafetyOffset,
			SafetyMargin: e.cfg.Batch.SafetyMargin,
			Resolver:     reconcile.NewPromptResolver(os.Stdin, os.Stdout),
		})
	}

	report, err := rec.Verify(c.Context, c.String("run"))
	if err != nil {
		return err
	}
	fmt.Printf("Run %s: %d verified, %d failed, %d reset, status %s\n",
		report.RunID, report.Verified, report.Failed, report.Reset, colored(string(report.Status)))
	for _, a := range report.Unresolved {
		fmt.Printf("  unresolved %v\n", a)
	}
	if len(report.Unresolved) > 0 {
		fmt.Printf("Resolve with: tokenrunner resolve --run %s --item <id> --decision verified|failed:%s|reset\n",
			report.RunID, reconcile.CodeTxNotFound)
	}
	return nil
}

func resolveItem(c *cli.Context, e *env) error {
	d, err := batch.ParseDecision(c.String("decision"))
	if err != nil {
		return err
	}
	run, err := e.orch.Override(c.Context, c.String("run"), c.String("item"), d)
	if err != nil {
		return err
	}
	fmt.Printf("Item %s of run %s is %s, run is %s\n", c.String("item"), run.ID,
		colored(string(run.Item(c.String("item")).Status)), colored(string(run.Status)))
	return nil
}

func showStatus(c *cli.Context, e *env) error {
	if id := c.String("run"); id != "" {
		run, err := e.runs.Load(c.Context, id)
		if err != nil {
			return err
		}
		fmt.Printf("Run %s (%s) %s on %s, account %s\n", run.ID, run.Name, run.Kind, run.Network, run.Account)
		fmt.Printf("Status %s, ledgers %d-%d, %d succeeded, %d failed\n",
			colored(string(run.Status)), run.LedgerIndexStart, run.LedgerIndexEnd, run.Counters.Succeeded, run.Counters.Failed)
		for _, item := range run.Items {
			line := fmt.Sprintf("  %-36s %-9s", item.ID, colored(string(item.Status)))
			if item.TxHash != "" {
				line += " " + item.TxHash
			}
			if item.FinalResult != "" {
				line += " " + item.FinalResult
			}
			if item.MintedNFTokenID != "" {
				line += " " + item.MintedNFTokenID
			}
			fmt.Println(line)
		}
		return nil
	}

	ids, err := e.runs.List(c.Context)
	if err != nil {
		return err
	}
	for _, id := range ids {
		run, err := e.runs.Load(c.Context, id)
		if err != nil {
			return err
		}
		counts := run.CountByStatus()
		fmt.Printf("%s %-20s %-8s %-20s pending %d sent %d verified %d failed %d\n", run.ID, run.Name, run.Kind,
			colored(string(run.Status)), counts[models.ItemPending], counts[models.ItemSent], counts[models.ItemVerified], counts[models.ItemFailed])
	}
	return nil
}

func serve(c *cli.Context, e *env) error {
	srv := health.NewServer(e.cfg.MetricsPort, e.cfg.Network, e.client, e.runs,
		[]*circuitbreaker.CircuitBreaker{e.breaker}, e.cfg.MetricsAPIKey, e.logger)

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		health.WatchRuns(ctx, e.runs)
		return nil
	})
	g.Go(func() error {
		return srv.Start(ctx)
	})
	return g.Wait()
}

func sealSeed(c *cli.Context) error {
	var (
		vault *signer.Vault
		err   error
	)
	if c.Bool("plain") {
		vault, err = signer.PlainVault(c.String("seed"))
	} else {
		vault, err = signer.SealSeed(c.String("seed"), c.String("password"), c.String("pin"))
	}
	if err != nil {
		return err
	}
	if err := vault.Save(c.String("out")); err != nil {
		return err
	}
	fmt.Printf("Seed of %s stored in %s\n", vault.Address, c.String("out"))
	if !vault.Encrypted() {
		color.Yellow("The seed is stored unencrypted")
	}
	return nil
}

func explorerLink(network, hash string) string {
	if url := config.GetExplorerURL(network, hash); url != "" {
		return url
	}
	return hash
}

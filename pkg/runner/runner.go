// Package runner drives batch runs of several accounts at once. Runs of one account are
// always processed one after the other since they share the account sequence.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/speedrun-hq/tokenrunner/pkg/batch"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/reconcile"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
)

// ErrAccountBusy is returned for a run whose account is already driven elsewhere in the process
var ErrAccountBusy = errors.New("account is busy")

// Batcher submits the pending items of a run
type Batcher interface {
	RunBatch(ctx context.Context, runID string, s signer.Signer) (*batch.Report, error)
}

// Verifier reconciles a submitted run
type Verifier interface {
	Verify(ctx context.Context, runID string) (*reconcile.Report, error)
}

// Job is one run to drive with the signer of its account
type Job struct {
	RunID  string
	Signer signer.Signer
}

// Result is the outcome of one job
type Result struct {
	RunID   string
	Account string
	Batch   *batch.Report
	Verify  *reconcile.Report
	Err     error
}

// Runner fans jobs out per account
type Runner struct {
	batcher  Batcher
	verifier Verifier
	runs     *store.Runs
	logger   logger.Logger
	limit    int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a runner. A nil verifier skips reconciliation; limit bounds the number of
// accounts driven concurrently, 0 means no bound.
func New(b Batcher, v Verifier, runs *store.Runs, log logger.Logger, limit int) *Runner {
	return &Runner{
		batcher:  b,
		verifier: v,
		runs:     runs,
		logger:   log,
		limit:    limit,
		locks:    make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex of an account, creating it on first use
func (r *Runner) accountLock(account string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[account]
	if !ok {
		l = &sync.Mutex{}
		r.locks[account] = l
	}
	return l
}

// RunAll drives every job and returns one result per job in input order. A failing job
// never stops the others.
func (r *Runner) RunAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	byAccount := make(map[string][]int)
	var accounts []string

	for i, job := range jobs {
		results[i].RunID = job.RunID
		run, err := r.runs.Load(ctx, job.RunID)
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Account = run.Account
		if _, ok := byAccount[run.Account]; !ok {
			accounts = append(accounts, run.Account)
		}
		byAccount[run.Account] = append(byAccount[run.Account], i)
	}

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for _, account := range accounts {
		account := account
		g.Go(func() error {
			lock := r.accountLock(account)
			if !lock.TryLock() {
				for _, i := range byAccount[account] {
					results[i].Err = fmt.Errorf("%w: %s", ErrAccountBusy, account)
				}
				return nil
			}
			defer lock.Unlock()

			for _, i := range byAccount[account] {
				r.drive(ctx, jobs[i], &results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// drive runs one job. Results of different accounts are written by different goroutines
// but never to the same element.
func (r *Runner) drive(ctx context.Context, job Job, res *Result) {
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return
	}

	res.Batch, res.Err = r.batcher.RunBatch(ctx, job.RunID, job.Signer)
	if res.Err != nil {
		r.logger.Error("Run %s of %s failed: %v", job.RunID, res.Account, res.Err)
		return
	}
	if r.verifier == nil || res.Batch.Status != models.RunPendingVerification {
		return
	}

	report, err := r.verifier.Verify(ctx, job.RunID)
	var notReady *reconcile.NotReadyError
	switch {
	case errors.As(err, &notReady):
		r.logger.Info("Run %s waits for ledger %d before verification (validated %d)", job.RunID, notReady.Required, notReady.Validated)
	case err != nil:
		res.Err = err
		r.logger.Error("Verification of run %s failed: %v", job.RunID, err)
	default:
		res.Verify = report
	}
}

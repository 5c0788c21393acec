// Package batch drives the submission of ordered work items for one signing account.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/tokenrunner/pkg/clock"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/lifecycle"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
	"github.com/speedrun-hq/tokenrunner/pkg/txbuilder"
)

var (
	// ErrNotInitialized is returned by RunBatch for runs still in the created state
	ErrNotInitialized = errors.New("run is not initialized")
	// ErrWrongAccount is returned when the signer does not control the run's account
	ErrWrongAccount = errors.New("signer does not control the run account")
)

// Submitter submits a transaction once without waiting for validation
type Submitter interface {
	Submit(ctx context.Context, intent models.TransactionIntent, s signer.Signer, policy autofill.Policy, hooks lifecycle.Hooks) (*lifecycle.Submission, error)
	Network() string
}

// Ledger is the read access the orchestrator needs
type Ledger interface {
	Tx(ctx context.Context, hash string) (*rpcclient.TxResult, error)
	ValidatedLedgerIndex(ctx context.Context) (uint32, error)
}

// RunChecker reads the ledger state the items of a new run depend on
type RunChecker interface {
	CheckRun(ctx context.Context, run *models.BatchRun) error
}

// Options holds pacing and policy settings
type Options struct {
	// ThrottleMs is slept after every processed item
	ThrottleMs int
	// SleepMs is slept after every TxsBeforeSleep items; 0 disables it
	TxsBeforeSleep int
	SleepMs        int
	Policy         autofill.Policy
	Breaker        *circuitbreaker.CircuitBreaker
	// Checks rejects runs with items the ledger would refuse; nil skips them
	Checks RunChecker
	Sleep  clock.Sleeper
	Now    func() time.Time
}

// Report summarizes one RunBatch invocation
type Report struct {
	RunID     string
	Submitted int
	Rejected  int
	Declined  int
	Errors    int
	// Skipped items carry a signed transaction that may still apply
	Skipped int
	// Recovered items were found on the ledger after an interrupted invocation
	Recovered int
	Halted    bool
	Status    models.RunStatus
}

// Orchestrator runs batches. A run is read from the store at the start of every
// operation and written back after every item; it keeps no state of its own.
type Orchestrator struct {
	engine Submitter
	ledger Ledger
	runs   *store.Runs
	logger logger.Logger
	opts   Options
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(engine Submitter, l Ledger, runs *store.Runs, log logger.Logger, opts Options) *Orchestrator {
	if opts.Sleep == nil {
		opts.Sleep = clock.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{engine: engine, ledger: l, runs: runs, logger: log, opts: opts}
}

// Create persists a new run built from a definition
func (o *Orchestrator) Create(ctx context.Context, def *Definition) (*models.BatchRun, error) {
	run, err := def.NewRun(o.engine.Network(), o.opts.Now())
	if err != nil {
		return nil, err
	}
	if o.opts.Checks != nil {
		if err := o.opts.Checks.CheckRun(ctx, run); err != nil {
			return nil, err
		}
	}
	if err := o.runs.Save(ctx, run); err != nil {
		return nil, err
	}
	o.logger.InfoWithNetwork(run.Network, "Created %s run %s (%s) with %d items", run.Kind, run.ID, run.Name, len(run.Items))
	return run, nil
}

// Initialize activates a created run and records the validated ledger it starts at.
// Calling it on a run that is already initialized returns the run unchanged.
func (o *Orchestrator) Initialize(ctx context.Context, runID string) (*models.BatchRun, error) {
	run, err := o.runs.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunCreated {
		return run, nil
	}

	index, err := o.ledger.ValidatedLedgerIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("read validated ledger: %w", err)
	}
	run.LedgerIndexStart = index
	run.LastHandledLedgerIndex = index
	run.Status = models.RunActive
	if err := o.runs.Save(ctx, run); err != nil {
		return nil, err
	}
	o.logger.InfoWithNetwork(run.Network, "Run %s initialized at ledger %d", run.ID, index)
	return run, nil
}

type itemResult int

const (
	itemSubmitted itemResult = iota
	itemRejected
	itemDeclined
	itemError
	itemHalt
)

func (r itemResult) String() string {
	return [...]string{"submitted", "rejected", "declined", "error", "halted"}[r]
}

// RunBatch submits every pending item without a transaction hash, in item order and one
// at a time. Items that fail before reaching the ledger stay pending for the next
// invocation. An earlier item whose signed transaction may still apply stops the
// invocation, since its blob holds the account's next sequence. Once no item is pending
// the run moves to pendingVerification.
func (o *Orchestrator) RunBatch(ctx context.Context, runID string, s signer.Signer) (*Report, error) {
	run, err := o.runs.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: run.ID, Status: run.Status}

	switch run.Status {
	case models.RunCreated:
		return report, ErrNotInitialized
	case models.RunCompleted, models.RunFailed:
		o.logger.InfoWithNetwork(run.Network, "Run %s is %s, nothing to submit", run.ID, run.Status)
		return report, nil
	}
	if s.Address() != run.Account {
		return report, fmt.Errorf("%w: %s signs for %s, run %s belongs to %s", ErrWrongAccount, s.Backend(), s.Address(), run.ID, run.Account)
	}

	start := time.Now()
	defer func() {
		metrics.BatchDuration.WithLabelValues(string(run.Kind)).Observe(time.Since(start).Seconds())
	}()

	reached := 0
items:
	for _, item := range run.Items {
		if item.Status != models.ItemPending || item.TxHash != "" {
			continue
		}
		if ctx.Err() != nil {
			report.Halted = true
			break
		}
		if o.opts.Breaker != nil && o.opts.Breaker.IsOpen() {
			o.logger.ErrorWithNetwork(run.Network, "Circuit breaker %s is open, stopping run %s", o.opts.Breaker.Name(), run.ID)
			report.Halted = true
			break
		}

		// An item signed in an interrupted invocation is resolved before signing anew
		if item.SignedHash != "" {
			recovered, err := o.recoverInFlight(ctx, run, item)
			if err != nil {
				return report, err
			}
			if recovered == inFlightSent {
				report.Recovered++
				continue
			}
			if recovered == inFlightWait {
				// later items would take the sequence held by the in-flight blob
				report.Skipped++
				report.Halted = true
				break
			}
		}

		result, err := o.submitItem(ctx, run, item, s)
		metrics.BatchItems.WithLabelValues(string(run.Kind), result.String()).Inc()
		if err != nil {
			return report, err
		}

		switch result {
		case itemSubmitted:
			report.Submitted++
		case itemRejected:
			report.Rejected++
		case itemDeclined:
			report.Declined++
		case itemError:
			report.Errors++
		case itemHalt:
			report.Halted = true
			break items
		}

		reached++
		if err := o.pace(ctx, reached); err != nil {
			report.Halted = true
			break
		}
	}

	if run.Status == models.RunActive && run.PendingCount() == 0 {
		if err := o.finishSubmission(ctx, run); err != nil {
			return report, err
		}
	}
	report.Status = run.Status

	o.logger.InfoWithNetwork(run.Network, "Run %s: %d submitted, %d rejected, %d declined, %d errors, %d skipped, %d recovered, status %s",
		run.ID, report.Submitted, report.Rejected, report.Declined, report.Errors, report.Skipped, report.Recovered, run.Status)
	return report, nil
}

// submitItem runs the submission step for one item. The returned error is set only when
// the run could not be persisted.
func (o *Orchestrator) submitItem(ctx context.Context, run *models.BatchRun, item *models.WorkItem, s signer.Signer) (itemResult, error) {
	intent, err := txbuilder.FromWorkItem(run.Kind, run.Account, item)
	if err != nil {
		o.logger.ErrorWithNetwork(run.Network, "Item %s of run %s cannot be built: %v", item.ID, run.ID, err)
		return itemError, nil
	}

	// A submitted transaction must be recorded even if the caller is shutting down
	persistCtx := context.WithoutCancel(ctx)
	hooks := lifecycle.Hooks{
		BeforeSubmit: func(signed *models.SignedTransaction) error {
			item.SignedHash = signed.Hash
			item.SignedLastLedger = signed.LastLedgerSequence
			item.UpdatedAt = o.opts.Now().UTC()
			return o.runs.Save(persistCtx, run)
		},
		AfterSubmit: func(sub *lifecycle.Submission) error {
			item.TxHash = sub.Signed.Hash
			item.PreliminaryResult = sub.Preliminary
			item.Status = models.ItemSent
			if !sub.Provisional() {
				item.Status = models.ItemFailed
				item.FinalResult = sub.Preliminary
			}
			item.UpdatedAt = o.opts.Now().UTC()
			return o.runs.Save(persistCtx, run)
		},
	}

	_, err = o.engine.Submit(ctx, intent, s, o.opts.Policy, hooks)

	var rejected *lifecycle.SubmissionRejected
	var aborted *lifecycle.Aborted
	switch {
	case err == nil:
		o.recordSuccess()
		o.logger.InfoWithNetwork(run.Network, "Item %s of run %s sent as %s (%s)", item.ID, run.ID, item.TxHash, item.PreliminaryResult)
		return itemSubmitted, nil

	case errors.As(err, &rejected):
		o.recordSuccess()
		o.logger.NoticeWithNetwork(run.Network, "Item %s of run %s rejected by the ledger: %s %s", item.ID, run.ID, rejected.Result, rejected.Message)
		return itemRejected, nil

	case errors.As(err, &aborted):
		return o.handleAbort(run, item, aborted)
	}

	o.logger.ErrorWithNetwork(run.Network, "Item %s of run %s: %v", item.ID, run.ID, err)
	return itemError, nil
}

func (o *Orchestrator) handleAbort(run *models.BatchRun, item *models.WorkItem, aborted *lifecycle.Aborted) (itemResult, error) {
	switch {
	case aborted.Stage == lifecycle.StagePersist:
		return itemHalt, fmt.Errorf("persist item %s of run %s: %w", item.ID, run.ID, aborted.Err)

	case aborted.Declined():
		o.logger.NoticeWithNetwork(run.Network, "Signing of item %s was declined, it stays pending", item.ID)
		return itemDeclined, nil

	case aborted.Stage == lifecycle.StageSubmit && rpcclient.IsTransportError(aborted.Err):
		// the blob may have reached the server; the next invocation looks it up by hash
		o.recordFailure()
		o.logger.ErrorWithNetwork(run.Network, "Submitting item %s failed, stopping run %s: %v", item.ID, run.ID, aborted.Err)
		return itemHalt, nil

	case rpcclient.IsTransportError(aborted.Err):
		o.recordFailure()
	}

	o.logger.ErrorWithNetwork(run.Network, "Item %s of run %s aborted at %s, it stays pending: %v", item.ID, run.ID, aborted.Stage, aborted.Err)
	return itemError, nil
}

type inFlight int

const (
	inFlightResign inFlight = iota
	inFlightSent
	inFlightWait
)

// recoverInFlight resolves an item whose signed transaction was persisted but whose
// submission was never recorded
func (o *Orchestrator) recoverInFlight(ctx context.Context, run *models.BatchRun, item *models.WorkItem) (inFlight, error) {
	tx, err := o.ledger.Tx(ctx, item.SignedHash)
	switch {
	case err == nil:
		item.TxHash = item.SignedHash
		item.Status = models.ItemSent
		if tx.Validated && !ledger.IsSuccess(tx.Result()) {
			item.Status = models.ItemFailed
			item.FinalResult = tx.Result()
			item.LedgerIndexOfInclusion = tx.LedgerIndex
		}
		item.UpdatedAt = o.opts.Now().UTC()
		o.logger.NoticeWithNetwork(run.Network, "Item %s of run %s was submitted before an interruption as %s, recorded as %s",
			item.ID, run.ID, item.SignedHash, item.Status)
		return inFlightSent, o.runs.Save(context.WithoutCancel(ctx), run)

	case !rpcclient.IsApplicationError(err, rpcclient.ErrCodeTxnNotFound):
		if rpcclient.IsTransportError(err) {
			o.recordFailure()
		}
		o.logger.ErrorWithNetwork(run.Network, "Lookup of in-flight item %s failed: %v", item.ID, err)
		return inFlightWait, nil
	}

	current, err := o.ledger.ValidatedLedgerIndex(ctx)
	if err != nil {
		o.recordFailure()
		o.logger.ErrorWithNetwork(run.Network, "Validated ledger query for item %s failed: %v", item.ID, err)
		return inFlightWait, nil
	}
	if current <= item.SignedLastLedger {
		o.logger.InfoWithNetwork(run.Network, "Item %s: %s may still apply until ledger %d (validated %d), skipping",
			item.ID, item.SignedHash, item.SignedLastLedger, current)
		return inFlightWait, nil
	}

	o.logger.NoticeWithNetwork(run.Network, "Item %s: %s expired unseen at ledger %d, signing again", item.ID, item.SignedHash, current)
	item.SignedHash = ""
	item.SignedLastLedger = 0
	return inFlightResign, nil
}

// finishSubmission records the end of the submission window. The window is extended to
// the highest LastLedgerSequence of the run so reconciliation covers every ledger a sent
// transaction could have been included in.
func (o *Orchestrator) finishSubmission(ctx context.Context, run *models.BatchRun) error {
	index, err := o.ledger.ValidatedLedgerIndex(ctx)
	if err != nil {
		return fmt.Errorf("read validated ledger: %w", err)
	}
	for _, item := range run.Items {
		if item.Status == models.ItemSent && item.SignedLastLedger > index {
			index = item.SignedLastLedger
		}
	}
	run.LedgerIndexEnd = index
	run.Status = models.RunPendingVerification
	if err := o.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		return err
	}
	o.logger.InfoWithNetwork(run.Network, "Run %s submitted, awaiting verification after ledger %d", run.ID, index)
	return nil
}

func (o *Orchestrator) pace(ctx context.Context, reached int) error {
	if o.opts.ThrottleMs > 0 {
		if err := o.opts.Sleep(ctx, time.Duration(o.opts.ThrottleMs)*time.Millisecond); err != nil {
			return err
		}
	}
	if o.opts.TxsBeforeSleep > 0 && o.opts.SleepMs > 0 && reached%o.opts.TxsBeforeSleep == 0 {
		o.logger.Debug("Sent %d transactions, sleeping %dms", reached, o.opts.SleepMs)
		return o.opts.Sleep(ctx, time.Duration(o.opts.SleepMs)*time.Millisecond)
	}
	return nil
}

// Override applies an operator decision to one item. It is the only way to move a
// verified item. A run that gets a pending item back becomes active again.
func (o *Orchestrator) Override(ctx context.Context, runID, itemID string, d Decision) (*models.BatchRun, error) {
	run, err := o.runs.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	item := run.Item(itemID)
	if item == nil {
		return nil, fmt.Errorf("run %s has no item %s", runID, itemID)
	}
	if d.Kind == DecideDefer {
		return run, nil
	}
	if err := d.Apply(item, o.opts.Now()); err != nil {
		return nil, err
	}
	if item.Status == models.ItemPending && (run.Status == models.RunPendingVerification || run.Status == models.RunCompleted) {
		run.Status = models.RunActive
	}
	if err := o.runs.Save(ctx, run); err != nil {
		return nil, err
	}
	metrics.ReconcileDecisions.WithLabelValues(string(d.Kind)).Inc()
	o.logger.NoticeWithNetwork(run.Network, "Item %s of run %s set to %s by operator", itemID, runID, d)
	return run, nil
}

func (o *Orchestrator) recordFailure() {
	if o.opts.Breaker != nil {
		o.opts.Breaker.RecordFailure()
	}
}

func (o *Orchestrator) recordSuccess() {
	if o.opts.Breaker != nil {
		o.opts.Breaker.RecordSuccess()
	}
}

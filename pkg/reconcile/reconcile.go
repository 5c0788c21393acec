// Package reconcile cross-checks the hashes recorded by a batch run against the
// validated transaction history of the run's account.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/batch"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
	"github.com/speedrun-hq/tokenrunner/pkg/txbuilder"
)

// CodeTxNotFound is the final result recorded for items forced to failed because their
// hash never showed up in the account history
const CodeTxNotFound = "txNotFound"

// ErrPendingItems is returned when a run still has items waiting for submission
var ErrPendingItems = errors.New("run has pending items")

// NotReadyError is returned when the validated ledger has not advanced far enough past
// the end of the run
type NotReadyError struct {
	Validated uint32
	Required  uint32
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("validated ledger %d has not reached %d", e.Validated, e.Required)
}

// History is the ledger access reconciliation needs
type History interface {
	AccountTx(ctx context.Context, account string, minLedger, maxLedger int64) ([]rpcclient.AccountTxEntry, error)
	ValidatedLedgerIndex(ctx context.Context) (uint32, error)
}

// Options configures the verification window
type Options struct {
	// SafetyOffset is the number of ledgers that must validate after the end of the run
	SafetyOffset uint32
	// SafetyMargin widens the history window before the start of the run
	SafetyMargin uint32
	// Resolver classifies ambiguous items; nil leaves them for a later pass
	Resolver Resolver
	Now      func() time.Time
}

// Report summarizes one Verify pass
type Report struct {
	RunID      string
	Verified   int
	Failed     int
	Reset      int
	Unresolved []*Ambiguity
	Status     models.RunStatus
}

// Reconciler verifies sent items of batch runs
type Reconciler struct {
	history History
	runs    *store.Runs
	logger  logger.Logger
	opts    Options
}

// NewReconciler creates a reconciler
func NewReconciler(history History, runs *store.Runs, log logger.Logger, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{history: history, runs: runs, logger: log, opts: opts}
}

// Verify classifies every sent item of a run against the account history of the run
// window. Items that match are verified, ambiguous items go to the resolver. The run is
// completed once every item is verified or failed; a run with items reset to pending
// becomes active again.
func (r *Reconciler) Verify(ctx context.Context, runID string) (*Report, error) {
	run, err := r.runs.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: run.ID, Status: run.Status}

	switch run.Status {
	case models.RunCompleted, models.RunFailed:
		return report, nil
	case models.RunCreated:
		return report, batch.ErrNotInitialized
	}
	if n := run.PendingCount(); n > 0 {
		return report, fmt.Errorf("%w: %d items of run %s", ErrPendingItems, n, run.ID)
	}
	if run.LedgerIndexEnd == 0 {
		return report, fmt.Errorf("run %s has no submission window end, run it first", run.ID)
	}

	validated, err := r.history.ValidatedLedgerIndex(ctx)
	if err != nil {
		return report, fmt.Errorf("read validated ledger: %w", err)
	}
	if required := run.LedgerIndexEnd + r.opts.SafetyOffset; validated < required {
		return report, &NotReadyError{Validated: validated, Required: required}
	}

	minLedger := int64(run.LedgerIndexStart) - int64(r.opts.SafetyMargin)
	if minLedger < 0 {
		minLedger = 0
	}
	entries, err := r.history.AccountTx(ctx, run.Account, minLedger, int64(run.LedgerIndexEnd))
	if err != nil {
		return report, fmt.Errorf("fetch history of %s: %w", run.Account, err)
	}
	byHash := make(map[string]*rpcclient.AccountTxEntry, len(entries))
	for i := range entries {
		byHash[entries[i].Hash()] = &entries[i]
	}
	r.logger.InfoWithNetwork(run.Network, "Run %s: %d transactions of %s in ledgers %d-%d",
		run.ID, len(entries), run.Account, minLedger, run.LedgerIndexEnd)

	for _, item := range run.Items {
		if item.Status != models.ItemSent {
			continue
		}
		entry := byHash[ledger.NormalizeHash(item.TxHash)]
		ambiguity := Match(run, item, entry)
		if ambiguity == nil {
			item.Status = models.ItemVerified
			item.FinalResult = entry.Result()
			item.LedgerIndexOfInclusion = entry.Ledger()
			if run.Kind == models.KindNFTMint && entry.Meta != nil {
				item.MintedNFTokenID = entry.Meta.NFTokenID
			}
			item.UpdatedAt = r.opts.Now().UTC()
			report.Verified++
			continue
		}

		r.logger.NoticeWithNetwork(run.Network, "Run %s: %v", run.ID, ambiguity)
		if err := r.resolve(ctx, run, item, ambiguity, report); err != nil {
			return report, err
		}
	}

	if run.LedgerIndexEnd > run.LastHandledLedgerIndex {
		run.LastHandledLedgerIndex = run.LedgerIndexEnd
	}
	switch {
	case run.PendingCount() > 0:
		run.Status = models.RunActive
	case run.AllTerminal():
		run.Status = models.RunCompleted
	}
	if err := r.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		return report, err
	}
	report.Status = run.Status

	r.logger.InfoWithNetwork(run.Network, "Run %s verified: %d verified, %d failed, %d reset, %d unresolved, status %s",
		run.ID, report.Verified, report.Failed, report.Reset, len(report.Unresolved), run.Status)
	return report, nil
}

func (r *Reconciler) resolve(ctx context.Context, run *models.BatchRun, item *models.WorkItem, a *Ambiguity, report *Report) error {
	if r.opts.Resolver == nil {
		report.Unresolved = append(report.Unresolved, a)
		return nil
	}
	d, err := r.opts.Resolver.Resolve(ctx, run, a)
	if err != nil {
		return fmt.Errorf("resolve item %s: %w", item.ID, err)
	}
	if d.Kind == batch.DecideFailed && d.Code == "" {
		d.Code = a.DefaultCode()
	}
	if err := d.Apply(item, r.opts.Now()); err != nil {
		return err
	}
	metrics.ReconcileDecisions.WithLabelValues(string(d.Kind)).Inc()

	switch d.Kind {
	case batch.DecideVerified:
		report.Verified++
		if a.Ledger != 0 {
			item.LedgerIndexOfInclusion = a.Ledger
		}
		if a.Result != "" {
			item.FinalResult = a.Result
		}
	case batch.DecideFailed:
		report.Failed++
		if a.Ledger != 0 {
			item.LedgerIndexOfInclusion = a.Ledger
		}
	case batch.DecideReset:
		report.Reset++
	default:
		report.Unresolved = append(report.Unresolved, a)
		return nil
	}
	r.logger.NoticeWithNetwork(run.Network, "Run %s: item %s resolved as %s", run.ID, item.ID, d)
	return nil
}

// Match compares a history entry with what the item asked for. It returns nil when the
// entry is the item's transaction, applied successfully with the expected effect.
func Match(run *models.BatchRun, item *models.WorkItem, entry *rpcclient.AccountTxEntry) *Ambiguity {
	a := &Ambiguity{ItemID: item.ID, TxHash: item.TxHash}
	if entry == nil {
		a.Reason = ReasonNotFound
		return a
	}
	a.Result = entry.Result()
	a.Ledger = entry.Ledger()
	if !ledger.IsSuccess(a.Result) {
		a.Reason = ReasonResult
		a.Expected, a.Observed = ledger.ResultSuccess, a.Result
		return a
	}

	expected, err := txbuilder.FromWorkItem(run.Kind, run.Account, item)
	if err != nil {
		a.Reason = ReasonPayload
		a.Observed = err.Error()
		return a
	}
	fields := models.TransactionIntent(entry.Fields())
	if fields.Type() != expected.Type() || fields.Account() != run.Account {
		a.Reason = ReasonTransaction
		a.Expected = expected.Type() + " from " + run.Account
		a.Observed = fields.Type() + " from " + fields.Account()
		return a
	}

	switch run.Kind {
	case models.KindPayment:
		return matchPayment(a, item, fields, entry.Meta)
	case models.KindNFTMint:
		return matchMint(a, expected, fields)
	case models.KindNFTOffer:
		return matchOffer(a, item, fields)
	}
	return nil
}

func matchPayment(a *Ambiguity, item *models.WorkItem, fields models.TransactionIntent, meta *rpcclient.TxMeta) *Ambiguity {
	p := item.Payload
	if dst, _ := fields[models.FieldDestination].(string); dst != p.Destination {
		a.Reason = ReasonDestination
		a.Expected, a.Observed = p.Destination, dst
		return a
	}
	if p.DestinationTag != nil {
		tag, ok := fields.Uint32("DestinationTag")
		if !ok || tag != *p.DestinationTag {
			a.Reason = ReasonDestination
			a.Expected = fmt.Sprintf("%s:%d", p.Destination, *p.DestinationTag)
			a.Observed = fmt.Sprintf("%s:%v", p.Destination, fields["DestinationTag"])
			return a
		}
	}
	a.Expected = p.Amount.String()
	if meta == nil || meta.DeliveredAmount == nil {
		a.Reason = ReasonAmount
		a.Observed = "unavailable"
		return a
	}
	if !meta.DeliveredAmount.Equal(*p.Amount) {
		a.Reason = ReasonAmount
		a.Observed = meta.DeliveredAmount.String()
		return a
	}
	return nil
}

func matchMint(a *Ambiguity, expected, fields models.TransactionIntent) *Ambiguity {
	want, _ := expected.Uint32("NFTokenTaxon")
	if got, ok := fields.Uint32("NFTokenTaxon"); !ok || got != want {
		a.Reason = ReasonToken
		a.Expected = fmt.Sprintf("taxon %d", want)
		a.Observed = fmt.Sprintf("taxon %v", fields["NFTokenTaxon"])
		return a
	}
	wantURI, _ := expected["URI"].(string)
	gotURI, _ := fields["URI"].(string)
	if !strings.EqualFold(wantURI, gotURI) {
		a.Reason = ReasonToken
		a.Expected, a.Observed = "URI "+wantURI, "URI "+gotURI
		return a
	}
	return nil
}

func matchOffer(a *Ambiguity, item *models.WorkItem, fields models.TransactionIntent) *Ambiguity {
	p := item.Payload
	id, _ := fields["NFTokenID"].(string)
	if !strings.EqualFold(id, p.NFTokenID) {
		a.Reason = ReasonToken
		a.Expected, a.Observed = p.NFTokenID, id
		return a
	}
	if dst, _ := fields[models.FieldDestination].(string); dst != p.Destination {
		a.Reason = ReasonDestination
		a.Expected, a.Observed = p.Destination, dst
		return a
	}
	return nil
}

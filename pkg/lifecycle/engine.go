// Package lifecycle drives a transaction from draft through autofill, signing and
// submission to a final verified outcome.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/clock"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
)

// DefaultPollInterval is the wait between verification lookups
const DefaultPollInterval = 2 * time.Second

// Ledger is the subset of the RPC client the engine needs
type Ledger interface {
	autofill.Ledger
	Submit(ctx context.Context, txBlob string) (*rpcclient.SubmitResult, error)
	Tx(ctx context.Context, hash string) (*rpcclient.TxResult, error)
	ValidatedLedgerIndex(ctx context.Context) (uint32, error)
}

// Options tunes the verification loop
type Options struct {
	PollInterval time.Duration
	Sleep        clock.Sleeper
}

// Hooks are durable write points of the submission step
type Hooks struct {
	// BeforeSubmit runs after signing; an error aborts before anything is sent
	BeforeSubmit func(signed *models.SignedTransaction) error
	// AfterSubmit records the hash and preliminary result before verification starts
	AfterSubmit func(sub *Submission) error
}

// Submission is a signed transaction and the server's preliminary verdict
type Submission struct {
	Signed      *models.SignedTransaction
	Preliminary string
	Message     string
}

// Provisional reports whether the transaction may still be applied
func (s *Submission) Provisional() bool {
	return ledger.IsProvisional(s.Preliminary)
}

// Engine runs the transaction lifecycle against one ledger server
type Engine struct {
	ledger       Ledger
	autofill     *autofill.Engine
	sequences    *ledger.SequenceManager
	logger       logger.Logger
	network      string
	pollInterval time.Duration
	sleep        clock.Sleeper
}

// NewEngine creates a lifecycle engine. sequences may be shared between engines that
// submit for the same accounts.
func NewEngine(l Ledger, sequences *ledger.SequenceManager, log logger.Logger, network string, opts Options) *Engine {
	if sequences == nil {
		sequences = ledger.NewSequenceManager(log)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = clock.Sleep
	}
	return &Engine{
		ledger:       l,
		autofill:     autofill.NewEngine(l, sequences, log, network),
		sequences:    sequences,
		logger:       log,
		network:      network,
		pollInterval: opts.PollInterval,
		sleep:        opts.Sleep,
	}
}

// Network returns the network label used for logs and metrics
func (e *Engine) Network() string { return e.network }

// Submit autofills, signs and submits intent exactly once. Failures before the ledger
// answered are returned as *Aborted. A non provisional preliminary result is returned as
// *SubmissionRejected together with the submission, so its hash can still be recorded.
func (e *Engine) Submit(ctx context.Context, intent models.TransactionIntent, s signer.Signer, policy autofill.Policy, hooks Hooks) (*Submission, error) {
	tx, err := e.autofill.Autofill(ctx, intent, policy)
	if err != nil {
		e.logger.NoticeWithNetwork(e.network, "Autofill of %s failed: %v", intent.Type(), err)
		return nil, &Aborted{Stage: StageAutofill, Err: err}
	}
	account := tx.Account()
	seq, _ := tx.Uint32(models.FieldSequence)

	signed, err := e.sign(ctx, tx, s)
	if err != nil {
		e.sequences.Release(account, seq)
		return nil, &Aborted{Stage: StageSign, Err: err}
	}

	if hooks.BeforeSubmit != nil {
		if err := hooks.BeforeSubmit(signed); err != nil {
			e.sequences.Release(account, seq)
			return nil, &Aborted{Stage: StagePersist, Err: err}
		}
	}

	res, err := e.ledger.Submit(ctx, signed.TxBlob)
	if err != nil {
		// the network is the authority on whether the blob landed; a released sequence is
		// re-read from account_info on the next reservation
		e.sequences.Release(account, seq)
		e.logger.ErrorWithNetwork(e.network, "Submitting %s failed: %v", signed.Hash, err)
		return nil, &Aborted{Stage: StageSubmit, Err: err}
	}

	sub := &Submission{
		Signed:      signed,
		Preliminary: res.EngineResult,
		Message:     res.EngineResultMessage,
	}
	class := ledger.ClassifyResult(res.EngineResult)
	metrics.Submissions.WithLabelValues(e.network, class.String()).Inc()

	if ledger.ReleasesSequence(res.EngineResult) {
		e.sequences.Release(account, seq)
	} else {
		e.sequences.MarkSubmitted(account, seq, signed.Hash)
	}
	e.logger.InfoWithNetwork(e.network, "Submitted %s %s sequence %d: %s", tx.Type(), signed.Hash, seq, res.EngineResult)

	if hooks.AfterSubmit != nil {
		if err := hooks.AfterSubmit(sub); err != nil {
			return sub, &Aborted{Stage: StagePersist, Err: fmt.Errorf("record submission %s: %w", signed.Hash, err)}
		}
	}

	if !sub.Provisional() {
		return sub, &SubmissionRejected{Hash: signed.Hash, Result: res.EngineResult, Message: res.EngineResultMessage}
	}
	return sub, nil
}

func (e *Engine) sign(ctx context.Context, tx models.TransactionIntent, s signer.Signer) (*models.SignedTransaction, error) {
	start := time.Now()
	signed, err := s.Sign(ctx, tx)
	metrics.SigningTime.WithLabelValues(s.Backend()).Observe(time.Since(start).Seconds())

	if errors.Is(err, signer.ErrDeclined) {
		metrics.SigningDeclined.WithLabelValues(s.Backend()).Inc()
		e.logger.NoticeWithNetwork(e.network, "Signing of %s was declined", tx.Type())
		return nil, err
	}
	if err != nil {
		e.logger.ErrorWithNetwork(e.network, "Signing of %s failed: %v", tx.Type(), err)
		return nil, err
	}
	return signed, nil
}

// SubmitAndVerify submits intent and waits for its final outcome
func (e *Engine) SubmitAndVerify(ctx context.Context, intent models.TransactionIntent, s signer.Signer, policy autofill.Policy, hooks Hooks) Outcome {
	sub, err := e.Submit(ctx, intent, s, policy, hooks)

	var rejected *SubmissionRejected
	var aborted *Aborted
	switch {
	case errors.As(err, &rejected):
		out := &DefinitivelyFailed{Hash: rejected.Hash, Result: rejected.Result, Preliminary: true}
		metrics.VerificationOutcomes.WithLabelValues(e.network, string(out.Kind())).Inc()
		return out
	case errors.As(err, &aborted):
		return aborted
	case err != nil:
		return &Aborted{Stage: StageSubmit, Err: err}
	}
	return e.Verify(ctx, sub.Signed.Hash, sub.Signed.LastLedgerSequence)
}

// Verify polls the ledger until the transaction is validated or a validated ledger beyond
// lastLedger has closed without it. The loop has no wall clock timeout; it ends because
// the validated ledger index only grows.
func (e *Engine) Verify(ctx context.Context, hash string, lastLedger uint32) Outcome {
	hash = ledger.NormalizeHash(hash)
	start := time.Now()
	done := func(out Outcome) Outcome {
		metrics.VerificationOutcomes.WithLabelValues(e.network, string(out.Kind())).Inc()
		metrics.VerificationTime.WithLabelValues(e.network).Observe(time.Since(start).Seconds())
		e.logger.InfoWithNetwork(e.network, "Transaction %s: %s", hash, out.Kind())
		return out
	}

	for {
		if out, _ := e.lookup(ctx, hash); out != nil {
			return done(out)
		}

		if lastLedger > 0 {
			current, err := e.ledger.ValidatedLedgerIndex(ctx)
			if err != nil {
				e.logger.DebugWithNetwork(e.network, "Validated ledger query failed: %v", err)
			} else if current > lastLedger {
				// the transaction may have been included in the last eligible ledger
				// between the lookup and the ledger query
				out, notFound := e.lookup(ctx, hash)
				if out != nil {
					return done(out)
				}
				if notFound {
					return done(&ExpiredUnconfirmed{Hash: hash, LastLedgerSequence: lastLedger, ObservedLedger: current})
				}
			}
		}

		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return &Aborted{Stage: StageVerify, Err: err}
		}
	}
}

// lookup returns a terminal outcome if the transaction is in a validated ledger.
// notFound is set only when the server answered that it does not know the hash.
func (e *Engine) lookup(ctx context.Context, hash string) (out Outcome, notFound bool) {
	tx, err := e.ledger.Tx(ctx, hash)
	if err != nil {
		if rpcclient.IsApplicationError(err, rpcclient.ErrCodeTxnNotFound) {
			return nil, true
		}
		e.logger.DebugWithNetwork(e.network, "Lookup of %s failed: %v", hash, err)
		return nil, false
	}
	if !tx.Validated {
		return nil, false
	}

	result := tx.Result()
	if ledger.IsSuccess(result) {
		return &Confirmed{Hash: hash, Result: result, LedgerIndex: tx.LedgerIndex, Meta: tx.Meta}, false
	}
	return &DefinitivelyFailed{Hash: hash, Result: result, LedgerIndex: tx.LedgerIndex}, false
}

package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/tokenrunner/pkg/config"
	"github.com/speedrun-hq/tokenrunner/pkg/lifecycle"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient/rpctest"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
	"github.com/speedrun-hq/tokenrunner/pkg/store"
)

const (
	seed    = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
	account = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

var recipients = []string{
	"rrrrrrrrrrrrrrrrrrrrBZbvji",
	"rrrrrrrrrrrrrrrrrrrn5RM1rHd",
	"rrrrrrrrrrrrrrrrrNAMEtxvNvQ",
}

type fixture struct {
	fake   *rpctest.Ledger
	client *rpcclient.Client
	engine *lifecycle.Engine
	runs   *store.Runs
	signer signer.Signer
	orch   *Orchestrator
	sleeps []time.Duration
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	fake := rpctest.NewLedger(100)
	t.Cleanup(fake.Close)
	fake.Fund(account, 1)

	keys, err := signer.DeriveKeyPair(seed)
	require.NoError(t, err)

	log := &logger.EmptyLogger{}
	f := &fixture{
		fake:   fake,
		client: rpcclient.NewClient(fake.URL(), log),
		runs:   store.NewRuns(store.NewMemoryStore()),
		signer: signer.NewLocalSeed(keys, rpctest.JSONCodec{}, log),
	}
	f.engine = lifecycle.NewEngine(f.client, nil, log, "testnet", lifecycle.Options{})

	opts.Policy = autofill.DefaultPolicy()
	opts.Sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.orch = NewOrchestrator(f.engine, f.client, f.runs, log, opts)
	return f
}

func paymentItems(n int) []ItemDef {
	items := make([]ItemDef, n)
	for i := range items {
		items[i] = ItemDef{
			ID:          fmt.Sprintf("item-%d", i+1),
			Destination: recipients[i%len(recipients)],
			Amount:      fmt.Sprintf("%d", i+1),
		}
	}
	return items
}

// startRun creates and initializes a payment run
func (f *fixture) startRun(t *testing.T, items []ItemDef) *models.BatchRun {
	t.Helper()
	ctx := context.Background()
	run, err := f.orch.Create(ctx, &Definition{Name: "airdrop", Kind: models.KindPayment, Account: account, Items: items})
	require.NoError(t, err)
	run, err = f.orch.Initialize(ctx, run.ID)
	require.NoError(t, err)
	return run
}

func (f *fixture) load(t *testing.T, id string) *models.BatchRun {
	t.Helper()
	run, err := f.runs.Load(context.Background(), id)
	require.NoError(t, err)
	return run
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(1))
	assert.Equal(t, models.RunActive, run.Status)
	assert.Equal(t, uint32(100), run.LedgerIndexStart)
	assert.Equal(t, uint32(100), run.LastHandledLedgerIndex)

	f.fake.CloseLedger()
	again, err := f.orch.Initialize(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), again.LedgerIndexStart)
}

func TestRunBatchRequiresInitialize(t *testing.T) {
	f := newFixture(t, Options{})
	run, err := f.orch.Create(context.Background(), &Definition{Kind: models.KindPayment, Account: account, Items: paymentItems(1)})
	require.NoError(t, err)

	_, err = f.orch.RunBatch(context.Background(), run.ID, f.signer)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, f.fake.Calls("submit"))
}

type checkFunc func(ctx context.Context, run *models.BatchRun) error

func (f checkFunc) CheckRun(ctx context.Context, run *models.BatchRun) error { return f(ctx, run) }

func TestCreateRunsChecks(t *testing.T) {
	refused := errors.New("no trust line")
	var checked *models.BatchRun
	f := newFixture(t, Options{Checks: checkFunc(func(_ context.Context, run *models.BatchRun) error {
		checked = run
		return refused
	})})

	_, err := f.orch.Create(context.Background(), &Definition{Kind: models.KindPayment, Account: account, Items: paymentItems(2)})
	assert.ErrorIs(t, err, refused)
	require.NotNil(t, checked)
	assert.Len(t, checked.Items, 2)

	ids, err := f.runs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids, "a refused run is not stored")
}

func TestRunBatchSubmitsAllItemsInOrder(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(3))

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Submitted)
	assert.Equal(t, models.RunPendingVerification, report.Status)

	run = f.load(t, run.ID)
	assert.Equal(t, models.RunPendingVerification, run.Status)
	assert.Equal(t, uint32(120), run.LedgerIndexEnd, "window extends to the last ledger a transaction can apply in")

	hashes := map[string]bool{}
	submitted := f.fake.Submitted()
	require.Len(t, submitted, 3)
	for i, item := range run.Items {
		assert.Equal(t, models.ItemSent, item.Status)
		assert.NotEmpty(t, item.TxHash)
		assert.Equal(t, item.TxHash, item.SignedHash)
		assert.Equal(t, "tesSUCCESS", item.PreliminaryResult)
		hashes[item.TxHash] = true

		assert.Equal(t, item.TxHash, submitted[i].Hash, "submission follows item order")
		assert.Equal(t, recipients[i], submitted[i].Fields["Destination"])
	}
	assert.Len(t, hashes, 3)
}

func TestRunBatchRerunSubmitsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(3))

	_, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	before := f.load(t, run.ID)

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Zero(t, report.Submitted)
	assert.Equal(t, 3, f.fake.Calls("submit"))

	after := f.load(t, run.ID)
	assert.Equal(t, before.LedgerIndexEnd, after.LedgerIndexEnd)
	for i := range before.Items {
		assert.Equal(t, before.Items[i].TxHash, after.Items[i].TxHash)
	}
}

func TestRunBatchPacing(t *testing.T) {
	f := newFixture(t, Options{ThrottleMs: 5, TxsBeforeSleep: 2, SleepMs: 50})
	run := f.startRun(t, paymentItems(3))

	_, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)

	ms := time.Millisecond
	assert.Equal(t, []time.Duration{5 * ms, 5 * ms, 50 * ms, 5 * ms}, f.sleeps)
}

func TestRunBatchPacesDeclinedItems(t *testing.T) {
	f := newFixture(t, Options{ThrottleMs: 5, TxsBeforeSleep: 2, SleepMs: 50})
	run := f.startRun(t, paymentItems(3))

	s := decliningSigner{Signer: f.signer, destination: recipients[0]}
	report, err := f.orch.RunBatch(context.Background(), run.ID, s)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Declined)

	ms := time.Millisecond
	assert.Equal(t, []time.Duration{5 * ms, 5 * ms, 50 * ms, 5 * ms}, f.sleeps)
}

// decliningSigner refuses to sign payments to one destination
type decliningSigner struct {
	signer.Signer
	destination string
}

func (d decliningSigner) Sign(ctx context.Context, tx models.TransactionIntent) (*models.SignedTransaction, error) {
	if tx["Destination"] == d.destination {
		return nil, signer.ErrDeclined
	}
	return d.Signer.Sign(ctx, tx)
}

func TestDeclinedItemStaysPending(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(3))

	s := decliningSigner{Signer: f.signer, destination: recipients[1]}
	report, err := f.orch.RunBatch(context.Background(), run.ID, s)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Submitted)
	assert.Equal(t, 1, report.Declined)

	run = f.load(t, run.ID)
	assert.Equal(t, models.RunActive, run.Status)
	declined := run.Item("item-2")
	assert.Equal(t, models.ItemPending, declined.Status)
	assert.Empty(t, declined.TxHash)
	assert.Empty(t, declined.SignedHash)

	// approving on the next invocation completes the submission phase
	report, err = f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, models.RunPendingVerification, report.Status)
}

func TestRejectedItemIsFailedWithHash(t *testing.T) {
	f := newFixture(t, Options{})
	f.fake.SubmitResult = func(fields map[string]interface{}) string {
		if fields["Destination"] == recipients[0] {
			return "temREDUNDANT"
		}
		return "tesSUCCESS"
	}
	run := f.startRun(t, paymentItems(2))

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Submitted)

	run = f.load(t, run.ID)
	rejected := run.Item("item-1")
	assert.Equal(t, models.ItemFailed, rejected.Status)
	assert.Equal(t, "temREDUNDANT", rejected.FinalResult)
	assert.NotEmpty(t, rejected.TxHash)
	assert.Equal(t, models.ItemSent, run.Item("item-2").Status)
	assert.Equal(t, models.RunPendingVerification, run.Status)
}

func TestTransportFailureOnSubmitHalts(t *testing.T) {
	f := newFixture(t, Options{})
	f.fake.FailMethod("submit", 503)
	run := f.startRun(t, paymentItems(3))

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.True(t, report.Halted)
	assert.Equal(t, 1, f.fake.Calls("submit"))

	run = f.load(t, run.ID)
	first := run.Item("item-1")
	assert.Equal(t, models.ItemPending, first.Status)
	assert.NotEmpty(t, first.SignedHash, "signed hash is persisted before submission")
	assert.Empty(t, first.TxHash)
	assert.Equal(t, uint32(120), first.SignedLastLedger)
}

// crashingSubmitter loses the process right after the ledger accepted the transaction
type crashingSubmitter struct {
	*lifecycle.Engine
}

func (c crashingSubmitter) Submit(ctx context.Context, intent models.TransactionIntent, s signer.Signer, policy autofill.Policy, hooks lifecycle.Hooks) (*lifecycle.Submission, error) {
	hooks.AfterSubmit = func(*lifecycle.Submission) error { return errors.New("process killed") }
	return c.Engine.Submit(ctx, intent, s, policy, hooks)
}

func TestInFlightItemFoundOnLedgerIsNotResubmitted(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(3))

	crashing := NewOrchestrator(crashingSubmitter{f.engine}, f.client, f.runs, &logger.EmptyLogger{}, f.orch.opts)
	_, err := crashing.RunBatch(context.Background(), run.ID, f.signer)
	require.Error(t, err)
	require.Equal(t, 1, f.fake.Calls("submit"))
	signedHash := f.load(t, run.ID).Item("item-1").SignedHash
	require.NotEmpty(t, signedHash)

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 2, report.Submitted)
	assert.Equal(t, 3, f.fake.Calls("submit"))

	run = f.load(t, run.ID)
	assert.Equal(t, models.ItemSent, run.Item("item-1").Status)
	assert.Equal(t, signedHash, run.Item("item-1").TxHash)
	assert.Equal(t, models.RunPendingVerification, run.Status)
}

func TestInFlightItemNotOnLedger(t *testing.T) {
	tests := []struct {
		name       string
		lastLedger uint32
		resubmit   bool
	}{
		{"expired is signed again", 90, true},
		{"still valid is skipped", 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			run := f.startRun(t, paymentItems(1))

			run.Items[0].SignedHash = "ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789"
			run.Items[0].SignedLastLedger = tt.lastLedger
			require.NoError(t, f.runs.Save(context.Background(), run))

			report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
			require.NoError(t, err)

			item := f.load(t, run.ID).Items[0]
			if tt.resubmit {
				assert.Equal(t, 1, report.Submitted)
				assert.Equal(t, models.ItemSent, item.Status)
				assert.NotEqual(t, "ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789ABCDEF0123456789", item.TxHash)
				return
			}
			assert.Equal(t, 1, report.Skipped)
			assert.True(t, report.Halted)
			assert.Zero(t, f.fake.Calls("submit"))
			assert.Equal(t, models.ItemPending, item.Status)
			assert.Equal(t, models.RunActive, report.Status)
		})
	}
}

func TestInFlightItemHoldsBackLaterItems(t *testing.T) {
	f := newFixture(t, Options{})
	f.fake.FailMethod("submit", 503)
	run := f.startRun(t, paymentItems(3))

	_, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	require.Equal(t, 1, f.fake.Calls("submit"))

	// the first blob may still apply until ledger 120, nothing after it can be signed
	f.fake.FailMethod("submit", 0)
	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.True(t, report.Halted)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Submitted)
	assert.Equal(t, 1, f.fake.Calls("submit"))
	assert.Empty(t, f.fake.Submitted())

	for _, item := range f.load(t, run.ID).Items {
		assert.Equal(t, models.ItemPending, item.Status, item.ID)
		assert.Empty(t, item.TxHash, item.ID)
	}
}

func TestInFlightItemExpiredResumesInOrder(t *testing.T) {
	f := newFixture(t, Options{})
	f.fake.FailMethod("submit", 503)
	run := f.startRun(t, paymentItems(3))

	_, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	f.fake.FailMethod("submit", 0)
	for f.fake.Validated() <= 120 {
		f.fake.CloseLedger()
	}

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Submitted)

	records := f.fake.Submitted()
	require.Len(t, records, 3)
	for i, rec := range records {
		assert.Equal(t, recipients[i], rec.Fields["Destination"])
	}
}

func TestOpenCircuitStopsRun(t *testing.T) {
	breaker := circuitbreaker.NewCircuitBreaker("ledger", config.CircuitBreakerConfig{
		Enabled:        true,
		Threshold:      1,
		WindowDuration: time.Minute,
		ResetTimeout:   time.Hour,
	}, &logger.EmptyLogger{})
	breaker.RecordFailure()

	f := newFixture(t, Options{Breaker: breaker})
	run := f.startRun(t, paymentItems(2))

	report, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	assert.True(t, report.Halted)
	assert.Zero(t, f.fake.Calls("submit"))
}

func TestRunBatchRejectsForeignSigner(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(1))

	keys, err := signer.KeyPairFromEntropy(make([]byte, 16), "ed25519")
	require.NoError(t, err)
	other := signer.NewLocalSeed(keys, rpctest.JSONCodec{}, &logger.EmptyLogger{})

	_, err = f.orch.RunBatch(context.Background(), run.ID, other)
	assert.ErrorIs(t, err, ErrWrongAccount)
}

func TestOverride(t *testing.T) {
	f := newFixture(t, Options{})
	run := f.startRun(t, paymentItems(2))
	_, err := f.orch.RunBatch(context.Background(), run.ID, f.signer)
	require.NoError(t, err)
	ctx := context.Background()

	run, err = f.orch.Override(ctx, run.ID, "item-1", Failed("txNotFound"))
	require.NoError(t, err)
	assert.Equal(t, models.ItemFailed, run.Item("item-1").Status)
	assert.Equal(t, "txNotFound", run.Item("item-1").FinalResult)
	assert.Equal(t, models.RunPendingVerification, run.Status)

	run, err = f.orch.Override(ctx, run.ID, "item-2", Reset())
	require.NoError(t, err)
	reset := run.Item("item-2")
	assert.Equal(t, models.ItemPending, reset.Status)
	assert.Empty(t, reset.TxHash)
	assert.Empty(t, reset.SignedHash)
	assert.Equal(t, models.RunActive, run.Status)

	_, err = f.orch.Override(ctx, run.ID, "item-2", Verified())
	assert.Error(t, err, "an item without a hash cannot be verified")

	_, err = f.orch.Override(ctx, run.ID, "missing", Verified())
	assert.Error(t, err)

	persisted := f.load(t, run.ID)
	assert.Equal(t, models.Counters{Failed: 1}, persisted.Counters)
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
		err  bool
	}{
		{in: "verified", want: Verified()},
		{in: "failed", want: Failed("operator")},
		{in: "failed:txNotFound", want: Failed("txNotFound")},
		{in: "reset", want: Reset()},
		{in: "defer", want: Defer()},
		{in: "failed:", err: true},
		{in: "maybe", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecision(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

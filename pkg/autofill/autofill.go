// Package autofill completes draft transactions with fee, sequence, expiry and flags.
package autofill

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
)

// Unbounded disables the fee cap
const Unbounded int64 = -1

// networkIDThreshold: networks with an ID above it require the NetworkID field
const networkIDThreshold = 1024

// Policy bounds the autofilled fee and expiry
type Policy struct {
	MaxFeeDrops     int64
	FeeCushion      float64
	MaxLedgerOffset uint32
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxFeeDrops:     2000000,
		FeeCushion:      1.2,
		MaxLedgerOffset: 20,
	}
}

// Error is returned when a network query fails or a required field is still unset
type Error struct {
	Query string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("autofill: %s failed: %v", e.Query, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("autofill: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("autofill: %s is not set", e.Field)
}

func (e *Error) Unwrap() error { return e.Err }

// Ledger is the subset of the RPC client the engine needs
type Ledger interface {
	ServerInfo(ctx context.Context) (*rpcclient.ServerInfo, error)
	NextSequence(ctx context.Context, account string) (uint32, error)
}

// Engine fills in fee, sequence, expiry ledger and flags
type Engine struct {
	ledger    Ledger
	sequences *ledger.SequenceManager
	logger    logger.Logger
	network   string
}

// NewEngine creates an autofill engine. sequences may be nil, in which case the network
// sequence is used as is.
func NewEngine(l Ledger, sequences *ledger.SequenceManager, log logger.Logger, network string) *Engine {
	return &Engine{
		ledger:    l,
		sequences: sequences,
		logger:    log,
		network:   network,
	}
}

// Autofill returns a completed copy of intent. The sequence it reserves must be released
// through the sequence manager if the transaction is not submitted.
func (e *Engine) Autofill(ctx context.Context, intent models.TransactionIntent, policy Policy) (models.TransactionIntent, error) {
	tx := intent.Clone()
	account := tx.Account()
	if account == "" {
		return nil, &Error{Field: models.FieldAccount}
	}
	if tx.Type() == "" {
		return nil, &Error{Field: models.FieldTransactionType}
	}

	reserved := false
	if !tx.Has(models.FieldSequence) {
		seq, err := e.nextSequence(ctx, account)
		if err != nil {
			return nil, &Error{Query: "account_info", Err: err}
		}
		tx[models.FieldSequence] = seq
		reserved = e.sequences != nil
	}
	release := func() {
		if reserved {
			seq, _ := tx.Uint32(models.FieldSequence)
			e.sequences.Release(account, seq)
		}
	}

	info, err := e.ledger.ServerInfo(ctx)
	if err != nil {
		release()
		return nil, &Error{Query: "server_info", Err: err}
	}

	if info.ValidatedLedger != nil {
		fee, err := e.fee(tx, info, policy)
		if err != nil {
			release()
			return nil, &Error{Field: models.FieldFee, Err: err}
		}
		tx[models.FieldFee] = fee.String()

		if !tx.Has(models.FieldLastLedgerSequence) {
			tx[models.FieldLastLedgerSequence] = info.ValidatedLedger.Seq + policy.MaxLedgerOffset
		}
	}

	flags, err := NormalizeFlags(tx.Type(), tx[models.FieldFlags])
	if err != nil {
		release()
		return nil, &Error{Field: models.FieldFlags, Err: err}
	}
	tx[models.FieldFlags] = flags

	if info.NetworkID > networkIDThreshold && !tx.Has(models.FieldNetworkID) {
		tx[models.FieldNetworkID] = info.NetworkID
	}

	for _, field := range []string{models.FieldFlags, models.FieldFee, models.FieldLastLedgerSequence, models.FieldSequence} {
		if !tx.Has(field) {
			release()
			return nil, &Error{Field: field}
		}
	}

	seq, _ := tx.Uint32(models.FieldSequence)
	lls, _ := tx.Uint32(models.FieldLastLedgerSequence)
	e.logger.DebugWithNetwork(e.network, "Autofilled %s for %s: sequence %d, fee %v, last ledger %d",
		tx.Type(), account, seq, tx[models.FieldFee], lls)
	return tx, nil
}

func (e *Engine) nextSequence(ctx context.Context, account string) (uint32, error) {
	if e.sequences == nil {
		return e.ledger.NextSequence(ctx, account)
	}
	return e.sequences.Reserve(ctx, account, e.ledger.NextSequence)
}

// fee computes floor(baseFee * loadFactor * cushion) in drops, clamped to the policy maximum.
// A fee already present on the intent is kept but still clamped.
func (e *Engine) fee(tx models.TransactionIntent, info *rpcclient.ServerInfo, policy Policy) (decimal.Decimal, error) {
	var fee decimal.Decimal
	if existing, ok := tx[models.FieldFee]; ok && existing != nil {
		parsed, err := decimal.NewFromString(fmt.Sprint(existing))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid fee %v: %w", existing, err)
		}
		fee = parsed.Floor()
	} else {
		base := info.ValidatedLedger.BaseFeeXRP.Mul(ledger.DropsPerXRP)
		if !base.IsPositive() {
			return decimal.Zero, fmt.Errorf("server reported no base fee")
		}
		loadFactor := info.LoadFactor
		if !loadFactor.IsPositive() {
			loadFactor = decimal.NewFromInt(1)
		}
		cushion := decimal.NewFromFloat(policy.FeeCushion)
		if !cushion.IsPositive() {
			cushion = decimal.NewFromInt(1)
		}
		fee = base.Mul(loadFactor).Mul(cushion).Floor()
		metrics.LoadFactor.WithLabelValues(e.network).Set(loadFactor.InexactFloat64())
	}

	if policy.MaxFeeDrops != Unbounded {
		maxFee := decimal.NewFromInt(policy.MaxFeeDrops)
		if fee.GreaterThan(maxFee) {
			e.logger.NoticeWithNetwork(e.network, "Fee %s drops exceeds maximum, clamped to %s", fee.String(), maxFee.String())
			metrics.FeeClamped.WithLabelValues(e.network).Inc()
			fee = maxFee
		}
	}
	metrics.AutofillFee.WithLabelValues(e.network).Set(fee.InexactFloat64())
	return fee, nil
}

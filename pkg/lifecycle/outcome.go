package lifecycle

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
	"github.com/speedrun-hq/tokenrunner/pkg/signer"
)

// Kind names an outcome variant
type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindFailed    Kind = "failed"
	KindExpired   Kind = "expired"
	KindAborted   Kind = "aborted"
)

// Outcome is the terminal result of SubmitAndVerify. The set of implementations is closed:
// *Confirmed, *DefinitivelyFailed, *ExpiredUnconfirmed and *Aborted.
type Outcome interface {
	Kind() Kind
	outcome()
}

// Confirmed means the transaction was applied with tesSUCCESS in a validated ledger
type Confirmed struct {
	Hash        string
	Result      string
	LedgerIndex uint32
	Meta        *rpcclient.TxMeta
}

// DefinitivelyFailed means the ledger rejected the transaction at submission or applied
// it with a failure code
type DefinitivelyFailed struct {
	Hash        string
	Result      string
	LedgerIndex uint32
	// Preliminary is true when the rejection came from the submit response
	Preliminary bool
}

// ExpiredUnconfirmed means a validated ledger past LastLedgerSequence closed without the
// transaction. ObservedLedger is always greater than LastLedgerSequence.
type ExpiredUnconfirmed struct {
	Hash               string
	LastLedgerSequence uint32
	ObservedLedger     uint32
}

// Stage is the step an aborted operation stopped at
type Stage string

const (
	StageAutofill Stage = "autofill"
	StageSign     Stage = "sign"
	StagePersist  Stage = "persist"
	StageSubmit   Stage = "submit"
	StageVerify   Stage = "verify"
)

// Aborted is a recoverable stop. Nothing reached the ledger unless Stage is StageSubmit
// with a transport error or StageVerify; the work item keeps its status and can be retried.
type Aborted struct {
	Stage Stage
	Err   error
}

func (*Confirmed) Kind() Kind          { return KindConfirmed }
func (*DefinitivelyFailed) Kind() Kind { return KindFailed }
func (*ExpiredUnconfirmed) Kind() Kind { return KindExpired }
func (*Aborted) Kind() Kind            { return KindAborted }

func (*Confirmed) outcome()          {}
func (*DefinitivelyFailed) outcome() {}
func (*ExpiredUnconfirmed) outcome() {}
func (*Aborted) outcome()            {}

func (a *Aborted) Error() string {
	return fmt.Sprintf("aborted at %s: %v", a.Stage, a.Err)
}

func (a *Aborted) Unwrap() error { return a.Err }

// Declined reports whether the signer's operator refused to sign
func (a *Aborted) Declined() bool {
	return errors.Is(a.Err, signer.ErrDeclined)
}

// SubmissionRejected is returned by Submit when the preliminary result is neither success
// nor retry. The signed blob must not be resubmitted.
type SubmissionRejected struct {
	Hash    string
	Result  string
	Message string
}

func (e *SubmissionRejected) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s %s", e.Hash, e.Result, e.Message)
}

package ledger

import "strings"

// ResultClass groups engine result codes by their prefix.
type ResultClass int

const (
	// ClassUnknown is any code the ledger does not document
	ClassUnknown ResultClass = iota
	// ClassSuccess (tes) applied successfully
	ClassSuccess
	// ClassClaimed (tec) applied, fee claimed, sequence consumed, intended effect not achieved
	ClassClaimed
	// ClassFailure (tef) not applied, usually a sequence or authorization problem
	ClassFailure
	// ClassLocal (tel) rejected by the local server, not relayed
	ClassLocal
	// ClassMalformed (tem) transaction is malformed and can never succeed
	ClassMalformed
	// ClassRetry (ter) not applied yet, may apply later
	ClassRetry
)

const (
	ResultSuccess  = "tesSUCCESS"
	ResultQueued   = "terQUEUED"
	ResultNotFound = "txNotFound"
)

var classPrefixes = map[string]ResultClass{
	"tes": ClassSuccess,
	"tec": ClassClaimed,
	"tef": ClassFailure,
	"tel": ClassLocal,
	"tem": ClassMalformed,
	"ter": ClassRetry,
}

// ClassifyResult returns the class of an engine result code.
func ClassifyResult(code string) ResultClass {
	if len(code) < 3 {
		return ClassUnknown
	}
	class, ok := classPrefixes[code[:3]]
	if !ok {
		return ClassUnknown
	}
	return class
}

func (c ResultClass) String() string {
	switch c {
	case ClassSuccess:
		return "tes"
	case ClassClaimed:
		return "tec"
	case ClassFailure:
		return "tef"
	case ClassLocal:
		return "tel"
	case ClassMalformed:
		return "tem"
	case ClassRetry:
		return "ter"
	}
	return "unknown"
}

// IsSuccess reports whether the code is tesSUCCESS.
func IsSuccess(code string) bool {
	return code == ResultSuccess
}

// IsProvisional reports whether a preliminary submit result may still lead to the
// transaction being applied. ter codes, including terQUEUED, are provisional.
func IsProvisional(code string) bool {
	switch ClassifyResult(code) {
	case ClassSuccess, ClassRetry:
		return true
	}
	return false
}

// ConsumesSequence reports whether a final result used up the account sequence.
func ConsumesSequence(code string) bool {
	switch ClassifyResult(code) {
	case ClassSuccess, ClassClaimed:
		return true
	}
	return false
}

// ReleasesSequence reports whether a preliminary result guarantees the sequence was not used.
func ReleasesSequence(code string) bool {
	switch ClassifyResult(code) {
	case ClassFailure, ClassLocal, ClassMalformed:
		return true
	}
	return false
}

// IsNotFound reports whether a reconciliation code marks a transaction missing from history.
func IsNotFound(code string) bool {
	return strings.EqualFold(code, ResultNotFound)
}

package batch

import (
	"fmt"
	"strings"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// DecisionKind is an operator classification of a work item
type DecisionKind string

const (
	DecideVerified DecisionKind = "verified"
	DecideFailed   DecisionKind = "failed"
	// DecideReset clears the item's hashes and makes it pending for resubmission
	DecideReset DecisionKind = "reset"
	// DecideDefer leaves the item untouched for a later pass
	DecideDefer DecisionKind = "defer"
)

// Decision is an operator override. Code is the final result recorded for failed items.
type Decision struct {
	Kind DecisionKind
	Code string
}

func Verified() Decision          { return Decision{Kind: DecideVerified} }
func Failed(code string) Decision { return Decision{Kind: DecideFailed, Code: code} }
func Reset() Decision             { return Decision{Kind: DecideReset} }
func Defer() Decision             { return Decision{Kind: DecideDefer} }

func (d Decision) String() string {
	if d.Kind == DecideFailed && d.Code != "" {
		return fmt.Sprintf("failed(%s)", d.Code)
	}
	return string(d.Kind)
}

// ParseDecision reads "verified", "failed", "failed:<code>", "reset" or "defer"
func ParseDecision(s string) (Decision, error) {
	switch {
	case s == string(DecideVerified):
		return Verified(), nil
	case s == string(DecideReset):
		return Reset(), nil
	case s == string(DecideDefer):
		return Defer(), nil
	case s == string(DecideFailed):
		return Failed("operator"), nil
	}
	if code, ok := strings.CutPrefix(s, string(DecideFailed)+":"); ok && code != "" {
		return Failed(code), nil
	}
	return Decision{}, fmt.Errorf("unknown decision %q", s)
}

// Apply changes the item's status according to the decision
func (d Decision) Apply(item *models.WorkItem, now time.Time) error {
	switch d.Kind {
	case DecideVerified:
		if item.TxHash == "" {
			return fmt.Errorf("item %s has no transaction hash to verify", item.ID)
		}
		item.Status = models.ItemVerified
	case DecideFailed:
		item.Status = models.ItemFailed
		if d.Code != "" {
			item.FinalResult = d.Code
		}
	case DecideReset:
		item.Status = models.ItemPending
		item.TxHash = ""
		item.SignedHash = ""
		item.SignedLastLedger = 0
		item.PreliminaryResult = ""
		item.FinalResult = ""
		item.LedgerIndexOfInclusion = 0
		item.MintedNFTokenID = ""
	case DecideDefer:
		return nil
	default:
		return fmt.Errorf("unknown decision %q", d.Kind)
	}
	item.UpdatedAt = now.UTC()
	return nil
}

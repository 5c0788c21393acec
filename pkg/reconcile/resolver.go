package reconcile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/speedrun-hq/tokenrunner/pkg/batch"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// Reason tells why an item could not be verified automatically
type Reason string

const (
	ReasonNotFound    Reason = "notFound"
	ReasonResult      Reason = "resultMismatch"
	ReasonTransaction Reason = "transactionMismatch"
	ReasonDestination Reason = "destinationMismatch"
	ReasonAmount      Reason = "amountMismatch"
	ReasonToken       Reason = "tokenMismatch"
	ReasonPayload     Reason = "invalidPayload"
)

// Ambiguity describes a sent item whose outcome needs an operator decision
type Ambiguity struct {
	ItemID   string
	TxHash   string
	Reason   Reason
	Expected string
	Observed string
	// Result and Ledger are set when the transaction was found
	Result string
	Ledger uint32
}

func (a *Ambiguity) Error() string {
	switch a.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("item %s: %s not found in account history", a.ItemID, a.TxHash)
	case ReasonPayload:
		return fmt.Sprintf("item %s: %s", a.ItemID, a.Observed)
	}
	return fmt.Sprintf("item %s: %s %s, expected %s got %s", a.ItemID, a.TxHash, a.Reason, a.Expected, a.Observed)
}

// DefaultCode is the final result recorded when the item is failed without an explicit code
func (a *Ambiguity) DefaultCode() string {
	if a.Result != "" {
		return a.Result
	}
	return CodeTxNotFound
}

// Resolver decides what happens to an ambiguous item
type Resolver interface {
	Resolve(ctx context.Context, run *models.BatchRun, a *Ambiguity) (batch.Decision, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, run *models.BatchRun, a *Ambiguity) (batch.Decision, error)

func (f ResolverFunc) Resolve(ctx context.Context, run *models.BatchRun, a *Ambiguity) (batch.Decision, error) {
	return f(ctx, run, a)
}

// PromptResolver asks an operator on a terminal
type PromptResolver struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptResolver reads answers from in and writes questions to out
func NewPromptResolver(in io.Reader, out io.Writer) *PromptResolver {
	return &PromptResolver{in: bufio.NewReader(in), out: out}
}

// Resolve asks until it gets a valid answer. An empty answer defers the item.
func (p *PromptResolver) Resolve(ctx context.Context, run *models.BatchRun, a *Ambiguity) (batch.Decision, error) {
	for {
		if err := ctx.Err(); err != nil {
			return batch.Decision{}, err
		}
		fmt.Fprintf(p.out, "\nRun %s (%s): %v\n", run.ID, run.Name, a)
		fmt.Fprintf(p.out, "[v]erified, [f]ailed (%s), [r]eset to pending, [d]efer: ", a.DefaultCode())

		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			return batch.Decision{}, fmt.Errorf("read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "v", "verified":
			return batch.Verified(), nil
		case "f", "failed":
			return batch.Failed(a.DefaultCode()), nil
		case "r", "reset":
			return batch.Reset(), nil
		case "d", "defer", "":
			return batch.Defer(), nil
		}
		fmt.Fprintln(p.out, "Unknown answer")
	}
}

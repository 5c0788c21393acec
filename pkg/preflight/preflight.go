// Package preflight reads account state before transactions are built so that items
// the ledger is bound to reject are caught while the operator can still fix them.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
)

const objectTypeNFTOffer = "nft_offer"

var (
	ErrNoTrustLine   = errors.New("no trust line")
	ErrLimitExceeded = errors.New("trust line limit exceeded")
	ErrInsufficient  = errors.New("insufficient balance")
	ErrNotOwned      = errors.New("NFToken not owned by the account")
	ErrOfferExists   = errors.New("offer already exists")
	ErrOfferNotFound = errors.New("offer not found")
)

// Ledger is the account state the checks read
type Ledger interface {
	AccountLines(ctx context.Context, account, peer string) ([]rpcclient.TrustLine, error)
	AccountNFTs(ctx context.Context, account string) ([]rpcclient.NFToken, error)
	AccountObjects(ctx context.Context, account, objectType string) ([]map[string]interface{}, error)
	NFTSellOffers(ctx context.Context, nftID string) ([]rpcclient.NFTOffer, error)
	NFTBuyOffers(ctx context.Context, nftID string) ([]rpcclient.NFTOffer, error)
}

// Problem is one item the ledger would reject
type Problem struct {
	ItemID string
	Err    error
}

// RunError lists every problem found in a run
type RunError struct {
	RunID    string
	Problems []Problem
}

func (e *RunError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %v", p.ItemID, p.Err))
	}
	return fmt.Sprintf("run %s has %d items the ledger would reject: %s", e.RunID, len(e.Problems), strings.Join(parts, "; "))
}

// Checker runs the checks against one ledger server
type Checker struct {
	ledger Ledger
	logger logger.Logger
}

func NewChecker(l Ledger, log logger.Logger) *Checker {
	return &Checker{ledger: l, logger: log}
}

// TrustLine returns holder's line to the issuer of currency
func (c *Checker) TrustLine(ctx context.Context, holder, issuer, currency string) (*rpcclient.TrustLine, error) {
	lines, err := c.ledger.AccountLines(ctx, holder, issuer)
	if err != nil {
		return nil, fmt.Errorf("read trust lines of %s: %w", holder, err)
	}
	for i := range lines {
		if lines[i].Account == issuer && strings.EqualFold(lines[i].Currency, currency) {
			return &lines[i], nil
		}
	}
	return nil, fmt.Errorf("%w from %s to %s for %s", ErrNoTrustLine, holder, issuer, currency)
}

// CanReceive checks that holder can take amount. Native amounts and payments to the
// issuer itself need no trust line.
func (c *Checker) CanReceive(ctx context.Context, holder string, amount ledger.Amount) error {
	if amount.IsNative() || holder == amount.Issuer {
		return nil
	}
	line, err := c.TrustLine(ctx, holder, amount.Issuer, amount.Currency)
	if err != nil {
		return err
	}
	balance, limit, err := lineValues(line)
	if err != nil {
		return err
	}
	if balance.Add(amount.Value).GreaterThan(limit) {
		return fmt.Errorf("%w: %s holds %s of %s, receiving %s", ErrLimitExceeded, holder, balance, limit, amount.Value)
	}
	return nil
}

// CanBurn checks that holder has amount to return to its issuer
func (c *Checker) CanBurn(ctx context.Context, holder string, amount ledger.Amount) error {
	line, err := c.TrustLine(ctx, holder, amount.Issuer, amount.Currency)
	if err != nil {
		return err
	}
	balance, _, err := lineValues(line)
	if err != nil {
		return err
	}
	if balance.LessThan(amount.Value) {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficient, holder, balance, amount.Value)
	}
	return nil
}

// Offer finds an NFToken offer by index among the sell and buy offers of the token
func (c *Checker) Offer(ctx context.Context, nftID, offerID string) (offer *rpcclient.NFTOffer, sell bool, err error) {
	sells, err := c.ledger.NFTSellOffers(ctx, nftID)
	if err != nil {
		return nil, false, fmt.Errorf("read sell offers of %s: %w", nftID, err)
	}
	if o := findOffer(sells, offerID); o != nil {
		return o, true, nil
	}
	buys, err := c.ledger.NFTBuyOffers(ctx, nftID)
	if err != nil {
		return nil, false, fmt.Errorf("read buy offers of %s: %w", nftID, err)
	}
	if o := findOffer(buys, offerID); o != nil {
		return o, false, nil
	}
	return nil, false, fmt.Errorf("%w: %s for %s", ErrOfferNotFound, offerID, nftID)
}

// CheckRun reads the state every item of run depends on and reports all items that
// would fail. Mint runs have no preconditions to read.
func (c *Checker) CheckRun(ctx context.Context, run *models.BatchRun) error {
	var problems []Problem
	var err error
	switch run.Kind {
	case models.KindPayment:
		problems, err = c.checkPayments(ctx, run)
	case models.KindNFTOffer:
		problems, err = c.checkOffers(ctx, run)
	}
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &RunError{RunID: run.ID, Problems: problems}
	}
	c.logger.DebugWithNetwork(run.Network, "Run %s passed preflight checks", run.ID)
	return nil
}

func (c *Checker) checkPayments(ctx context.Context, run *models.BatchRun) ([]Problem, error) {
	var problems []Problem
	for _, item := range run.Items {
		p := item.Payload
		if p.Amount == nil {
			continue
		}
		err := c.CanReceive(ctx, p.Destination, *p.Amount)
		switch {
		case errors.Is(err, ErrNoTrustLine), errors.Is(err, ErrLimitExceeded):
			problems = append(problems, Problem{ItemID: item.ID, Err: err})
		case err != nil:
			return nil, err
		}
	}
	return problems, nil
}

func (c *Checker) checkOffers(ctx context.Context, run *models.BatchRun) ([]Problem, error) {
	tokens, err := c.ledger.AccountNFTs(ctx, run.Account)
	if err != nil {
		return nil, fmt.Errorf("read NFTokens of %s: %w", run.Account, err)
	}
	owned := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		owned[strings.ToUpper(t.NFTokenID)] = true
	}

	objects, err := c.ledger.AccountObjects(ctx, run.Account, objectTypeNFTOffer)
	if err != nil {
		return nil, fmt.Errorf("read offers of %s: %w", run.Account, err)
	}
	offered := make(map[string]bool, len(objects))
	for _, o := range objects {
		id, _ := o["NFTokenID"].(string)
		dest, _ := o["Destination"].(string)
		offered[strings.ToUpper(id)+"/"+dest] = true
	}

	var problems []Problem
	for _, item := range run.Items {
		id := strings.ToUpper(item.Payload.NFTokenID)
		switch {
		case !owned[id]:
			problems = append(problems, Problem{ItemID: item.ID, Err: fmt.Errorf("%w: %s", ErrNotOwned, id)})
		case offered[id+"/"+item.Payload.Destination]:
			problems = append(problems, Problem{ItemID: item.ID, Err: fmt.Errorf("%w: %s to %s", ErrOfferExists, id, item.Payload.Destination)})
		}
	}
	return problems, nil
}

func findOffer(offers []rpcclient.NFTOffer, offerID string) *rpcclient.NFTOffer {
	for i := range offers {
		if strings.EqualFold(offers[i].OfferIndex, offerID) {
			return &offers[i]
		}
	}
	return nil
}

func lineValues(line *rpcclient.TrustLine) (balance, limit decimal.Decimal, err error) {
	if balance, err = decimal.NewFromString(line.Balance); err != nil {
		return balance, limit, fmt.Errorf("trust line balance %q: %w", line.Balance, err)
	}
	if limit, err = decimal.NewFromString(line.Limit); err != nil {
		return balance, limit, fmt.Errorf("trust line limit %q: %w", line.Limit, err)
	}
	return balance, limit, nil
}

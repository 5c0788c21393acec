package preflight

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient"
)

const (
	issuer  = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	holder  = "rrrrrrrrrrrrrrrrrrrrBZbvji"
	other   = "rrrrrrrrrrrrrrrrrrrn5RM1rHd"
	tokenID = "000B013A95F14B0044F78A264E41713C64B5F89242540EE208C3098E00000D65"
)

type fakeLedger struct {
	lines   map[string][]rpcclient.TrustLine
	nfts    []rpcclient.NFToken
	objects []map[string]interface{}
	sells   []rpcclient.NFTOffer
	buys    []rpcclient.NFTOffer
	err     error
	calls   []string
}

func (f *fakeLedger) AccountLines(_ context.Context, account, peer string) ([]rpcclient.TrustLine, error) {
	f.calls = append(f.calls, "account_lines "+account+" "+peer)
	return f.lines[account], f.err
}

func (f *fakeLedger) AccountNFTs(context.Context, string) ([]rpcclient.NFToken, error) {
	f.calls = append(f.calls, "account_nfts")
	return f.nfts, f.err
}

func (f *fakeLedger) AccountObjects(_ context.Context, _, objectType string) ([]map[string]interface{}, error) {
	f.calls = append(f.calls, "account_objects "+objectType)
	return f.objects, f.err
}

func (f *fakeLedger) NFTSellOffers(context.Context, string) ([]rpcclient.NFTOffer, error) {
	f.calls = append(f.calls, "nft_sell_offers")
	return f.sells, f.err
}

func (f *fakeLedger) NFTBuyOffers(context.Context, string) ([]rpcclient.NFTOffer, error) {
	f.calls = append(f.calls, "nft_buy_offers")
	return f.buys, f.err
}

func usd(t *testing.T, value string) ledger.Amount {
	t.Helper()
	a, err := ledger.Issued("USD", issuer, value)
	require.NoError(t, err)
	return a
}

func TestCanReceive(t *testing.T) {
	l := &fakeLedger{lines: map[string][]rpcclient.TrustLine{
		holder: {{Account: issuer, Currency: "USD", Balance: "40", Limit: "100"}},
	}}
	c := NewChecker(l, &logger.EmptyLogger{})

	tests := []struct {
		name    string
		holder  string
		amount  ledger.Amount
		wantErr error
	}{
		{"within limit", holder, usd(t, "60"), nil},
		{"over limit", holder, usd(t, "60.01"), ErrLimitExceeded},
		{"no line", other, usd(t, "1"), ErrNoTrustLine},
		{"native", other, ledger.Drops(10), nil},
		{"issuer itself", issuer, usd(t, "1000"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.CanReceive(context.Background(), tt.holder, tt.amount)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, []string{"account_lines " + holder + " " + issuer, "account_lines " + holder + " " + issuer, "account_lines " + other + " " + issuer}, l.calls)
}

func TestCanBurn(t *testing.T) {
	l := &fakeLedger{lines: map[string][]rpcclient.TrustLine{
		holder: {{Account: issuer, Currency: "USD", Balance: "5", Limit: "100"}},
	}}
	c := NewChecker(l, &logger.EmptyLogger{})

	assert.NoError(t, c.CanBurn(context.Background(), holder, usd(t, "5")))
	assert.ErrorIs(t, c.CanBurn(context.Background(), holder, usd(t, "5.5")), ErrInsufficient)
	assert.ErrorIs(t, c.CanBurn(context.Background(), other, usd(t, "1")), ErrNoTrustLine)
}

func TestOffer(t *testing.T) {
	l := &fakeLedger{
		sells: []rpcclient.NFTOffer{{OfferIndex: "AA01", Owner: issuer}},
		buys:  []rpcclient.NFTOffer{{OfferIndex: "BB02", Owner: holder}},
	}
	c := NewChecker(l, &logger.EmptyLogger{})

	offer, sell, err := c.Offer(context.Background(), tokenID, "aa01")
	require.NoError(t, err)
	assert.True(t, sell)
	assert.Equal(t, issuer, offer.Owner)

	offer, sell, err = c.Offer(context.Background(), tokenID, "BB02")
	require.NoError(t, err)
	assert.False(t, sell)
	assert.Equal(t, holder, offer.Owner)

	_, _, err = c.Offer(context.Background(), tokenID, "CC03")
	assert.ErrorIs(t, err, ErrOfferNotFound)
}

func TestCheckRunPayments(t *testing.T) {
	l := &fakeLedger{lines: map[string][]rpcclient.TrustLine{
		holder: {{Account: issuer, Currency: "USD", Balance: "0", Limit: "10"}},
	}}
	c := NewChecker(l, &logger.EmptyLogger{})

	ok, missing := usd(t, "5"), usd(t, "5")
	run := &models.BatchRun{ID: "run-1", Kind: models.KindPayment, Account: issuer, Items: []*models.WorkItem{
		{ID: "a", Payload: models.Payload{Destination: holder, Amount: &ok}},
		{ID: "b", Payload: models.Payload{Destination: other, Amount: &missing}},
	}}

	err := c.CheckRun(context.Background(), run)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.Problems, 1)
	assert.Equal(t, "b", runErr.Problems[0].ItemID)
	assert.ErrorIs(t, runErr.Problems[0].Err, ErrNoTrustLine)
	assert.Contains(t, err.Error(), "run run-1 has 1 items")
}

func TestCheckRunTransportErrorIsNotAProblem(t *testing.T) {
	down := errors.New("connection refused")
	c := NewChecker(&fakeLedger{err: down}, &logger.EmptyLogger{})

	amount := usd(t, "1")
	run := &models.BatchRun{ID: "run-1", Kind: models.KindPayment, Account: issuer, Items: []*models.WorkItem{
		{ID: "a", Payload: models.Payload{Destination: holder, Amount: &amount}},
	}}
	err := c.CheckRun(context.Background(), run)
	assert.ErrorIs(t, err, down)
	var runErr *RunError
	assert.False(t, errors.As(err, &runErr))
}

func TestCheckRunOffers(t *testing.T) {
	const offeredID = "000B013A95F14B0044F78A264E41713C64B5F89242540EE208C3098E00000D66"
	l := &fakeLedger{
		nfts: []rpcclient.NFToken{{NFTokenID: tokenID}, {NFTokenID: offeredID}},
		objects: []map[string]interface{}{
			{"LedgerEntryType": "NFTokenOffer", "NFTokenID": offeredID, "Destination": holder},
		},
	}
	c := NewChecker(l, &logger.EmptyLogger{})

	run := &models.BatchRun{ID: "run-2", Kind: models.KindNFTOffer, Account: issuer, Items: []*models.WorkItem{
		{ID: "fresh", Payload: models.Payload{Destination: holder, NFTokenID: tokenID}},
		{ID: "again", Payload: models.Payload{Destination: holder, NFTokenID: offeredID}},
		{ID: "foreign", Payload: models.Payload{Destination: holder, NFTokenID: "00080000AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA0000000000000001"}},
	}}

	err := c.CheckRun(context.Background(), run)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	require.Len(t, runErr.Problems, 2)
	assert.Equal(t, "again", runErr.Problems[0].ItemID)
	assert.ErrorIs(t, runErr.Problems[0].Err, ErrOfferExists)
	assert.Equal(t, "foreign", runErr.Problems[1].ItemID)
	assert.ErrorIs(t, runErr.Problems[1].Err, ErrNotOwned)
	assert.Contains(t, l.calls, "account_objects nft_offer")
}

func TestCheckRunMintNeedsNothing(t *testing.T) {
	l := &fakeLedger{}
	c := NewChecker(l, &logger.EmptyLogger{})
	require.NoError(t, c.CheckRun(context.Background(), &models.BatchRun{Kind: models.KindNFTMint}))
	assert.Empty(t, l.calls)
}

package txbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

const (
	issuer = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	holder = "rrrrrrrrrrrrrrrrrrrrBZbvji"

	sampleTokenID = "000B013A95F14B0044F78A264E41713C64B5F89242540EE208C3098E00000D65"
)

func TestPayment(t *testing.T) {
	tag := uint32(99)
	xrp, err := ledger.XRP("1.5")
	require.NoError(t, err)

	tx, err := Payment{Account: issuer, Destination: holder, DestinationTag: &tag, Amount: xrp, Memo: "hi"}.Intent()
	require.NoError(t, err)
	assert.Equal(t, "Payment", tx.Type())
	assert.Equal(t, "1500000", tx["Amount"])
	assert.Equal(t, uint32(99), tx["DestinationTag"])

	memo := tx["Memos"].([]interface{})[0].(map[string]interface{})["Memo"].(map[string]interface{})
	assert.Equal(t, "6869", memo["MemoData"])
	assert.Equal(t, "746578742F706C61696E", memo["MemoType"])

	usd, err := ledger.Issued("USD", issuer, "10.25")
	require.NoError(t, err)
	tx, err = Payment{Account: issuer, Destination: holder, Amount: usd}.Intent()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"currency": "USD", "issuer": issuer, "value": "10.25"}, tx["Amount"])
	assert.NotContains(t, tx, "Memos")
}

func TestPaymentValidation(t *testing.T) {
	one := ledger.Drops(1)
	tests := []struct {
		name string
		p    Payment
	}{
		{"bad destination", Payment{Account: issuer, Destination: "rBAD", Amount: one}},
		{"bad account", Payment{Account: "", Destination: holder, Amount: one}},
		{"self", Payment{Account: issuer, Destination: issuer, Amount: one}},
		{"zero", Payment{Account: issuer, Destination: holder, Amount: ledger.Drops(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.p.Intent()
			assert.Error(t, err)
		})
	}
}

func TestIssueAndBurn(t *testing.T) {
	tx, err := Issue(issuer, holder, "USD", "100")
	require.NoError(t, err)
	assert.Equal(t, issuer, tx.Account())
	assert.Equal(t, holder, tx["Destination"])

	tx, err = Burn(holder, issuer, "USD", "5")
	require.NoError(t, err)
	assert.Equal(t, holder, tx.Account())
	assert.Equal(t, issuer, tx["Destination"])

	_, err = Issue(issuer, holder, "XRP", "1")
	assert.Error(t, err)
}

func TestTrustSetAndAccountSet(t *testing.T) {
	limit, err := ledger.Issued("USD", issuer, "1000000")
	require.NoError(t, err)
	tx, err := TrustSet{Account: holder, Limit: limit, Flags: []string{"tfSetNoRipple"}}.Intent()
	require.NoError(t, err)
	assert.Equal(t, "TrustSet", tx.Type())
	assert.Equal(t, []string{"tfSetNoRipple"}, tx["Flags"])

	_, err = TrustSet{Account: holder, Limit: ledger.Drops(5)}.Intent()
	assert.Error(t, err)

	tx, err = DefaultRipple(issuer)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), tx["SetFlag"])

	rate := uint32(1005000000)
	tx, err = AccountSet{Account: issuer, Domain: "Example.COM", TransferRate: &rate}.Intent()
	require.NoError(t, err)
	assert.Equal(t, "6578616D706C652E636F6D", tx["Domain"])

	bad := uint32(5)
	_, err = AccountSet{Account: issuer, TransferRate: &bad}.Intent()
	assert.Error(t, err)
	_, err = AccountSet{Account: issuer, SetFlag: "asfNope"}.Intent()
	assert.Error(t, err)
}

func TestNFTokenMint(t *testing.T) {
	tx, err := NFTokenMint{
		Account:     issuer,
		Taxon:       7,
		URI:         "ipfs://bafy",
		TransferFee: 500,
		Flags:       []string{"tfTransferable", "tfBurnable"},
	}.Intent()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), tx["NFTokenTaxon"])
	assert.Equal(t, "697066733A2F2F62616679", tx["URI"])
	assert.Equal(t, uint16(500), tx["TransferFee"])

	flags, err := autofill.NormalizeFlags(tx.Type(), tx["Flags"])
	require.NoError(t, err)
	assert.Equal(t, uint32(9), flags)

	_, err = NFTokenMint{Account: issuer, TransferFee: 500}.Intent()
	assert.Error(t, err, "transfer fee without tfTransferable")
	_, err = NFTokenMint{Account: issuer, TransferFee: MaxTransferFee + 1, Flags: []string{"tfTransferable"}}.Intent()
	assert.Error(t, err)
}

func TestNFTokenOffers(t *testing.T) {
	tx, err := NFTokenCreateOffer{Account: issuer, NFTokenID: sampleTokenID, Amount: ledger.Drops(0), Destination: holder, Sell: true}.Intent()
	require.NoError(t, err)
	assert.Equal(t, "0", tx["Amount"])
	assert.Equal(t, []string{"tfSellNFToken"}, tx["Flags"])
	assert.NotContains(t, tx, "Owner")

	_, err = NFTokenCreateOffer{Account: holder, NFTokenID: sampleTokenID, Amount: ledger.Drops(0)}.Intent()
	assert.Error(t, err, "buy offer without amount")

	_, err = NFTokenCreateOffer{Account: issuer, NFTokenID: "1234", Sell: true}.Intent()
	assert.Error(t, err)

	offer := "68CD1F6F906494EA08C9CB5CAFA64DFA90D4E834B7151899B73231DE5A0C3B77"
	tx, err = NFTokenAcceptOffer{Account: holder, SellOfferID: offer}.Intent()
	require.NoError(t, err)
	assert.Equal(t, offer, tx["NFTokenSellOffer"])
	assert.NotContains(t, tx, "NFTokenBuyOffer")

	fee := ledger.Drops(10)
	_, err = NFTokenAcceptOffer{Account: holder, SellOfferID: offer, BrokerFee: &fee}.Intent()
	assert.Error(t, err)
	_, err = NFTokenAcceptOffer{Account: holder}.Intent()
	assert.Error(t, err)
}

func TestDecodeNFTokenID(t *testing.T) {
	info, err := DecodeNFTokenID(sampleTokenID)
	require.NoError(t, err)
	assert.Equal(t, NFTokenBurnable|NFTokenOnlyXRP|NFTokenTransferable, info.Flags)
	assert.Equal(t, uint16(314), info.TransferFee)
	assert.Equal(t, "rNCFjuvKkMSvp5mjavdty6ERYDrNkyZkR7", info.Issuer)
	assert.Equal(t, uint32(3429), info.Sequence)
	assert.Equal(t, uint32(3163260302), info.Taxon)

	encoded, err := EncodeNFTokenID(info)
	require.NoError(t, err)
	assert.Equal(t, sampleTokenID, encoded)

	_, err = DecodeNFTokenID("zz")
	assert.Error(t, err)
}

func TestFromWorkItem(t *testing.T) {
	amount := ledger.Drops(25)
	taxon := uint32(3)

	tests := []struct {
		name    string
		kind    models.BatchKind
		payload models.Payload
		txType  string
		wantErr bool
	}{
		{"payment", models.KindPayment, models.Payload{Destination: holder, Amount: &amount}, "Payment", false},
		{"payment without amount", models.KindPayment, models.Payload{Destination: holder}, "", true},
		{"mint", models.KindNFTMint, models.Payload{URI: "ipfs://x", Taxon: &taxon}, "NFTokenMint", false},
		{"mint without taxon", models.KindNFTMint, models.Payload{URI: "ipfs://x"}, "", true},
		{"offer", models.KindNFTOffer, models.Payload{Destination: holder, NFTokenID: sampleTokenID}, "NFTokenCreateOffer", false},
		{"unknown kind", models.BatchKind("swap"), models.Payload{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx, err := FromWorkItem(tt.kind, issuer, &models.WorkItem{ID: "i1", Payload: tt.payload})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.txType, tx.Type())
			assert.Equal(t, issuer, tx.Account())
		})
	}
}

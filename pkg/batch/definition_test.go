package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

const usdDefinition = `
name: usd airdrop
kind: payment
account: rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh
currency: USD
items:
  - id: alice
    destination: rrrrrrrrrrrrrrrrrrrrBZbvji
    amount: "10.5"
    memo: thanks
  - destination: rrrrrrrrrrrrrrrrrrrn5RM1rHd
    destinationTag: 7
    amount: "3"
`

func TestDefinitionNewRun(t *testing.T) {
	def, err := ParseDefinition([]byte(usdDefinition))
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	run, err := def.NewRun("testnet", now)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.RunCreated, run.Status)
	assert.Equal(t, "testnet", run.Network)
	assert.Equal(t, now, run.CreatedAt)
	require.Len(t, run.Items, 2)

	first := run.Items[0]
	assert.Equal(t, "alice", first.ID)
	assert.Equal(t, models.ItemPending, first.Status)
	require.NotNil(t, first.Payload.Amount)
	assert.Equal(t, "USD", first.Payload.Amount.Currency)
	assert.Equal(t, def.Account, first.Payload.Amount.Issuer, "issuer defaults to the run account")

	second := run.Items[1]
	assert.NotEmpty(t, second.ID)
	require.NotNil(t, second.Payload.DestinationTag)
	assert.Equal(t, uint32(7), *second.Payload.DestinationTag)
}

func TestDefinitionValidation(t *testing.T) {
	valid := func() *Definition {
		return &Definition{
			Kind:    models.KindPayment,
			Account: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
			Items: []ItemDef{
				{ID: "a", Destination: "rrrrrrrrrrrrrrrrrrrrBZbvji", Amount: "1"},
				{ID: "b", Destination: "rrrrrrrrrrrrrrrrrrrn5RM1rHd", Amount: "2"},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(d *Definition)
		errMsg string
	}{
		{"unknown kind", func(d *Definition) { d.Kind = "escrow" }, "unknown batch kind"},
		{"bad account", func(d *Definition) { d.Account = "nope" }, "invalid account"},
		{"no items", func(d *Definition) { d.Items = nil }, "no items"},
		{"duplicate ids", func(d *Definition) { d.Items[1].ID = "a" }, "duplicate id"},
		{"bad amount", func(d *Definition) { d.Items[0].Amount = "lots" }, "item 1"},
		{"missing destination", func(d *Definition) { d.Items[1].Destination = "" }, "item 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			_, err := d.NewRun("testnet", time.Now())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMintDefinition(t *testing.T) {
	taxon := uint32(42)
	def := &Definition{
		Kind:    models.KindNFTMint,
		Account: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		Items: []ItemDef{
			{ID: "n1", URI: "ipfs://token/1", Taxon: &taxon, TransferFee: 500, Flags: []string{"tfTransferable"}},
		},
	}
	run, err := def.NewRun("testnet", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ipfs://token/1", run.Items[0].Payload.URI)
	assert.Nil(t, run.Items[0].Payload.Amount)
}

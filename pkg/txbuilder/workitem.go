package txbuilder

import (
	"fmt"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// FromWorkItem builds the draft transaction of a batch item sent by account
func FromWorkItem(kind models.BatchKind, account string, item *models.WorkItem) (models.TransactionIntent, error) {
	p := item.Payload
	switch kind {
	case models.KindPayment:
		if p.Amount == nil {
			return nil, fmt.Errorf("item %s has no amount", item.ID)
		}
		return Payment{
			Account:        account,
			Destination:    p.Destination,
			DestinationTag: p.DestinationTag,
			Amount:         *p.Amount,
			Flags:          p.Flags,
			Memo:           p.Memo,
		}.Intent()

	case models.KindNFTMint:
		if p.Taxon == nil {
			return nil, fmt.Errorf("item %s has no taxon", item.ID)
		}
		return NFTokenMint{
			Account:     account,
			Taxon:       *p.Taxon,
			URI:         p.URI,
			TransferFee: p.TransferFee,
			Flags:       p.Flags,
			Memo:        p.Memo,
		}.Intent()

	case models.KindNFTOffer:
		amount := ledger.Drops(0)
		if p.Amount != nil {
			amount = *p.Amount
		}
		return NFTokenCreateOffer{
			Account:     account,
			NFTokenID:   p.NFTokenID,
			Amount:      amount,
			Destination: p.Destination,
			Sell:        true,
			Memo:        p.Memo,
		}.Intent()
	}
	return nil, fmt.Errorf("unknown batch kind %q", kind)
}

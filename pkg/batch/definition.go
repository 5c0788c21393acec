package batch

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/txbuilder"
)

// Definition is the operator-authored description of a batch run
type Definition struct {
	Name    string           `yaml:"name"`
	Kind    models.BatchKind `yaml:"kind"`
	Account string           `yaml:"account"`
	// Currency and Issuer apply to every payment item. An empty currency or XRP means
	// item amounts are XRP; an empty issuer means Account issues the currency.
	Currency string    `yaml:"currency"`
	Issuer   string    `yaml:"issuer"`
	Items    []ItemDef `yaml:"items"`
}

// ItemDef is one line of a batch definition
type ItemDef struct {
	ID             string   `yaml:"id"`
	Destination    string   `yaml:"destination"`
	DestinationTag *uint32  `yaml:"destinationTag"`
	Amount         string   `yaml:"amount"`
	URI            string   `yaml:"uri"`
	Taxon          *uint32  `yaml:"taxon"`
	TransferFee    uint16   `yaml:"transferFee"`
	Flags          []string `yaml:"flags"`
	NFTokenID      string   `yaml:"nftokenId"`
	Memo           string   `yaml:"memo"`
}

// LoadDefinition reads a YAML batch definition
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch definition: %w", err)
	}
	return ParseDefinition(data)
}

// ParseDefinition decodes a YAML batch definition
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse batch definition: %w", err)
	}
	return &def, nil
}

// NewRun builds a run in the created state. Every item is validated by building its
// transaction, so a run never holds an item that cannot be submitted.
func (d *Definition) NewRun(network string, now time.Time) (*models.BatchRun, error) {
	switch d.Kind {
	case models.KindPayment, models.KindNFTMint, models.KindNFTOffer:
	default:
		return nil, fmt.Errorf("unknown batch kind %q", d.Kind)
	}
	if !ledger.IsValidAddress(d.Account) {
		return nil, fmt.Errorf("invalid account %q", d.Account)
	}
	if len(d.Items) == 0 {
		return nil, fmt.Errorf("batch %q has no items", d.Name)
	}

	run := &models.BatchRun{
		ID:        uuid.NewString(),
		Name:      d.Name,
		Kind:      d.Kind,
		Network:   network,
		Account:   d.Account,
		Status:    models.RunCreated,
		Items:     make([]*models.WorkItem, 0, len(d.Items)),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	seen := make(map[string]bool, len(d.Items))
	for i, def := range d.Items {
		payload, err := d.payload(def)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		id := def.ID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return nil, fmt.Errorf("item %d: duplicate id %q", i+1, id)
		}
		seen[id] = true

		item := &models.WorkItem{ID: id, Payload: payload, Status: models.ItemPending, UpdatedAt: now.UTC()}
		if _, err := txbuilder.FromWorkItem(d.Kind, d.Account, item); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		run.Items = append(run.Items, item)
	}
	return run, nil
}

func (d *Definition) payload(def ItemDef) (models.Payload, error) {
	p := models.Payload{
		Destination:    def.Destination,
		DestinationTag: def.DestinationTag,
		URI:            def.URI,
		Taxon:          def.Taxon,
		TransferFee:    def.TransferFee,
		Flags:          def.Flags,
		NFTokenID:      strings.ToUpper(def.NFTokenID),
		Memo:           def.Memo,
	}
	if def.Amount == "" {
		return p, nil
	}

	var amount ledger.Amount
	var err error
	if d.Currency == "" || strings.EqualFold(d.Currency, ledger.NativeCurrency) {
		amount, err = ledger.XRP(def.Amount)
	} else {
		issuer := d.Issuer
		if issuer == "" {
			issuer = d.Account
		}
		amount, err = ledger.Issued(d.Currency, issuer, def.Amount)
	}
	if err != nil {
		return p, err
	}
	p.Amount = &amount
	return p, nil
}

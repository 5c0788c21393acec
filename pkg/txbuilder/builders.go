// Package txbuilder constructs draft transactions for the supported operations.
package txbuilder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/speedrun-hq/tokenrunner/pkg/autofill"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// MaxTransferFee is the highest NFToken transfer fee (50%)
const MaxTransferFee = 50000

// maximum URI length in bytes
const maxURILength = 256

// Payment sends an amount from Account to Destination
type Payment struct {
	Account        string
	Destination    string
	DestinationTag *uint32
	Amount         ledger.Amount
	SendMax        *ledger.Amount
	Flags          []string
	Memo           string
}

// Intent returns the draft transaction
func (p Payment) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(p.Account, p.Destination); err != nil {
		return nil, err
	}
	if p.Account == p.Destination {
		return nil, fmt.Errorf("payment to self")
	}
	if !p.Amount.Value.IsPositive() {
		return nil, fmt.Errorf("payment amount must be positive, got %s", p.Amount)
	}

	tx := base("Payment", p.Account, p.Flags, p.Memo)
	tx[models.FieldDestination] = p.Destination
	tx[models.FieldAmount] = amountField(p.Amount)
	if p.DestinationTag != nil {
		tx["DestinationTag"] = *p.DestinationTag
	}
	if p.SendMax != nil {
		tx["SendMax"] = amountField(*p.SendMax)
	}
	return tx, nil
}

// TrustSet creates or modifies a trust line towards the limit's issuer
type TrustSet struct {
	Account string
	Limit   ledger.Amount
	Flags   []string
}

// Intent returns the draft transaction
func (t TrustSet) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(t.Account, t.Limit.Issuer); err != nil {
		return nil, err
	}
	if t.Limit.IsNative() {
		return nil, fmt.Errorf("trust line limit must be an issued currency")
	}
	if t.Limit.Value.IsNegative() {
		return nil, fmt.Errorf("trust line limit must not be negative")
	}
	tx := base("TrustSet", t.Account, t.Flags, "")
	tx["LimitAmount"] = amountField(t.Limit)
	return tx, nil
}

// AccountSet changes account settings. SetFlag and ClearFlag take asf names such as
// asfDefaultRipple.
type AccountSet struct {
	Account      string
	SetFlag      string
	ClearFlag    string
	Domain       string
	TransferRate *uint32
	TickSize     *uint8
	Flags        []string
}

// Intent returns the draft transaction
func (a AccountSet) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(a.Account); err != nil {
		return nil, err
	}
	tx := base("AccountSet", a.Account, a.Flags, "")
	if a.SetFlag != "" {
		v, err := autofill.AccountSetFlag(a.SetFlag)
		if err != nil {
			return nil, err
		}
		tx["SetFlag"] = v
	}
	if a.ClearFlag != "" {
		v, err := autofill.AccountSetFlag(a.ClearFlag)
		if err != nil {
			return nil, err
		}
		tx["ClearFlag"] = v
	}
	if a.Domain != "" {
		tx["Domain"] = hexUpper([]byte(strings.ToLower(a.Domain)))
	}
	if a.TransferRate != nil {
		if *a.TransferRate != 0 && (*a.TransferRate < 1000000000 || *a.TransferRate > 2000000000) {
			return nil, fmt.Errorf("transfer rate %d out of range", *a.TransferRate)
		}
		tx["TransferRate"] = *a.TransferRate
	}
	if a.TickSize != nil {
		if *a.TickSize != 0 && (*a.TickSize < 3 || *a.TickSize > 15) {
			return nil, fmt.Errorf("tick size %d out of range", *a.TickSize)
		}
		tx["TickSize"] = *a.TickSize
	}
	return tx, nil
}

// NFTokenMint mints an NFToken
type NFTokenMint struct {
	Account     string
	Taxon       uint32
	URI         string
	TransferFee uint16
	Flags       []string
	// Issuer mints on behalf of another account that authorized Account as minter
	Issuer string
	Memo   string
}

// Intent returns the draft transaction
func (n NFTokenMint) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(n.Account); err != nil {
		return nil, err
	}
	if n.TransferFee > MaxTransferFee {
		return nil, fmt.Errorf("transfer fee %d above maximum %d", n.TransferFee, MaxTransferFee)
	}
	if len(n.URI) > maxURILength {
		return nil, fmt.Errorf("URI longer than %d bytes", maxURILength)
	}

	tx := base("NFTokenMint", n.Account, n.Flags, n.Memo)
	tx["NFTokenTaxon"] = n.Taxon
	if n.URI != "" {
		tx["URI"] = hexUpper([]byte(n.URI))
	}
	if n.TransferFee > 0 {
		if !hasFlag(n.Flags, "tfTransferable") {
			return nil, fmt.Errorf("a transfer fee requires the tfTransferable flag")
		}
		tx["TransferFee"] = n.TransferFee
	}
	if n.Issuer != "" {
		if err := checkAddresses(n.Issuer); err != nil {
			return nil, err
		}
		tx["Issuer"] = n.Issuer
	}
	return tx, nil
}

// NFTokenCreateOffer offers an NFToken for sale or bids on one
type NFTokenCreateOffer struct {
	Account     string
	NFTokenID   string
	Amount      ledger.Amount
	Destination string
	// Owner is required for buy offers
	Owner      string
	Sell       bool
	Expiration *uint32
	Memo       string
}

// Intent returns the draft transaction
func (o NFTokenCreateOffer) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(o.Account); err != nil {
		return nil, err
	}
	if _, err := DecodeNFTokenID(o.NFTokenID); err != nil {
		return nil, err
	}
	if o.Amount.Value.IsNegative() {
		return nil, fmt.Errorf("offer amount must not be negative")
	}
	if !o.Sell && o.Amount.Value.IsZero() {
		return nil, fmt.Errorf("buy offers need a positive amount")
	}

	var flags []string
	if o.Sell {
		flags = []string{"tfSellNFToken"}
	}
	tx := base("NFTokenCreateOffer", o.Account, flags, o.Memo)
	tx["NFTokenID"] = strings.ToUpper(o.NFTokenID)
	tx[models.FieldAmount] = amountField(o.Amount)
	if o.Destination != "" {
		if err := checkAddresses(o.Destination); err != nil {
			return nil, err
		}
		tx[models.FieldDestination] = o.Destination
	}
	if !o.Sell {
		if err := checkAddresses(o.Owner); err != nil {
			return nil, fmt.Errorf("buy offer owner: %w", err)
		}
		tx["Owner"] = o.Owner
	}
	if o.Expiration != nil {
		tx["Expiration"] = *o.Expiration
	}
	return tx, nil
}

// NFTokenAcceptOffer accepts a sell offer, a buy offer, or brokers both
type NFTokenAcceptOffer struct {
	Account     string
	SellOfferID string
	BuyOfferID  string
	BrokerFee   *ledger.Amount
	Memo        string
}

// Intent returns the draft transaction
func (a NFTokenAcceptOffer) Intent() (models.TransactionIntent, error) {
	if err := checkAddresses(a.Account); err != nil {
		return nil, err
	}
	if a.SellOfferID == "" && a.BuyOfferID == "" {
		return nil, fmt.Errorf("an offer ID is required")
	}
	if a.BrokerFee != nil && (a.SellOfferID == "" || a.BuyOfferID == "") {
		return nil, fmt.Errorf("a broker fee needs both offers")
	}

	tx := base("NFTokenAcceptOffer", a.Account, nil, a.Memo)
	for field, id := range map[string]string{"NFTokenSellOffer": a.SellOfferID, "NFTokenBuyOffer": a.BuyOfferID} {
		if id == "" {
			continue
		}
		if !isHash(id) {
			return nil, fmt.Errorf("invalid offer ID %q", id)
		}
		tx[field] = strings.ToUpper(id)
	}
	if a.BrokerFee != nil {
		tx["NFTokenBrokerFee"] = amountField(*a.BrokerFee)
	}
	return tx, nil
}

// Issue sends newly issued tokens from the issuer to a holder
func Issue(issuer, holder, currency, value string) (models.TransactionIntent, error) {
	amount, err := ledger.Issued(currency, issuer, value)
	if err != nil {
		return nil, err
	}
	return Payment{Account: issuer, Destination: holder, Amount: amount}.Intent()
}

// Burn returns tokens to their issuer, removing them from circulation
func Burn(holder, issuer, currency, value string) (models.TransactionIntent, error) {
	amount, err := ledger.Issued(currency, issuer, value)
	if err != nil {
		return nil, err
	}
	return Payment{Account: holder, Destination: issuer, Amount: amount}.Intent()
}

// DefaultRipple enables rippling on an issuing account
func DefaultRipple(issuer string) (models.TransactionIntent, error) {
	return AccountSet{Account: issuer, SetFlag: "asfDefaultRipple"}.Intent()
}

func base(txType, account string, flags []string, memo string) models.TransactionIntent {
	tx := models.TransactionIntent{
		models.FieldTransactionType: txType,
		models.FieldAccount:         account,
	}
	if len(flags) > 0 {
		tx[models.FieldFlags] = append([]string(nil), flags...)
	}
	if memo != "" {
		tx["Memos"] = []interface{}{
			map[string]interface{}{
				"Memo": map[string]interface{}{
					"MemoType": hexUpper([]byte("text/plain")),
					"MemoData": hexUpper([]byte(memo)),
				},
			},
		}
	}
	return tx
}

// amountField converts an amount to its transaction JSON form
func amountField(a ledger.Amount) interface{} {
	raw, _ := json.Marshal(a)
	var v interface{}
	_ = json.Unmarshal(raw, &v)
	return v
}

func checkAddresses(addresses ...string) error {
	for _, a := range addresses {
		if !ledger.IsValidAddress(a) {
			return fmt.Errorf("%w: %q", ledger.ErrInvalidAddress, a)
		}
	}
	return nil
}

func hasFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name {
			return true
		}
	}
	return false
}

func isHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := decodeHex(s)
	return err == nil
}

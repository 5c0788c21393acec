package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// NativeCurrency is the currency code of the ledger's native asset.
const NativeCurrency = "XRP"

// DropsPerXRP is the number of drops in one unit of the native asset.
var DropsPerXRP = decimal.NewFromInt(1000000)

// Amount is either a native amount in drops or an issued-currency amount.
type Amount struct {
	Currency string
	Issuer   string
	Value    decimal.Decimal
}

// Drops returns a native amount.
func Drops(drops int64) Amount {
	return Amount{Currency: NativeCurrency, Value: decimal.NewFromInt(drops)}
}

// XRP converts a decimal XRP value such as "12.5" to a native amount in drops.
func XRP(value string) (Amount, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid XRP value %q: %w", value, err)
	}
	drops := v.Mul(DropsPerXRP)
	if !drops.Equal(drops.Truncate(0)) {
		return Amount{}, fmt.Errorf("XRP value %q has more than 6 decimal places", value)
	}
	return Amount{Currency: NativeCurrency, Value: drops}, nil
}

// Issued returns an issued-currency amount. Currency codes longer than three characters are hex encoded.
func Issued(currency, issuer, value string) (Amount, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount value %q: %w", value, err)
	}
	code, err := CurrencyCode(currency)
	if err != nil {
		return Amount{}, err
	}
	if !IsValidAddress(issuer) {
		return Amount{}, fmt.Errorf("invalid issuer address %q", issuer)
	}
	return Amount{Currency: code, Issuer: issuer, Value: v}, nil
}

// CurrencyCode normalizes a currency code: 3 character ISO-style codes are kept,
// 40 character hex codes are upper-cased and longer names are hex encoded and zero padded.
func CurrencyCode(code string) (string, error) {
	switch {
	case code == "":
		return "", fmt.Errorf("empty currency code")
	case len(code) == 3:
		if strings.EqualFold(code, NativeCurrency) {
			return "", fmt.Errorf("currency code %s is reserved for the native asset", code)
		}
		return code, nil
	case len(code) == 40:
		if _, err := hex.DecodeString(code); err == nil {
			return strings.ToUpper(code), nil
		}
	}
	if len(code) > 20 {
		return "", fmt.Errorf("currency code %q is longer than 20 bytes", code)
	}
	padded := make([]byte, 20)
	copy(padded, code)
	return strings.ToUpper(hex.EncodeToString(padded)), nil
}

// IsNative reports whether the amount is in drops.
func (a Amount) IsNative() bool {
	return a.Currency == NativeCurrency || a.Currency == ""
}

// Equal reports exact equality of currency, issuer and value.
func (a Amount) Equal(b Amount) bool {
	if a.IsNative() != b.IsNative() {
		return false
	}
	if !a.IsNative() && (a.Currency != b.Currency || a.Issuer != b.Issuer) {
		return false
	}
	return a.Value.Equal(b.Value)
}

func (a Amount) String() string {
	if a.IsNative() {
		return a.Value.String() + " drops"
	}
	return fmt.Sprintf("%s %s/%s", a.Value.String(), a.Currency, a.Issuer)
}

type issuedAmountJSON struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

// MarshalJSON renders native amounts as a drops string and issued amounts as an object.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsNative() {
		return json.Marshal(a.Value.String())
	}
	return json.Marshal(issuedAmountJSON{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value.String()})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var drops string
		if err := json.Unmarshal(b, &drops); err != nil {
			return err
		}
		v, err := decimal.NewFromString(drops)
		if err != nil {
			return fmt.Errorf("invalid drops amount %q: %w", drops, err)
		}
		*a = Amount{Currency: NativeCurrency, Value: v}
		return nil
	}

	var issued issuedAmountJSON
	if err := json.Unmarshal(b, &issued); err != nil {
		return err
	}
	v, err := decimal.NewFromString(issued.Value)
	if err != nil {
		return fmt.Errorf("invalid issued amount %q: %w", issued.Value, err)
	}
	*a = Amount{Currency: issued.Currency, Issuer: issued.Issuer, Value: v}
	return nil
}

// ParseAmount decodes an amount from a transaction field value as produced by encoding/json.
func ParseAmount(v interface{}) (Amount, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Amount{}, err
	}
	var a Amount
	if err := json.Unmarshal(raw, &a); err != nil {
		return Amount{}, err
	}
	return a, nil
}

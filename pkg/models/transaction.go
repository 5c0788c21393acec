package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// Transaction field names used across packages
const (
	FieldAccount            = "Account"
	FieldTransactionType    = "TransactionType"
	FieldFee                = "Fee"
	FieldSequence           = "Sequence"
	FieldFlags              = "Flags"
	FieldLastLedgerSequence = "LastLedgerSequence"
	FieldNetworkID          = "NetworkID"
	FieldSigningPubKey      = "SigningPubKey"
	FieldTxnSignature       = "TxnSignature"
	FieldDestination        = "Destination"
	FieldAmount             = "Amount"
)

// TransactionIntent is a mapping of ledger transaction fields. It is mutable until
// autofill completes; signers operate on a copy.
type TransactionIntent map[string]interface{}

// Account returns the sending account
func (t TransactionIntent) Account() string {
	s, _ := t[FieldAccount].(string)
	return s
}

// Type returns the transaction type
func (t TransactionIntent) Type() string {
	s, _ := t[FieldTransactionType].(string)
	return s
}

// Has reports whether a field is set
func (t TransactionIntent) Has(field string) bool {
	v, ok := t[field]
	return ok && v != nil
}

// Uint32 returns a numeric field regardless of whether it came from Go code or decoded JSON
func (t TransactionIntent) Uint32(field string) (uint32, bool) {
	switch v := t[field].(type) {
	case uint32:
		return v, true
	case int:
		return fitUint32(int64(v))
	case int64:
		return fitUint32(v)
	case uint64:
		return uint32(v), v <= math.MaxUint32
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return uint32(v), v >= 0 && v <= math.MaxUint32
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return fitUint32(n)
	}
	return 0, false
}

func fitUint32(n int64) (uint32, bool) {
	if n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// Clone returns a deep copy of the intent. Numbers come back as json.Number.
func (t TransactionIntent) Clone() TransactionIntent {
	var out TransactionIntent
	raw, err := json.Marshal(t)
	if err == nil {
		d := json.NewDecoder(bytes.NewReader(raw))
		d.UseNumber()
		err = d.Decode(&out)
	}
	if err != nil {
		out = make(TransactionIntent, len(t))
		for k, v := range t {
			out[k] = v
		}
	}
	return out
}

// SignedTransaction is the product of a signing backend
type SignedTransaction struct {
	TxBlob             string `json:"txBlob"`
	Hash               string `json:"hash"`
	Account            string `json:"account"`
	Sequence           uint32 `json:"sequence"`
	LastLedgerSequence uint32 `json:"lastLedgerSequence"`
}

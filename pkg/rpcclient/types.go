package rpcclient

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
)

type AccountData struct {
	Account    string `json:"Account"`
	Balance    string `json:"Balance"`
	Flags      uint32 `json:"Flags"`
	OwnerCount uint32 `json:"OwnerCount"`
	Sequence   uint32 `json:"Sequence"`
}

type AccountInfoResult struct {
	AccountData        AccountData `json:"account_data"`
	LedgerCurrentIndex uint32      `json:"ledger_current_index"`
	Validated          bool        `json:"validated"`
}

type ValidatedLedgerInfo struct {
	BaseFeeXRP     decimal.Decimal `json:"base_fee_xrp"`
	ReserveBaseXRP decimal.Decimal `json:"reserve_base_xrp"`
	ReserveIncXRP  decimal.Decimal `json:"reserve_inc_xrp"`
	Hash           string          `json:"hash"`
	Seq            uint32          `json:"seq"`
}

type ServerInfo struct {
	BuildVersion    string               `json:"build_version"`
	ServerState     string               `json:"server_state"`
	LoadFactor      decimal.Decimal      `json:"load_factor"`
	NetworkID       uint32               `json:"network_id"`
	ValidatedLedger *ValidatedLedgerInfo `json:"validated_ledger"`
}

type ServerInfoResult struct {
	Info ServerInfo `json:"info"`
}

type LedgerResult struct {
	LedgerHash  string `json:"ledger_hash"`
	LedgerIndex uint32 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
}

type SubmitResult struct {
	EngineResult        string                 `json:"engine_result"`
	EngineResultCode    int                    `json:"engine_result_code"`
	EngineResultMessage string                 `json:"engine_result_message"`
	Accepted            bool                   `json:"accepted"`
	Applied             bool                   `json:"applied"`
	Broadcast           bool                   `json:"broadcast"`
	Queued              bool                   `json:"queued"`
	TxBlob              string                 `json:"tx_blob"`
	TxJSON              map[string]interface{} `json:"tx_json"`
}

// Hash returns the transaction hash echoed by the server, if any
func (r *SubmitResult) Hash() string {
	if h, ok := r.TxJSON["hash"].(string); ok {
		return ledger.NormalizeHash(h)
	}
	return ""
}

// TxMeta is the metadata of an applied transaction
type TxMeta struct {
	TransactionResult string         `json:"TransactionResult"`
	TransactionIndex  uint32         `json:"TransactionIndex"`
	DeliveredAmount   *ledger.Amount `json:"delivered_amount,omitempty"`
	NFTokenID         string         `json:"nftoken_id,omitempty"`
	OfferID           string         `json:"offer_id,omitempty"`
}

// UnmarshalJSON tolerates the "unavailable" delivered_amount marker of old ledgers
func (m *TxMeta) UnmarshalJSON(b []byte) error {
	type plain struct {
		TransactionResult string          `json:"TransactionResult"`
		TransactionIndex  uint32          `json:"TransactionIndex"`
		DeliveredAmount   json.RawMessage `json:"delivered_amount"`
		NFTokenID         string          `json:"nftoken_id"`
		OfferID           string          `json:"offer_id"`
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = TxMeta{
		TransactionResult: p.TransactionResult,
		TransactionIndex:  p.TransactionIndex,
		NFTokenID:         p.NFTokenID,
		OfferID:           p.OfferID,
	}
	if len(p.DeliveredAmount) > 0 && !isNull(p.DeliveredAmount) && string(p.DeliveredAmount) != `"unavailable"` {
		var amount ledger.Amount
		if err := json.Unmarshal(p.DeliveredAmount, &amount); err != nil {
			return err
		}
		m.DeliveredAmount = &amount
	}
	return nil
}

// TxResult is a transaction looked up by hash. Transaction fields are available
// through Fields for both the inline (API v1) and tx_json (API v2) layouts.
type TxResult struct {
	Hash        string
	LedgerIndex uint32
	Validated   bool
	Meta        *TxMeta
	fields      map[string]interface{}
}

func (r *TxResult) UnmarshalJSON(b []byte) error {
	var head struct {
		Hash        string                 `json:"hash"`
		LedgerIndex uint32                 `json:"ledger_index"`
		Validated   bool                   `json:"validated"`
		Meta        json.RawMessage        `json:"meta"`
		TxJSON      map[string]interface{} `json:"tx_json"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return err
	}

	fields := head.TxJSON
	if fields == nil {
		if err := json.Unmarshal(b, &fields); err != nil {
			return err
		}
	}
	*r = TxResult{
		Hash:        ledger.NormalizeHash(head.Hash),
		LedgerIndex: head.LedgerIndex,
		Validated:   head.Validated,
		fields:      fields,
	}
	if len(head.Meta) > 0 && !isNull(head.Meta) && head.Meta[0] == '{' {
		var meta TxMeta
		if err := json.Unmarshal(head.Meta, &meta); err != nil {
			return err
		}
		r.Meta = &meta
	}
	return nil
}

// Fields returns the transaction fields
func (r *TxResult) Fields() map[string]interface{} {
	return r.fields
}

// Result returns the applied engine result or an empty string when unknown
func (r *TxResult) Result() string {
	if r.Meta == nil {
		return ""
	}
	return r.Meta.TransactionResult
}

// AccountTxEntry is one record of account_tx. API v1 nests the transaction under "tx",
// API v2 under "tx_json" with the hash at the top level.
type AccountTxEntry struct {
	Tx          map[string]interface{} `json:"tx,omitempty"`
	TxJSON      map[string]interface{} `json:"tx_json,omitempty"`
	HashV2      string                 `json:"hash,omitempty"`
	LedgerIndex uint32                 `json:"ledger_index,omitempty"`
	Meta        *TxMeta                `json:"meta,omitempty"`
	Validated   bool                   `json:"validated"`
}

// Fields returns the transaction fields regardless of API version
func (e *AccountTxEntry) Fields() map[string]interface{} {
	if e.TxJSON != nil {
		return e.TxJSON
	}
	return e.Tx
}

// Hash returns the transaction hash regardless of API version
func (e *AccountTxEntry) Hash() string {
	if e.HashV2 != "" {
		return ledger.NormalizeHash(e.HashV2)
	}
	if h, ok := e.Tx["hash"].(string); ok {
		return ledger.NormalizeHash(h)
	}
	return ""
}

// Ledger returns the ledger index that included the transaction
func (e *AccountTxEntry) Ledger() uint32 {
	if e.LedgerIndex != 0 {
		return e.LedgerIndex
	}
	if v, ok := e.Tx["ledger_index"].(float64); ok {
		return uint32(v)
	}
	return 0
}

// Result returns the applied engine result
func (e *AccountTxEntry) Result() string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta.TransactionResult
}

type TrustLine struct {
	Account      string `json:"account"`
	Balance      string `json:"balance"`
	Currency     string `json:"currency"`
	Limit        string `json:"limit"`
	LimitPeer    string `json:"limit_peer"`
	NoRipple     bool   `json:"no_ripple"`
	NoRipplePeer bool   `json:"no_ripple_peer"`
	Authorized   bool   `json:"authorized"`
	Freeze       bool   `json:"freeze"`
}

type NFToken struct {
	Flags        uint32 `json:"Flags"`
	Issuer       string `json:"Issuer"`
	NFTokenID    string `json:"NFTokenID"`
	NFTokenTaxon uint32 `json:"NFTokenTaxon"`
	URI          string `json:"URI"`
	Serial       uint32 `json:"nft_serial"`
	TransferFee  uint16 `json:"TransferFee"`
}

type NFTOffer struct {
	Amount      ledger.Amount `json:"amount"`
	Flags       uint32        `json:"flags"`
	OfferIndex  string        `json:"nft_offer_index"`
	Owner       string        `json:"owner"`
	Destination string        `json:"destination,omitempty"`
	Expiration  uint32        `json:"expiration,omitempty"`
}

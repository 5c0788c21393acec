// Package rpctest provides an in-process ledger JSON-RPC server for tests.
package rpctest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
)

// Record is a transaction known to the fake ledger
type Record struct {
	Hash      string
	Fields    map[string]interface{}
	Result    string
	Ledger    uint32
	Validated bool
	Hidden    bool
	Dropped   bool
}

// Ledger is a fake ledger server. Transactions submitted with a provisional result are
// validated on the next CloseLedger call.
type Ledger struct {
	Server *httptest.Server

	// SubmitResult overrides the preliminary engine result, nil means tesSUCCESS
	SubmitResult func(fields map[string]interface{}) string
	// FinalResult overrides the applied result of a provisionally accepted transaction
	FinalResult func(fields map[string]interface{}) string
	// AutoClose closes a ledger on every validated ledger query
	AutoClose bool
	// PageSize limits paginated responses
	PageSize int
	// APIVersion2 switches account_tx records to the tx_json layout
	APIVersion2 bool

	mu          sync.Mutex
	validated   uint32
	networkID   uint32
	loadFactor  string
	baseFeeXRP  string
	accounts    map[string]uint32
	txs         map[string]*Record
	order       []string
	calls       map[string]int
	failMethods map[string]int
}

// NewLedger starts a fake server at the given validated ledger index
func NewLedger(validated uint32) *Ledger {
	l := &Ledger{
		PageSize:    200,
		validated:   validated,
		loadFactor:  "1",
		baseFeeXRP:  "0.00001",
		accounts:    make(map[string]uint32),
		txs:         make(map[string]*Record),
		calls:       make(map[string]int),
		failMethods: make(map[string]int),
	}
	l.Server = httptest.NewServer(http.HandlerFunc(l.handle))
	return l
}

// URL returns the server endpoint
func (l *Ledger) URL() string { return l.Server.URL }

// Close shuts the server down
func (l *Ledger) Close() { l.Server.Close() }

// Fund creates an account with the given next sequence
func (l *Ledger) Fund(account string, sequence uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[account] = sequence
}

// SetFees sets the load factor and base fee reported by server_info
func (l *Ledger) SetFees(loadFactor, baseFeeXRP string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loadFactor = loadFactor
	l.baseFeeXRP = baseFeeXRP
}

// SetNetworkID sets network_id in server_info
func (l *Ledger) SetNetworkID(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.networkID = id
}

// FailMethod makes every call of method return the HTTP status, 0 clears it
func (l *Ledger) FailMethod(method string, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status == 0 {
		delete(l.failMethods, method)
		return
	}
	l.failMethods[method] = status
}

// CloseLedger advances the validated ledger and validates provisional transactions
func (l *Ledger) CloseLedger() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Ledger) closeLocked() uint32 {
	l.validated++
	for _, hash := range l.order {
		rec := l.txs[hash]
		if rec.Validated || rec.Dropped {
			continue
		}
		if lls, ok := uintField(rec.Fields, "LastLedgerSequence"); ok && l.validated > lls {
			rec.Dropped = true
			continue
		}
		rec.Validated = true
		rec.Ledger = l.validated
	}
	return l.validated
}

// Validated returns the current validated ledger index
func (l *Ledger) Validated() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validated
}

// Drop makes a submitted transaction never validate, as if the network discarded it
func (l *Ledger) Drop(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.txs[ledger.NormalizeHash(hash)]; ok {
		rec.Dropped = true
	}
}

// Hide removes a transaction from account_tx history while keeping it visible to tx
func (l *Ledger) Hide(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.txs[ledger.NormalizeHash(hash)]; ok {
		rec.Hidden = true
	}
}

// Unhide restores a hidden transaction
func (l *Ledger) Unhide(hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.txs[ledger.NormalizeHash(hash)]; ok {
		rec.Hidden = false
	}
}

// Submitted returns the submitted transactions in submission order
func (l *Ledger) Submitted() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.order))
	for _, h := range l.order {
		out = append(out, *l.txs[h])
	}
	return out
}

// Calls returns how many times a method was called
func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

type request struct {
	Method string                   `json:"method"`
	Params []map[string]interface{} `json:"params"`
}

func (l *Ledger) handle(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := map[string]interface{}{}
	if len(req.Params) > 0 && req.Params[0] != nil {
		params = req.Params[0]
	}

	l.mu.Lock()
	l.calls[req.Method]++
	if status, ok := l.failMethods[req.Method]; ok {
		l.mu.Unlock()
		http.Error(w, "injected failure", status)
		return
	}
	result := l.dispatch(req.Method, params)
	l.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": result})
}

func rpcError(code, message string) map[string]interface{} {
	return map[string]interface{}{"status": "error", "error": code, "error_message": message}
}

func (l *Ledger) dispatch(method string, params map[string]interface{}) map[string]interface{} {
	switch method {
	case "server_info":
		info := map[string]interface{}{
			"build_version": "2.3.0",
			"server_state":  "full",
			"load_factor":   json.Number(l.loadFactor),
			"validated_ledger": map[string]interface{}{
				"base_fee_xrp": json.Number(l.baseFeeXRP),
				"seq":          l.validated,
			},
		}
		if l.networkID != 0 {
			info["network_id"] = l.networkID
		}
		return map[string]interface{}{"status": "success", "info": info}

	case "ledger":
		if l.AutoClose {
			l.closeLocked()
		}
		return map[string]interface{}{"status": "success", "ledger_index": l.validated, "validated": true}

	case "account_info":
		account, _ := params["account"].(string)
		seq, ok := l.accounts[account]
		if !ok {
			return rpcError("actNotFound", "Account not found.")
		}
		return map[string]interface{}{
			"status":               "success",
			"ledger_current_index": l.validated + 1,
			"account_data":         map[string]interface{}{"Account": account, "Sequence": seq, "Balance": "100000000"},
		}

	case "submit":
		return l.submit(params)

	case "tx":
		hash, _ := params["transaction"].(string)
		rec, ok := l.txs[ledger.NormalizeHash(hash)]
		if !ok || rec.Dropped {
			return rpcError("txnNotFound", "Transaction not found.")
		}
		out := map[string]interface{}{"status": "success", "hash": rec.Hash, "validated": rec.Validated}
		for k, v := range rec.Fields {
			out[k] = v
		}
		if rec.Validated {
			out["ledger_index"] = rec.Ledger
			out["meta"] = l.meta(rec)
		}
		return out

	case "account_tx":
		return l.accountTx(params)
	}
	return rpcError("unknownCmd", "Unknown method.")
}

func (l *Ledger) submit(params map[string]interface{}) map[string]interface{} {
	blob, _ := params["tx_blob"].(string)
	fields, err := DecodeBlob(blob)
	if err != nil {
		return rpcError("invalidTransaction", err.Error())
	}
	hash, err := ledger.TransactionHash(blob)
	if err != nil {
		return rpcError("invalidTransaction", err.Error())
	}

	account, _ := fields["Account"].(string)
	seq, _ := uintField(fields, "Sequence")
	expected, funded := l.accounts[account]

	result := ledger.ResultSuccess
	switch {
	case !funded:
		result = "terNO_ACCOUNT"
	case seq < expected:
		result = "tefPAST_SEQ"
	case seq > expected:
		result = "terPRE_SEQ"
	case l.SubmitResult != nil:
		result = l.SubmitResult(fields)
	}

	out := map[string]interface{}{
		"status":                "success",
		"engine_result":         result,
		"engine_result_message": result,
		"tx_blob":               blob,
		"tx_json":               withHash(fields, hash),
	}

	if _, exists := l.txs[hash]; exists {
		return out
	}
	class := ledger.ClassifyResult(result)
	if class == ledger.ClassSuccess || class == ledger.ClassClaimed || result == ledger.ResultQueued {
		final := result
		if class == ledger.ClassSuccess || result == ledger.ResultQueued {
			final = ledger.ResultSuccess
			if l.FinalResult != nil {
				final = l.FinalResult(fields)
			}
		}
		l.accounts[account] = expected + 1
		l.txs[hash] = &Record{Hash: hash, Fields: fields, Result: final}
		l.order = append(l.order, hash)
	}
	return out
}

func (l *Ledger) meta(rec *Record) map[string]interface{} {
	meta := map[string]interface{}{"TransactionResult": rec.Result, "TransactionIndex": 0}
	if rec.Result != ledger.ResultSuccess {
		return meta
	}
	switch rec.Fields["TransactionType"] {
	case "Payment":
		meta["delivered_amount"] = rec.Fields["Amount"]
	case "NFTokenMint":
		meta["nftoken_id"] = FakeNFTokenID(rec.Hash)
	case "NFTokenCreateOffer":
		meta["offer_id"] = strings.Repeat("0", 32) + rec.Hash[:32]
	}
	return meta
}

func (l *Ledger) accountTx(params map[string]interface{}) map[string]interface{} {
	account, _ := params["account"].(string)
	minLedger, _ := params["ledger_index_min"].(float64)
	maxLedger, _ := params["ledger_index_max"].(float64)

	var matches []*Record
	for _, h := range l.order {
		rec := l.txs[h]
		if !rec.Validated || rec.Hidden {
			continue
		}
		if rec.Fields["Account"] != account && rec.Fields["Destination"] != account {
			continue
		}
		if minLedger >= 0 && float64(rec.Ledger) < minLedger {
			continue
		}
		if maxLedger >= 0 && float64(rec.Ledger) > maxLedger {
			continue
		}
		matches = append(matches, rec)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Ledger < matches[j].Ledger })

	offset := 0
	if m, ok := params["marker"].(string); ok {
		offset, _ = strconv.Atoi(m)
	}
	end := offset + l.PageSize
	if end > len(matches) {
		end = len(matches)
	}

	entries := make([]map[string]interface{}, 0, end-offset)
	for _, rec := range matches[offset:end] {
		if l.APIVersion2 {
			entries = append(entries, map[string]interface{}{
				"hash":         rec.Hash,
				"ledger_index": rec.Ledger,
				"tx_json":      rec.Fields,
				"meta":         l.meta(rec),
				"validated":    true,
			})
			continue
		}
		tx := withHash(rec.Fields, rec.Hash)
		tx["ledger_index"] = rec.Ledger
		entries = append(entries, map[string]interface{}{"tx": tx, "meta": l.meta(rec), "validated": true})
	}

	out := map[string]interface{}{
		"status":       "success",
		"account":      account,
		"transactions": entries,
	}
	if end < len(matches) {
		out["marker"] = strconv.Itoa(end)
	}
	return out
}

func withHash(fields map[string]interface{}, hash string) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["hash"] = hash
	return out
}

func uintField(fields map[string]interface{}, key string) (uint32, bool) {
	switch v := fields[key].(type) {
	case float64:
		return uint32(v), true
	case json.Number:
		n, err := v.Int64()
		return uint32(n), err == nil
	}
	return 0, false
}

// FakeNFTokenID derives a deterministic NFTokenID from a transaction hash
func FakeNFTokenID(hash string) string {
	return "00080000" + strings.Repeat("0", 24) + hash[:32]
}

// JSONCodec is a test codec that serializes transactions as hex encoded JSON
type JSONCodec struct{}

// Encode returns the hex encoded JSON of the transaction
func (JSONCodec) Encode(_ context.Context, tx map[string]interface{}) (string, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// EncodeForSigning returns the signing prefix followed by the JSON of the transaction
func (JSONCodec) EncodeForSigning(_ context.Context, tx map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	return append([]byte{0x53, 0x54, 0x58, 0x00}, b...), nil
}

// DecodeBlob reverses JSONCodec.Encode
func DecodeBlob(blob string) (map[string]interface{}, error) {
	b, err := hex.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("invalid blob: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("invalid blob: %w", err)
	}
	return fields, nil
}

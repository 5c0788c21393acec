package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
	"github.com/speedrun-hq/tokenrunner/pkg/rpcclient/rpctest"
)

const (
	genesisSeed      = "snoPBrXtMeMyMHUVTgbuqAfg1SUTb"
	genesisPublicKey = "0330E7FC9D56BB25D6893BA3F317AE5BCF33B3291BD63DB32654A313222F7FD020"
	genesisAddress   = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
)

func testEntropy() []byte {
	entropy := make([]byte, ledger.SeedLength)
	for i := range entropy {
		entropy[i] = byte(i + 1)
	}
	return entropy
}

func edKeys(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := KeyPairFromEntropy(testEntropy(), ledger.Ed25519)
	require.NoError(t, err)
	return kp
}

func autofilled() models.TransactionIntent {
	return models.TransactionIntent{
		"TransactionType":    "Payment",
		"Account":            genesisAddress,
		"Destination":        "rrrrrrrrrrrrrrrrrrrrBZbvji",
		"Amount":             "1000000",
		"Fee":                "12",
		"Flags":              uint32(0),
		"Sequence":           uint32(7),
		"LastLedgerSequence": uint32(120),
	}
}

func TestDeriveKeyPairFamilySeed(t *testing.T) {
	kp, err := DeriveKeyPair(genesisSeed)
	require.NoError(t, err)

	assert.Equal(t, ledger.Secp256k1, kp.KeyType())
	assert.Equal(t, genesisPublicKey, strings.ToUpper(hexString(kp.PublicKey())))
	assert.Equal(t, genesisAddress, kp.Address())
}

func TestDeriveKeyPairEd25519Seed(t *testing.T) {
	kp := edKeys(t)
	seed, err := ledger.EncodeSeed(testEntropy(), ledger.Ed25519)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(seed, "sEd"))

	derived, err := DeriveKeyPair(seed)
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), derived.Address())
	assert.Equal(t, byte(0xED), derived.PublicKey()[0])
	assert.Len(t, derived.PublicKey(), 33)
}

func TestDeriveKeyPairInvalidSeed(t *testing.T) {
	_, err := DeriveKeyPair("not-a-seed")
	assert.ErrorIs(t, err, ledger.ErrInvalidSeed)
}

func TestSignAndVerify(t *testing.T) {
	secp, err := DeriveKeyPair(genesisSeed)
	require.NoError(t, err)

	message := append([]byte{0x53, 0x54, 0x58, 0x00}, []byte("payload")...)
	for _, kp := range []*KeyPair{secp, edKeys(t)} {
		t.Run(string(kp.KeyType()), func(t *testing.T) {
			sig, err := kp.Sign(message)
			require.NoError(t, err)
			assert.True(t, Verify(kp.PublicKey(), message, sig))

			again, err := kp.Sign(message)
			require.NoError(t, err)
			assert.Equal(t, sig, again, "signatures are deterministic")

			tampered := append([]byte{}, message...)
			tampered[len(tampered)-1] ^= 0x01
			assert.False(t, Verify(kp.PublicKey(), tampered, sig))
		})
	}
}

func TestPrivateKeyImport(t *testing.T) {
	secp, err := DeriveKeyPair(genesisSeed)
	require.NoError(t, err)

	for _, kp := range []*KeyPair{secp, edKeys(t)} {
		imported, err := KeyPairFromPrivateKey(kp.PrivateKeyHex())
		require.NoError(t, err)
		assert.Equal(t, kp.Address(), imported.Address())
		assert.Equal(t, kp.PublicKey(), imported.PublicKey())
	}

	_, err = KeyPairFromPrivateKey("zz")
	assert.Error(t, err)
}

func TestVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")

	vault, err := SealSeed(genesisSeed, "hunter2", "1234")
	require.NoError(t, err)
	assert.True(t, vault.Encrypted())
	assert.NotContains(t, vault.Ciphertext, genesisSeed)
	require.NoError(t, vault.Save(path))

	loaded, err := LoadVault(path)
	require.NoError(t, err)
	assert.Equal(t, genesisAddress, loaded.Address)

	seed, err := loaded.Open("hunter2", "1234")
	require.NoError(t, err)
	assert.Equal(t, genesisSeed, seed)

	_, err = loaded.Open("hunter2", "0000")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = SealSeed(genesisSeed, "", "")
	assert.Error(t, err)

	plain, err := PlainVault(genesisSeed)
	require.NoError(t, err)
	assert.False(t, plain.Encrypted())
	seed, err = plain.Open("", "")
	require.NoError(t, err)
	assert.Equal(t, genesisSeed, seed)
}

// signedFields decodes a JSONCodec blob and checks its signature
func signedFields(t *testing.T, blob string) map[string]interface{} {
	t.Helper()
	fields, err := rpctest.DecodeBlob(blob)
	require.NoError(t, err)

	pub, err := decodeHex(fields[models.FieldSigningPubKey].(string))
	require.NoError(t, err)
	sig, err := decodeHex(fields[models.FieldTxnSignature].(string))
	require.NoError(t, err)

	unsigned := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k != models.FieldTxnSignature {
			unsigned[k] = v
		}
	}
	encoded, err := rpctest.JSONCodec{}.EncodeForSigning(context.Background(), unsigned)
	require.NoError(t, err)
	assert.True(t, Verify(pub, encoded, sig), "signature does not verify")
	return fields
}

func TestLocalSeedSign(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	vault, err := SealSeed(genesisSeed, "pw", "")
	require.NoError(t, err)
	require.NoError(t, vault.Save(path))

	s, err := OpenLocalSeed(path, "pw", "", rpctest.JSONCodec{}, &logger.EmptyLogger{})
	require.NoError(t, err)
	assert.Equal(t, BackendSeed, s.Backend())
	assert.Equal(t, genesisAddress, s.Address())

	tx := autofilled()
	signed, err := s.Sign(context.Background(), tx)
	require.NoError(t, err)

	hash, err := ledger.TransactionHash(signed.TxBlob)
	require.NoError(t, err)
	assert.Equal(t, hash, signed.Hash)
	assert.Equal(t, genesisAddress, signed.Account)
	assert.Equal(t, uint32(7), signed.Sequence)
	assert.Equal(t, uint32(120), signed.LastLedgerSequence)

	fields := signedFields(t, signed.TxBlob)
	assert.Equal(t, genesisPublicKey, fields[models.FieldSigningPubKey])
	assert.NotContains(t, tx, models.FieldTxnSignature, "input is not modified")

	_, err = OpenLocalSeed(path, "wrong", "", rpctest.JSONCodec{}, &logger.EmptyLogger{})
	assert.ErrorIs(t, err, ErrWrongPassword)
}

// brokenCodec drops the signing prefix
type brokenCodec struct{ rpctest.JSONCodec }

func (brokenCodec) EncodeForSigning(_ context.Context, tx map[string]interface{}) ([]byte, error) {
	return json.Marshal(tx)
}

func TestLocalSeedRejectsCodecWithoutPrefix(t *testing.T) {
	kp, err := DeriveKeyPair(genesisSeed)
	require.NoError(t, err)
	s := NewLocalSeed(kp, brokenCodec{}, &logger.EmptyLogger{})

	_, err = s.Sign(context.Background(), autofilled())
	var signErr *Error
	require.True(t, errors.As(err, &signErr))
	assert.Equal(t, BackendSeed, signErr.Backend)
}

// keyDevice is a device backed by an in-memory key
type keyDevice struct {
	keys    *KeyPair
	decline bool
	corrupt bool
}

func (d *keyDevice) PublicKey(context.Context) ([]byte, error) { return d.keys.PublicKey(), nil }

func (d *keyDevice) Sign(_ context.Context, encoded []byte) ([]byte, error) {
	if d.decline {
		return nil, ErrDeclined
	}
	sig, err := d.keys.Sign(encoded)
	if d.corrupt {
		sig[len(sig)-1] ^= 0x01
	}
	return sig, err
}

func TestHardwareDevice(t *testing.T) {
	ctx := context.Background()
	device := &keyDevice{keys: edKeys(t)}
	h, err := NewHardwareDevice(ctx, device, rpctest.JSONCodec{}, &logger.EmptyLogger{})
	require.NoError(t, err)
	assert.Equal(t, device.keys.Address(), h.Address())

	tx := autofilled()
	tx["Account"] = h.Address()
	signed, err := h.Sign(ctx, tx)
	require.NoError(t, err)
	signedFields(t, signed.TxBlob)

	device.decline = true
	_, err = h.Sign(ctx, tx)
	assert.ErrorIs(t, err, ErrDeclined)

	device.decline = false
	device.corrupt = true
	_, err = h.Sign(ctx, tx)
	var signErr *Error
	require.True(t, errors.As(err, &signErr))
	assert.NotErrorIs(t, err, ErrDeclined)
}

func TestHardwareDeviceRejectsBadPublicKey(t *testing.T) {
	_, err := NewHardwareDevice(context.Background(), badKeyDevice{}, rpctest.JSONCodec{}, &logger.EmptyLogger{})
	assert.Error(t, err)
}

type badKeyDevice struct{}

func (badKeyDevice) PublicKey(context.Context) ([]byte, error) { return []byte{0x02, 0x01}, nil }
func (badKeyDevice) Sign(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("unreachable")
}

func TestBridgeDevice(t *testing.T) {
	kp, err := DeriveKeyPair(genesisSeed)
	require.NoError(t, err)
	var reject atomic.Bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/public-key":
			_ = json.NewEncoder(w).Encode(map[string]string{"publicKey": hexString(kp.PublicKey())})
		case "/sign":
			if reject.Load() {
				http.Error(w, `{"error":"rejected"}`, http.StatusForbidden)
				return
			}
			var req struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			msg, _ := decodeHex(req.Message)
			sig, _ := kp.Sign(msg)
			_ = json.NewEncoder(w).Encode(map[string]string{"signature": hexString(sig)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	h, err := NewHardwareDevice(ctx, NewBridgeDevice(srv.URL), rpctest.JSONCodec{}, &logger.EmptyLogger{})
	require.NoError(t, err)
	assert.Equal(t, genesisAddress, h.Address())

	signed, err := h.Sign(ctx, autofilled())
	require.NoError(t, err)
	signedFields(t, signed.TxBlob)

	reject.Store(true)
	_, err = h.Sign(ctx, autofilled())
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestHTTPCodec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req codecRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch r.URL.Path {
		case "/encode":
			_ = json.NewEncoder(w).Encode(codecResponse{Hex: "1200002280000000"})
		case "/encode-for-signing":
			_ = json.NewEncoder(w).Encode(codecResponse{Hex: "535458001200"})
		}
	}))
	defer srv.Close()

	codec := NewHTTPCodec(srv.URL + "/")
	ctx := context.Background()

	blob, err := codec.Encode(ctx, map[string]interface{}{"TransactionType": "Payment"})
	require.NoError(t, err)
	assert.Equal(t, "1200002280000000", blob)

	encoded, err := codec.EncodeForSigning(ctx, map[string]interface{}{"TransactionType": "Payment"})
	require.NoError(t, err)
	assert.True(t, ledger.HasSigningPrefix(encoded))

	_, err = NewHTTPCodec("http://127.0.0.1:1").Encode(ctx, map[string]interface{}{})
	assert.Error(t, err)
}

// walletAPI fakes the push wallet payload API
type walletAPI struct {
	mu        sync.Mutex
	polls     int
	signAfter int
	outcome   string // signed, rejected, expired
	blob      string
	account   string
	created   map[string]interface{}
	headers   http.Header
}

func (a *walletAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.headers = r.Header.Clone()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/platform/payload":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&a.created))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"uuid":   "0f3ed1b8-9c59-4b4e-8b4a-1d1f3a6e7c01",
				"next":   map[string]string{"always": "https://wallet.example/sign/0f3ed1b8"},
				"refs":   map[string]string{"qr_png": "https://wallet.example/qr.png"},
				"pushed": true,
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/platform/payload/"):
			a.polls++
			if a.polls == 1 {
				http.Error(w, "temporarily unavailable", http.StatusBadGateway)
				return
			}
			meta := map[string]bool{"exists": true}
			response := map[string]string{}
			if a.polls > a.signAfter {
				switch a.outcome {
				case "signed":
					hash, _ := ledger.TransactionHash(a.blob)
					meta["resolved"], meta["signed"] = true, true
					response = map[string]string{"hex": a.blob, "txid": strings.ToLower(hash), "account": a.account}
				case "rejected":
					meta["resolved"] = true
				case "expired":
					meta["expired"] = true
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"meta": meta, "response": response})
		default:
			http.NotFound(w, r)
		}
	})
}

func (a *walletAPI) stats() (int, http.Header, map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls, a.headers, a.created
}

type recordingPresenter struct {
	requests []SignRequest
}

func (p *recordingPresenter) Present(_ context.Context, req SignRequest) {
	p.requests = append(p.requests, req)
}

func newMobile(url string, presenter Presenter, sleeps *int) *MobileWallet {
	return NewMobileWallet(MobileOptions{
		APIURL:    url,
		APIKey:    "key",
		APISecret: "secret",
		UserToken: "token",
		Account:   genesisAddress,
		Presenter: presenter,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			*sleeps++
			return ctx.Err()
		},
	}, &logger.EmptyLogger{})
}

func TestMobileWalletSigned(t *testing.T) {
	blob, err := rpctest.JSONCodec{}.Encode(context.Background(), autofilled())
	require.NoError(t, err)

	api := &walletAPI{signAfter: 3, outcome: "signed", blob: blob, account: genesisAddress}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	presenter := &recordingPresenter{}
	sleeps := 0
	m := newMobile(srv.URL, presenter, &sleeps)
	assert.Equal(t, genesisAddress, m.Address())

	signed, err := m.Sign(context.Background(), autofilled())
	require.NoError(t, err)

	polls, headers, created := api.stats()
	hash, _ := ledger.TransactionHash(blob)
	assert.Equal(t, hash, signed.Hash)
	assert.Equal(t, uint32(7), signed.Sequence)
	assert.Equal(t, 4, polls)
	assert.Equal(t, 3, sleeps)

	require.Len(t, presenter.requests, 1)
	assert.True(t, presenter.requests[0].Pushed)
	assert.Equal(t, "https://wallet.example/sign/0f3ed1b8", presenter.requests[0].DeepLink)

	assert.Equal(t, "key", headers.Get("X-API-Key"))
	assert.Equal(t, "token", created["user_token"])
	assert.Equal(t, false, created["options"].(map[string]interface{})["submit"])
}

func TestMobileWalletDeclined(t *testing.T) {
	for _, outcome := range []string{"rejected", "expired"} {
		t.Run(outcome, func(t *testing.T) {
			api := &walletAPI{signAfter: 1, outcome: outcome}
			srv := httptest.NewServer(api.handler(t))
			defer srv.Close()

			sleeps := 0
			_, err := newMobile(srv.URL, &recordingPresenter{}, &sleeps).Sign(context.Background(), autofilled())
			assert.ErrorIs(t, err, ErrDeclined)
		})
	}
}

func TestMobileWalletWrongAccount(t *testing.T) {
	blob, err := rpctest.JSONCodec{}.Encode(context.Background(), autofilled())
	require.NoError(t, err)

	api := &walletAPI{signAfter: 1, outcome: "signed", blob: blob, account: "rrrrrrrrrrrrrrrrrrrrBZbvji"}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	sleeps := 0
	_, err = newMobile(srv.URL, &recordingPresenter{}, &sleeps).Sign(context.Background(), autofilled())
	var signErr *Error
	require.True(t, errors.As(err, &signErr))
	assert.Equal(t, BackendMobile, signErr.Backend)
}

func TestMobileWalletCancelledContext(t *testing.T) {
	api := &walletAPI{signAfter: 1000, outcome: "signed"}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := NewMobileWallet(MobileOptions{
		APIURL:    srv.URL,
		Presenter: &recordingPresenter{},
		Sleep: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	}, &logger.EmptyLogger{})

	_, err := m.Sign(ctx, autofilled())
	assert.ErrorIs(t, err, context.Canceled)
}

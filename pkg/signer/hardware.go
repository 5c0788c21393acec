package signer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

// Device is a hardware wallet driver. Sign may block until the user confirms on the device
// and returns ErrDeclined when they reject.
type Device interface {
	PublicKey(ctx context.Context) ([]byte, error)
	Sign(ctx context.Context, encoded []byte) ([]byte, error)
}

// HardwareDevice signs through an attached device
type HardwareDevice struct {
	device    Device
	codec     Codec
	logger    logger.Logger
	publicKey []byte
}

// NewHardwareDevice reads the public key from the device
func NewHardwareDevice(ctx context.Context, device Device, codec Codec, log logger.Logger) (*HardwareDevice, error) {
	pub, err := device.PublicKey(ctx)
	if err != nil {
		return nil, &Error{Backend: BackendHardware, Err: fmt.Errorf("read public key: %w", err)}
	}
	if err := checkPublicKey(pub); err != nil {
		return nil, &Error{Backend: BackendHardware, Err: err}
	}
	log.Info("Hardware device ready for %s", ledger.AddressFromPublicKey(pub))
	return &HardwareDevice{
		device:    device,
		codec:     codec,
		logger:    log,
		publicKey: pub,
	}, nil
}

func checkPublicKey(pub []byte) error {
	if len(pub) != 33 {
		return fmt.Errorf("public key must be 33 bytes, got %d", len(pub))
	}
	if pub[0] == ed25519KeyPrefix {
		return nil
	}
	if _, err := ethcrypto.DecompressPubkey(pub); err != nil {
		return fmt.Errorf("invalid secp256k1 public key: %w", err)
	}
	return nil
}

// Backend returns the backend name
func (h *HardwareDevice) Backend() string { return BackendHardware }

// Address returns the account of the device key
func (h *HardwareDevice) Address() string { return ledger.AddressFromPublicKey(h.publicKey) }

// Sign asks the device to sign tx
func (h *HardwareDevice) Sign(ctx context.Context, tx models.TransactionIntent) (*models.SignedTransaction, error) {
	h.logger.Info("Confirm %s sequence %v on the hardware device", tx.Type(), tx[models.FieldSequence])
	signed, err := assemble(ctx, h.codec, tx, h.publicKey, func(ctx context.Context, encoded []byte) ([]byte, error) {
		sig, err := h.device.Sign(ctx, encoded)
		if err != nil {
			return nil, err
		}
		if !Verify(h.publicKey, encoded, sig) {
			return nil, fmt.Errorf("device returned an invalid signature")
		}
		return sig, nil
	})
	if errors.Is(err, ErrDeclined) {
		return nil, ErrDeclined
	}
	if err != nil {
		return nil, &Error{Backend: BackendHardware, Err: err}
	}
	return signed, nil
}

// BridgeDevice talks to a device through a local HTTP bridge.
//
//	GET  {url}/public-key                 -> {"publicKey": "02..."}
//	POST {url}/sign {"message": "5354..."} -> {"signature": "3045..."}
//
// The bridge answers 403 when the user rejects the request on the device.
type BridgeDevice struct {
	url        string
	httpClient *http.Client
}

// NewBridgeDevice creates a device client. Signing waits for the user, so the timeout is long.
func NewBridgeDevice(url string) *BridgeDevice {
	return &BridgeDevice{
		url:        strings.TrimRight(url, "/"),
		httpClient: createHTTPClient(5 * time.Minute),
	}
}

// PublicKey returns the device public key
func (b *BridgeDevice) PublicKey(ctx context.Context) ([]byte, error) {
	var resp struct {
		PublicKey string `json:"publicKey"`
	}
	if err := doJSON(ctx, b.httpClient, http.MethodGet, b.url+"/public-key", nil, nil, &resp); err != nil {
		return nil, err
	}
	return decodeHex(resp.PublicKey)
}

// Sign sends the encoded transaction to the device
func (b *BridgeDevice) Sign(ctx context.Context, encoded []byte) ([]byte, error) {
	var resp struct {
		Signature string `json:"signature"`
	}
	req := map[string]string{"message": strings.ToUpper(hexString(encoded))}
	err := doJSON(ctx, b.httpClient, http.MethodPost, b.url+"/sign", nil, req, &resp)

	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusForbidden {
		return nil, ErrDeclined
	}
	if err != nil {
		return nil, err
	}
	return decodeHex(resp.Signature)
}

package signer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/clock"
	"github.com/speedrun-hq/tokenrunner/pkg/ledger"
	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/models"
)

const (
	defaultMobilePollInterval = 3 * time.Second
	// minutes before the wallet API expires an unsigned request
	defaultMobileExpiry = 10
)

// SignRequest is what a person needs to approve a transaction on their phone
type SignRequest struct {
	UUID         string
	DeepLink     string
	QRImageURL   string
	WebsocketURL string
	// Pushed is true when a notification was delivered to a known device
	Pushed bool
}

// Presenter shows a pending sign request to the operator, for example as a QR code
type Presenter interface {
	Present(ctx context.Context, req SignRequest)
}

// LogPresenter prints the deep link through the logger
type LogPresenter struct {
	Logger logger.Logger
}

// Present logs the request
func (p LogPresenter) Present(_ context.Context, req SignRequest) {
	if req.Pushed {
		p.Logger.Notice("Sign request %s pushed to your device, or open %s", req.UUID, req.DeepLink)
		return
	}
	p.Logger.Notice("Open %s or scan %s to sign request %s", req.DeepLink, req.QRImageURL, req.UUID)
}

// MobileOptions configures a MobileWallet
type MobileOptions struct {
	APIURL    string
	APIKey    string
	APISecret string
	// UserToken enables push notifications to a previously paired device
	UserToken string
	// Account the wallet signs for
	Account      string
	PollInterval time.Duration
	Presenter    Presenter
	// Sleep waits between status polls, defaults to a context aware timer
	Sleep clock.Sleeper
}

// MobileWallet creates a remote signing request, pushes it to the user's wallet app and
// polls until the request is signed or rejected. An unsigned request that expires is
// reported as declined.
type MobileWallet struct {
	opts       MobileOptions
	httpClient *http.Client
	logger     logger.Logger
}

// NewMobileWallet creates a mobile push wallet signer
func NewMobileWallet(opts MobileOptions, log logger.Logger) *MobileWallet {
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultMobilePollInterval
	}
	if opts.Presenter == nil {
		opts.Presenter = LogPresenter{Logger: log}
	}
	if opts.Sleep == nil {
		opts.Sleep = clock.Sleep
	}
	return &MobileWallet{
		opts:       opts,
		httpClient: createHTTPClient(15 * time.Second),
		logger:     log,
	}
}

// Backend returns the backend name
func (m *MobileWallet) Backend() string { return BackendMobile }

// Address returns the configured account
func (m *MobileWallet) Address() string { return m.opts.Account }

type payloadOptions struct {
	Submit bool `json:"submit"`
	Expire int  `json:"expire"`
}

type payloadCreate struct {
	TxJSON    models.TransactionIntent `json:"txjson"`
	UserToken string                   `json:"user_token,omitempty"`
	Options   payloadOptions           `json:"options"`
}

type payloadCreated struct {
	UUID string `json:"uuid"`
	Next struct {
		Always string `json:"always"`
	} `json:"next"`
	Refs struct {
		QRPNG           string `json:"qr_png"`
		WebsocketStatus string `json:"websocket_status"`
	} `json:"refs"`
	Pushed bool `json:"pushed"`
}

type payloadStatus struct {
	Meta struct {
		Exists    bool `json:"exists"`
		Resolved  bool `json:"resolved"`
		Signed    bool `json:"signed"`
		Cancelled bool `json:"cancelled"`
		Expired   bool `json:"expired"`
	} `json:"meta"`
	Response struct {
		Hex     string `json:"hex"`
		TxID    string `json:"txid"`
		Account string `json:"account"`
	} `json:"response"`
}

func (m *MobileWallet) headers() map[string]string {
	return map[string]string{
		"X-API-Key":    m.opts.APIKey,
		"X-API-Secret": m.opts.APISecret,
	}
}

// Sign creates a sign request for tx and waits until it is resolved
func (m *MobileWallet) Sign(ctx context.Context, tx models.TransactionIntent) (*models.SignedTransaction, error) {
	var created payloadCreated
	body := payloadCreate{
		TxJSON:    tx,
		UserToken: m.opts.UserToken,
		Options:   payloadOptions{Submit: false, Expire: defaultMobileExpiry},
	}
	if err := doJSON(ctx, m.httpClient, http.MethodPost, m.opts.APIURL+"/platform/payload", m.headers(), body, &created); err != nil {
		return nil, &Error{Backend: BackendMobile, Err: fmt.Errorf("create sign request: %w", err)}
	}
	if created.UUID == "" {
		return nil, &Error{Backend: BackendMobile, Err: fmt.Errorf("create sign request: no uuid in response")}
	}

	m.opts.Presenter.Present(ctx, SignRequest{
		UUID:         created.UUID,
		DeepLink:     created.Next.Always,
		QRImageURL:   created.Refs.QRPNG,
		WebsocketURL: created.Refs.WebsocketStatus,
		Pushed:       created.Pushed,
	})

	statusURL := m.opts.APIURL + "/platform/payload/" + created.UUID
	for {
		var status payloadStatus
		err := doJSON(ctx, m.httpClient, http.MethodGet, statusURL, m.headers(), nil, &status)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			m.logger.Debug("Polling sign request %s failed: %v", created.UUID, err)
		case status.Meta.Signed:
			return m.signed(tx, status)
		case status.Meta.Resolved, status.Meta.Cancelled, status.Meta.Expired:
			m.logger.Notice("Sign request %s was not signed", created.UUID)
			return nil, ErrDeclined
		}

		if err := m.opts.Sleep(ctx, m.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

func (m *MobileWallet) signed(tx models.TransactionIntent, status payloadStatus) (*models.SignedTransaction, error) {
	if status.Response.Account != "" && tx.Account() != "" && status.Response.Account != tx.Account() {
		return nil, &Error{Backend: BackendMobile, Err: fmt.Errorf("request signed by %s, expected %s", status.Response.Account, tx.Account())}
	}
	signed, err := newSigned(tx, status.Response.Hex)
	if err != nil {
		return nil, &Error{Backend: BackendMobile, Err: err}
	}
	if status.Response.TxID != "" && ledger.NormalizeHash(status.Response.TxID) != signed.Hash {
		return nil, &Error{Backend: BackendMobile, Err: fmt.Errorf("wallet reported hash %s, blob hashes to %s", status.Response.TxID, signed.Hash)}
	}
	return signed, nil
}

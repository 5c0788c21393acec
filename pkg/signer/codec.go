package signer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPCodec delegates binary serialization to a codec sidecar service.
//
//	POST {url}/encode              {"tx": {...}}  -> {"hex": "..."}
//	POST {url}/encode-for-signing  {"tx": {...}}  -> {"hex": "53545800..."}
type HTTPCodec struct {
	url        string
	httpClient *http.Client
}

// NewHTTPCodec creates a codec client for the sidecar at url
func NewHTTPCodec(url string) *HTTPCodec {
	return &HTTPCodec{
		url:        strings.TrimRight(url, "/"),
		httpClient: createHTTPClient(10 * time.Second),
	}
}

type codecRequest struct {
	Tx map[string]interface{} `json:"tx"`
}

type codecResponse struct {
	Hex string `json:"hex"`
}

// Encode returns the hex blob of a transaction
func (c *HTTPCodec) Encode(ctx context.Context, tx map[string]interface{}) (string, error) {
	var resp codecResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.url+"/encode", nil, codecRequest{Tx: tx}, &resp); err != nil {
		return "", fmt.Errorf("codec encode: %w", err)
	}
	if _, err := decodeHex(resp.Hex); err != nil || resp.Hex == "" {
		return "", fmt.Errorf("codec encode: invalid hex in response")
	}
	return strings.ToUpper(resp.Hex), nil
}

// EncodeForSigning returns the signing prefix followed by the serialized fields
func (c *HTTPCodec) EncodeForSigning(ctx context.Context, tx map[string]interface{}) ([]byte, error) {
	var resp codecResponse
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.url+"/encode-for-signing", nil, codecRequest{Tx: tx}, &resp); err != nil {
		return nil, fmt.Errorf("codec encode for signing: %w", err)
	}
	b, err := decodeHex(resp.Hex)
	if err != nil {
		return nil, fmt.Errorf("codec encode for signing: invalid hex in response: %w", err)
	}
	return b, nil
}

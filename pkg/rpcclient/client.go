// Package rpcclient provides a client for the ledger's JSON-RPC interface.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/speedrun-hq/tokenrunner/pkg/logger"
	"github.com/speedrun-hq/tokenrunner/pkg/metrics"
)

// Request is the ledger JSON-RPC request envelope
type Request struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// Response is the ledger JSON-RPC response envelope
type Response struct {
	Result json.RawMessage `json:"result"`
}

type resultStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error"`
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Client represents a ledger JSON-RPC client. It never retries, retry policy belongs to callers.
type Client struct {
	httpClient *http.Client
	rpcURL     string
	logger     logger.Logger
	limiter    *Limiter
}

// NewClient creates a new ledger RPC client
func NewClient(rpcURL string, log logger.Logger) *Client {
	return &Client{
		httpClient: createHTTPClient(),
		rpcURL:     rpcURL,
		logger:     log,
	}
}

func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// SetRateLimiter sets the RPC rate limiter for this client.
func (c *Client) SetRateLimiter(l *Limiter) {
	c.limiter = l
}

// URL returns the server endpoint
func (c *Client) URL() string {
	return c.rpcURL
}

// Call sends one request and returns the raw result object.
// HTTP 200 with a well formed body is success, HTTP 404 maps to NotFoundError,
// other statuses to ServerError and network failures to TransportError.
// A result with status "error" maps to ApplicationError.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (result json.RawMessage, err error) {
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		metrics.RPCCalls.WithLabelValues(method, callStatus(err)).Inc()
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Method: method, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req := Request{Method: method, Params: []interface{}{params}}
	if params == nil {
		req.Params = []interface{}{map[string]interface{}{}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{Method: method, URL: c.rpcURL}
	case resp.StatusCode != http.StatusOK:
		return nil, &ServerError{Method: method, Status: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	var rpcResp Response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil || len(rpcResp.Result) == 0 {
		return nil, &ServerError{Method: method, Status: resp.StatusCode, Body: "malformed response: " + truncate(string(respBody), 256)}
	}

	var status resultStatus
	if err := json.Unmarshal(rpcResp.Result, &status); err != nil {
		return nil, &ServerError{Method: method, Status: resp.StatusCode, Body: "malformed result: " + truncate(string(rpcResp.Result), 256)}
	}
	if status.Status == "error" || status.Error != "" {
		return nil, &ApplicationError{
			Method:  method,
			Code:    status.Error,
			Number:  status.ErrorCode,
			Message: status.ErrorMessage,
		}
	}

	c.logger.Debug("RPC %s completed in %v", method, time.Since(start))
	return rpcResp.Result, nil
}

// callInto performs Call and decodes the result into out
func (c *Client) callInto(ctx context.Context, method string, params interface{}, out interface{}) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func callStatus(err error) string {
	switch err.(type) {
	case nil:
		return "ok"
	case *TransportError:
		return "transport_error"
	case *NotFoundError:
		return "not_found"
	case *ServerError:
		return "server_error"
	case *ApplicationError:
		return "application_error"
	}
	return "client_error"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

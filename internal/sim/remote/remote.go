// Package remote posts JSON to the external decision and narrator services.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxBody caps how much of a response is read.
const MaxBody = 256 * 1024

const TokenHeader = "x-elderwood-token"

type Client struct {
	URL   string
	Token string

	HTTP *http.Client
}

func New(url, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		URL:   strings.TrimSpace(url),
		Token: token,
		HTTP:  &http.Client{Timeout: timeout},
	}
}

// Configured reports whether the client has somewhere to send requests.
func (c *Client) Configured() bool { return c != nil && c.URL != "" }

// PostJSON sends body as JSON and returns the raw response body. Non-2xx
// statuses are errors. There are no retries; callers treat any error as
// "no result".
func (c *Client) PostJSON(ctx context.Context, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("remote: no endpoint configured")
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("remote: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("remote: request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	if c.Token != "" {
		req.Header.Set(TokenHeader, c.Token)
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxBody))
	if err != nil {
		return nil, fmt.Errorf("remote: read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Strategy is how an external collaborator is served for one call.
type Strategy string

const (
	Live          Strategy = "LIVE"
	Deterministic Strategy = "DETERMINISTIC"
)

// Choose returns Live when a live implementation is available.
func Choose(liveAvailable bool) Strategy {
	if liveAvailable {
		return Live
	}
	return Deterministic
}

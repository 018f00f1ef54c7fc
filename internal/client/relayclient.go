package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aspect-build/veritas/internal/handshake"
	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/logx"
	"github.com/aspect-build/veritas/internal/risk"
	"github.com/aspect-build/veritas/internal/version"
)

const (
	connectTimeout   = 10 * time.Second
	readWriteTimeout = 15 * time.Second
)

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	Status int
	Code   string // the "error" field of the body
	Detail string
}

func (e *RelayError) Error() string {
	msg := fmt.Sprintf("relay returned %d", e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is lets callers match a relay-side nonce mismatch with
// handshake.ErrNonceMismatch.
func (e *RelayError) Is(target error) bool {
	return target == handshake.ErrNonceMismatch && e.Code == "nonce_mismatch"
}

// VerifyRequest is the body of POST /integrity/verify.
type VerifyRequest struct {
	NonceID     string                `json:"nonceId"`
	PackageName string                `json:"packageName"`
	Token       string                `json:"token"`
	Root        *integrity.RootReport `json:"root,omitempty"`
}

// VerifyResponse is the relay's scored verdict.
type VerifyResponse struct {
	Verdict   *integrity.Verdict `json:"verdict"`
	RiskScore int                `json:"riskScore"`
	Signals   []risk.Signal      `json:"signals"`
}

// RelayClient talks to a veritas relay.
type RelayClient struct {
	baseURL string
	http    *http.Client
}

func normalizeServerURL(serverURL string) string {
	return strings.TrimRight(serverURL, "/")
}

func isLoopback(u *url.URL) bool {
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// NewRelayClient validates serverURL. Plain HTTP is refused for non-loopback
// hosts unless allowInsecure is set.
func NewRelayClient(serverURL string, allowInsecure bool) (*RelayClient, error) {
	serverURL = normalizeServerURL(serverURL)
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", serverURL)
	}
	if u.Scheme != "https" {
		if u.Scheme != "http" {
			return nil, fmt.Errorf("relay URL %q must use http or https", serverURL)
		}
		if !allowInsecure && !isLoopback(u) {
			return nil, fmt.Errorf("relay URL %q is not HTTPS; use --insecure to allow plaintext HTTP", serverURL)
		}
		if !isLoopback(u) {
			fmt.Fprintf(os.Stderr, "veritas: WARNING: communicating over plaintext HTTP (%s)\n", serverURL)
		}
	}
	return &RelayClient{baseURL: serverURL, http: httpClient()}, nil
}

func httpClient() *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readWriteTimeout,
		},
		Timeout: connectTimeout + 2*readWriteTimeout,
	}
}

// Issue fetches a fresh nonce with GET /nonce.
func (c *RelayClient) Issue(ctx context.Context) (handshake.Nonce, error) {
	var out struct {
		NonceID string `json:"nonceId"`
		Nonce   string `json:"nonce"`
		ByteLen int    `json:"byteLen"`
	}
	if err := c.do(ctx, http.MethodGet, "/nonce", nil, &out); err != nil {
		return handshake.Nonce{}, fmt.Errorf("request nonce: %w", err)
	}
	if out.NonceID == "" || out.Nonce == "" {
		return handshake.Nonce{}, errors.New("nonce response missing required fields")
	}
	logx.Debugf("relay issued nonce id=%s bytes=%d", out.NonceID, out.ByteLen)
	return handshake.Nonce{ID: out.NonceID, Value: out.Nonce}, nil
}

// DecodeRaw posts to /integrity/decode and returns the verdict body as sent
// by the relay.
func (c *RelayClient) DecodeRaw(ctx context.Context, req handshake.DecodeRequest) (json.RawMessage, error) {
	body := map[string]string{"packageName": req.PackageName, "token": req.Token}
	if req.NonceID != "" {
		body["nonceId"] = req.NonceID
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/integrity/decode", body, &raw); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return raw, nil
}

// Decode implements handshake.Decoder.
func (c *RelayClient) Decode(ctx context.Context, req handshake.DecodeRequest) (*integrity.Verdict, error) {
	raw, err := c.DecodeRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := integrity.ParseDecodeResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.Verdict() == nil {
		return nil, errors.New("relay response has no tokenPayloadExternal")
	}
	return resp.Verdict(), nil
}

// Verify posts to /integrity/verify.
func (c *RelayClient) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var out VerifyResponse
	if err := c.do(ctx, http.MethodPost, "/integrity/verify", req, &out); err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &out, nil
}

// Health checks that the relay answers GET /.
func (c *RelayClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent("cli"))
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *RelayClient) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent("cli"))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseRelayError(resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func parseRelayError(status int, body []byte) *RelayError {
	re := &RelayError{Status: status}
	var payload struct {
		Error  string          `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		re.Detail = strings.TrimSpace(string(body))
		return re
	}
	re.Code = payload.Error
	if len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			re.Detail = s
		} else {
			re.Detail = string(payload.Detail)
		}
	}
	return re
}

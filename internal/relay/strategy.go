package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/playintegrity/v1"

	"github.com/aspect-build/veritas/internal/version"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// Call is one decode request as seen by a Strategy.
type Call struct {
	Endpoint    string       // base URL ending in "/"
	PackageName string       // already trimmed
	Token       string       // never logged
	Client      *http.Client // authorized for Scope
}

// Strategy performs a decode call and returns the raw response body.
type Strategy interface {
	Name() string
	Decode(ctx context.Context, call Call) ([]byte, error)
}

// DefaultStrategies is the structured client first, raw HTTP second.
func DefaultStrategies() []Strategy {
	return []Strategy{LibraryStrategy{}, RawStrategy{}}
}

// LibraryStrategy calls decodeIntegrityToken through the generated API client.
type LibraryStrategy struct{}

func (LibraryStrategy) Name() string { return "library" }

func (s LibraryStrategy) Decode(ctx context.Context, call Call) ([]byte, error) {
	// The generated response type drops fields it does not know, so the raw
	// body is captured on the way through.
	capture := &captureTransport{base: call.Client.Transport}
	client := &http.Client{Transport: capture, Timeout: call.Client.Timeout}

	svc, err := playintegrity.NewService(ctx,
		option.WithHTTPClient(client),
		option.WithEndpoint(call.Endpoint),
		option.WithUserAgent(version.UserAgent("relay")),
	)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Strategy: s.Name(), Message: "create playintegrity service", Err: err}
	}

	_, err = svc.V1.DecodeIntegrityToken(call.PackageName, &playintegrity.DecodeIntegrityTokenRequest{
		IntegrityToken: call.Token,
	}).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, &Error{
				Kind:     KindUpstream,
				Strategy: s.Name(),
				Status:   gerr.Code,
				Body:     strings.TrimSpace(gerr.Body),
				Message:  "decodeIntegrityToken failed",
				Err:      err,
			}
		}
		return nil, classifyTransport(s.Name(), err)
	}
	if capture.body == nil {
		return nil, &Error{Kind: KindTransport, Strategy: s.Name(), Message: "no response body captured"}
	}
	return capture.body, nil
}

// RawStrategy posts the token directly with the authorized HTTP client.
type RawStrategy struct{}

func (RawStrategy) Name() string { return "raw" }

// DecodeURL returns the decode endpoint for packageName under endpoint.
func DecodeURL(endpoint, packageName string) string {
	return strings.TrimRight(endpoint, "/") + "/v1/" + url.PathEscape(packageName) + ":decodeIntegrityToken"
}

func (s RawStrategy) Decode(ctx context.Context, call Call) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"integrityToken": call.Token})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Strategy: s.Name(), Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, DecodeURL(call.Endpoint, call.PackageName), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Strategy: s.Name(), Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("relay"))

	resp, err := call.Client.Do(req)
	if err != nil {
		return nil, classifyTransport(s.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransport(s.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Kind:     KindUpstream,
			Strategy: s.Name(),
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(respBody)),
			Message:  "decodeIntegrityToken failed",
		}
	}
	return respBody, nil
}

// classifyTransport separates token-exchange failures from plain network ones.
func classifyTransport(strategy string, err error) *Error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &Error{Kind: KindCredentials, Strategy: strategy, Message: "obtain access token", Err: err}
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		out := *cerr
		out.Strategy = strategy
		return &out
	}
	return &Error{Kind: KindTransport, Strategy: strategy, Message: fmt.Sprintf("request failed: %v", err), Err: err}
}

// captureTransport keeps a copy of the last successful response body.
type captureTransport struct {
	base http.RoundTripper
	body []byte
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		t.body = data
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// Package relay exchanges a client-supplied integrity token for a decoded
// verdict by calling the attestation authority's decode API.
package relay

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/oauth2"

	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/logx"
)

const (
	// DefaultEndpoint is the production decode API base URL.
	DefaultEndpoint = "https://playintegrity.googleapis.com/"

	// MinTokenLength rejects obviously malformed tokens before any network call.
	MinTokenLength = 10

	ConnectTimeout   = 10 * time.Second
	ReadWriteTimeout = 15 * time.Second
)

var log = logx.Named("relay")

var strategyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "veritas_relay_strategy_total",
	Help: "Decode attempts by request strategy and result",
}, []string{"strategy", "result"})

// NewHTTPClient returns a client with the relay's connect and read/write
// bounds. Exceeding them surfaces as KindTransport.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadWriteTimeout,
			ExpectContinueTimeout: time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConns:          16,
		},
		Timeout: ConnectTimeout + 2*ReadWriteTimeout,
	}
}

// Config configures a Relay. Zero values pick production defaults.
type Config struct {
	Endpoint    string
	Credentials Credentials
	HTTPClient  *http.Client
	Strategies  []Strategy
}

// Relay is stateless between calls and safe for concurrent use.
type Relay struct {
	endpoint   string
	creds      Credentials
	client     *http.Client
	strategies []Strategy
}

// New builds a Relay from cfg.
func New(cfg Config) *Relay {
	r := &Relay{
		endpoint:   cfg.Endpoint,
		creds:      cfg.Credentials,
		client:     cfg.HTTPClient,
		strategies: cfg.Strategies,
	}
	if r.endpoint == "" {
		r.endpoint = DefaultEndpoint
	}
	if !strings.HasSuffix(r.endpoint, "/") {
		r.endpoint += "/"
	}
	if r.creds == nil {
		r.creds = AmbientCredentials{}
	}
	if r.client == nil {
		r.client = NewHTTPClient()
	}
	if len(r.strategies) == 0 {
		r.strategies = DefaultStrategies()
	}
	return r
}

// Endpoint returns the normalized upstream base URL.
func (r *Relay) Endpoint() string { return r.endpoint }

// Request is one decode request.
type Request struct {
	PackageName string
	Token       string
	Credentials Credentials // overrides the relay default when set
}

// Result is a successful decode.
type Result struct {
	Response    *integrity.DecodeResponse
	Raw         []byte
	PackageName string // trimmed package name actually sent upstream
	Strategy    string
	Identity    Identity
}

// Verdict returns the decoded payload, or nil.
func (res *Result) Verdict() *integrity.Verdict {
	if res == nil {
		return nil
	}
	return res.Response.Verdict()
}

// Validate applies the request checks Decode runs before any network call
// and returns the trimmed package name.
func Validate(packageName, token string) (string, error) {
	pkg := strings.TrimSpace(packageName)
	if pkg == "" {
		return "", invalidRequest("packageName is required")
	}
	if len(token) < MinTokenLength {
		return "", invalidRequest("token is too short")
	}
	return pkg, nil
}

// Decode exchanges req.Token for a verdict. Strategies are tried in order;
// the first success wins and the last failure is returned.
func (r *Relay) Decode(ctx context.Context, req Request) (*Result, error) {
	pkg, err := Validate(req.PackageName, req.Token)
	if err != nil {
		return nil, err
	}
	if pkg != req.PackageName {
		log.Warnf("packageName had surrounding whitespace, trimmed to %q", pkg)
	}

	creds := req.Credentials
	if creds == nil {
		creds = r.creds
	}
	ts, id, err := creds.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("decode package=%s token.len=%d project=%q serviceAccount=%q", pkg, len(req.Token), id.ProjectID, id.ClientEmail)

	call := Call{
		Endpoint:    r.endpoint,
		PackageName: pkg,
		Token:       req.Token,
		Client: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: r.client.Transport},
			Timeout:   r.client.Timeout,
		},
	}

	var lastErr error
	for i, s := range r.strategies {
		raw, err := s.Decode(ctx, call)
		if err == nil {
			resp, perr := integrity.ParseDecodeResponse(raw)
			if perr == nil {
				strategyTotal.WithLabelValues(s.Name(), "ok").Inc()
				return &Result{Response: resp, Raw: raw, PackageName: pkg, Strategy: s.Name(), Identity: id}, nil
			}
			err = &Error{Kind: KindUpstream, Strategy: s.Name(), Message: "invalid decode response", Err: perr}
		}
		lastErr = classifyTransport(s.Name(), err)
		strategyTotal.WithLabelValues(s.Name(), string(KindOf(lastErr))).Inc()

		if ctx.Err() != nil {
			break
		}
		if i < len(r.strategies)-1 {
			log.Warnf("%s strategy failed, falling back: %v", s.Name(), lastErr)
		} else {
			log.Errorf("%s strategy failed: %v", s.Name(), lastErr)
		}
	}
	return nil, lastErr
}

//go:build bdd

package internal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/gin-gonic/gin"

	"github.com/aspect-build/veritas/internal/emulator"
	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/nonce"
	"github.com/aspect-build/veritas/internal/relay"
	"github.com/aspect-build/veritas/internal/server"
)

// bddContext holds per-scenario state.
type bddContext struct {
	relay       *httptest.Server
	emu         *httptest.Server
	authority   *emulator.Authority
	decodeCalls atomic.Int64

	nonceID    string
	nonceValue string
	token      string
	root       *integrity.RootReport

	// last HTTP response
	lastStatus int
	lastBody   []byte
}

func (b *bddContext) reset() {
	if b.relay != nil {
		b.relay.Close()
	}
	if b.emu != nil {
		b.emu.Close()
	}
	b.relay, b.emu, b.authority = nil, nil, nil
	b.decodeCalls.Store(0)
	b.nonceID, b.nonceValue, b.token = "", "", ""
	b.root = nil
	b.lastStatus, b.lastBody = 0, nil
}

// ── Given steps ─────────────────────────────────────────────────────

func (b *bddContext) theRelayIsRunning() error {
	if b.relay != nil {
		return nil // already running
	}

	keys, err := emulator.GenerateKeys()
	if err != nil {
		return fmt.Errorf("GenerateKeys: %w", err)
	}
	b.authority, err = emulator.NewAuthority(keys, time.Now)
	if err != nil {
		return fmt.Errorf("NewAuthority: %w", err)
	}
	emuRouter := emulator.NewRouter(b.authority, emulatorToken)
	b.emu = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			b.decodeCalls.Add(1)
		}
		emuRouter.ServeHTTP(w, r)
	}))

	cfg := &server.Config{
		NonceStore:            server.StoreMemory,
		NonceTTL:              nonce.DefaultTTL,
		PlayIntegrityEndpoint: b.emu.URL + "/",
	}
	registry := nonce.NewRegistry(nonce.NewMemoryStore(cfg.NonceTTL))
	rl := relay.New(relay.Config{
		Endpoint:    cfg.PlayIntegrityEndpoint,
		Credentials: relay.StaticToken{AccessToken: emulatorToken},
	})
	b.relay = httptest.NewServer(server.NewRouter(server.Deps{Nonces: registry, Relay: rl}, cfg))
	return nil
}

func (b *bddContext) iHaveANonce() error {
	if err := b.iGET("/nonce"); err != nil {
		return err
	}
	if b.lastStatus != http.StatusOK {
		return fmt.Errorf("GET /nonce: status %d", b.lastStatus)
	}
	var out struct {
		NonceID string `json:"nonceId"`
		Nonce   string `json:"nonce"`
	}
	if err := json.Unmarshal(b.lastBody, &out); err != nil {
		return err
	}
	b.nonceID, b.nonceValue = out.NonceID, out.Nonce
	return nil
}

func (b *bddContext) theEmulatorIssuedAToken(profile, pkg string) error {
	token, err := b.authority.IssueToken(emulator.TokenRequest{
		Nonce:       b.nonceValue,
		PackageName: pkg,
		Profile:     emulator.Profile(profile),
	})
	if err != nil {
		return err
	}
	b.token = token
	return nil
}

func (b *bddContext) theRootReportIs(kind string) error {
	switch kind {
	case "clean":
		b.root = integrity.NewRootReport(false, nil, time.Now())
	case "magisk":
		b.root = integrity.NewRootReport(true, []integrity.SubCheck{
			{Key: "magisk", Description: "Magisk manager installed", Detected: true},
		}, time.Now())
	default:
		return fmt.Errorf("unknown root report %q", kind)
	}
	return nil
}

// ── When steps ──────────────────────────────────────────────────────

func (b *bddContext) send(method, path string, body []byte) error {
	req, err := http.NewRequest(method, b.relay.URL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b.lastStatus = resp.StatusCode
	b.lastBody, err = io.ReadAll(resp.Body)
	return err
}

func (b *bddContext) iGET(path string) error {
	return b.send(http.MethodGet, path, nil)
}

func (b *bddContext) iPOSTToWithJSON(path string, jsonDoc *godog.DocString) error {
	return b.send(http.MethodPost, path, []byte(jsonDoc.Content))
}

func (b *bddContext) iDecodeTheTokenWithTheNonce(pkg string) error {
	body, _ := json.Marshal(map[string]string{
		"packageName": pkg,
		"token":       b.token,
		"nonceId":     b.nonceID,
	})
	return b.send(http.MethodPost, "/integrity/decode", body)
}

func (b *bddContext) iVerifyTheToken(pkg string) error {
	body, _ := json.Marshal(map[string]any{
		"nonceId":     b.nonceID,
		"packageName": pkg,
		"token":       b.token,
		"root":        b.root,
	})
	return b.send(http.MethodPost, "/integrity/verify", body)
}

// ── Then steps ──────────────────────────────────────────────────────

func (b *bddContext) theResponseStatusShouldBe(expected int) error {
	if b.lastStatus != expected {
		return fmt.Errorf("expected status %d, got %d (body: %s)", expected, b.lastStatus, b.lastBody)
	}
	return nil
}

func (b *bddContext) theResponseJSONShouldBe(key, expected string) error {
	var m map[string]interface{}
	if err := json.Unmarshal(b.lastBody, &m); err != nil {
		return fmt.Errorf("parse response JSON: %w", err)
	}
	val, ok := m[key]
	if !ok {
		return fmt.Errorf("key %q not found in response", key)
	}
	if fmt.Sprint(val) != expected {
		return fmt.Errorf("expected %q = %q, got %q", key, expected, val)
	}
	return nil
}

func (b *bddContext) theResponseNonceShouldBeURLSafe(n int) error {
	var out struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(b.lastBody, &out); err != nil {
		return err
	}
	if strings.ContainsAny(out.Nonce, "+/=") {
		return fmt.Errorf("nonce %q is not URL-safe unpadded", out.Nonce)
	}
	raw, err := base64.RawURLEncoding.DecodeString(out.Nonce)
	if err != nil {
		return fmt.Errorf("decode nonce: %w", err)
	}
	if len(raw) != n {
		return fmt.Errorf("nonce decodes to %d bytes, want %d", len(raw), n)
	}
	return nil
}

func (b *bddContext) theVerdictShouldEchoTheNonce() error {
	resp, err := integrity.ParseDecodeResponse(b.lastBody)
	if err != nil {
		return err
	}
	if got := resp.Verdict().Nonce(); got != b.nonceValue {
		return fmt.Errorf("verdict nonce %q, want %q", got, b.nonceValue)
	}
	return nil
}

func (b *bddContext) theEmulatorShouldHaveReceivedDecodeCalls(n int) error {
	if got := b.decodeCalls.Load(); got != int64(n) {
		return fmt.Errorf("emulator received %d decode calls, want %d", got, n)
	}
	return nil
}

// ── Suite runner ────────────────────────────────────────────────────

func TestBDD(t *testing.T) {
	b := &bddContext{}

	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				b.reset()
				return ctx, nil
			})

			// Given
			sc.Step(`^the relay is running$`, b.theRelayIsRunning)
			sc.Step(`^I have a nonce$`, b.iHaveANonce)
			sc.Step(`^the emulator issued a "([^"]*)" token for "([^"]*)"$`, b.theEmulatorIssuedAToken)
			sc.Step(`^the root report is "([^"]*)"$`, b.theRootReportIs)

			// When
			sc.Step(`^I GET "([^"]*)"$`, b.iGET)
			sc.Step(`^I POST to "([^"]*)" with JSON:$`, b.iPOSTToWithJSON)
			sc.Step(`^I decode the token for "([^"]*)" with the nonce$`, b.iDecodeTheTokenWithTheNonce)
			sc.Step(`^I verify the token for "([^"]*)"$`, b.iVerifyTheToken)

			// Then
			sc.Step(`^the response status should be (\d+)$`, b.theResponseStatusShouldBe)
			sc.Step(`^the response JSON "([^"]*)" should be "([^"]*)"$`, b.theResponseJSONShouldBe)
			sc.Step(`^the response nonce should be URL-safe base64 of (\d+) bytes$`, b.theResponseNonceShouldBeURLSafe)
			sc.Step(`^the verdict should echo the nonce$`, b.theVerdictShouldEchoTheNonce)
			sc.Step(`^the emulator should have received (\d+) decode calls$`, b.theEmulatorShouldHaveReceivedDecodeCalls)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("BDD tests failed")
	}

	// Final cleanup
	b.reset()
}

func init() {
	// Suppress Gin debug output during BDD tests
	os.Setenv("GIN_MODE", gin.ReleaseMode)
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aspect-build/veritas/internal/handshake"
	"github.com/aspect-build/veritas/internal/version"
)

// Environment passed to an attestation command.
const (
	EnvNonce              = "VERITAS_NONCE"
	EnvPackageName        = "VERITAS_PACKAGE_NAME"
	EnvCloudProjectNumber = "VERITAS_CLOUD_PROJECT_NUMBER"
)

// CommandTokenProvider obtains a token by running an external command, for
// example an adb wrapper that triggers the on-device attestation API. The
// command gets the nonce in its environment and prints the token on stdout.
type CommandTokenProvider struct {
	Command string
	Args    []string
	Env     []EnvEntry // extra entries layered over the process environment
	Redact  []string   // literal values hidden from the command's stderr
	Stderr  io.Writer  // defaults to os.Stderr
}

func (p *CommandTokenProvider) RequestToken(ctx context.Context, req handshake.TokenRequest) (string, error) {
	if p.Command == "" {
		return "", errors.New("no attestation command configured")
	}

	extra := append([]EnvEntry{}, p.Env...)
	extra = append(extra,
		EnvEntry{Key: EnvNonce, Value: req.Nonce},
		EnvEntry{Key: EnvPackageName, Value: req.PackageName},
	)
	if req.CloudProjectNumber != 0 {
		extra = append(extra, EnvEntry{Key: EnvCloudProjectNumber, Value: strconv.FormatInt(req.CloudProjectNumber, 10)})
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Env = MergeEnv(os.Environ(), extra)
	prepareHelper(cmd)

	stderr := p.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	diag := NewRedactor(stderr, p.Redact)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = diag

	err := cmd.Run()
	_ = diag.Close()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("attestation command exited with code %d", exitErr.ExitCode())
		}
		return "", fmt.Errorf("run attestation command: %w", err)
	}

	token := strings.TrimSpace(stdout.String())
	if token == "" {
		return "", errors.New("attestation command printed no token")
	}
	return token, nil
}

// EmulatorTokenProvider asks a development emulator for a token.
type EmulatorTokenProvider struct {
	BaseURL string
	Profile string
	HTTP    *http.Client
}

func (p *EmulatorTokenProvider) RequestToken(ctx context.Context, req handshake.TokenRequest) (string, error) {
	body, err := json.Marshal(map[string]any{
		"nonce":              req.Nonce,
		"packageName":        req.PackageName,
		"cloudProjectNumber": req.CloudProjectNumber,
		"profile":            p.Profile,
	})
	if err != nil {
		return "", fmt.Errorf("marshal token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, normalizeServerURL(p.BaseURL)+"/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent("cli"))

	hc := p.HTTP
	if hc == nil {
		hc = httpClient()
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("emulator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal token response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("emulator returned an empty token")
	}
	return out.Token, nil
}

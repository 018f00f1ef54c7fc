package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/playintegrity/v1"
)

// Scope is the single OAuth scope decode calls are authorized with.
const Scope = playintegrity.PlayintegrityScope

// Identity is what the relay logs about the credential it used.
type Identity struct {
	ProjectID   string
	ClientEmail string
}

// Credentials yields an authorized token source for Scope.
type Credentials interface {
	TokenSource(ctx context.Context) (oauth2.TokenSource, Identity, error)
}

// ServiceAccountKey is an explicit service-account key in JSON form.
type ServiceAccountKey struct {
	JSON []byte
}

// LoadServiceAccountFile reads a key file. A missing file yields an error of
// KindServiceAccountFileNotFound.
func LoadServiceAccountFile(path string) (*ServiceAccountKey, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Kind: KindCredentials, Message: "resolve service account path", Err: err}
	}
	if err := checkCredentialFile(abs); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, &Error{Kind: KindCredentials, Message: "read service account file", Err: err}
	}
	return &ServiceAccountKey{JSON: data}, nil
}

func (k *ServiceAccountKey) TokenSource(ctx context.Context) (oauth2.TokenSource, Identity, error) {
	creds, err := google.CredentialsFromJSONWithParams(ctx, k.JSON, google.CredentialsParams{
		Scopes: []string{Scope},
	})
	if err != nil {
		return nil, Identity{}, &Error{Kind: KindCredentials, Message: "parse service account key", Err: err}
	}
	return creds.TokenSource, Identity{ProjectID: creds.ProjectID, ClientEmail: clientEmail(k.JSON)}, nil
}

// AmbientCredentials resolves Application Default Credentials.
type AmbientCredentials struct{}

func (AmbientCredentials) TokenSource(ctx context.Context) (oauth2.TokenSource, Identity, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scope)
	if err != nil {
		return nil, Identity{}, &Error{Kind: KindCredentials, Message: "find default credentials", Err: err}
	}
	return creds.TokenSource, Identity{ProjectID: creds.ProjectID, ClientEmail: clientEmail(creds.JSON)}, nil
}

// StaticToken authorizes every call with a fixed access token. Meant for the
// development emulator only.
type StaticToken struct {
	AccessToken string
}

func (s StaticToken) TokenSource(context.Context) (oauth2.TokenSource, Identity, error) {
	if s.AccessToken == "" {
		return nil, Identity{}, &Error{Kind: KindCredentials, Message: "static access token is empty"}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"})
	return ts, Identity{ProjectID: "static", ClientEmail: "static-token"}, nil
}

// clientEmail pulls client_email out of a key file without keeping any other
// field around.
func clientEmail(keyJSON []byte) string {
	if len(keyJSON) == 0 {
		return ""
	}
	var f struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(keyJSON, &f); err != nil {
		return ""
	}
	return f.ClientEmail
}

// DefaultKeyFile is picked up from the working directory in development when
// no other credential source is configured.
const DefaultKeyFile = "play-integrity-sa-key.json"

// ResolveDefault picks the relay's default credentials: an explicit key file
// when given, otherwise GOOGLE_APPLICATION_CREDENTIALS or DefaultKeyFile in
// dir, otherwise ambient credentials. The returned string describes the
// choice for logging.
func ResolveDefault(keyFile, dir string) (Credentials, string, error) {
	if keyFile != "" {
		k, err := LoadServiceAccountFile(keyFile)
		if err != nil {
			return nil, "", err
		}
		return k, "service account file " + keyFile, nil
	}
	if env := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); env != "" {
		return AmbientCredentials{}, "GOOGLE_APPLICATION_CREDENTIALS=" + env, nil
	}
	candidate := filepath.Join(dir, DefaultKeyFile)
	if _, err := os.Stat(candidate); err == nil {
		k, err := LoadServiceAccountFile(candidate)
		if err != nil {
			return nil, "", fmt.Errorf("load %s: %w", candidate, err)
		}
		return k, "auto-detected " + candidate, nil
	}
	return AmbientCredentials{}, "application default credentials", nil
}

// Package emulator stands in for the platform attestation authority during
// local development and tests. It issues tokens bound to a nonce and decodes
// them back into verdicts through the same request contract the real decode
// API uses. Its token format is its own and is not compatible with real
// device tokens.
package emulator

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aspect-build/veritas/internal/crypto"
	"github.com/aspect-build/veritas/internal/integrity"
	"github.com/aspect-build/veritas/internal/nonce"
)

const (
	issuer   = "veritas-emulator"
	tokenTTL = 10 * time.Minute
)

var (
	ErrInvalidNonce    = errors.New("invalid nonce")
	ErrInvalidPackage  = errors.New("package name is required")
	ErrUnknownProfile  = errors.New("unknown device profile")
	ErrMalformedToken  = errors.New("malformed integrity token")
	ErrPackageMismatch = errors.New("token was not issued for this package")
)

// Profile selects the verdict a token will decode to.
type Profile string

const (
	ProfileGenuine Profile = "genuine"
	ProfileRooted  Profile = "rooted"
	ProfileBasic   Profile = "basic"
)

// TokenRequest mirrors what an app hands the on-device attestation primitive.
type TokenRequest struct {
	Nonce              string  `json:"nonce"`
	PackageName        string  `json:"packageName"`
	CloudProjectNumber int64   `json:"cloudProjectNumber,omitempty"`
	Profile            Profile `json:"profile,omitempty"`
}

type tokenClaims struct {
	Payload json.RawMessage `json:"tokenPayloadExternal"`
	jwt.RegisteredClaims
}

// Authority issues and decodes emulator tokens.
type Authority struct {
	keys    *Keys
	sealPub [crypto.KeySize]byte
	now     func() time.Time
}

// NewAuthority returns an Authority using keys. A nil clock means time.Now.
func NewAuthority(keys *Keys, now func() time.Time) (*Authority, error) {
	if keys == nil {
		return nil, errors.New("emulator keys are required")
	}
	pub, err := keys.SealPublicKey()
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Authority{keys: keys, sealPub: pub, now: now}, nil
}

// IssueToken produces an opaque token bound to req.Nonce and req.PackageName.
func (a *Authority) IssueToken(req TokenRequest) (string, error) {
	if req.PackageName == "" {
		return "", ErrInvalidPackage
	}
	if err := nonce.ValidateValue(req.Nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNonce, err)
	}
	profile := req.Profile
	if profile == "" {
		profile = ProfileGenuine
	}

	now := a.now()
	v, err := verdictFor(profile, req, now)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal verdict: %w", err)
	}

	claims := tokenClaims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   req.PackageName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	jws, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(a.keys.SignKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	sealed, err := crypto.Seal(a.sealPub, []byte(jws))
	if err != nil {
		return "", fmt.Errorf("seal token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token and returns the decode response for packageName.
func (a *Authority) Decode(packageName, token string) (*integrity.DecodeResponse, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	jws, err := crypto.Open(a.keys.SealKey, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var claims tokenClaims
	_, err = jwt.ParseWithClaims(string(jws), &claims, func(token *jwt.Token) (interface{}, error) {
		return a.keys.VerifyKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if claims.Subject != packageName {
		return nil, ErrPackageMismatch
	}

	var v integrity.Verdict
	if err := json.Unmarshal(claims.Payload, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return &integrity.DecodeResponse{TokenPayloadExternal: &v}, nil
}

func verdictFor(p Profile, req TokenRequest, now time.Time) (*integrity.Verdict, error) {
	v := &integrity.Verdict{
		RequestDetails: &integrity.RequestDetails{
			RequestPackageName: req.PackageName,
			Nonce:              req.Nonce,
			TimestampMillis:    integrity.Millis(now.UnixMilli()),
		},
		AppIntegrity:    &integrity.AppIntegrity{PackageName: req.PackageName},
		DeviceIntegrity: &integrity.DeviceIntegrity{},
		AccountDetails:  &integrity.AccountDetails{},
	}

	switch p {
	case ProfileGenuine:
		v.AppIntegrity.AppRecognitionVerdict = integrity.PlayRecognized
		v.DeviceIntegrity.DeviceRecognitionVerdict = []string{integrity.MeetsDeviceIntegrity}
		v.AccountDetails.AppLicensingVerdict = integrity.Licensed
	case ProfileBasic:
		v.AppIntegrity.AppRecognitionVerdict = integrity.PlayRecognized
		v.DeviceIntegrity.DeviceRecognitionVerdict = []string{integrity.MeetsBasicIntegrity}
		v.AccountDetails.AppLicensingVerdict = integrity.Licensed
	case ProfileRooted:
		v.AppIntegrity.AppRecognitionVerdict = integrity.UnrecognizedVersion
		v.AppIntegrity.PackageName = ""
		v.DeviceIntegrity.DeviceRecognitionVerdict = []string{}
		v.AccountDetails.AppLicensingVerdict = integrity.Unlicensed
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, p)
	}
	return v, nil
}

// VerifyKeyBase64 returns the signing key's public half for display.
func (a *Authority) VerifyKeyBase64() string {
	return base64.StdEncoding.EncodeToString(a.keys.VerifyKey())
}

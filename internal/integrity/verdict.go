// Package integrity holds the data exchanged during an attestation handshake:
// the decoded Play Integrity verdict and the device's root heuristic report.
//
// Verdict types carry only the fields the relay and risk scorer read. Every
// other field the attestation authority returns is kept in an Extra bag, as
// are declared fields it sent empty, so a decoded payload re-encodes without
// losing anything.
package integrity

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Device recognition labels.
const (
	MeetsBasicIntegrity   = "MEETS_BASIC_INTEGRITY"
	MeetsDeviceIntegrity  = "MEETS_DEVICE_INTEGRITY"
	MeetsStrongIntegrity  = "MEETS_STRONG_INTEGRITY"
	MeetsVirtualIntegrity = "MEETS_VIRTUAL_INTEGRITY"
)

// App recognition labels.
const (
	PlayRecognized      = "PLAY_RECOGNIZED"
	UnrecognizedVersion = "UNRECOGNIZED_VERSION"
	Unevaluated         = "UNEVALUATED"
)

// App licensing labels.
const (
	Licensed   = "LICENSED"
	Unlicensed = "UNLICENSED"
)

// Millis is a Unix timestamp in milliseconds. The authority encodes int64
// values as JSON strings; plain numbers are accepted too.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestampMillis: %w", err)
	}
	*m = Millis(n)
	return nil
}

func (m Millis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(m), 10))), nil
}

// Time converts m to a time.Time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}

// RequestDetails echoes the request-binding fields of the token.
type RequestDetails struct {
	RequestPackageName string                     `json:"requestPackageName,omitempty"`
	Nonce              string                     `json:"nonce,omitempty"`
	RequestHash        string                     `json:"requestHash,omitempty"`
	TimestampMillis    Millis                     `json:"timestampMillis,omitempty"`
	Extra              map[string]json.RawMessage `json:"-"`
}

func (r *RequestDetails) UnmarshalJSON(b []byte) error {
	type plain RequestDetails
	extra, err := unmarshalWithExtra(b, (*plain)(r))
	if err != nil {
		return err
	}
	r.Extra = extra
	return nil
}

func (r RequestDetails) MarshalJSON() ([]byte, error) {
	type plain RequestDetails
	return marshalWithExtra(plain(r), r.Extra)
}

// AppIntegrity describes whether the calling binary is the one distributed
// through the store.
type AppIntegrity struct {
	AppRecognitionVerdict   string                     `json:"appRecognitionVerdict,omitempty"`
	PackageName             string                     `json:"packageName,omitempty"`
	CertificateSha256Digest []string                   `json:"certificateSha256Digest,omitempty"`
	Extra                   map[string]json.RawMessage `json:"-"`
}

func (a *AppIntegrity) UnmarshalJSON(b []byte) error {
	type plain AppIntegrity
	extra, err := unmarshalWithExtra(b, (*plain)(a))
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

func (a AppIntegrity) MarshalJSON() ([]byte, error) {
	type plain AppIntegrity
	return marshalWithExtra(plain(a), a.Extra)
}

// DeviceIntegrity lists the device trust tiers the authority vouches for.
type DeviceIntegrity struct {
	DeviceRecognitionVerdict []string                   `json:"deviceRecognitionVerdict,omitempty"`
	Extra                    map[string]json.RawMessage `json:"-"`
}

func (d *DeviceIntegrity) UnmarshalJSON(b []byte) error {
	type plain DeviceIntegrity
	extra, err := unmarshalWithExtra(b, (*plain)(d))
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

func (d DeviceIntegrity) MarshalJSON() ([]byte, error) {
	type plain DeviceIntegrity
	return marshalWithExtra(plain(d), d.Extra)
}

// AccountDetails carries the optional licensing signal.
type AccountDetails struct {
	AppLicensingVerdict string                     `json:"appLicensingVerdict,omitempty"`
	Extra               map[string]json.RawMessage `json:"-"`
}

func (a *AccountDetails) UnmarshalJSON(b []byte) error {
	type plain AccountDetails
	extra, err := unmarshalWithExtra(b, (*plain)(a))
	if err != nil {
		return err
	}
	a.Extra = extra
	return nil
}

func (a AccountDetails) MarshalJSON() ([]byte, error) {
	type plain AccountDetails
	return marshalWithExtra(plain(a), a.Extra)
}

// Verdict is the decoded tokenPayloadExternal.
type Verdict struct {
	RequestDetails  *RequestDetails            `json:"requestDetails,omitempty"`
	AppIntegrity    *AppIntegrity              `json:"appIntegrity,omitempty"`
	DeviceIntegrity *DeviceIntegrity           `json:"deviceIntegrity,omitempty"`
	AccountDetails  *AccountDetails            `json:"accountDetails,omitempty"`
	Extra           map[string]json.RawMessage `json:"-"`
}

func (v *Verdict) UnmarshalJSON(b []byte) error {
	type plain Verdict
	extra, err := unmarshalWithExtra(b, (*plain)(v))
	if err != nil {
		return err
	}
	v.Extra = extra
	return nil
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	type plain Verdict
	return marshalWithExtra(plain(v), v.Extra)
}

// Nonce returns the echoed nonce, or "" when absent.
func (v *Verdict) Nonce() string {
	if v == nil || v.RequestDetails == nil {
		return ""
	}
	return v.RequestDetails.Nonce
}

// RequestPackageName returns the echoed package name, or "" when absent.
func (v *Verdict) RequestPackageName() string {
	if v == nil || v.RequestDetails == nil {
		return ""
	}
	return v.RequestDetails.RequestPackageName
}

// DeviceLabels returns the device recognition labels; nil when absent.
func (v *Verdict) DeviceLabels() []string {
	if v == nil || v.DeviceIntegrity == nil {
		return nil
	}
	return v.DeviceIntegrity.DeviceRecognitionVerdict
}

// MeetsDeviceIntegrity reports whether MEETS_DEVICE_INTEGRITY was granted.
func (v *Verdict) MeetsDeviceIntegrity() bool {
	return slices.Contains(v.DeviceLabels(), MeetsDeviceIntegrity)
}

// AppRecognition returns the app recognition label, or "" when absent.
func (v *Verdict) AppRecognition() string {
	if v == nil || v.AppIntegrity == nil {
		return ""
	}
	return v.AppIntegrity.AppRecognitionVerdict
}

// Licensing returns the app licensing label, or "" when absent.
func (v *Verdict) Licensing() string {
	if v == nil || v.AccountDetails == nil {
		return ""
	}
	return v.AccountDetails.AppLicensingVerdict
}

// DecodeResponse is the authority's response body for decodeIntegrityToken.
type DecodeResponse struct {
	TokenPayloadExternal *Verdict                   `json:"tokenPayloadExternal,omitempty"`
	Extra                map[string]json.RawMessage `json:"-"`
}

func (d *DecodeResponse) UnmarshalJSON(b []byte) error {
	type plain DecodeResponse
	extra, err := unmarshalWithExtra(b, (*plain)(d))
	if err != nil {
		return err
	}
	d.Extra = extra
	return nil
}

func (d DecodeResponse) MarshalJSON() ([]byte, error) {
	type plain DecodeResponse
	return marshalWithExtra(plain(d), d.Extra)
}

// Verdict returns the decoded payload; nil when the response carried none.
func (d *DecodeResponse) Verdict() *Verdict {
	if d == nil {
		return nil
	}
	return d.TokenPayloadExternal
}

// ParseDecodeResponse decodes a raw decodeIntegrityToken response body.
func ParseDecodeResponse(body []byte) (*DecodeResponse, error) {
	var resp DecodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse decode response: %w", err)
	}
	return &resp, nil
}

package integrity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstreamBody = `{
  "tokenPayloadExternal": {
    "requestDetails": {
      "requestPackageName": "com.islab.rootbeer",
      "nonce": "xyz123",
      "timestampMillis": "1617893780000",
      "requestHash": ""
    },
    "appIntegrity": {
      "appRecognitionVerdict": "PLAY_RECOGNIZED",
      "packageName": "com.islab.rootbeer",
      "versionCode": "42"
    },
    "deviceIntegrity": {
      "deviceRecognitionVerdict": ["MEETS_DEVICE_INTEGRITY"],
      "recentDeviceActivity": {"deviceActivityLevel": "LEVEL_1"}
    },
    "accountDetails": {"appLicensingVerdict": "LICENSED"},
    "environmentDetails": {"playProtectVerdict": "NO_ISSUES"}
  },
  "traceId": "abc"
}`

func TestParseDecodeResponse_TypedFields(t *testing.T) {
	resp, err := ParseDecodeResponse([]byte(upstreamBody))
	require.NoError(t, err)

	v := resp.Verdict()
	require.NotNil(t, v)
	assert.Equal(t, "xyz123", v.Nonce())
	assert.Equal(t, "com.islab.rootbeer", v.RequestPackageName())
	assert.True(t, v.MeetsDeviceIntegrity())
	assert.Equal(t, PlayRecognized, v.AppRecognition())
	assert.Equal(t, Licensed, v.Licensing())
	assert.Equal(t, int64(1617893780000), v.RequestDetails.TimestampMillis.Time().UnixMilli())
}

func TestDecodeResponse_PreservesUnknownFields(t *testing.T) {
	resp, err := ParseDecodeResponse([]byte(upstreamBody))
	require.NoError(t, err)

	out, err := json.Marshal(resp)
	require.NoError(t, err)

	var want, got any
	require.NoError(t, json.Unmarshal([]byte(upstreamBody), &want))
	require.NoError(t, json.Unmarshal(out, &got))

	// Everything survives, including keys the typed view never declares and
	// the empty requestHash.
	assert.Equal(t, want, got)
}

func TestVerdict_EmptyDeclaredFieldsSurviveReencode(t *testing.T) {
	in := `{"deviceIntegrity":{"deviceRecognitionVerdict":[]},"requestDetails":{"nonce":"n","timestampMillis":"0"}}`

	var v Verdict
	require.NoError(t, json.Unmarshal([]byte(in), &v))
	assert.False(t, v.MeetsDeviceIntegrity())
	assert.Empty(t, v.DeviceLabels())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestVerdict_TypedValueWinsOverEmptyOriginal(t *testing.T) {
	var v Verdict
	require.NoError(t, json.Unmarshal([]byte(`{"deviceIntegrity":{"deviceRecognitionVerdict":[]}}`), &v))
	v.DeviceIntegrity.DeviceRecognitionVerdict = []string{MeetsBasicIntegrity}

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceIntegrity":{"deviceRecognitionVerdict":["MEETS_BASIC_INTEGRITY"]}}`, string(out))
}

func TestMillis_AcceptsNumber(t *testing.T) {
	var rd RequestDetails
	require.NoError(t, json.Unmarshal([]byte(`{"nonce":"n","timestampMillis":1700000000000}`), &rd))
	assert.Equal(t, Millis(1700000000000), rd.TimestampMillis)
}

func TestVerdictAccessors_NilSafe(t *testing.T) {
	var v *Verdict
	assert.Empty(t, v.Nonce())
	assert.Nil(t, v.DeviceLabels())
	assert.False(t, v.MeetsDeviceIntegrity())
	assert.Empty(t, v.AppRecognition())
	assert.Empty(t, v.Licensing())

	var resp *DecodeResponse
	assert.Nil(t, resp.Verdict())
}

func TestNewRootReport_RootedIsLogicalOr(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	checks := []SubCheck{
		{Key: "checkForSuBinary", Description: "su binary present", Detected: false},
		{Key: "checkForMagiskBinary", Description: "Magisk binary present", Detected: true},
	}

	r := NewRootReport(false, checks, now)
	assert.True(t, r.Rooted, "a fired sub-check must mark the device rooted even when the aggregate says no")
	assert.Equal(t, []string{"Magisk binary present"}, r.TriggeredChecks)
	assert.Equal(t, now.UnixMilli(), r.TimestampMs)

	clean := NewRootReport(false, []SubCheck{{Key: "k", Description: "d"}}, now)
	assert.False(t, clean.Rooted)
	assert.Empty(t, clean.TriggeredChecks)

	aggregateOnly := NewRootReport(true, nil, now)
	assert.True(t, aggregateOnly.Rooted)
}

func TestParseRootReport_Normalizes(t *testing.T) {
	r, err := ParseRootReport([]byte(`{"rooted":false,"subChecks":[{"key":"checkForSuBinary","description":"su binary present","detected":true}]}`))
	require.NoError(t, err)
	assert.True(t, r.Rooted)
	assert.Equal(t, []string{"su binary present"}, r.TriggeredChecks)

	_, err = ParseRootReport([]byte(`not json`))
	assert.Error(t, err)
}

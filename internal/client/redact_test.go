package client

import (
	"bytes"
	"strings"
	"testing"
)

const sampleIntegrityToken = "eyJhbGciOiJBMjU2S1ciLCJlbmMiOiJBMjU2R0NNIn0.d2VrZXk.aXY.Y2lwaGVydGV4dA.dGFn"

func TestRedactor_IntegrityToken(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor(&buf, nil)

	r.Write([]byte("I/IntegrityHelper: token=" + sampleIntegrityToken + " len=91\n"))
	r.Close()

	if strings.Contains(buf.String(), "eyJ") {
		t.Fatalf("token leaked: %q", buf.String())
	}
	if got, want := buf.String(), "I/IntegrityHelper: token=[REDACTED] len=91\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactor_ValueSplitAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor(&buf, []string{"ya29.access-token"})

	r.Write([]byte("Authorization: Bearer ya29.acc"))
	if buf.Len() != 0 {
		t.Fatalf("partial line emitted early: %q", buf.String())
	}
	r.Write([]byte("ess-token\nnext line\n"))
	r.Close()

	if got, want := buf.String(), "Authorization: Bearer [REDACTED]\nnext line\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactor_CloseFlushesPartialLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor(&buf, []string{"pairing-code-9911"})

	r.Write([]byte("adb pair pairing-code-9911"))
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, want := buf.String(), "adb pair [REDACTED]"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactor_ShortValuesAndPlainText(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor(&buf, []string{"", "1", "on"})

	r.Write([]byte("device online, 1 attached\n"))
	r.Close()

	if got, want := buf.String(), "device online, 1 attached\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactor_LongestValueWins(t *testing.T) {
	var buf bytes.Buffer
	r := NewRedactor(&buf, []string{"secret-abc", "secret-abc-extended"})

	r.Write([]byte("key=secret-abc-extended!\n"))
	r.Close()

	if got, want := buf.String(), "key=[REDACTED]!\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCredentialValues(t *testing.T) {
	entries := []EnvEntry{
		{Key: "VERITAS_RELAY_URL", Value: "https://relay.example"},
		{Key: "PLAY_ACCESS_TOKEN", Value: "ya29.x"},
		{Key: "adb_pairing_secret", Value: "123456"},
		{Key: "VERITAS_PACKAGE_NAME", Value: "com.example.veritas"},
	}
	got := CredentialValues(entries)
	if len(got) != 2 || got[0] != "ya29.x" || got[1] != "123456" {
		t.Fatalf("CredentialValues = %v", got)
	}
}

package client

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestParseEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := `# Comment
VERITAS_RELAY_URL=http://127.0.0.1:5179
VERITAS_PACKAGE_NAME="com.example.veritas"
SINGLE='single quoted'
export VERITAS_CLOUD_PROJECT_NUMBER=123456789
EMPTY=

# Another comment
`
	os.WriteFile(path, []byte(content), 0600)

	entries, err := ParseEnvFile(path)
	if err != nil {
		t.Fatalf("ParseEnvFile: %v", err)
	}

	expected := []EnvEntry{
		{Key: "VERITAS_RELAY_URL", Value: "http://127.0.0.1:5179"},
		{Key: "VERITAS_PACKAGE_NAME", Value: "com.example.veritas"},
		{Key: "SINGLE", Value: "single quoted"},
		{Key: "VERITAS_CLOUD_PROJECT_NUMBER", Value: "123456789"},
		{Key: "EMPTY", Value: ""},
	}

	if len(entries) != len(expected) {
		t.Fatalf("got %d entries, want %d", len(entries), len(expected))
	}

	for i, e := range entries {
		if e != expected[i] {
			t.Errorf("entry[%d] = {%q, %q}, want {%q, %q}", i, e.Key, e.Value, expected[i].Key, expected[i].Value)
		}
	}
}

func TestParseEnvFile_MissingEquals(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	os.WriteFile(path, []byte("BADLINE\n"), 0600)

	if _, err := ParseEnvFile(path); err == nil {
		t.Fatal("expected error for missing '='")
	}
}

func TestParseEnv_QuotingAndComments(t *testing.T) {
	in := strings.NewReader(`PLAY_ACCESS_TOKEN=ya29.abc # rotated weekly
VERITAS_ATTEST_ARGS="--device emulator-5554 \"quoted\""
LITERAL='no \n escapes'
MULTI="line1\nline2"
`)
	entries, err := ParseEnv(in)
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	want := []EnvEntry{
		{Key: "PLAY_ACCESS_TOKEN", Value: "ya29.abc"},
		{Key: "VERITAS_ATTEST_ARGS", Value: `--device emulator-5554 "quoted"`},
		{Key: "LITERAL", Value: `no \n escapes`},
		{Key: "MULTI", Value: "line1\nline2"},
	}
	if !slices.Equal(entries, want) {
		t.Fatalf("got %q, want %q", entries, want)
	}
}

func TestParseEnv_Rejects(t *testing.T) {
	for _, in := range []string{
		"1BAD=x\n",
		"BAD-KEY=x\n",
		"=x\n",
		"OPEN=\"unterminated\n",
	} {
		if _, err := ParseEnv(strings.NewReader(in)); err == nil {
			t.Errorf("ParseEnv(%q) accepted", in)
		}
	}
}

func TestApplyEnvFile_ExistingWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("VERITAS_TEST_A=from-file\nVERITAS_TEST_B=from-file\n"), 0600)

	t.Setenv("VERITAS_TEST_A", "from-env")
	t.Setenv("VERITAS_TEST_B", "")
	os.Unsetenv("VERITAS_TEST_B")

	if _, err := ApplyEnvFile(path); err != nil {
		t.Fatalf("ApplyEnvFile: %v", err)
	}
	if got := os.Getenv("VERITAS_TEST_A"); got != "from-env" {
		t.Errorf("VERITAS_TEST_A = %q, want from-env", got)
	}
	if got := os.Getenv("VERITAS_TEST_B"); got != "from-file" {
		t.Errorf("VERITAS_TEST_B = %q, want from-file", got)
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "VERITAS_NONCE=stale"}
	got := MergeEnv(base, []EnvEntry{
		{Key: "VERITAS_NONCE", Value: "fresh"},
		{Key: "EXTRA", Value: "1"},
	})
	want := []string{"PATH=/usr/bin", "HOME=/root", "VERITAS_NONCE=fresh", "EXTRA=1"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

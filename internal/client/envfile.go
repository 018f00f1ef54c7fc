package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EnvEntry represents a single KEY=VALUE pair.
type EnvEntry struct {
	Key   string
	Value string
}

// ParseEnvFile reads a .env file. See ParseEnv for the accepted syntax.
func ParseEnvFile(path string) ([]EnvEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	entries, err := ParseEnv(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

// ParseEnv parses KEY=VALUE lines. Blank lines and # comments are skipped and
// an "export " prefix is allowed. Values may be single quoted (taken
// literally) or double quoted (\n, \" and \\ are unescaped). An unquoted
// value ends at " #".
func ParseEnv(r io.Reader) ([]EnvEntry, error) {
	var entries []EnvEntry
	sc := bufio.NewScanner(r)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: missing '='", lineNum)
		}
		key = strings.TrimSpace(key)
		if !validEnvKey(key) {
			return nil, fmt.Errorf("line %d: invalid key %q", lineNum, key)
		}
		value, err := envValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNum, key, err)
		}
		entries = append(entries, EnvEntry{Key: key, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	return entries, nil
}

func validEnvKey(k string) bool {
	if k == "" || (k[0] >= '0' && k[0] <= '9') {
		return false
	}
	for _, r := range k {
		if r != '_' && (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func envValue(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	switch q := v[0]; q {
	case '\'', '"':
		end := strings.LastIndexByte(v, q)
		if end == 0 {
			return "", errors.New("unterminated quote")
		}
		inner := v[1:end]
		if q == '"' {
			inner = strings.NewReplacer(`\n`, "\n", `\"`, `"`, `\\`, `\`).Replace(inner)
		}
		return inner, nil
	}
	if i := strings.Index(v, " #"); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v, nil
}

// ApplyEnvFile loads path into the process environment. Variables that are
// already set win, so flags and exported values override the file.
func ApplyEnvFile(path string) ([]EnvEntry, error) {
	entries, err := ParseEnvFile(path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if _, set := os.LookupEnv(e.Key); set {
			continue
		}
		if err := os.Setenv(e.Key, e.Value); err != nil {
			return nil, fmt.Errorf("set %s: %w", e.Key, err)
		}
	}
	return entries, nil
}

var credentialKeyHints = []string{"TOKEN", "SECRET", "PASSWORD", "API_KEY", "PRIVATE_KEY", "CREDENTIAL"}

// CredentialValues returns the values of entries whose key names a
// credential, for redaction in helper output.
func CredentialValues(entries []EnvEntry) []string {
	var out []string
	for _, e := range entries {
		key := strings.ToUpper(e.Key)
		for _, hint := range credentialKeyHints {
			if strings.Contains(key, hint) {
				out = append(out, e.Value)
				break
			}
		}
	}
	return out
}

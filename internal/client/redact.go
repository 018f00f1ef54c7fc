package client

import (
	"bytes"
	"io"
	"regexp"
	"sync"

	aho "github.com/petar-dambovaliev/aho-corasick"
)

const redacted = "[REDACTED]"

// Values shorter than this ("1", "on", a package name suffix) are not worth
// the collateral damage of masking them.
const minRedactLen = 6

// compactToken matches a JWS or JWE compact serialization: an integrity
// token or an OAuth ID token echoed by an attestation helper.
var compactToken = regexp.MustCompile(`eyJ[A-Za-z0-9_-]{8,}(?:\.[A-Za-z0-9_-]*){2,4}`)

// Redactor is a line-buffered io.Writer that hides integrity tokens and
// configured credential values in a helper's diagnostic output before it
// reaches the terminal. Attestation helpers commonly dump logcat or HTTP
// traces, and those carry bearer material that a replayer could use.
type Redactor struct {
	mu      sync.Mutex
	out     io.Writer
	values  *aho.AhoCorasick
	pending []byte
}

// NewRedactor returns a Redactor over out. Compact tokens are always masked;
// values adds literal strings such as access tokens loaded from an env file.
func NewRedactor(out io.Writer, values []string) *Redactor {
	r := &Redactor{out: out}
	var keep []string
	for _, v := range values {
		if len(v) >= minRedactLen {
			keep = append(keep, v)
		}
	}
	if len(keep) > 0 {
		builder := aho.NewAhoCorasickBuilder(aho.Opts{MatchKind: aho.LeftMostLongestMatch})
		m := builder.Build(keep)
		r.values = &m
	}
	return r
}

// Write emits every complete line, redacted, and holds back a trailing
// partial line until the next newline or Close.
func (r *Redactor) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, p...)
	cut := bytes.LastIndexByte(r.pending, '\n')
	if cut < 0 {
		return len(p), nil
	}
	line := r.pending[:cut+1]
	if _, err := r.out.Write(r.redact(line)); err != nil {
		return 0, err
	}
	r.pending = append(r.pending[:0], r.pending[cut+1:]...)
	return len(p), nil
}

// Close flushes whatever partial line is left. It does not close out.
func (r *Redactor) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pending) == 0 {
		return nil
	}
	_, err := r.out.Write(r.redact(r.pending))
	r.pending = r.pending[:0]
	return err
}

func (r *Redactor) redact(b []byte) []byte {
	s := string(b)
	if r.values != nil {
		var sb bytes.Buffer
		pos := 0
		for _, m := range r.values.FindAll(s) {
			if m.Start() < pos {
				continue
			}
			sb.WriteString(s[pos:m.Start()])
			sb.WriteString(redacted)
			pos = m.End()
		}
		sb.WriteString(s[pos:])
		s = sb.String()
	}
	return []byte(compactToken.ReplaceAllLiteralString(s, redacted))
}

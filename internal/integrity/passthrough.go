package integrity

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

var knownKeysCache sync.Map // reflect.Type -> map[string]struct{}

// knownKeys returns the JSON object keys declared by the exported fields of t.
func knownKeys(t reflect.Type) map[string]struct{} {
	if cached, ok := knownKeysCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	keys := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		keys[name] = struct{}{}
	}
	knownKeysCache.Store(t, keys)
	return keys
}

// unmarshalWithExtra decodes data into v and returns every top-level key that
// v's type does not declare, plus declared keys that were present with an
// empty value. The latter would otherwise vanish under omitempty on
// re-encode. T must not implement json.Unmarshaler itself.
func unmarshalWithExtra[T any](data []byte, v *T) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	known := knownKeys(reflect.TypeOf(*v))
	var extra map[string]json.RawMessage
	for k, raw := range all {
		if _, ok := known[k]; ok && !emptyJSON(raw) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = raw
	}
	return extra, nil
}

// emptyJSON reports whether raw is a value omitempty drops, or the string
// form of a zero int64 the authority sends for unset timestamps.
func emptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case `""`, `[]`, `{}`, `0`, `"0"`, `false`, `null`:
		return true
	}
	return false
}

// marshalWithExtra encodes v and merges extra keys back in. Typed fields win
// over extra keys with the same name.
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = raw
		}
	}
	return json.Marshal(merged)
}

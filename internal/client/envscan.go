package client

import "strings"

// MergeEnv layers entries over base (KEY=VALUE pairs, as from os.Environ).
// An entry replaces the base value in place; new keys are appended in order.
func MergeEnv(base []string, entries []EnvEntry) []string {
	out := make([]string, 0, len(base)+len(entries))
	pos := make(map[string]int, len(base)+len(entries))

	set := func(key, kv string) {
		if i, ok := pos[key]; ok {
			out[i] = kv
			return
		}
		pos[key] = len(out)
		out = append(out, kv)
	}
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		set(key, kv)
	}
	for _, e := range entries {
		set(e.Key, e.Key+"="+e.Value)
	}
	return out
}

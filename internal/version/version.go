// Package version reports what build of the relay or CLI is running.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/aspect-build/veritas/internal/version.Version=0.1.0"
// (and .GitCommit). When left unset, the VCS stamp embedded by the go
// toolchain is used for the commit.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Info is served by the relay's /version route.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

var (
	infoOnce sync.Once
	info     Info
)

// Get returns the build's Info.
func Get() Info {
	infoOnce.Do(func() {
		info = resolve(Version, GitCommit, debug.ReadBuildInfo)
	})
	return info
}

func resolve(ver, commit string, read func() (*debug.BuildInfo, bool)) Info {
	out := Info{
		Version:   ver,
		Commit:    commit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	bi, ok := read()
	if !ok {
		return out
	}
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "unknown" {
				out.Commit = s.Value
				if len(out.Commit) > 12 {
					out.Commit = out.Commit[:12]
				}
			}
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}
	return out
}

// String returns a one-line description for --version output.
func String(binaryName string) string {
	i := Get()
	commit := i.Commit
	if i.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("%s %s (commit=%s, go=%s, %s)", binaryName, i.Version, commit, i.GoVersion, i.Platform)
}

// UserAgent is sent by the relay and the CLI on outbound requests.
func UserAgent(component string) string {
	return fmt.Sprintf("veritas-%s/%s", component, Get().Version)
}

// Package version reports the dnscap build version.
//
// Release builds set the variables through ldflags:
//
//	go build -ldflags "-X github.com/InfraSecConsult/dnscap-go/internal/version.Version=v1.0.0" ./cmd/dnscap
//
// Without ldflags the version comes from a VERSION file, then from the module
// build info embedded by the Go toolchain, and finally defaults to "dev".
package version

import (
	"os"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set at build time via ldflags.
var (
	Version    = ""
	CommitHash = ""
	BuildTime  = ""
)

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info is the build information printed by "dnscap version".
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// GetVersion returns the application version.
func GetVersion() string {
	if Version != "" {
		return Version
	}

	for _, path := range []string{"VERSION", "../VERSION", "../../VERSION"} {
		if content, err := os.ReadFile(path); err == nil {
			if v := strings.TrimSpace(string(content)); v != "" {
				return v
			}
		}
	}

	if bi, ok := readBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		return bi.Main.Version
	}
	return "dev"
}

// commit prefers the ldflags hash and falls back to the VCS revision stamped
// by the toolchain.
func commit() string {
	if CommitHash != "" {
		return CommitHash
	}
	bi, ok := readBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

// GetFullVersion returns the version with the commit hash if known.
func GetFullVersion() string {
	v := GetVersion()
	if c := commit(); c != "" {
		v += "+" + c
	}
	return v
}

// GetBuildInfo collects all build information.
func GetBuildInfo() Info {
	return Info{
		Version:    GetVersion(),
		CommitHash: commit(),
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

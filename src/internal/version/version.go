// FILE: src/internal/version/version.go
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is set at compile time via -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Returns a formatted version string
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Short(), commit(), BuildTime, runtime.Version())
}

// Returns just the version tag
func Short() string {
	return Version
}

// UserAgent identifies a towl component on the wire, e.g. "towl-forward/1.2.0"
func UserAgent(component string) string {
	return component + "/" + Version
}

// Falls back to the VCS revision embedded by the go tool
func commit() string {
	if GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 12 {
				return s.Value[:12]
			}
		}
	}
	return GitCommit
}

// Package version exposes build metadata injected via ldflags:
//
//	go build -ldflags "-X github.com/teamcutter/ublock-chrome/internal/version.Version=v0.1.0"
package version

import "fmt"

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func Short() string {
	return Version
}

// Full returns the version with commit and build time.
func Full() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime)
}

// Package buildconfig exposes build metadata injected at link time:
//
//	go build -ldflags "-X github.com/silohq/silo/internal/buildconfig.version=v1.2.0 \
//	  -X github.com/silohq/silo/internal/buildconfig.commit=$(git rev-parse --short HEAD) \
//	  -X github.com/silohq/silo/internal/buildconfig.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildconfig

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Version returns the build version.
func Version() string {
	return version
}

// Commit returns the git commit hash.
func Commit() string {
	return commit
}

// String returns a single-line description for startup logs.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", version, commit, date)
}

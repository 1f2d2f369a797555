// Package version exposes build metadata injected at link time.
package version

// Set via -ldflags, e.g.
// -X github.com/tapestry-ai/tapestry/pkg/version.Version=v0.3.0
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

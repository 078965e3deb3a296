// Package version holds build metadata injected at link time via -ldflags.
package version

// Version is the semantic version of the build, set via
// -ldflags "-X github.com/waddlebot/router/internal/version.Version=...".
var Version = "dev"

// Commit is the git commit SHA of the build.
var Commit = "unknown"

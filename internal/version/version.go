// Package version holds build-time version information, set via -ldflags at
// release build time (e.g. -X github.com/sercanarga/pcifuzz/internal/version.Version=v1.2.3).
package version

// Version is the tool's version string. It defaults to "dev" for local/source
// builds and is overridden by the release build's linker flags.
var Version = "dev"

// Commit is the VCS commit hash, set the same way as Version.
var Commit = "unknown"

// Package version holds build identification, overridden at link time:
//
//	go build -ldflags "-X github.com/evcraddock/automark/internal/version.Version=v1.2.3"
package version

var (
	// Version is the release tag or "dev" for local builds.
	Version = "dev"
	// Commit is the short git hash of the build.
	Commit = "unknown"
)

// String returns the human-readable version line.
func String() string {
	return Version + " (" + Commit + ")"
}

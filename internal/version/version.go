// Package version exposes the build version, set at link time with
// -ldflags "-X github.com/FenadoAI/autopilot/internal/version.Version=..."
package version

// Version of the running binary
var Version = "dev"

// Package version holds build information set through ldflags.
package version

// Version is the release version, e.g. v1.2.0, or a -dev suffix for local
// builds.
var Version = "v0.9.0-dev"

// BuildTime is the build timestamp.
var BuildTime = "unknown"

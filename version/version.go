// Package version holds the release version, set at build time with
// -ldflags "-X github.com/born-ml/perceiver/version.Version=...".
package version

var Version = "0.0.0"

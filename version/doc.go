// Package version reports the build of a discoverykit binary.
//
// Release builds stamp it with -ldflags:
//
//	go build -ldflags "-X github.com/kbukum/discoverykit/version.Version=1.4.0" ./cmd/discoveryd
//
// Unstamped builds fall back to the VCS data the Go toolchain embeds.
package version

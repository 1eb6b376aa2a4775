// Package version reports the engine build.
//
// Version, commit and build time are set at compile time:
//
//	go build -ldflags "-X github.com/kbukum/flowkit/version.Version=1.0.0" ./cmd/flowrun
package version

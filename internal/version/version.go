// ABOUTME: Build and product identification
// ABOUTME: Version is overridden at link time with -ldflags "-X"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version of this build.
var Version = "0.1.0-dev"

// Product name reported in telemetry and the CLI.
const Product = "hearme"

// Commit returns the VCS revision embedded by the Go toolchain, if any.
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

// String is the one-line version banner.
func String() string {
	s := fmt.Sprintf("%s %s (%s %s/%s)", Product, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if c := Commit(); c != "" {
		s += " " + c
	}
	return s
}

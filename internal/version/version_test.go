// ABOUTME: Tests for version information
// ABOUTME: Ensures the banner carries product, version and platform
package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionDefined(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if len(Version) > 100 {
		t.Error("Version string is unreasonably long")
	}
}

func TestVersionNotPlaceholder(t *testing.T) {
	for _, placeholder := range []string{"TODO", "FIXME", "XXX", "placeholder"} {
		if Version == placeholder {
			t.Errorf("Version should not be placeholder value: %s", placeholder)
		}
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, want := range []string{Product, Version, runtime.GOOS} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

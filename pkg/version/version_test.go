package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abc"}
	if s := v.String(); s != "Version: 1.2.3-rc1\nBuild: abc" {
		t.Fatalf("bad version string %q", s)
	}
	if !strings.HasPrefix(KviewVersion.String(), "Version: 0.3.0") {
		t.Fatalf("bad version string %q", KviewVersion.String())
	}
}

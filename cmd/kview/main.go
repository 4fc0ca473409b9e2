package main

import (
	"os"

	"github.com/kview/kview/cmd/kview/cmds"
	"github.com/kview/kview/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.KviewVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}

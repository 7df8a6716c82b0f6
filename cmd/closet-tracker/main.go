// closet-tracker - upload progress tracker for ClosetConnect
package main

import (
	"os"

	"github.com/closetconnect/closet-tracker/internal/cli"
	"github.com/closetconnect/closet-tracker/internal/version"
)

// Set with -ldflags at release time.
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

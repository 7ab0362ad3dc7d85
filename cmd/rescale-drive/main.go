// rescale-drive browses and transfers files in a hierarchical remote store.
package main

import (
	"os"

	"github.com/rescale/rescale-drive/internal/cli"
	"github.com/rescale/rescale-drive/internal/version"
)

// Set through -ldflags "-X main.Version=... -X main.BuildTime=...".
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

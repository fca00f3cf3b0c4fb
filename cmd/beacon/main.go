// Package main provides the entrypoint for the beacon CLI.
package main

import (
	"fmt"
	"os"

	"walletbeacon.dev/go/beacon/internal/cli"
)

// Overridden through ldflags by release builds.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version)
	cli.SetBuildInfo(commit, buildDate)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

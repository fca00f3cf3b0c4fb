package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Overridden through ldflags by release builds.
var (
	commit    = "unknown"
	buildDate = "unknown"
)

var versionFull bool

// SetBuildInfo records the ldflags build metadata.
func SetBuildInfo(c, d string) {
	commit = c
	buildDate = d
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "also print build metadata and module versions")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the beacon version",
	Run:   runVersion,
}

func runVersion(cmd *cobra.Command, args []string) {
	fmt.Printf("beacon %s\n", version)
	if !versionFull {
		return
	}

	fmt.Printf("commit %s, built %s\n", buildCommit(), buildTime())
	fmt.Printf("%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	fmt.Println("modules:")
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			fmt.Printf("  %s %s (replaced by %s %s)\n", dep.Path, dep.Version, dep.Replace.Path, dep.Replace.Version)
			continue
		}
		fmt.Printf("  %s %s\n", dep.Path, dep.Version)
	}
}

func buildCommit() string {
	if commit != "unknown" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return abbrevRevision(setting.Value)
			}
		}
	}
	return commit
}

func buildTime() string {
	if buildDate != "unknown" {
		return buildDate
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.time" {
				return setting.Value
			}
		}
	}
	return buildDate
}

func abbrevRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

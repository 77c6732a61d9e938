package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Actual version can be specified in build command.
var version = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("%s version: %s\n", appName, version)

		if verbose, _ := cmd.Flags().GetBool("verbose"); !verbose {
			return
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Printf("go: %s\nmodule: %s\n", info.GoVersion, info.Main.Path)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolP("verbose", "v", false, "also print the go version and module path")
}

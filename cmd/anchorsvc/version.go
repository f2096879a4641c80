package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the anchorsvc release version, set at build time via
// -ldflags for tagged releases.
var Version = "0.1.0-dev"

func commandVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("anchorsvc %s %s %s/%s\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

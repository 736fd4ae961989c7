package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the vastd build version, set by -ldflags at build time.
var Version = "edge"

func initVersion(root *cobra.Command) {
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Print the version of vastd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(os.Stdout, "Version:", Version)
			fmt.Fprintln(os.Stdout, "Go Version:", runtime.Version())
			fmt.Fprintln(os.Stdout, "Platform:", runtime.GOOS+"/"+runtime.GOARCH)
		},
	}
	root.AddCommand(versionCommand)
}

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/teamcutter/ublock-chrome/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of ublock-chrome",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s%s %s%s%s\n", bold("ublock-chrome"), bold("-"), bold(version.Short()),
				dim(runtime.GOOS), dim("/"), dim(runtime.GOARCH))
			fmt.Fprintln(cmd.OutOrStdout(), dim(version.Full()))
		},
	}
}

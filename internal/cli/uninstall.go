package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the extension, the launcher and all cached downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			res, err := mgr.Uninstall(cmd.Context())
			if res == nil {
				return err
			}
			for _, path := range res.Removed {
				fmt.Printf("%s removed %s\n", green("✓"), path)
			}
			for _, path := range res.Absent {
				fmt.Printf("%s %s %s\n", dim("○"), path, dim("(not present)"))
			}
			if err != nil {
				return err
			}

			if len(res.Removed) == 0 {
				fmt.Printf("\n%s Nothing to uninstall\n", dim("○"))
				return nil
			}
			fmt.Printf("\n%s Uninstalled (%s freed from cache)\n", green("✓"), formatSize(res.Freed))
			return nil
		},
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the download cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			size, err := mgr.ClearCache(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			fmt.Printf("%s Cache cleared (%s freed)\n", green("✓"), formatSize(size))
			return nil
		},
	}
}

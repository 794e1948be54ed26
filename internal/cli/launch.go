package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLaunchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch",
		Short: "Restart Chrome with uBlock Origin loaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			stop := withSpinner(cmd.Context(), "Relaunching Chrome...")
			res, err := mgr.Launch(cmd.Context())
			stop()
			if err != nil {
				return err
			}

			if res.LauncherRebuilt {
				fmt.Printf("%s launcher was out of date and has been rebuilt\n", yellow("!"))
			}
			if res.WasRunning {
				fmt.Printf("%s closed running Chrome\n", dim("○"))
			}
			fmt.Printf("%s Chrome started with %s\n", green("✓"), bold(res.Spec.ExtensionDir))
			return nil
		},
	}
}

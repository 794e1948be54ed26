package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/ublock-chrome/internal/domain"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update uBlock Origin to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			res, err := mgr.Update(cmd.Context())
			if err != nil {
				return err
			}

			version := domain.FormatVersion(res.Release.Tag, res.Manifest.Version)
			if res.UpToDate {
				fmt.Printf("%s %s is up to date\n", green("✓"), bold(res.Manifest.Name+" "+version))
			} else {
				fmt.Printf("%s %s %s %s\n", green("✓"), bold(res.Manifest.Name),
					res.Previous, bold("→ "+version))
			}

			if res.LauncherRebuilt {
				fmt.Printf("  %s launcher rebuilt\n", yellow("!"))
			}
			if !res.UpToDate {
				fmt.Println(dim("Relaunch Chrome (ublock-chrome launch) to load the new version."))
			}
			return nil
		},
	}
}

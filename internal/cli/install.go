package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/manager"
)

func newInstallCmd() *cobra.Command {
	var opts manager.InstallOptions

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download uBlock Origin and create the Chrome (uBO) launcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SHA256, "sha256", "", "Expected SHA256 checksum of the release archive")
	return cmd
}

func runInstall(cmd *cobra.Command, opts manager.InstallOptions) error {
	mgr, cfg, err := newManager(cmd)
	if err != nil {
		return err
	}
	defer mgr.Close()

	res, err := mgr.Install(cmd.Context(), opts)
	if err != nil {
		return err
	}

	for _, name := range res.Recovered {
		fmt.Printf("%s %s rolled back an interrupted install\n", dim("○"), name)
	}

	action := "Installed"
	if res.Previous != "" {
		action = "Reinstalled"
		if res.Previous != res.Manifest.Version {
			action = fmt.Sprintf("Updated %s →", res.Previous)
		}
	}

	fmt.Printf("\n%s %s %s\n", green("✓"), action,
		bold(fmt.Sprintf("%s %s", res.Manifest.Name, domain.FormatVersion(res.Release.Tag, res.Manifest.Version))))
	fmt.Printf("  %s %s\n", cyan("extension:"), cfg.ExtensionDir)
	for _, app := range res.Launchers {
		fmt.Printf("  %s %s\n", cyan("launcher:"), app)
	}

	fmt.Printf("\nOpen %s from Applications or run %s to start Chrome with uBlock Origin.\n",
		bold("Chrome (uBO)"), bold("ublock-chrome launch"))
	fmt.Println(dim("Quitting Chrome and starting it normally unloads the extension again."))
	return nil
}

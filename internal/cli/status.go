package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teamcutter/ublock-chrome/internal/domain"
)

func newStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what is installed and whether an update is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := newManager(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			st, err := mgr.Status(cmd.Context(), offline)
			if err != nil {
				return err
			}

			if !st.Installed {
				fmt.Printf("%s uBlock Origin is not installed %s\n", dim("○"), dim("(run: ublock-chrome install)"))
			} else {
				tag := ""
				if st.Record != nil {
					tag = st.Record.Tag
				}
				line := fmt.Sprintf("%s %s", green("✓"), bold(st.Manifest.Name+" "+domain.FormatVersion(tag, st.Manifest.Version)))
				if st.UpdateAvailable() {
					line += fmt.Sprintf("  %s", yellow("↑ "+st.Latest.Tag))
				}
				fmt.Println(line)
				fmt.Printf("  %s %s\n", cyan("extension:"), cfg.ExtensionDir)
				if st.Record != nil {
					fmt.Printf("  %s %s\n", cyan("installed:"), st.Record.InstalledAt.Local().Format("2006-01-02 15:04"))
				}
			}

			fmt.Printf("  %s %s\n", cyan("launcher:"), launcherState(st.InstalledApp, st.LauncherInSync))

			switch {
			case st.Latest == nil && st.LatestErr != nil:
				fmt.Printf("  %s %s %v\n", cyan("latest:"), red("unknown"), st.LatestErr)
			case st.Latest != nil && st.LatestStale:
				fmt.Printf("  %s %s %s\n", cyan("latest:"), st.Latest.Tag, dim("(cached)"))
			case st.Latest != nil:
				fmt.Printf("  %s %s\n", cyan("latest:"), st.Latest.Tag)
			}

			running := "not running"
			if st.BrowserRunning {
				running = "running"
			}
			fmt.Printf("  %s %s\n", cyan("chrome:"), running)
			fmt.Printf("  %s %s\n", cyan("cache:"), formatSize(st.CacheSize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Do not query GitHub for the latest release")
	return cmd
}

func launcherState(present, inSync bool) string {
	switch {
	case !present:
		return red("missing")
	case !inSync:
		return yellow("out of date (run: ublock-chrome update)")
	default:
		return "ok"
	}
}

package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/teamcutter/ublock-chrome/internal/config"
)

func newConfigCmd() *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if write {
				if err := config.Save(cfg); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
				fmt.Fprintf(out, "%s wrote %s\n\n", green("✓"), cfg.ConfigFile)
			} else {
				fmt.Fprintf(out, "%s %s\n\n", cyan("file:"), cfg.ConfigFile)
			}

			return toml.NewEncoder(out).Encode(cfg)
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Save the effective configuration to the config file")
	return cmd
}

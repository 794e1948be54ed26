package cli

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/teamcutter/ublock-chrome/internal/browser"
	"github.com/teamcutter/ublock-chrome/internal/cache"
	"github.com/teamcutter/ublock-chrome/internal/config"
	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/extractor"
	"github.com/teamcutter/ublock-chrome/internal/fetcher"
	"github.com/teamcutter/ublock-chrome/internal/launcher"
	"github.com/teamcutter/ublock-chrome/internal/logger"
	"github.com/teamcutter/ublock-chrome/internal/manager"
	"github.com/teamcutter/ublock-chrome/internal/registry"
	"github.com/teamcutter/ublock-chrome/internal/state"
)

const maxBackoff = 10 * time.Second

func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ublock-chrome",
		Short: "Run uBlock Origin (MV2) in Google Chrome on macOS",
		Long: `ublock-chrome downloads the uBlock Origin Chromium build, creates the
"Chrome (uBO)" launcher app and relaunches Chrome with Manifest V2 support
and the extension loaded.

Running ublock-chrome without a command performs install.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(logger.WithKV(cmd.Context(), "command", cmd.Name()))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, manager.InstallOptions{})
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(
		newInstallCmd(),
		newUpdateCmd(),
		newLaunchCmd(),
		newUninstallCmd(),
		newStatusCmd(),
		newClearCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		return 2
	case errors.Is(err, domain.ErrNotInstalled):
		return 3
	default:
		return 1
	}
}

func newManager(cmd *cobra.Command) (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cmd, cfg)

	retry := fetcher.Retry{
		Attempts:   cfg.Retries,
		Backoff:    cfg.Backoff.Duration,
		MaxBackoff: maxBackoff,
	}
	client := &http.Client{Timeout: cfg.Timeout.Duration}

	mgr := manager.New(manager.Deps{
		Registry:  registry.NewGitHub(cfg.ReleaseAPI, cfg.AssetMatch, cfg.CacheDir, client, retry),
		Fetcher:   fetcher.New(cfg.CacheDir, cfg.Timeout.Duration, fetcher.WithRetry(retry), fetcher.WithClient(client)),
		Cache:     cache.New(cfg.CacheDir),
		Extractor: extractor.New(),
		Bundler:   launcher.New(),
		Browser:   browser.New(cfg.ProcessName),
		State:     state.NewSQLite(cfg.StateFile, cfg.ManifestFile),
	}, manager.Settings{
		Paths: manager.Paths{
			InstallDir:   cfg.InstallDir,
			ExtensionDir: cfg.ExtensionDir,
			BuildApp:     cfg.BuildApp,
			InstalledApp: cfg.InstalledApp(),
			LockFile:     cfg.LockFile,
		},
		BrowserApp:  cfg.ChromeApp,
		ProcessName: cfg.ProcessName,
		GOOS:        runtime.GOOS,
		LockTimeout: cfg.LockTimeout.Duration,
	})

	return mgr, cfg, nil
}

func setupLogging(cmd *cobra.Command, cfg *config.Config) {
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(zapcore.DebugLevel)
		return
	}
	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/extractor"
	"github.com/teamcutter/ublock-chrome/internal/launcher"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

// ArtifactName keys the extension in the cache and the state store.
const ArtifactName = "ublock"

const lockRetryDelay = 100 * time.Millisecond

// Paths is the fixed on-disk layout.
type Paths struct {
	InstallDir   string
	ExtensionDir string
	BuildApp     string
	InstalledApp string
	LockFile     string
}

type Deps struct {
	Registry  domain.Registry
	Fetcher   domain.Fetcher
	Cache     domain.Cache
	Extractor domain.Extractor
	Bundler   domain.Bundler
	Browser   domain.Browser
	State     domain.State
}

type Settings struct {
	Paths       Paths
	BrowserApp  string
	ProcessName string
	GOOS        string
	LockTimeout time.Duration
}

type Manager struct {
	registry  domain.Registry
	fetcher   domain.Fetcher
	cache     domain.Cache
	extractor domain.Extractor
	bundler   domain.Bundler
	browser   domain.Browser
	state     domain.State

	paths       Paths
	browserApp  string
	processName string
	goos        string
	lockTimeout time.Duration
	now         func() time.Time
}

func New(deps Deps, s Settings) *Manager {
	return &Manager{
		registry:  deps.Registry,
		fetcher:   deps.Fetcher,
		cache:     deps.Cache,
		extractor: deps.Extractor,
		bundler:   deps.Bundler,
		browser:   deps.Browser,
		state:     deps.State,

		paths:       s.Paths,
		browserApp:  s.BrowserApp,
		processName: s.ProcessName,
		goos:        s.GOOS,
		lockTimeout: s.LockTimeout,
		now:         time.Now,
	}
}

// Spec is the launch configuration every launcher and browser start uses.
func (m *Manager) Spec() domain.LaunchSpec {
	return launcher.Spec(m.browserApp, m.processName, m.paths.ExtensionDir)
}

func (m *Manager) Close() error {
	return m.state.Close()
}

func (m *Manager) checkPlatform() error {
	if m.goos != "darwin" {
		return fmt.Errorf("%w: ublock-chrome is macOS-only (running on %s)", domain.ErrUnsupportedPlatform, m.goos)
	}
	return nil
}

func (m *Manager) checkBrowser() error {
	if _, err := os.Stat(m.browserApp); err != nil {
		return fmt.Errorf("%w: %s (install Chrome first or set chrome_app in the config file)", domain.ErrBrowserNotFound, m.browserApp)
	}
	return nil
}

// lock serializes mutating commands across processes.
func (m *Manager) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(m.paths.LockFile), 0755); err != nil {
		return nil, domain.FilesystemError("create lock directory", err)
	}

	fl := flock.New(m.paths.LockFile)

	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	ok, err := fl.TryLockContext(lctx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, domain.FilesystemError("acquire lock", err)
	}
	if !ok {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w (lock file %s)", domain.ErrLocked, m.paths.LockFile)
	}

	logger.DebugKV(ctx, "acquired lock", "path", m.paths.LockFile)
	return func() {
		if err := fl.Unlock(); err != nil {
			logger.WarnKV(ctx, "failed to release lock", "error", err)
		}
	}, nil
}

// installedManifest returns the manifest of the extension on disk, or
// ErrNotInstalled.
func (m *Manager) installedManifest() (*domain.ExtensionManifest, error) {
	manifest, err := extractor.ReadManifest(m.paths.ExtensionDir)
	if errors.Is(err, extractor.ErrNoManifest) {
		return nil, fmt.Errorf("%w: uBlock Origin is not installed yet, run: ublock-chrome install", domain.ErrNotInstalled)
	}
	if err != nil {
		return nil, domain.FilesystemError("read installed manifest", err)
	}
	return manifest, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package manager

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

type Status struct {
	Installed      bool
	Manifest       *domain.ExtensionManifest
	Record         *domain.InstallRecord
	BuildApp       bool
	InstalledApp   bool
	LauncherInSync bool
	Latest         *domain.Release
	LatestStale    bool
	LatestErr      error
	BrowserRunning bool
	CacheSize      int64
}

// UpdateAvailable reports whether the latest known release is newer than the
// installed one.
func (s *Status) UpdateAvailable() bool {
	if !s.Installed || s.Latest == nil {
		return false
	}
	if s.Record != nil && s.Record.Tag == s.Latest.Tag {
		return false
	}
	return domain.CompareVersions(s.Latest.Tag, s.Manifest.Version) > 0
}

// Status inspects the installation without modifying it. With offline set the
// release cached by the last install is reported instead of querying GitHub.
func (m *Manager) Status(ctx context.Context, offline bool) (*Status, error) {
	st := &Status{
		BuildApp:     exists(m.paths.BuildApp),
		InstalledApp: exists(m.paths.InstalledApp),
	}

	if manifest, err := m.installedManifest(); err == nil {
		st.Installed = true
		st.Manifest = manifest
	}

	rec, err := m.state.Get(ArtifactName)
	if err != nil {
		return nil, domain.FilesystemError("read state", err)
	}
	st.Record = rec

	spec := m.Spec()
	st.LauncherInSync = m.bundler.InSync(spec, m.paths.BuildApp) && m.bundler.InSync(spec, m.paths.InstalledApp)

	if size, err := m.cache.Size(); err == nil {
		st.CacheSize = size
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if !offline {
			rel, err := m.latest(gctx)
			if err == nil {
				st.Latest = rel
				return nil
			}
			st.LatestErr = err
			logger.DebugKV(gctx, "latest release lookup failed", "error", err)
		}
		if rel, ok := m.registry.Cached(); ok {
			st.Latest = rel
			st.LatestStale = true
		}
		return nil
	})

	g.Go(func() error {
		running, err := m.browser.IsRunning(gctx)
		if err != nil {
			logger.DebugKV(gctx, "process lookup failed", "error", err)
			return nil
		}
		st.BrowserRunning = running
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

// ClearCache removes downloaded archives and returns the bytes freed.
func (m *Manager) ClearCache(ctx context.Context) (int64, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	size, err := m.cache.Size()
	if err != nil {
		return 0, domain.FilesystemError("measure cache", err)
	}
	if err := m.cache.Clear(); err != nil {
		return 0, domain.FilesystemError("clear cache", err)
	}
	return size, nil
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/extractor"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

type InstallOptions struct {
	// SHA256 overrides the digest published with the release.
	SHA256 string
}

type InstallResult struct {
	Release         *domain.Release
	Manifest        *domain.ExtensionManifest
	Previous        string
	UpToDate        bool
	LauncherRebuilt bool
	Launchers       []string
	Recovered       []string
}

// Install downloads the latest build into the extension directory and writes
// both launcher copies. Running it again converges to the same layout.
func (m *Manager) Install(ctx context.Context, opts InstallOptions) (*InstallResult, error) {
	if err := m.checkPlatform(); err != nil {
		return nil, err
	}
	if err := m.checkBrowser(); err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &InstallResult{}
	if result.Recovered, err = m.recover(ctx); err != nil {
		return nil, err
	}
	if prev, err := m.installedManifest(); err == nil {
		result.Previous = prev.Version
	}

	rel, err := m.latest(ctx)
	if err != nil {
		return nil, err
	}
	result.Release = rel

	sha := rel.SHA256
	if opts.SHA256 != "" {
		sha = opts.SHA256
	}

	staging, manifest, err := m.stage(ctx, rel, sha)
	if err != nil {
		return nil, err
	}
	if err := m.swap(ctx, staging); err != nil {
		return nil, err
	}
	result.Manifest = manifest

	if _, err := m.writeLauncher(ctx, true); err != nil {
		return nil, err
	}
	result.LauncherRebuilt = true
	result.Launchers = m.launchers()

	if err := m.commit(ctx, rel, sha, manifest); err != nil {
		return nil, err
	}

	return result, nil
}

// Update refreshes an existing installation. The installed version never
// decreases, and launchers are rewritten only when their content drifted.
func (m *Manager) Update(ctx context.Context) (*InstallResult, error) {
	if err := m.checkPlatform(); err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &InstallResult{}
	if result.Recovered, err = m.recover(ctx); err != nil {
		return nil, err
	}

	current, err := m.installedManifest()
	if err != nil {
		return nil, err
	}
	result.Previous = current.Version

	if err := m.checkBrowser(); err != nil {
		return nil, err
	}

	rel, err := m.latest(ctx)
	if err != nil {
		return nil, err
	}
	result.Release = rel

	rec, err := m.state.Get(ArtifactName)
	if err != nil {
		return nil, domain.FilesystemError("read state", err)
	}

	switch {
	case rec != nil && rec.Tag == rel.Tag:
		result.UpToDate = true
	case domain.CompareVersions(rel.Tag, current.Version) < 0:
		return nil, fmt.Errorf("%w: %s < %s", domain.ErrDowngrade, rel.Tag, current.Version)
	}

	result.Manifest = current
	if !result.UpToDate {
		staging, manifest, err := m.stage(ctx, rel, rel.SHA256)
		if err != nil {
			return nil, err
		}

		if domain.CompareVersions(manifest.Version, current.Version) < 0 {
			os.RemoveAll(staging)
			m.dropPending(ctx)
			return nil, fmt.Errorf("%w: %s < %s", domain.ErrDowngrade, manifest.Version, current.Version)
		}

		if err := m.swap(ctx, staging); err != nil {
			return nil, err
		}
		result.Manifest = manifest
	}

	if result.LauncherRebuilt, err = m.writeLauncher(ctx, false); err != nil {
		return nil, err
	}
	result.Launchers = m.launchers()

	if !result.UpToDate {
		if err := m.commit(ctx, rel, rel.SHA256, result.Manifest); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (m *Manager) latest(ctx context.Context) (*domain.Release, error) {
	rel, err := m.registry.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNetwork) {
			return nil, fmt.Errorf("resolve latest release: %w", err)
		}
		return nil, domain.NetworkError("resolve latest release", err)
	}
	logger.DebugKV(ctx, "resolved release", "tag", rel.Tag, "asset", rel.AssetName)
	return rel, nil
}

// archive returns a local copy of the release asset, downloading it only on
// a cache miss.
func (m *Manager) archive(ctx context.Context, rel *domain.Release, sha string) (string, error) {
	if m.cache.Has(ArtifactName, rel.Tag) {
		path := m.cache.GetPath(ArtifactName, rel.Tag)
		err := verifyCached(path, sha)
		if err == nil {
			logger.DebugKV(ctx, "using cached archive", "path", path)
			return path, nil
		}
		logger.WarnKV(ctx, "discarding cached archive", "path", path, "error", err)
		if err := m.cache.Remove(ArtifactName, rel.Tag); err != nil {
			return "", domain.FilesystemError("evict cached archive", err)
		}
	}

	res := m.fetcher.Fetch(ctx, domain.Artifact{
		Name:        ArtifactName,
		Version:     rel.Tag,
		DownloadURL: rel.DownloadURL,
		SHA256:      sha,
	})
	if res.Error != nil {
		if errors.Is(res.Error, domain.ErrNetwork) || errors.Is(res.Error, domain.ErrFilesystem) || errors.Is(res.Error, domain.ErrChecksum) {
			return "", fmt.Errorf("download %s: %w", rel.AssetName, res.Error)
		}
		return "", domain.NetworkError("download "+rel.AssetName, res.Error)
	}

	path, err := m.cache.Store(ArtifactName, rel.Tag, res.Path)
	if err != nil {
		return "", domain.FilesystemError("cache archive", err)
	}
	return path, nil
}

// verifyCached checks a cached archive against sha. An empty sha accepts
// the archive as is.
func verifyCached(path, sha string) error {
	if sha == "" {
		return nil
	}
	actual, err := domain.FileSHA256(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, sha) {
		return fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksum, sha, actual)
	}
	return nil
}

// stage extracts the release next to the extension directory and returns the
// staging path with the manifest found there.
func (m *Manager) stage(ctx context.Context, rel *domain.Release, sha string) (string, *domain.ExtensionManifest, error) {
	archive, err := m.archive(ctx, rel, sha)
	if err != nil {
		return "", nil, err
	}

	staging := m.stagingDir()
	if err := os.RemoveAll(staging); err != nil {
		return "", nil, domain.FilesystemError("clean staging directory", err)
	}

	if err := m.state.BeginInstall(&domain.InstallRecord{
		Name:    ArtifactName,
		Tag:     rel.Tag,
		URL:     rel.DownloadURL,
		SHA256:  sha,
		Path:    staging,
		Version: rel.Tag,
	}); err != nil {
		return "", nil, domain.FilesystemError("record pending install", err)
	}

	fail := func(op string, err error) (string, *domain.ExtensionManifest, error) {
		os.RemoveAll(staging)
		m.dropPending(ctx)
		return "", nil, domain.FilesystemError(op, err)
	}

	logger.DebugKV(ctx, "extracting", "archive", archive, "dest", staging)
	if err := m.extractor.Extract(archive, staging); err != nil {
		return fail("extract "+rel.AssetName, err)
	}
	if err := extractor.Flatten(staging); err != nil {
		return fail("flatten extension", err)
	}
	manifest, err := extractor.ReadManifest(staging)
	if err != nil {
		return fail("validate extension", err)
	}

	return staging, manifest, nil
}

// swap replaces the extension directory with staging. The previous tree is
// parked aside until the new one is in place.
func (m *Manager) swap(ctx context.Context, staging string) error {
	dir := m.paths.ExtensionDir
	old := m.oldDir()

	if err := os.RemoveAll(old); err != nil {
		return domain.FilesystemError("clean previous extension", err)
	}

	hadOld := exists(dir)
	if hadOld {
		if err := os.Rename(dir, old); err != nil {
			return domain.FilesystemError("move previous extension aside", err)
		}
	}

	if err := os.Rename(staging, dir); err != nil {
		if hadOld {
			os.Rename(old, dir)
		}
		return domain.FilesystemError("install extension", err)
	}

	if err := os.RemoveAll(old); err != nil {
		logger.WarnKV(ctx, "failed to remove previous extension", "path", old, "error", err)
	}
	return nil
}

// writeLauncher renders the launcher into the build location and copies it
// into the applications folder. Without force it is a no-op while both copies
// match the rendered content.
func (m *Manager) writeLauncher(ctx context.Context, force bool) (bool, error) {
	spec := m.Spec()

	if !force && m.bundler.InSync(spec, m.paths.BuildApp) && m.bundler.InSync(spec, m.paths.InstalledApp) {
		logger.DebugKV(ctx, "launcher up to date", "path", m.paths.InstalledApp)
		return false, nil
	}

	if err := m.bundler.Build(spec, m.paths.BuildApp); err != nil {
		return false, domain.FilesystemError("build launcher", err)
	}
	if err := m.bundler.Install(m.paths.BuildApp, m.paths.InstalledApp); err != nil {
		return false, domain.FilesystemError("install launcher", err)
	}

	logger.InfoKV(ctx, "launcher written", "build", m.paths.BuildApp, "installed", m.paths.InstalledApp)
	return true, nil
}

func (m *Manager) commit(ctx context.Context, rel *domain.Release, sha string, manifest *domain.ExtensionManifest) error {
	rec := &domain.InstallRecord{
		Name:        ArtifactName,
		Tag:         rel.Tag,
		Version:     manifest.Version,
		URL:         rel.DownloadURL,
		SHA256:      sha,
		Path:        m.paths.ExtensionDir,
		Launchers:   m.launchers(),
		InstalledAt: m.now(),
	}
	if err := m.state.Add(rec); err != nil {
		return domain.FilesystemError("record install", err)
	}

	if err := m.cache.Prune(ArtifactName, rel.Tag); err != nil {
		logger.WarnKV(ctx, "failed to prune cache", "error", err)
	}
	return nil
}

// recover rolls back whatever an interrupted install left behind.
func (m *Manager) recover(ctx context.Context) ([]string, error) {
	names, err := m.state.Recover()
	if err != nil {
		return nil, domain.FilesystemError("recover interrupted install", err)
	}

	if !exists(m.paths.ExtensionDir) && exists(m.oldDir()) {
		if err := os.Rename(m.oldDir(), m.paths.ExtensionDir); err != nil {
			return nil, domain.FilesystemError("restore previous extension", err)
		}
		logger.WarnKV(ctx, "restored extension from interrupted swap", "path", m.paths.ExtensionDir)
	}

	for _, dir := range []string{m.stagingDir(), m.oldDir()} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, domain.FilesystemError("remove leftover "+dir, err)
		}
	}

	if len(names) > 0 {
		logger.WarnKV(ctx, "rolled back interrupted install", "names", names)
	}
	return names, nil
}

func (m *Manager) dropPending(ctx context.Context) {
	if _, err := m.state.Recover(); err != nil {
		logger.WarnKV(ctx, "failed to drop pending install", "error", err)
	}
}

func (m *Manager) launchers() []string {
	return []string{m.paths.BuildApp, m.paths.InstalledApp}
}

func (m *Manager) stagingDir() string {
	return m.paths.ExtensionDir + ".staging"
}

func (m *Manager) oldDir() string {
	return m.paths.ExtensionDir + ".old"
}

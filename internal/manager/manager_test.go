package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamcutter/ublock-chrome/internal/cache"
	"github.com/teamcutter/ublock-chrome/internal/config"
	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/extractor"
	"github.com/teamcutter/ublock-chrome/internal/launcher"
	"github.com/teamcutter/ublock-chrome/internal/state"
)

type fakeRegistry struct {
	mu    sync.Mutex
	rel   *domain.Release
	err   error
	calls int
}

func (r *fakeRegistry) Latest(context.Context) (*domain.Release, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	rel := *r.rel
	return &rel, nil
}

func (r *fakeRegistry) Cached() (*domain.Release, bool) {
	return nil, false
}

func (r *fakeRegistry) publish(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rel = &domain.Release{
		Tag:         version,
		AssetName:   "uBlock0_" + version + ".chromium.zip",
		DownloadURL: "https://example.invalid/uBlock0_" + version + ".chromium.zip",
	}
}

type fakeFetcher struct {
	dir   string
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, a domain.Artifact) domain.FetchResult {
	f.calls++
	if f.err != nil {
		return domain.FetchResult{Artifact: a.Name, Version: a.Version, Error: f.err}
	}

	data := extensionZip(a.Version)
	if sum := sha256.Sum256(data); a.SHA256 != "" && a.SHA256 != hex.EncodeToString(sum[:]) {
		return domain.FetchResult{Artifact: a.Name, Version: a.Version, Error: domain.ErrChecksum}
	}

	path := filepath.Join(f.dir, fmt.Sprintf("%s-%s.zip", a.Name, a.Version))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return domain.FetchResult{Error: err}
	}
	return domain.FetchResult{Artifact: a.Name, Version: a.Version, Path: path}
}

type fakeBrowser struct {
	running bool
	quits   int
	starts  []domain.LaunchSpec
}

func (b *fakeBrowser) IsRunning(context.Context) (bool, error) {
	return b.running, nil
}

func (b *fakeBrowser) Quit(context.Context) error {
	b.quits++
	b.running = false
	return nil
}

func (b *fakeBrowser) Start(_ context.Context, spec domain.LaunchSpec) error {
	b.starts = append(b.starts, spec)
	b.running = true
	return nil
}

func (b *fakeBrowser) calls() int {
	return b.quits + len(b.starts)
}

func extensionZip(version string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := []struct{ name, content string }{
		{"uBlock0.chromium/manifest.json", fmt.Sprintf(`{"name": "uBlock Origin", "version": %q, "manifest_version": 2}`, version)},
		{"uBlock0.chromium/js/start.js", "//"},
	}
	for _, f := range files {
		w, _ := zw.Create(f.name)
		w.Write([]byte(f.content))
	}
	zw.Close()
	return buf.Bytes()
}

type env struct {
	cfg      *config.Config
	registry *fakeRegistry
	fetcher  *fakeFetcher
	browser  *fakeBrowser
	manager  *Manager
}

func newEnv(t *testing.T, goos string) *env {
	t.Helper()

	root := t.TempDir()
	cfg := config.ForHome(filepath.Join(root, "home"), filepath.Join(root, "config"))
	cfg.ChromeApp = filepath.Join(root, "Google Chrome.app")
	require.NoError(t, os.MkdirAll(cfg.ChromeApp, 0755))

	downloads := filepath.Join(root, "downloads")
	require.NoError(t, os.MkdirAll(downloads, 0755))

	e := &env{
		cfg:      cfg,
		registry: &fakeRegistry{},
		fetcher:  &fakeFetcher{dir: downloads},
		browser:  &fakeBrowser{},
	}
	e.registry.publish("1.62.0")

	st := state.NewSQLite(cfg.StateFile, cfg.ManifestFile)
	t.Cleanup(func() { st.Close() })

	e.manager = New(Deps{
		Registry:  e.registry,
		Fetcher:   e.fetcher,
		Cache:     cache.New(cfg.CacheDir),
		Extractor: extractor.New(),
		Bundler:   launcher.New(),
		Browser:   e.browser,
		State:     st,
	}, Settings{
		Paths: Paths{
			InstallDir:   cfg.InstallDir,
			ExtensionDir: cfg.ExtensionDir,
			BuildApp:     cfg.BuildApp,
			InstalledApp: cfg.InstalledApp(),
			LockFile:     cfg.LockFile,
		},
		BrowserApp:  cfg.ChromeApp,
		ProcessName: "Google Chrome",
		GOOS:        goos,
		LockTimeout: time.Second,
	})
	return e
}

func (e *env) installedVersion(t *testing.T) string {
	t.Helper()
	manifest, err := extractor.ReadManifest(e.cfg.ExtensionDir)
	require.NoError(t, err)
	return manifest.Version
}

func TestInstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	res, err := e.manager.Install(context.Background(), InstallOptions{})
	require.NoError(t, err)

	require.Equal(t, "1.62.0", res.Manifest.Version)
	require.Empty(t, res.Previous)
	require.Equal(t, "1.62.0", e.installedVersion(t))
	require.FileExists(t, filepath.Join(e.cfg.ExtensionDir, "js", "start.js"))
	require.NoDirExists(t, e.cfg.ExtensionDir+".staging")

	for _, app := range []string{e.cfg.BuildApp, e.cfg.InstalledApp()} {
		script, err := os.ReadFile(launcher.ScriptPath(app))
		require.NoError(t, err)
		require.Contains(t, string(script), launcher.LoadExtensionFlag+e.cfg.ExtensionDir)
	}

	rec, err := e.manager.state.Get(ArtifactName)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "1.62.0", rec.Tag)
	require.FileExists(t, e.cfg.ManifestFile)
	require.Zero(t, e.browser.calls())
}

func TestInstallIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	first, err := os.ReadFile(launcher.ScriptPath(e.cfg.InstalledApp()))
	require.NoError(t, err)

	res, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	require.Equal(t, "1.62.0", res.Previous)

	second, err := os.ReadFile(launcher.ScriptPath(e.cfg.InstalledApp()))
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, "1.62.0", e.installedVersion(t))
	require.Equal(t, 1, e.fetcher.calls, "second install should reuse the cached archive")
}

func TestInstallVerifiesCachedArchive(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	_, err = e.manager.Install(ctx, InstallOptions{SHA256: "deadbeef"})
	require.ErrorIs(t, err, domain.ErrChecksum)
	require.Equal(t, 2, e.fetcher.calls, "a mismatching cached archive must be downloaded again")
	require.Equal(t, "1.62.0", e.installedVersion(t))

	sum := sha256.Sum256(extensionZip("1.62.0"))
	_, err = e.manager.Install(ctx, InstallOptions{SHA256: hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	require.Equal(t, 3, e.fetcher.calls)

	_, err = e.manager.Install(ctx, InstallOptions{SHA256: hex.EncodeToString(sum[:])})
	require.NoError(t, err)
	require.Equal(t, 3, e.fetcher.calls, "a matching cached archive is reused")
}

func TestInstallUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "linux")
	_, err := e.manager.Install(context.Background(), InstallOptions{})
	require.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
	require.NoDirExists(t, e.cfg.InstallDir)
	require.Zero(t, e.registry.calls)
}

func TestInstallBrowserMissing(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	require.NoError(t, os.RemoveAll(e.cfg.ChromeApp))

	_, err := e.manager.Install(context.Background(), InstallOptions{})
	require.ErrorIs(t, err, domain.ErrBrowserNotFound)
	require.NoDirExists(t, e.cfg.InstallDir)
}

func TestInstallNetworkFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	e.registry.err = errors.New("dial tcp: connection refused")

	_, err := e.manager.Install(context.Background(), InstallOptions{})
	require.ErrorIs(t, err, domain.ErrNetwork)
	require.NoDirExists(t, e.cfg.ExtensionDir)
	require.NoDirExists(t, e.cfg.InstalledApp())
}

func TestInstallDownloadFailureKeepsPreviousExtension(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	e.registry.publish("1.63.0")
	e.fetcher.err = domain.NetworkError("GET", errors.New("timeout"))

	_, err = e.manager.Install(ctx, InstallOptions{})
	require.ErrorIs(t, err, domain.ErrNetwork)
	require.Equal(t, "1.62.0", e.installedVersion(t))
}

func TestInstallRecoversInterruptedRun(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	staging := e.cfg.ExtensionDir + ".staging"
	require.NoError(t, os.MkdirAll(staging, 0755))
	require.NoError(t, e.manager.state.BeginInstall(&domain.InstallRecord{
		Name: ArtifactName,
		Tag:  "1.61.0",
		URL:  "https://example.invalid/old.zip",
		Path: staging,
	}))

	res, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{ArtifactName}, res.Recovered)
	require.Equal(t, "1.62.0", e.installedVersion(t))
}

func TestUpdateWithoutInstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	_, err := e.manager.Update(context.Background())
	require.ErrorIs(t, err, domain.ErrNotInstalled)
	require.Zero(t, e.fetcher.calls)
}

func TestUpdateUpToDate(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	res, err := e.manager.Update(ctx)
	require.NoError(t, err)
	require.True(t, res.UpToDate)
	require.False(t, res.LauncherRebuilt)
	require.Equal(t, 1, e.fetcher.calls)
}

func TestUpdateToNewerRelease(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	e.registry.publish("1.63.0")
	res, err := e.manager.Update(ctx)
	require.NoError(t, err)
	require.False(t, res.UpToDate)
	require.Equal(t, "1.62.0", res.Previous)
	require.Equal(t, "1.63.0", res.Manifest.Version)
	require.Equal(t, "1.63.0", e.installedVersion(t))
	require.False(t, res.LauncherRebuilt, "launcher content does not depend on the version")
	require.NoDirExists(t, e.cfg.ExtensionDir+".old")
	require.NoDirExists(t, filepath.Join(e.cfg.CacheDir, ArtifactName, "1.62.0"))
}

func TestUpdateNeverDowngrades(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	e.registry.publish("1.63.0")
	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	e.registry.publish("1.62.0")
	_, err = e.manager.Update(ctx)
	require.ErrorIs(t, err, domain.ErrDowngrade)
	require.Equal(t, "1.63.0", e.installedVersion(t))
}

func TestUpdateNeverDowngradesFourPartVersion(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	e.registry.publish("1.62.0.3")
	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	e.registry.publish("1.61.0")
	_, err = e.manager.Update(ctx)
	require.ErrorIs(t, err, domain.ErrDowngrade)
	require.Equal(t, "1.62.0.3", e.installedVersion(t))

	e.registry.publish("1.62.0.4")
	res, err := e.manager.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, "1.62.0.4", res.Manifest.Version)
}

func TestUpdateRepairsDriftedLauncher(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(launcher.ScriptPath(e.cfg.InstalledApp()), []byte("#!/bin/sh\n"), 0755))

	res, err := e.manager.Update(ctx)
	require.NoError(t, err)
	require.True(t, res.LauncherRebuilt)
	require.True(t, launcher.New().InSync(e.manager.Spec(), e.cfg.InstalledApp()))
}

func TestLaunchWithoutInstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	e.browser.running = true

	_, err := e.manager.Launch(context.Background())
	require.ErrorIs(t, err, domain.ErrNotInstalled)
	require.Zero(t, e.browser.calls())
	require.NoDirExists(t, e.cfg.InstallDir)
}

func TestLaunchPassesFlags(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	e.browser.running = true
	res, err := e.manager.Launch(ctx)
	require.NoError(t, err)
	require.True(t, res.WasRunning)
	require.Equal(t, 1, e.browser.quits)
	require.Len(t, e.browser.starts, 1)

	spec := e.browser.starts[0]
	require.Equal(t, e.cfg.ChromeApp, spec.BrowserApp)
	require.Equal(t, e.cfg.ExtensionDir, spec.ExtensionDir)
	require.Contains(t, spec.Args, launcher.MV2Flags)
	require.Contains(t, spec.Args, launcher.LoadExtensionFlag+e.cfg.ExtensionDir)
}

func TestLaunchSkipsQuitWhenNotRunning(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	res, err := e.manager.Launch(ctx)
	require.NoError(t, err)
	require.False(t, res.WasRunning)
	require.Zero(t, e.browser.quits)
	require.Len(t, e.browser.starts, 1)
}

func TestLaunchRebuildsMissingBuildCopy(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(e.cfg.BuildApp))

	res, err := e.manager.Launch(ctx)
	require.NoError(t, err)
	require.True(t, res.LauncherRebuilt)
	require.FileExists(t, launcher.ScriptPath(e.cfg.BuildApp))
}

func TestUninstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	res, err := e.manager.Uninstall(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{e.cfg.InstalledApp(), e.cfg.InstallDir}, res.Removed)
	require.Empty(t, res.Absent)
	require.Positive(t, res.Freed)
	require.NoDirExists(t, e.cfg.InstallDir)
	require.NoDirExists(t, e.cfg.InstalledApp())

	res, err = e.manager.Uninstall(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Removed)
	require.Len(t, res.Absent, 2)

	_, err = e.manager.Launch(ctx)
	require.ErrorIs(t, err, domain.ErrNotInstalled)
}

func TestInstallLaunchUninstall(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)
	for _, dir := range []string{e.cfg.ExtensionDir, e.cfg.BuildApp, e.cfg.InstalledApp()} {
		require.DirExists(t, dir)
	}

	_, err = e.manager.Launch(ctx)
	require.NoError(t, err)
	require.Len(t, e.browser.starts, 1)
	require.Equal(t, []string{
		launcher.MV2Flags,
		launcher.LoadExtensionFlag + e.cfg.ExtensionDir,
	}, e.browser.starts[0].Args)

	_, err = e.manager.Uninstall(ctx)
	require.NoError(t, err)
	for _, dir := range []string{e.cfg.ExtensionDir, e.cfg.BuildApp, e.cfg.InstalledApp(), e.cfg.InstallDir} {
		require.NoDirExists(t, dir)
	}
	require.Len(t, e.browser.starts, 1)
}

func TestUninstallUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "windows")
	_, err := e.manager.Uninstall(context.Background())
	require.ErrorIs(t, err, domain.ErrUnsupportedPlatform)
}

func TestLockedByAnotherProcess(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	unlock, err := e.manager.lock(ctx)
	require.NoError(t, err)
	defer unlock()

	other := newEnv(t, "darwin")
	other.manager.paths.LockFile = e.cfg.LockFile
	other.manager.lockTimeout = 200 * time.Millisecond

	_, err = other.manager.Install(ctx, InstallOptions{})
	require.ErrorIs(t, err, domain.ErrLocked)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	st, err := e.manager.Status(ctx, false)
	require.NoError(t, err)
	require.False(t, st.Installed)
	require.False(t, st.UpdateAvailable())
	require.NoDirExists(t, e.cfg.InstallDir)

	_, err = e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	st, err = e.manager.Status(ctx, false)
	require.NoError(t, err)
	require.True(t, st.Installed)
	require.True(t, st.LauncherInSync)
	require.False(t, st.UpdateAvailable())

	e.registry.publish("1.63.0")
	st, err = e.manager.Status(ctx, false)
	require.NoError(t, err)
	require.True(t, st.UpdateAvailable())
}

func TestStatusReportsLookupFailure(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	e.registry.err = errors.New("no route to host")

	st, err := e.manager.Status(context.Background(), false)
	require.NoError(t, err)
	require.Nil(t, st.Latest)
	require.Error(t, st.LatestErr)
	require.True(t, strings.Contains(st.LatestErr.Error(), "no route to host"))
}

func TestClearCache(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "darwin")
	ctx := context.Background()

	_, err := e.manager.Install(ctx, InstallOptions{})
	require.NoError(t, err)

	freed, err := e.manager.ClearCache(ctx)
	require.NoError(t, err)
	require.Positive(t, freed)
	require.NoDirExists(t, e.cfg.CacheDir)
	require.Equal(t, "1.62.0", e.installedVersion(t))
}

package manager

import (
	"context"
	"fmt"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

type LaunchResult struct {
	Spec            domain.LaunchSpec
	WasRunning      bool
	LauncherRebuilt bool
}

// Launch restarts the browser with the extension loaded. Nothing touches the
// browser unless the extension and a launcher copy are both present.
func (m *Manager) Launch(ctx context.Context) (*LaunchResult, error) {
	if err := m.checkPlatform(); err != nil {
		return nil, err
	}
	if _, err := m.installedManifest(); err != nil {
		return nil, err
	}
	if !exists(m.paths.BuildApp) && !exists(m.paths.InstalledApp) {
		return nil, fmt.Errorf("%w: launcher %s is missing, run: ublock-chrome install", domain.ErrNotInstalled, m.paths.InstalledApp)
	}
	if err := m.checkBrowser(); err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &LaunchResult{Spec: m.Spec()}

	if result.LauncherRebuilt, err = m.writeLauncher(ctx, false); err != nil {
		return nil, err
	}

	running, err := m.browser.IsRunning(ctx)
	if err != nil {
		logger.WarnKV(ctx, "failed to list processes", "error", err)
	}
	result.WasRunning = running

	if running {
		if err := m.browser.Quit(ctx); err != nil {
			logger.WarnKV(ctx, "browser did not quit cleanly", "process", m.processName, "error", err)
		}
	}

	if err := m.browser.Start(ctx, result.Spec); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.browserApp, err)
	}

	logger.InfoKV(ctx, "browser started", "app", m.browserApp, "extension", m.paths.ExtensionDir)
	return result, nil
}

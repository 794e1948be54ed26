package manager

import (
	"context"
	"errors"
	"os"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

type UninstallResult struct {
	Removed []string
	Absent  []string
	Freed   int64
}

// Uninstall deletes the install directory and the installed launcher. Paths
// that are already gone are reported, never treated as failures.
func (m *Manager) Uninstall(ctx context.Context) (*UninstallResult, error) {
	if err := m.checkPlatform(); err != nil {
		return nil, err
	}

	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &UninstallResult{}
	if size, err := m.cache.Size(); err == nil {
		result.Freed = size
	}

	if err := m.state.Remove(ArtifactName); err != nil {
		logger.WarnKV(ctx, "failed to remove install record", "error", err)
	}
	if err := m.state.Close(); err != nil {
		logger.WarnKV(ctx, "failed to close state", "error", err)
	}

	var errs []error
	for _, path := range []string{m.paths.InstalledApp, m.paths.InstallDir} {
		if !exists(path) {
			result.Absent = append(result.Absent, path)
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, domain.FilesystemError("remove "+path, err))
			continue
		}
		logger.DebugKV(ctx, "removed", "path", path)
		result.Removed = append(result.Removed, path)
	}

	return result, errors.Join(errs...)
}

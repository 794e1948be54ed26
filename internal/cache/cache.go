package cache

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/teamcutter/ublock-chrome/internal/domain"
)

// DiskCache keeps downloaded archives at <dir>/<name>/<version>/package<ext>.
type DiskCache struct {
	sync.RWMutex
	dir string
}

func New(dir string) *DiskCache {
	return &DiskCache{dir: dir}
}

func (c *DiskCache) GetPath(name, version string) string {
	c.RLock()
	defer c.RUnlock()
	return c.getPath(name, version)
}

func (c *DiskCache) getPath(name, version string) string {
	dir := filepath.Join(c.dir, name, version)
	for _, ext := range domain.Extensions() {
		path := filepath.Join(dir, "package"+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return filepath.Join(dir, "package.zip")
}

func (c *DiskCache) Has(name, version string) bool {
	c.RLock()
	defer c.RUnlock()
	_, err := os.Stat(c.getPath(name, version))
	return err == nil
}

func (c *DiskCache) Store(name, version, src string) (string, error) {
	c.Lock()
	defer c.Unlock()

	destDir := filepath.Join(c.dir, name, version)
	destPath := filepath.Join(destDir, "package"+getArchiveExt(src))

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}

	if err := os.Rename(src, destPath); err != nil {
		return "", err
	}

	return destPath, nil
}

// Remove drops the cached archive of one version.
func (c *DiskCache) Remove(name, version string) error {
	c.Lock()
	defer c.Unlock()

	return os.RemoveAll(filepath.Join(c.dir, name, version))
}

// Prune removes every cached version of name except keep.
func (c *DiskCache) Prune(name, keep string) error {
	c.Lock()
	defer c.Unlock()

	entries, err := os.ReadDir(filepath.Join(c.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var errs []error
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep {
			continue
		}
		errs = append(errs, os.RemoveAll(filepath.Join(c.dir, name, e.Name())))
	}
	return errors.Join(errs...)
}

func (c *DiskCache) Size() (int64, error) {
	c.RLock()
	defer c.RUnlock()

	var size int64

	err := filepath.Walk(c.dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	return size, err
}

func (c *DiskCache) Clear() error {
	c.Lock()
	defer c.Unlock()

	return os.RemoveAll(c.dir)
}

func getArchiveExt(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	for _, ext := range domain.Extensions() {
		if len(lower) > len(ext) && strings.HasSuffix(lower, ext) {
			return ext
		}
	}

	return ".zip"
}

package launcher

import (
	"io"
	"os"
	"path/filepath"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Install copies the bundle at src to every destination concurrently.
func (b *Bundler) Install(src string, dests ...string) error {
	var g errgroup.Group

	for _, dst := range dests {
		if dst == src {
			continue
		}
		g.Go(func() error {
			if err := os.RemoveAll(dst); err != nil {
				return domain.FilesystemError("remove "+dst, err)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return domain.FilesystemError("create "+filepath.Dir(dst), err)
			}
			if err := copyDir(src, dst); err != nil {
				return domain.FilesystemError("copy launcher to "+dst, err)
			}
			return nil
		})
	}

	return g.Wait()
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(dst, relPath)

		info, err := os.Lstat(path)
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, targetPath)
		}

		if info.IsDir() {
			return os.MkdirAll(targetPath, 0755)
		}

		return copyFile(path, targetPath, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	if err := dstFile.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, mode.Perm())
}

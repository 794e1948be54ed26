package extractor

import (
	"archive/zip"
	"fmt"
	"os"
)

type ZIPExtractor struct{}

func NewZIP() *ZIPExtractor {
	return &ZIPExtractor{}
}

func (ze *ZIPExtractor) Extract(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractZipEntry(f, dst); err != nil {
			return fmt.Errorf("zip: %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dst string) error {
	target, err := safeJoin(dst, f.Name)
	if err != nil {
		return err
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	return writeFile(target, rc, f.Mode().Perm())
}

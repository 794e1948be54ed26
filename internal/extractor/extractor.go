package extractor

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Extractor struct {
	tar *TARExtractor
	zip *ZIPExtractor
}

func New() *Extractor {
	return &Extractor{
		tar: NewTAR(),
		zip: NewZIP(),
	}
}

func (e *Extractor) Extract(src, dst string) error {
	lower := strings.ToLower(src)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return e.zip.Extract(src, dst)
	case isTarArchive(lower):
		return e.tar.Extract(src, dst)
	default:
		return fmt.Errorf("unsupported archive format: %s", src)
	}
}

func isTarArchive(name string) bool {
	tarExts := []string{".tar.gz", ".tar.zst", ".tar.xz", ".tar.bz2", ".tgz", ".txz", ".tzst", ".tbz2", ".tar"}
	for _, ext := range tarExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// safeJoin resolves an archive entry name below dst, rejecting entries that
// would escape it.
func safeJoin(dst, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}

	target := filepath.Join(dst, name)
	rel, err := filepath.Rel(dst, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	return target, nil
}

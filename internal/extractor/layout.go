package extractor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teamcutter/ublock-chrome/internal/domain"
)

const ManifestFile = "manifest.json"

var ErrNoManifest = errors.New("manifest.json not found")

// Flatten moves the contents of a lone top-level directory that carries a
// manifest.json up into dir. Release zips usually unpack as
// uBlock0.chromium/manifest.json.
func Flatten(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	sub := filepath.Join(dir, entries[0].Name())
	if _, err := os.Stat(filepath.Join(sub, ManifestFile)); err != nil {
		return nil
	}

	children, err := os.ReadDir(sub)
	if err != nil {
		return err
	}

	// A child may share the wrapper's name, so park the wrapper first.
	parked := filepath.Join(dir, ".flatten-"+entries[0].Name())
	if err := os.Rename(sub, parked); err != nil {
		return err
	}

	for _, c := range children {
		if err := os.Rename(filepath.Join(parked, c.Name()), filepath.Join(dir, c.Name())); err != nil {
			return err
		}
	}

	return os.Remove(parked)
}

// ReadManifest parses manifest.json at the root of an unpacked extension.
func ReadManifest(dir string) (*domain.ExtensionManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}
	if err != nil {
		return nil, err
	}

	var m domain.ExtensionManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	if m.Name == "" {
		m.Name = "uBlock Origin"
	}
	return &m, nil
}

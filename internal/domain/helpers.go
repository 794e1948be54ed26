package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two release versions. Semver tags are compared by
// semver; anything else made of dot-separated integers, such as the
// four-part versions Chrome manifests allow, is compared part by part with
// missing parts read as zero. When either side is neither, the result is 0
// for equal strings and 1 otherwise, so an unknown pair is treated as an
// upgrade.
func CompareVersions(a, b string) int {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return 0
	}

	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}

	pa, okA := numericParts(a)
	pb, okB := numericParts(b)
	if !okA || !okB {
		return 1
	}

	for i := range max(len(pa), len(pb)) {
		var x, y uint64
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func numericParts(v string) ([]uint64, bool) {
	fields := strings.Split(strings.TrimPrefix(v, "v"), ".")
	parts := make([]uint64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, false
		}
		parts[i] = n
	}
	return parts, true
}

// FileSHA256 returns the hex SHA-256 digest of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func FormatVersion(tag, version string) string {
	if version == "" || version == tag {
		return tag
	}
	if tag == "" {
		return version
	}
	return version + " (" + tag + ")"
}

// Extensions lists the archive suffixes the installer can unpack, longest first.
func Extensions() []string {
	return []string{".tar.gz", ".tar.zst", ".tar.xz", ".tar.bz2", ".tgz", ".txz", ".tzst", ".tbz2", ".tar", ".zip"}
}

// IsArchive reports whether name ends with a supported archive suffix.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions() {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

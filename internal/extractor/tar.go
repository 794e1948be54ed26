package extractor

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

type decompressor struct {
	name  string
	magic []byte
	open  func(io.Reader) (io.ReadCloser, error)
}

var decompressors = []decompressor{
	{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd}, func(r io.Reader) (io.ReadCloser, error) {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}},
	{"gzip", []byte{0x1f, 0x8b}, func(r io.Reader) (io.ReadCloser, error) {
		return gzip.NewReader(r)
	}},
	{"xz", []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, func(r io.Reader) (io.ReadCloser, error) {
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	}},
	{"bzip2", []byte{'B', 'Z', 'h'}, func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	}},
}

type TARExtractor struct{}

func NewTAR() *TARExtractor {
	return &TARExtractor{}
}

func (te *TARExtractor) Extract(src, dst string) error {
	file, err := os.Open(src)
	if err != nil {
		return err
	}
	defer file.Close()

	stream, err := decompress(bufio.NewReader(file))
	if err != nil {
		return err
	}
	defer stream.Close()

	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		if err := extractTarEntry(tr, header, dst); err != nil {
			return fmt.Errorf("tar: %s: %w", header.Name, err)
		}
	}
}

// decompress picks a decoder from the stream's magic bytes. Unknown
// signatures are read as a plain tar.
func decompress(br *bufio.Reader) (io.ReadCloser, error) {
	head, _ := br.Peek(8)

	for _, d := range decompressors {
		if !bytes.HasPrefix(head, d.magic) {
			continue
		}
		rc, err := d.open(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		return rc, nil
	}
	return io.NopCloser(br), nil
}

func extractTarEntry(tr *tar.Reader, header *tar.Header, dst string) error {
	target, err := safeJoin(dst, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0755)
	case tar.TypeReg:
		return writeFile(target, tr, header.FileInfo().Mode().Perm())
	case tar.TypeSymlink:
		// Links must resolve inside dst; absolute ones are dropped.
		if filepath.IsAbs(header.Linkname) {
			return nil
		}
		if _, err := safeJoin(dst, filepath.Join(filepath.Dir(header.Name), header.Linkname)); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(header.Linkname, target)
	default:
		return nil
	}
}

// writeFile creates target with its parent directories and copies r into it.
func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if mode == 0 {
		mode = 0644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

const userAgent = "ublock-chrome-installer/1.0"

type HTTPFetcher struct {
	client    *http.Client
	outputDir string
	retry     Retry
	quiet     bool
}

type Option func(*HTTPFetcher)

func WithRetry(r Retry) Option {
	return func(f *HTTPFetcher) { f.retry = r }
}

// Quiet disables the download progress bar.
func Quiet() Option {
	return func(f *HTTPFetcher) { f.quiet = true }
}

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

func New(outputDir string, timeout time.Duration, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		outputDir: outputDir,
		retry:     DefaultRetry,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, a domain.Artifact) domain.FetchResult {
	dst := filepath.Join(f.outputDir, fmt.Sprintf("%s-%s%s", a.Name, a.Version, extFromURL(a.DownloadURL)))

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return domain.FetchResult{Artifact: a.Name, Version: a.Version, Error: domain.FilesystemError("create download dir", err)}
	}

	err := f.retry.Do(ctx, func(attempt int) error {
		logger.DebugKV(ctx, "downloading artifact", "url", a.DownloadURL, "attempt", attempt)
		return f.download(ctx, a, dst)
	})
	if err != nil {
		os.Remove(dst)
		return domain.FetchResult{Artifact: a.Name, Version: a.Version, Error: err}
	}

	if a.SHA256 != "" {
		actual, err := domain.FileSHA256(dst)
		if err != nil {
			return domain.FetchResult{Artifact: a.Name, Version: a.Version, Error: domain.FilesystemError("checksum", err)}
		}

		if !strings.EqualFold(actual, a.SHA256) {
			os.Remove(dst)
			return domain.FetchResult{
				Artifact: a.Name,
				Version:  a.Version,
				Error:    fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksum, a.SHA256, actual),
			}
		}
	}

	return domain.FetchResult{Artifact: a.Name, Version: a.Version, Path: dst}
}

func (f *HTTPFetcher) download(ctx context.Context, a domain.Artifact, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.DownloadURL, nil)
	if err != nil {
		return Permanent(domain.NetworkError("create request", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.NetworkError("download "+a.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := domain.NetworkError("download "+a.Name, fmt.Errorf("unexpected status: %d", resp.StatusCode))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Permanent(err)
		}
		return err
	}

	file, err := os.Create(dst)
	if err != nil {
		return Permanent(domain.FilesystemError("create "+dst, err))
	}
	defer file.Close()

	var w io.Writer = file
	if !f.quiet {
		bar := progressbar.DefaultBytes(resp.ContentLength, fmt.Sprintf("Downloading %s", a.Name))
		w = io.MultiWriter(file, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return Permanent(domain.FilesystemError("write "+dst, err))
		}
		return domain.NetworkError("download "+a.Name, err)
	}

	return nil
}

func extFromURL(rawURL string) string {
	u := path.Base(rawURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	for _, ext := range domain.Extensions() {
		if strings.HasSuffix(strings.ToLower(u), ext) {
			return ext
		}
	}
	return path.Ext(u)
}

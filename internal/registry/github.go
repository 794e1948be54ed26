package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/teamcutter/ublock-chrome/internal/domain"
	"github.com/teamcutter/ublock-chrome/internal/fetcher"
	"github.com/teamcutter/ublock-chrome/internal/logger"
)

const cacheFile = "release.json"

var ErrNoAsset = errors.New("no matching asset in release")

// GitHubRegistry resolves the latest release of a GitHub repository.
type GitHubRegistry struct {
	sync.RWMutex
	client   *http.Client
	apiURL   string
	match    string
	cacheDir string
	token    string
	retry    fetcher.Retry
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	HTMLURL string        `json:"html_url"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	Digest             string `json:"digest"`
}

func NewGitHub(apiURL, match, cacheDir string, client *http.Client, retry fetcher.Retry) *GitHubRegistry {
	if client == nil {
		client = &http.Client{}
	}
	return &GitHubRegistry{
		client:   client,
		apiURL:   apiURL,
		match:    strings.ToLower(match),
		cacheDir: cacheDir,
		token:    os.Getenv("GITHUB_TOKEN"),
		retry:    retry,
	}
}

func (g *GitHubRegistry) Latest(ctx context.Context) (*domain.Release, error) {
	var data []byte

	err := g.retry.Do(ctx, func(attempt int) error {
		logger.DebugKV(ctx, "fetching release metadata", "url", g.apiURL, "attempt", attempt)
		var err error
		data, err = g.get(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	rel, err := g.decode(data)
	if err != nil {
		return nil, err
	}

	if err := g.storeToCache(data); err != nil {
		logger.WarnKV(ctx, "failed to cache release metadata", "error", err)
	}

	return rel, nil
}

// Cached returns the release recorded by the last successful Latest call.
func (g *GitHubRegistry) Cached() (*domain.Release, bool) {
	data, ok := g.getFromCache()
	if !ok {
		return nil, false
	}
	rel, err := g.decode(data)
	if err != nil {
		return nil, false
	}
	return rel, true
}

func (g *GitHubRegistry) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiURL, nil)
	if err != nil {
		return nil, fetcher.Permanent(domain.NetworkError("creating request", err))
	}
	req.Header.Set("User-Agent", "ublock-chrome-installer/1.0")
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, domain.NetworkError("fetching release", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := domain.NetworkError("fetching release", fmt.Errorf("unexpected status: %d", resp.StatusCode))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fetcher.Permanent(err)
		}
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, domain.NetworkError("reading release", err)
	}
	return buf.Bytes(), nil
}

func (g *GitHubRegistry) decode(data []byte) (*domain.Release, error) {
	var rel githubRelease
	if err := json.Unmarshal(data, &rel); err != nil {
		return nil, domain.NetworkError("decoding release", err)
	}

	tag := rel.TagName
	if tag == "" {
		tag = "unknown"
	}

	for _, a := range rel.Assets {
		name := strings.ToLower(a.Name)
		if !strings.Contains(name, g.match) || !domain.IsArchive(name) {
			continue
		}
		return &domain.Release{
			Tag:         tag,
			AssetName:   a.Name,
			DownloadURL: a.BrowserDownloadURL,
			Size:        a.Size,
			SHA256:      parseDigest(a.Digest),
		}, nil
	}

	return nil, fmt.Errorf("%w %s (looking for %q): check %s", ErrNoAsset, tag, g.match, rel.HTMLURL)
}

// parseDigest extracts the hex value of a "sha256:<hex>" asset digest.
func parseDigest(d string) string {
	algo, sum, ok := strings.Cut(d, ":")
	if !ok || !strings.EqualFold(algo, "sha256") {
		return ""
	}
	return strings.ToLower(sum)
}

func (g *GitHubRegistry) getFromCache() ([]byte, bool) {
	g.RLock()
	defer g.RUnlock()

	data, err := os.ReadFile(filepath.Join(g.cacheDir, cacheFile))
	if err != nil {
		return nil, false
	}
	return data, true
}

// storeToCache is a no-op until the install directory holding cacheDir exists.
func (g *GitHubRegistry) storeToCache(data []byte) error {
	g.Lock()
	defer g.Unlock()

	if _, err := os.Stat(filepath.Dir(g.cacheDir)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.MkdirAll(g.cacheDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(g.cacheDir, cacheFile), data, 0644)
}

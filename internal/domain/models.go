package domain

import "time"

const (
	StatusPending   = "pending"
	StatusInstalled = "installed"
)

// Release is the remote build selected from the latest GitHub release.
type Release struct {
	Tag         string `json:"tag"`
	AssetName   string `json:"asset_name"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
}

type Artifact struct {
	Name        string
	Version     string
	DownloadURL string
	SHA256      string
}

type FetchResult struct {
	Artifact string
	Version  string
	Path     string
	Error    error
}

// ExtensionManifest holds the fields of manifest.json the installer reports on.
type ExtensionManifest struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ManifestVersion int    `json:"manifest_version"`
}

// LaunchSpec describes how the browser is started. Args always reference
// ExtensionDir, so rendering a launcher from the same spec keeps both in sync.
type LaunchSpec struct {
	BrowserApp   string
	ProcessName  string
	ExtensionDir string
	Args         []string
}

type InstallRecord struct {
	Name        string    `json:"name"`
	Tag         string    `json:"tag"`
	Version     string    `json:"version"`
	URL         string    `json:"url"`
	SHA256      string    `json:"sha256"`
	Path        string    `json:"path"`
	Launchers   []string  `json:"launchers"`
	InstalledAt time.Time `json:"installed_at"`
}

type Manifest struct {
	Records map[string]*InstallRecord `json:"records"`
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	AppName          = "Chrome (uBO).app"
	DefaultChromeApp = "/Applications/Google Chrome.app"
	DefaultProcess   = "Google Chrome"
	DefaultAPI       = "https://api.github.com/repos/gorhill/uBlock/releases/latest"
	DefaultMatch     = "chromium"
)

// Config holds the tunable settings. Install locations are derived from the
// home directory and are not part of the TOML file.
type Config struct {
	ChromeApp   string   `toml:"chrome_app"`
	ProcessName string   `toml:"process_name"`
	ReleaseAPI  string   `toml:"release_api"`
	AssetMatch  string   `toml:"asset_match"`
	Timeout     Duration `toml:"timeout"`
	Retries     int      `toml:"retries"`
	Backoff     Duration `toml:"backoff"`
	LockTimeout Duration `toml:"lock_timeout"`
	LogLevel    string   `toml:"log_level"`

	Home         string `toml:"-"`
	InstallDir   string `toml:"-"`
	ExtensionDir string `toml:"-"`
	CacheDir     string `toml:"-"`
	BuildApp     string `toml:"-"`
	AppsDir      string `toml:"-"`
	StateFile    string `toml:"-"`
	ManifestFile string `toml:"-"`
	ConfigFile   string `toml:"-"`
	LockFile     string `toml:"-"`
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	confDir, err := os.UserConfigDir()
	if err != nil {
		confDir = filepath.Join(home, ".config")
	}
	confDir = filepath.Join(confDir, "ublock-chrome")

	return ForHome(home, confDir), nil
}

// ForHome lays out every path under home and confDir.
func ForHome(home, confDir string) *Config {
	base := filepath.Join(home, ".ublock-chrome")

	return &Config{
		ChromeApp:   DefaultChromeApp,
		ProcessName: DefaultProcess,
		ReleaseAPI:  DefaultAPI,
		AssetMatch:  DefaultMatch,
		Timeout:     Duration{5 * time.Minute},
		Retries:     3,
		Backoff:     Duration{500 * time.Millisecond},
		LockTimeout: Duration{10 * time.Second},
		LogLevel:    "warn",

		Home:         home,
		InstallDir:   base,
		ExtensionDir: filepath.Join(base, "extension"),
		CacheDir:     filepath.Join(base, "cache"),
		BuildApp:     filepath.Join(base, AppName),
		AppsDir:      filepath.Join(home, "Applications"),
		StateFile:    filepath.Join(base, "state.db"),
		ManifestFile: filepath.Join(base, "installed.json"),
		ConfigFile:   filepath.Join(confDir, "config.toml"),
		LockFile:     filepath.Join(confDir, "lock"),
	}
}

// InstalledApp is the launcher copy under ~/Applications.
func (c *Config) InstalledApp() string {
	return filepath.Join(c.AppsDir, AppName)
}

func Load() (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	return cfg, LoadFile(cfg, cfg.ConfigFile)
}

// LoadFile overlays the TOML file at path onto cfg. A missing file is not an error.
func LoadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Validate(cfg)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return Validate(cfg)
}

func Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.ConfigFile), 0755); err != nil {
		return err
	}
	f, err := os.Create(cfg.ConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func Validate(cfg *Config) error {
	if cfg.ChromeApp == "" {
		return errors.New("chrome_app must be set")
	}
	if cfg.ProcessName == "" {
		cfg.ProcessName = DefaultProcess
	}
	if cfg.AssetMatch == "" {
		cfg.AssetMatch = DefaultMatch
	}
	if _, err := url.ParseRequestURI(cfg.ReleaseAPI); err != nil {
		return fmt.Errorf("invalid release_api: %w", err)
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout.Duration <= 0 {
		cfg.Timeout.Duration = 5 * time.Minute
	}
	if cfg.Backoff.Duration < 0 {
		cfg.Backoff.Duration = 0
	}
	if cfg.LockTimeout.Duration <= 0 {
		cfg.LockTimeout.Duration = 10 * time.Second
	}
	return nil
}

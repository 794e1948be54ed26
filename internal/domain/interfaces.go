package domain

import (
	"context"
)

type Registry interface {
	Latest(ctx context.Context) (*Release, error)
	Cached() (*Release, bool)
}

type Fetcher interface {
	Fetch(ctx context.Context, a Artifact) FetchResult
}

type Cache interface {
	Has(name, version string) bool
	GetPath(name, version string) string
	Store(name, version, src string) (string, error)
	Remove(name, version string) error
	Prune(name, keep string) error
	Size() (int64, error)
	Clear() error
}

type Extractor interface {
	Extract(src, dest string) error
}

type Bundler interface {
	Render(spec LaunchSpec) (map[string][]byte, error)
	InSync(spec LaunchSpec, dir string) bool
	Build(spec LaunchSpec, dir string) error
	Install(src string, dests ...string) error
}

type Browser interface {
	IsRunning(ctx context.Context) (bool, error)
	Quit(ctx context.Context) error
	Start(ctx context.Context, spec LaunchSpec) error
}

type State interface {
	Get(name string) (*InstallRecord, error)
	BeginInstall(rec *InstallRecord) error
	Add(rec *InstallRecord) error
	Remove(name string) error
	Recover() ([]string, error)
	Close() error
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNetwork             = errors.New("network error")
	ErrFilesystem          = errors.New("filesystem error")
	ErrNotInstalled        = errors.New("not installed")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrBrowserNotFound     = errors.New("browser not found")
	ErrLocked              = errors.New("another ublock-chrome operation is running")
	ErrChecksum            = errors.New("checksum mismatch")
	ErrDowngrade           = errors.New("latest release is older than the installed version")
)

// NetworkError tags err as a failed remote operation.
func NetworkError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNetwork) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}

// FilesystemError tags err as a failed local read or write.
func FilesystemError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFilesystem) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrFilesystem, err)
}

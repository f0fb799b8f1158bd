//go:build !windows

package config

import (
	"os"
	"path/filepath"
)

func platformTempLocations() []Target {
	return []Target{
		{Name: "user_temp", Path: os.TempDir(), Enabled: true},
	}
}

func platformBrowserPaths(name string) (paths, profiles []string) {
	home := homeDir()
	if home == "" {
		return nil, nil
	}
	cache := filepath.Join(home, ".cache")
	conf := filepath.Join(home, ".config")

	switch name {
	case "chrome":
		return []string{
			filepath.Join(cache, "google-chrome", "Default", "Cache"),
			filepath.Join(conf, "google-chrome", "Default", "Cookies"),
		}, nil
	case "edge":
		return []string{
			filepath.Join(cache, "microsoft-edge", "Default", "Cache"),
			filepath.Join(conf, "microsoft-edge", "Default", "Cookies"),
		}, nil
	case "firefox":
		return nil, []string{
			filepath.Join(cache, "mozilla", "firefox"),
			filepath.Join(home, ".mozilla", "firefox"),
		}
	case "opera":
		return []string{
			filepath.Join(cache, "opera"),
			filepath.Join(conf, "opera", "Cookies"),
		}, nil
	}
	return nil, nil
}

// DefaultSafePaths returns the prefixes the cleaner never enters.
func DefaultSafePaths() []string {
	home := homeDir()
	if home == "" {
		return nil
	}
	var paths []string
	for _, d := range []string{"Documents", "Pictures", "Videos", "Music", "Desktop"} {
		paths = append(paths, filepath.Join(home, d))
	}
	return paths
}

// DefaultDatabasePath is the run history location.
func DefaultDatabasePath() string {
	return "/var/lib/system-toolbox/history.db"
}

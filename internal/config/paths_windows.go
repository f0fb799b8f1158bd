//go:build windows

package config

import (
	"os"
	"path/filepath"
)

func winDir() string {
	if w := os.Getenv("SystemRoot"); w != "" {
		return w
	}
	return `C:\Windows`
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func platformTempLocations() []Target {
	recent := ""
	if appData := os.Getenv("APPDATA"); appData != "" {
		recent = filepath.Join(appData, "Microsoft", "Windows", "Recent")
	}
	return []Target{
		{Name: "windows_temp", Path: filepath.Join(winDir(), "Temp"), Enabled: true},
		{Name: "user_temp", Path: os.TempDir(), Enabled: true},
		{Name: "prefetch", Path: filepath.Join(winDir(), "Prefetch"), Enabled: true},
		{Name: "recent", Path: recent, Enabled: false},
	}
}

func platformBrowserPaths(name string) (paths, profiles []string) {
	home := homeDir()
	if home == "" {
		return nil, nil
	}
	local := envOr("LOCALAPPDATA", filepath.Join(home, "AppData", "Local"))
	roaming := envOr("APPDATA", filepath.Join(home, "AppData", "Roaming"))

	switch name {
	case "chrome":
		profile := filepath.Join(local, "Google", "Chrome", "User Data", "Default")
		return []string{filepath.Join(profile, "Cache"), filepath.Join(profile, "Cookies")}, nil
	case "edge":
		profile := filepath.Join(local, "Microsoft", "Edge", "User Data", "Default")
		return []string{filepath.Join(profile, "Cache"), filepath.Join(profile, "Cookies")}, nil
	case "firefox":
		return nil, []string{
			filepath.Join(local, "Mozilla", "Firefox", "Profiles"),
			filepath.Join(roaming, "Mozilla", "Firefox", "Profiles"),
		}
	case "opera":
		return []string{
			filepath.Join(local, "Opera Software", "Opera Stable", "Cache"),
			filepath.Join(roaming, "Opera Software", "Opera Stable", "Cookies"),
		}, nil
	}
	return nil, nil
}

// DefaultSafePaths returns the prefixes the cleaner never enters.
func DefaultSafePaths() []string {
	paths := []string{
		filepath.Join(winDir(), "System32"),
		filepath.Join(winDir(), "SysWOW64"),
		envOr("ProgramFiles", `C:\Program Files`),
		envOr("ProgramFiles(x86)", `C:\Program Files (x86)`),
	}
	if home := homeDir(); home != "" {
		for _, d := range []string{"Documents", "Pictures", "Videos", "Music", "Desktop"} {
			paths = append(paths, filepath.Join(home, d))
		}
	}
	return paths
}

// DefaultDatabasePath is the run history location.
func DefaultDatabasePath() string {
	return filepath.Join(envOr("ProgramData", `C:\ProgramData`), "system-toolbox", "history.db")
}

package config

import (
	"os"
	"regexp"
	"strings"
)

// Process names killed before a browser's files are touched.
var browserProcesses = map[string][]string{
	"chrome":  {"chrome.exe"},
	"edge":    {"msedge.exe"},
	"firefox": {"firefox.exe"},
	"opera":   {"opera.exe"},
}

// Browser names in catalog order.
var browserNames = []string{"chrome", "edge", "firefox", "opera"}

// Enabled by default. Firefox and Opera are opt-in.
var defaultBrowserEnabled = map[string]bool{
	"chrome": true,
	"edge":   true,
}

// DefaultTempLocations returns the temp directories known on this platform.
// Locations whose base directory cannot be resolved are left out.
func DefaultTempLocations() []Target {
	var out []Target
	for _, t := range platformTempLocations() {
		if t.Path != "" {
			out = append(out, t)
		}
	}
	return out
}

// DefaultBrowsers returns the browser catalog with the default enabled set.
func DefaultBrowsers() []BrowserCfg {
	var out []BrowserCfg
	for _, name := range browserNames {
		b, ok := catalogBrowser(name)
		if !ok {
			continue
		}
		b.Enabled = defaultBrowserEnabled[name]
		out = append(out, b)
	}
	return out
}

func catalogBrowser(name string) (BrowserCfg, bool) {
	paths, profiles := platformBrowserPaths(name)
	if len(paths) == 0 && len(profiles) == 0 {
		return BrowserCfg{}, false
	}
	procs := append([]string(nil), browserProcesses[name]...)
	return BrowserCfg{Name: name, Paths: paths, ProfileRoots: profiles, Processes: procs}, true
}

// DefaultExcludedExtensions lists file types never removed by the cleaner.
func DefaultExcludedExtensions() []string {
	return []string{
		".exe", ".dll", ".sys", ".ini", ".dat", ".key",
		".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".pdf",
		".jpg", ".jpeg", ".png", ".gif", ".bmp", ".mp3", ".mp4", ".avi", ".mov",
	}
}

// DefaultBrowserProtectedNames lists browser files that hold user data.
func DefaultBrowserProtectedNames() []string {
	return []string{
		"Bookmarks", "Bookmarks.bak", "Favicons", "Login Data",
		"Preferences", "Web Data", "places.sqlite", "key4.db",
		"logins.json", "cert9.db", "permissions.sqlite",
	}
}

// FirefoxNamedFiles are removed from each Firefox profile directly.
var FirefoxNamedFiles = []string{"cookies.sqlite", "webappsstore.sqlite", "chromeappsstore.sqlite"}

// FirefoxCacheDir is the per-profile cache directory.
const FirefoxCacheDir = "cache2"

var percentVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// ExpandEnv resolves %VAR%, $VAR and ${VAR} references in p.
// Unset %VAR% references are kept as written.
func ExpandEnv(p string) string {
	p = percentVar.ReplaceAllStringFunc(p, func(m string) string {
		if v, ok := os.LookupEnv(strings.Trim(m, "%")); ok {
			return v
		}
		return m
	})
	if strings.Contains(p, "$") {
		p = os.ExpandEnv(p)
	}
	return p
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return ""
}

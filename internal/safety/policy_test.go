package safety

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func mustPolicy(t *testing.T, p Policy) *Policy {
	t.Helper()
	out, err := NewPolicy(p)
	if err != nil {
		t.Fatalf("NewPolicy() unexpected error: %v", err)
	}
	return out
}

func TestNewPolicyValidation(t *testing.T) {
	tests := []struct {
		name      string
		policy    Policy
		expectErr error
	}{
		{"valid", Policy{MaxFileAgeDays: 7}, nil},
		{"one day", Policy{MaxFileAgeDays: 1}, nil},
		{"zero age", Policy{MaxFileAgeDays: 0}, ErrInvalidMaxAge},
		{"negative age", Policy{MaxFileAgeDays: -3}, ErrInvalidMaxAge},
		{"relative safe path", Policy{MaxFileAgeDays: 7, SafePathPrefixes: []string{"docs"}}, ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicy(tt.policy)
			if tt.expectErr == nil && err != nil {
				t.Errorf("NewPolicy() unexpected error: %v", err)
			}
			if tt.expectErr != nil && !errors.Is(err, tt.expectErr) {
				t.Errorf("NewPolicy() = %v, expected %v", err, tt.expectErr)
			}
		})
	}
}

func TestIsPathSafe(t *testing.T) {
	p := mustPolicy(t, Policy{
		MaxFileAgeDays:   7,
		SafePathPrefixes: []string{"/data/keep", "/srv/docs/"},
		SafePatterns:     []string{"*/node_modules/*"},
	})

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"exact prefix", "/data/keep", true},
		{"below prefix", "/data/keep/a.txt", true},
		{"raw string prefix", "/data/keeper/a.txt", true},
		{"trailing slash cleaned", "/srv/docs/readme", true},
		{"unrelated", "/data/tmp/a.txt", false},
		{"wildcard pattern", "/home/u/app/node_modules/x.js", true},
		{"wildcard miss", "/home/u/app/src/x.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsPathSafe(tt.path); got != tt.expected {
				t.Errorf("IsPathSafe(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestIsExcludedExtension(t *testing.T) {
	p := mustPolicy(t, Policy{
		MaxFileAgeDays:     7,
		ExcludedExtensions: []string{".exe", "DLL", " .Pdf "},
	})

	tests := []struct {
		path     string
		expected bool
	}{
		{"setup.exe", true},
		{"SETUP.EXE", true},
		{"lib.dll", true},
		{"report.PDF", true},
		{"notes.txt", false},
		{"Makefile", false},
		{"archive.exe.bak", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := p.IsExcludedExtension(filepath.Join("/tmp", tt.path)); got != tt.expected {
				t.Errorf("IsExcludedExtension(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestProtectedNames(t *testing.T) {
	base := mustPolicy(t, Policy{MaxFileAgeDays: 7})
	if base.IsProtectedName("/x/Bookmarks") {
		t.Fatal("base policy should not protect any name")
	}

	browser := base.WithProtectedNames("Bookmarks", "Login Data")
	if !browser.IsProtectedName("/x/Default/Bookmarks") {
		t.Error("Bookmarks should be protected")
	}
	if !browser.IsProtectedName("/x/Default/Login Data") {
		t.Error("Login Data should be protected")
	}
	if browser.IsProtectedName("/x/Default/Bookmarks.old") {
		t.Error("only exact names should be protected")
	}
	if base.IsProtectedName("/x/Bookmarks") {
		t.Error("WithProtectedNames must not modify the receiver")
	}
}

func TestAgeDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		mtime    time.Time
		expected int
		ok       bool
	}{
		{"same instant", now, 0, true},
		{"just under a day", now.Add(-23 * time.Hour), 0, true},
		{"exactly seven days", now.Add(-7 * day), 7, true},
		{"seven and a half days", now.Add(-7*day - 12*time.Hour), 7, true},
		{"future", now.Add(2 * time.Hour), -1, true},
		{"zero", time.Time{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AgeDays(tt.mtime, now)
			if ok != tt.ok || got != tt.expected {
				t.Errorf("AgeDays() = (%d, %v), expected (%d, %v)", got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestIsTooNew(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := mustPolicy(t, Policy{MaxFileAgeDays: 7})

	tests := []struct {
		name     string
		mtime    time.Time
		expected bool
	}{
		{"six days", now.Add(-6 * day), true},
		{"six days 23 hours", now.Add(-7*day + time.Hour), true},
		{"seven days", now.Add(-7 * day), false},
		{"ten days", now.Add(-10 * day), false},
		{"future mtime", now.Add(48 * time.Hour), true},
		{"unknown mtime", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsTooNew(tt.mtime, now); got != tt.expected {
				t.Errorf("IsTooNew() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestNormalizeExtension(t *testing.T) {
	tests := map[string]string{
		".EXE":  ".exe",
		"dll":   ".dll",
		" .Jpg": ".jpg",
		".":     "",
		"":      "",
	}
	for in, want := range tests {
		if got := NormalizeExtension(in); got != want {
			t.Errorf("NormalizeExtension(%q) = %q, expected %q", in, got, want)
		}
	}
}

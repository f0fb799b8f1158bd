package safety

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// layout is a temp location with one stale file, an outside directory and
// the toolbox's own history file living inside the location.
type layout struct {
	root    string
	inside  string
	nested  string
	outside string
	history string
}

func newLayout(t *testing.T) layout {
	t.Helper()
	base := t.TempDir()
	l := layout{
		root:    filepath.Join(base, "Temp"),
		outside: filepath.Join(base, "Documents", "thesis.docx"),
	}
	l.inside = filepath.Join(l.root, "setup.log")
	l.nested = filepath.Join(l.root, "cache", "blob.bin")
	l.history = filepath.Join(l.root, "history.db")

	for _, f := range []string{l.inside, l.nested, l.outside, l.history} {
		if err := os.MkdirAll(filepath.Dir(f), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func TestValidateDeleteTarget(t *testing.T) {
	l := newLayout(t)
	v := NewValidator([]string{l.root}, []string{l.history})

	tests := []struct {
		name string
		path string
		want error
	}{
		{name: "file in root", path: l.inside},
		{name: "nested file", path: l.nested},
		{name: "vanished file", path: filepath.Join(l.root, "gone.tmp")},
		{name: "outside root", path: l.outside, want: ErrOutsideAllowed},
		{name: "own history file", path: l.history, want: ErrProtectedPath},
		{name: "volume root", path: string(filepath.Separator), want: ErrProtectedPath},
		{name: "empty", path: "  ", want: ErrInvalidPath},
		{name: "dotdot staying inside", path: filepath.Join(l.root, "cache") + string(filepath.Separator) + ".." + string(filepath.Separator) + "setup.log", want: ErrTraversal},
		{name: "sibling sharing prefix", path: l.root + "-old" + string(filepath.Separator) + "a.tmp", want: ErrOutsideAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDeleteTarget(tt.path)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("ValidateDeleteTarget(%s) = %v, expected nil", tt.path, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("ValidateDeleteTarget(%s) = %v, expected %v", tt.path, err, tt.want)
			}
		})
	}
}

func TestValidateDeleteTargetSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("creating symlinks needs elevation on Windows")
	}
	l := newLayout(t)
	escape := filepath.Join(l.root, "docs")
	if err := os.Symlink(filepath.Dir(l.outside), escape); err != nil {
		t.Fatal(err)
	}
	local := filepath.Join(l.root, "log-link")
	if err := os.Symlink(l.inside, local); err != nil {
		t.Fatal(err)
	}
	v := NewValidator([]string{l.root}, nil)

	if err := v.ValidateDeleteTarget(filepath.Join(escape, "thesis.docx")); !errors.Is(err, ErrSymlinkEscape) {
		t.Errorf("file behind escaping link: err = %v, expected %v", err, ErrSymlinkEscape)
	}
	if err := v.ValidateDeleteTarget(local); err != nil {
		t.Errorf("link resolving inside root: err = %v", err)
	}
}

func TestSymlinkedRootStillMatches(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("creating symlinks needs elevation on Windows")
	}
	l := newLayout(t)
	alias := filepath.Join(filepath.Dir(l.root), "TempAlias")
	if err := os.Symlink(l.root, alias); err != nil {
		t.Fatal(err)
	}
	v := NewValidator([]string{alias}, nil)
	if err := v.ValidateDeleteTarget(filepath.Join(alias, "setup.log")); err != nil {
		t.Errorf("file under symlinked root rejected: %v", err)
	}
}

func TestWindowsSystemFoldersProtected(t *testing.T) {
	sysRoot := filepath.Join(t.TempDir(), "Windows")
	t.Setenv("SystemRoot", sysRoot)
	protected := defaultProtected(nil)

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(sysRoot, "System32", "drivers", "etc", "hosts"), true},
		{filepath.Join(sysRoot, "SysWOW64"), true},
		{filepath.Join(sysRoot, "WinSxS", "manifest"), true},
		{filepath.Join(sysRoot, "Temp", "setup.log"), false},
		{filepath.Join(sysRoot, "Prefetch", "APP.pf"), false},
	}
	for _, tt := range tests {
		if got := IsProtectedPath(tt.path, protected); got != tt.want {
			t.Errorf("IsProtectedPath(%s) = %v, expected %v", tt.path, got, tt.want)
		}
	}
}

func TestHasPathPrefixSegments(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + filepath.Join("data", "Temp")
	tests := []struct {
		path string
		want bool
	}{
		{root, true},
		{root + sep + "a.tmp", true},
		{root + "Files" + sep + "a.tmp", false},
		{sep + "data", false},
	}
	for _, tt := range tests {
		if got := hasPathPrefix(tt.path, root); got != tt.want {
			t.Errorf("hasPathPrefix(%s, %s) = %v, expected %v", tt.path, root, got, tt.want)
		}
	}
	if runtime.GOOS == "windows" && !hasPathPrefix(`C:\DATA\temp\x`, `c:\data\TEMP`) {
		t.Error("prefix match must ignore case on Windows")
	}
}

func TestDetectTraversal(t *testing.T) {
	for raw, want := range map[string]bool{
		"/tmp/../etc/passwd":   true,
		"../setup.log":         true,
		`C:\Temp\..\Windows`:   runtime.GOOS == "windows" || filepath.Separator == '\\',
		"/tmp/./file":          false,
		"/tmp/..hidden/file":   false,
		"/tmp/normal/path.log": false,
	} {
		if got := DetectTraversal(raw); got != want {
			t.Errorf("DetectTraversal(%q) = %v, expected %v", raw, got, want)
		}
	}
}

func TestPathsOverlap(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + filepath.Join("data", "Temp")
	tests := []struct {
		a, b string
		want bool
	}{
		{root, root, true},
		{root, root + sep, true},
		{root, root + sep + "sub", true},
		{root + sep + "sub", root, true},
		{root, root + "Files", false},
		{root, sep + filepath.Join("data", "Other"), false},
		{"recycle_bin", "recycle_bin", true},
		{"recycle_bin", root, false},
	}
	for _, tt := range tests {
		if got := PathsOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("PathsOverlap(%s, %s) = %v, expected %v", tt.a, tt.b, got, tt.want)
		}
	}
	if !IsWithin(root+sep+"a.tmp", root) || IsWithin(root, root+sep+"a.tmp") {
		t.Error("IsWithin must only match the contained path")
	}
}

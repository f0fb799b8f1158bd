package safety

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrProtectedPath  = errors.New("protected path")
	ErrOutsideAllowed = errors.New("outside allowed roots")
	ErrTraversal      = errors.New("path traversal detected")
	ErrSymlinkEscape  = errors.New("symlink escape detected")
)

// Validator is consulted immediately before every delete. The Policy says
// what is worth deleting; the Validator says what may be touched at all.
type Validator struct {
	AllowedRoots   []string
	ProtectedPaths []string
}

// NewValidator confines deletes to allowed. extraProtected adds exact files
// or trees on top of the built-in system locations.
func NewValidator(allowed []string, extraProtected []string) *Validator {
	return &Validator{
		AllowedRoots:   normalizeRoots(allowed),
		ProtectedPaths: defaultProtected(extraProtected),
	}
}

// ValidateDeleteTarget returns nil when path may be deleted, otherwise one
// of the sentinel errors above.
func (v *Validator) ValidateDeleteTarget(path string) error {
	abs, err := NormalizePath(path)
	if err != nil {
		return err
	}
	switch {
	case IsProtectedPath(abs, v.ProtectedPaths):
		return ErrProtectedPath
	case !IsWithinAllowedRoots(abs, v.AllowedRoots):
		return ErrOutsideAllowed
	case DetectTraversal(path):
		return ErrTraversal
	}

	escaped, err := DetectSymlinkEscape(abs, v.AllowedRoots)
	switch {
	case os.IsNotExist(err):
		// Gone already; the delete reports it.
		return nil
	case err != nil:
		return err
	case escaped:
		return ErrSymlinkEscape
	}
	return nil
}

// NormalizePath makes path absolute and clean.
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", ErrInvalidPath
	}
	return abs, nil
}

// DetectTraversal reports a ".." element in the raw, uncleaned path.
func DetectTraversal(raw string) bool {
	for _, elem := range strings.Split(filepath.ToSlash(raw), "/") {
		if elem == ".." {
			return true
		}
	}
	return false
}

// IsWithinAllowedRoots reports whether path is at or below one of the roots.
func IsWithinAllowedRoots(path string, allowedRoots []string) bool {
	return underAny(path, allowedRoots)
}

// DetectSymlinkEscape resolves every link in abs and reports whether the
// real location falls outside allowedRoots.
func DetectSymlinkEscape(abs string, allowedRoots []string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false, err
	}
	if resolved, err = filepath.Abs(resolved); err != nil {
		return false, err
	}
	return !underAny(resolved, allowedRoots), nil
}

// IsProtectedPath is true for volume roots and anything at or below a
// protected entry.
func IsProtectedPath(path string, protected []string) bool {
	if isVolumeRoot(filepath.Clean(path)) {
		return true
	}
	return underAny(path, protected)
}

// IsWithin reports whether path is root or lies below it, matching whole
// path elements.
func IsWithin(path, root string) bool {
	return hasPathPrefix(path, root)
}

// PathsOverlap reports whether a and b are the same path or one contains the
// other. Non-absolute keys only overlap when equal.
func PathsOverlap(a, b string) bool {
	if !filepath.IsAbs(a) || !filepath.IsAbs(b) {
		return a == b
	}
	return hasPathPrefix(a, b) || hasPathPrefix(b, a)
}

func underAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.TrimSpace(prefix) != "" && hasPathPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// hasPathPrefix matches whole path elements, so C:\Temp does not cover
// C:\TempFiles. Case is ignored on Windows.
func hasPathPrefix(path, prefix string) bool {
	path = foldCase(filepath.Clean(path))
	prefix = foldCase(filepath.Clean(prefix))

	switch {
	case isVolumeRoot(prefix):
		return strings.HasPrefix(path, prefix)
	case path == prefix:
		return true
	}
	return strings.HasPrefix(path, prefix+string(os.PathSeparator))
}

func isVolumeRoot(p string) bool {
	return filepath.Dir(p) == p
}

// normalizeRoots makes roots absolute. A root behind a symlink is kept in
// both forms so resolved children still match it.
func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		out = append(out, abs)
		if resolved, err := filepath.EvalSymlinks(abs); err == nil && resolved != abs {
			out = append(out, resolved)
		}
	}
	return out
}

// defaultProtected lists system locations no configuration can unlock.
func defaultProtected(extra []string) []string {
	base := []string{
		"/etc",
		"/bin",
		"/usr",
		"/boot",
		"/lib",
		"/lib64",
		"/sbin",
		"/var/lib/system-toolbox",
		"/etc/system-toolbox",
	}
	base = append(base, windowsProtected()...)
	return append(base, extra...)
}

// windowsProtected covers the OS and program folders. The Windows directory
// itself stays reachable because Temp and Prefetch below it are targets.
func windowsProtected() []string {
	var out []string
	if root := os.Getenv("SystemRoot"); root != "" {
		for _, d := range []string{"System32", "SysWOW64", "WinSxS"} {
			out = append(out, filepath.Join(root, d))
		}
	}
	for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)", "ProgramW6432"} {
		if p := os.Getenv(env); p != "" {
			out = append(out, p)
		}
	}
	return out
}

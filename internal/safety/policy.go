package safety

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard"
)

var ErrInvalidMaxAge = errors.New("max file age must be at least 1 day")

// DefaultMaxFileAgeDays is the minimum age a file needs before it is eligible.
const DefaultMaxFileAgeDays = 7

const day = 24 * time.Hour

// Policy is the rule set a cleaning run evaluates for every entry.
// Build it with NewPolicy and treat it as read-only afterwards; a single
// Policy may be shared across concurrent runs.
type Policy struct {
	// SafePathPrefixes are never touched and never descended into. Matching
	// is a plain string prefix of the cleaned path, case-insensitive on Windows.
	SafePathPrefixes []string

	// SafePatterns are wildcard patterns (* and ?) matched against the full path.
	SafePatterns []string

	// ExcludedExtensions are lower-case, dot-prefixed file extensions.
	ExcludedExtensions []string

	// ProtectedNames are exact base names that are never deleted.
	ProtectedNames []string

	MaxFileAgeDays int

	extSet   map[string]struct{}
	nameSet  map[string]struct{}
	prefixes []string
}

// NewPolicy validates p and returns a normalised copy ready for evaluation.
func NewPolicy(p Policy) (*Policy, error) {
	if p.MaxFileAgeDays < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxAge, p.MaxFileAgeDays)
	}

	out := &Policy{
		MaxFileAgeDays: p.MaxFileAgeDays,
		SafePatterns:   append([]string(nil), p.SafePatterns...),
		extSet:         make(map[string]struct{}, len(p.ExcludedExtensions)),
		nameSet:        make(map[string]struct{}, len(p.ProtectedNames)),
	}

	for _, sp := range p.SafePathPrefixes {
		if strings.TrimSpace(sp) == "" {
			continue
		}
		cleaned := filepath.Clean(sp)
		if !filepath.IsAbs(cleaned) {
			return nil, fmt.Errorf("safe path %q: %w", sp, ErrInvalidPath)
		}
		out.SafePathPrefixes = append(out.SafePathPrefixes, cleaned)
		out.prefixes = append(out.prefixes, foldCase(cleaned))
	}

	for _, ext := range p.ExcludedExtensions {
		norm := NormalizeExtension(ext)
		if norm == "" {
			continue
		}
		if _, dup := out.extSet[norm]; dup {
			continue
		}
		out.extSet[norm] = struct{}{}
		out.ExcludedExtensions = append(out.ExcludedExtensions, norm)
	}

	for _, name := range p.ProtectedNames {
		if name == "" {
			continue
		}
		out.nameSet[foldCase(name)] = struct{}{}
		out.ProtectedNames = append(out.ProtectedNames, name)
	}

	return out, nil
}

// WithProtectedNames returns a copy of p that additionally protects names.
func (p *Policy) WithProtectedNames(names ...string) *Policy {
	out := *p
	out.ProtectedNames = append([]string(nil), p.ProtectedNames...)
	out.nameSet = make(map[string]struct{}, len(p.nameSet)+len(names))
	for k := range p.nameSet {
		out.nameSet[k] = struct{}{}
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		out.nameSet[foldCase(name)] = struct{}{}
		out.ProtectedNames = append(out.ProtectedNames, name)
	}
	return &out
}

// IsPathSafe reports whether path falls under a safe prefix or pattern.
func (p *Policy) IsPathSafe(path string) bool {
	cleaned := foldCase(filepath.Clean(path))
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(cleaned, prefix) {
			return true
		}
	}
	for _, pattern := range p.SafePatterns {
		if wildcard.Match(foldCase(pattern), cleaned) {
			return true
		}
	}
	return false
}

// IsExcludedExtension reports whether the file extension of path is excluded.
func (p *Policy) IsExcludedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return false
	}
	_, ok := p.extSet[ext]
	return ok
}

// IsProtectedName reports whether the base name of path is protected.
func (p *Policy) IsProtectedName(path string) bool {
	if len(p.nameSet) == 0 {
		return false
	}
	_, ok := p.nameSet[foldCase(filepath.Base(path))]
	return ok
}

// AgeDays returns the whole number of days between mtime and now.
// ok is false when mtime carries no usable value.
func AgeDays(mtime, now time.Time) (days int, ok bool) {
	if mtime.IsZero() {
		return 0, false
	}
	return int(math.Floor(float64(now.Sub(mtime)) / float64(day))), true
}

// IsTooNew reports whether a file with the given mtime is younger than the
// policy allows. Unknown and future timestamps count as too new.
func (p *Policy) IsTooNew(mtime, now time.Time) bool {
	age, ok := AgeDays(mtime, now)
	if !ok {
		return true
	}
	return age < p.MaxFileAgeDays
}

// NormalizeExtension lower-cases ext and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func foldCase(s string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(s)
	}
	return s
}

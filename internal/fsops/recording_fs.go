package fsops

import (
	"io/fs"
	"sync"
)

// RecordingFS wraps another FS, records every Remove call and injects
// per-path failures. With NoDelete set, removals are recorded but not performed.
type RecordingFS struct {
	Base     FS
	NoDelete bool

	ReadDirErrs map[string]error
	StatErrs    map[string]error
	RemoveErrs  map[string]error

	mu    sync.Mutex
	calls []string
}

// NewRecordingFS wraps OSFS.
func NewRecordingFS() *RecordingFS {
	return &RecordingFS{
		Base:        OSFS{},
		ReadDirErrs: make(map[string]error),
		StatErrs:    make(map[string]error),
		RemoveErrs:  make(map[string]error),
	}
}

func (r *RecordingFS) ReadDir(path string) ([]fs.DirEntry, error) {
	if err, ok := r.ReadDirErrs[path]; ok {
		return nil, err
	}
	return r.Base.ReadDir(path)
}

func (r *RecordingFS) Stat(path string) (fs.FileInfo, error) {
	if err, ok := r.StatErrs[path]; ok {
		return nil, err
	}
	return r.Base.Stat(path)
}

func (r *RecordingFS) Lstat(path string) (fs.FileInfo, error) {
	if err, ok := r.StatErrs[path]; ok {
		return nil, err
	}
	return r.Base.Lstat(path)
}

func (r *RecordingFS) Remove(path string) error {
	r.mu.Lock()
	r.calls = append(r.calls, "rm:"+path)
	r.mu.Unlock()

	if err, ok := r.RemoveErrs[path]; ok {
		return err
	}
	if r.NoDelete {
		return nil
	}
	return r.Base.Remove(path)
}

// Calls returns a copy of the recorded remove calls in order.
func (r *RecordingFS) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

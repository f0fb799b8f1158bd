package fsops

import "io/fs"

// FS abstracts the filesystem calls made while cleaning.
// Enables fault injection in tests and proves dry-run never deletes.
type FS interface {
	ReadDir(path string) ([]fs.DirEntry, error)
	Stat(path string) (fs.FileInfo, error)
	Lstat(path string) (fs.FileInfo, error)
	Remove(path string) error
}

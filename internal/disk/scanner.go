// Package disk measures directory trees and the volumes that hold them.
package disk

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	psdisk "github.com/shirou/gopsutil/v4/disk"
)

// PathStats is one measured tree plus the capacity of its volume.
type PathStats struct {
	UsedBytes  int64 // regular files only
	FileCount  int64
	FreeBytes  int64
	TotalBytes int64
}

// Prober measures directory trees. Every call walks the tree again; sizes
// taken before and after a clean must not come from a cache.
type Prober struct{}

func (Prober) TotalSize(root string) int64 {
	return TotalSize(root)
}

// TotalSize sums the sizes of regular files below root. Entries that cannot
// be read are left out of the sum; a missing root measures zero.
func TotalSize(root string) int64 {
	bytes, _ := measure(root)
	return bytes
}

// measure never follows links and ignores unreadable entries.
func measure(root string) (bytes, files int64) {
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			bytes += info.Size()
			files++
		}
		return nil
	})
	return bytes, files
}

// ScanPath measures path and reads the free and total bytes of its volume.
func ScanPath(path string) (*PathStats, error) {
	usage, err := psdisk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("volume usage for %s: %w", path, err)
	}
	st := &PathStats{FreeBytes: int64(usage.Free), TotalBytes: int64(usage.Total)}
	st.UsedBytes, st.FileCount = measure(path)
	return st, nil
}

// ScanPathsParallel scans each path on its own goroutine. Paths that fail
// are missing from the map; the first failure is returned with the rest.
func ScanPathsParallel(paths []string) (map[string]*PathStats, error) {
	stats := make([]*PathStats, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats[i], errs[i] = ScanPath(p)
		}()
	}
	wg.Wait()

	results := make(map[string]*PathStats, len(paths))
	var first error
	for i, p := range paths {
		if errs[i] != nil {
			if first == nil {
				first = fmt.Errorf("scan %s: %w", p, errs[i])
			}
			continue
		}
		results[p] = stats[i]
	}
	return results, first
}

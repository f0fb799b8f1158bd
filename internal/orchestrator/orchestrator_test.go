package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"system-toolbox/internal/cleaner"
	"system-toolbox/internal/safety"
)

const day = 24 * time.Hour

type fakeProber struct {
	sizes []int64
	calls int
}

func (f *fakeProber) TotalSize(root string) int64 {
	if f.calls >= len(f.sizes) {
		return 0
	}
	s := f.sizes[f.calls]
	f.calls++
	return s
}

type fakeTerminator struct {
	names [][]string
}

func (f *fakeTerminator) Terminate(ctx context.Context, names ...string) int {
	f.names = append(f.names, names)
	return len(names)
}

func writeAged(t *testing.T, path string, size int, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func mustPolicy(t *testing.T, p safety.Policy) *safety.Policy {
	t.Helper()
	p.MaxFileAgeDays = 7
	out, err := safety.NewPolicy(p)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCleanWithAccountingMeasuresFreedBytes(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.tmp"), 300, 10*day)
	writeAged(t, filepath.Join(root, "sub", "old.log"), 200, 10*day)
	writeAged(t, filepath.Join(root, "new.tmp"), 50, time.Hour)

	term := &fakeTerminator{}
	o := New(cleaner.NewSafeCleaner(cleaner.Options{}), Options{Terminator: term})

	res, err := o.CleanWithAccounting(context.Background(), root, mustPolicy(t, safety.Policy{}), "locker.exe")
	if err != nil {
		t.Fatalf("CleanWithAccounting() error = %v", err)
	}
	if res.BytesFreed != 500 {
		t.Errorf("BytesFreed = %d, expected 500", res.BytesFreed)
	}
	if res.CleanedCount != 2 || res.SkippedCount != 1 {
		t.Errorf("cleaned=%d skipped=%d, expected 2/1", res.CleanedCount, res.SkippedCount)
	}
	if len(term.names) != 1 || term.names[0][0] != "locker.exe" {
		t.Errorf("terminator calls = %v", term.names)
	}
}

func TestCleanWithAccountingClampsGrowth(t *testing.T) {
	root := t.TempDir()
	prober := &fakeProber{sizes: []int64{100, 150}}
	o := New(cleaner.NewSafeCleaner(cleaner.Options{}), Options{Prober: prober})

	res, err := o.CleanWithAccounting(context.Background(), root, mustPolicy(t, safety.Policy{}))
	if err != nil {
		t.Fatalf("CleanWithAccounting() error = %v", err)
	}
	if res.BytesFreed != 0 {
		t.Errorf("BytesFreed = %d, expected 0 when the tree grew", res.BytesFreed)
	}
	if prober.calls != 2 {
		t.Errorf("prober called %d times, expected 2", prober.calls)
	}
}

func TestCleanWithAccountingRootError(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	o := New(cleaner.NewSafeCleaner(cleaner.Options{}), Options{})

	res, err := o.CleanWithAccounting(context.Background(), missing, mustPolicy(t, safety.Policy{}))
	if !errors.Is(err, cleaner.ErrRootNotFound) {
		t.Fatalf("error = %v, expected ErrRootNotFound", err)
	}
	if res.CleanedCount != 0 || res.SkippedCount != 0 || res.Decisions != nil {
		t.Errorf("expected no partial result, got %+v", res)
	}
}

func TestDryRunDoesNotTerminate(t *testing.T) {
	root := t.TempDir()
	writeAged(t, filepath.Join(root, "old.tmp"), 10, 10*day)

	term := &fakeTerminator{}
	o := New(cleaner.NewSafeCleaner(cleaner.Options{DryRun: true}), Options{Terminator: term})

	res, err := o.CleanWithAccounting(context.Background(), root, mustPolicy(t, safety.Policy{}), "chrome.exe")
	if err != nil {
		t.Fatal(err)
	}
	if len(term.names) != 0 {
		t.Errorf("dry run terminated %v", term.names)
	}
	if res.BytesFreed != 0 || res.CleanedCount != 1 {
		t.Errorf("dry run result = %+v", res)
	}
}

func TestCleanBrowser(t *testing.T) {
	base := t.TempDir()

	// Chromium layout: cache directory plus a single cookie file.
	cache := filepath.Join(base, "chrome", "Cache")
	cookies := filepath.Join(base, "chrome", "Cookies")
	writeAged(t, filepath.Join(cache, "data_1"), 400, 10*day)
	writeAged(t, filepath.Join(cache, "Bookmarks"), 40, 10*day)
	writeAged(t, cookies, 100, 10*day)

	// Firefox layout: profiles with cache2 and named stores.
	profiles := filepath.Join(base, "firefox", "Profiles")
	p1 := filepath.Join(profiles, "abc.default")
	writeAged(t, filepath.Join(p1, "cache2", "entries", "E1"), 250, 10*day)
	writeAged(t, filepath.Join(p1, "cookies.sqlite"), 60, time.Hour)
	writeAged(t, filepath.Join(p1, "places.sqlite"), 80, 10*day)
	writeAged(t, filepath.Join(profiles, "profiles.ini"), 5, 10*day)

	policy := mustPolicy(t, safety.Policy{}).WithProtectedNames("Bookmarks", "places.sqlite")
	term := &fakeTerminator{}
	o := New(cleaner.NewSafeCleaner(cleaner.Options{}), Options{Terminator: term})

	t.Run("chromium", func(t *testing.T) {
		b := Browser{
			Name:      "chrome",
			Paths:     []string{cache, cookies, filepath.Join(base, "chrome", "History")},
			Processes: []string{"chrome.exe"},
		}
		res, err := o.CleanBrowser(context.Background(), b, policy)
		if err != nil {
			t.Fatal(err)
		}
		if res.CleanedCount != 2 || res.SkippedCount != 1 {
			t.Errorf("cleaned=%d skipped=%d, expected 2/1", res.CleanedCount, res.SkippedCount)
		}
		if res.BytesFreed != 500 {
			t.Errorf("BytesFreed = %d, expected 500", res.BytesFreed)
		}
		if _, err := os.Stat(filepath.Join(cache, "Bookmarks")); err != nil {
			t.Errorf("Bookmarks should survive: %v", err)
		}
	})

	t.Run("firefox profiles", func(t *testing.T) {
		b := Browser{
			Name:         "firefox",
			ProfileRoots: []string{profiles, filepath.Join(base, "absent")},
			NamedFiles:   []string{"cookies.sqlite", "webappsstore.sqlite"},
			CacheDir:     "cache2",
			Processes:    []string{"firefox.exe"},
		}
		res, err := o.CleanBrowser(context.Background(), b, policy)
		if err != nil {
			t.Fatal(err)
		}
		// cache2 entry plus the fresh cookie store, which has no age gate.
		if res.CleanedCount != 2 {
			t.Errorf("cleaned=%d, expected 2", res.CleanedCount)
		}
		if res.BytesFreed != 310 {
			t.Errorf("BytesFreed = %d, expected 310", res.BytesFreed)
		}
		for _, keep := range []string{filepath.Join(p1, "places.sqlite"), filepath.Join(profiles, "profiles.ini"), filepath.Join(p1, "cache2")} {
			if _, err := os.Stat(keep); err != nil {
				t.Errorf("%s should survive: %v", keep, err)
			}
		}
	})

	if len(term.names) != 2 {
		t.Errorf("terminator calls = %v, expected one per browser", term.names)
	}
}

func TestCleanBrowserNothingPresent(t *testing.T) {
	term := &fakeTerminator{}
	o := New(cleaner.NewSafeCleaner(cleaner.Options{}), Options{Terminator: term})

	res, err := o.CleanBrowser(context.Background(), Browser{
		Name:      "opera",
		Paths:     []string{filepath.Join(t.TempDir(), "none")},
		Processes: []string{"opera.exe"},
	}, mustPolicy(t, safety.Policy{}))
	if err != nil {
		t.Fatal(err)
	}
	if res.CleanedCount+res.SkippedCount != 0 || res.BytesFreed != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
	if len(term.names) != 0 {
		t.Error("should not terminate a browser with no data present")
	}
}

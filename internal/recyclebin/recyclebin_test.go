package recyclebin

import (
	"context"
	"errors"
	"runtime"
	"syscall"
	"testing"
	"time"

	"system-toolbox/internal/fsops"
)

type fakeShell struct {
	infos     []Info
	emptyErrs []error
	queries   int
	empties   int
	lastFlags uint32
}

func (f *fakeShell) query() (Info, error) {
	i := f.queries
	f.queries++
	if i >= len(f.infos) {
		return Info{}, nil
	}
	return f.infos[i], nil
}

func (f *fakeShell) empty(flags uint32) error {
	i := f.empties
	f.empties++
	f.lastFlags = flags
	if i >= len(f.emptyErrs) {
		return nil
	}
	return f.emptyErrs[i]
}

var busy = HRESULTError(0x80070020)

func fastRetry(attempts int) fsops.RetryPolicy {
	return fsops.RetryPolicy{
		Attempts:  attempts,
		Delay:     time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, busy) },
	}
}

func TestEmpty(t *testing.T) {
	tests := []struct {
		name        string
		shell       *fakeShell
		opts        Options
		wantErr     bool
		wantEmpties int
		wantFreed   int64
	}{
		{
			name:        "already empty skips the shell call",
			shell:       &fakeShell{infos: []Info{{}}},
			opts:        Options{Retry: fastRetry(3)},
			wantEmpties: 0,
		},
		{
			name:        "dry run reports without emptying",
			shell:       &fakeShell{infos: []Info{{Size: 100, Items: 2}}},
			opts:        Options{DryRun: true, Retry: fastRetry(3)},
			wantEmpties: 0,
		},
		{
			name:        "success",
			shell:       &fakeShell{infos: []Info{{Size: 100, Items: 2}, {}}},
			opts:        Options{Retry: fastRetry(3)},
			wantEmpties: 1,
			wantFreed:   100,
		},
		{
			name:        "E_UNEXPECTED counts as emptied",
			shell:       &fakeShell{infos: []Info{{Size: 50, Items: 1}, {}}, emptyErrs: []error{HRESULTError(hresultUnexpected)}},
			opts:        Options{Retry: fastRetry(3)},
			wantEmpties: 1,
			wantFreed:   50,
		},
		{
			name:        "transient failures are retried",
			shell:       &fakeShell{infos: []Info{{Size: 70, Items: 3}, {}}, emptyErrs: []error{busy, busy}},
			opts:        Options{Retry: fastRetry(3)},
			wantEmpties: 3,
			wantFreed:   70,
		},
		{
			name:        "retries exhausted",
			shell:       &fakeShell{infos: []Info{{Size: 70, Items: 3}}, emptyErrs: []error{busy, busy, busy}},
			opts:        Options{Retry: fastRetry(3)},
			wantErr:     true,
			wantEmpties: 3,
		},
		{
			name:        "permanent failure is not retried",
			shell:       &fakeShell{infos: []Info{{Size: 70, Items: 3}}, emptyErrs: []error{HRESULTError(0x80004005)}},
			opts:        Options{Retry: fastRetry(3)},
			wantErr:     true,
			wantEmpties: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Bin{sh: tt.shell}
			res, err := b.Empty(context.Background(), tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Empty() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.shell.empties != tt.wantEmpties {
				t.Errorf("empty calls = %d, expected %d", tt.shell.empties, tt.wantEmpties)
			}
			if res.BytesFreed != tt.wantFreed {
				t.Errorf("BytesFreed = %d, expected %d", res.BytesFreed, tt.wantFreed)
			}
		})
	}
}

func TestEmptyFlags(t *testing.T) {
	sh := &fakeShell{infos: []Info{{Size: 1, Items: 1}, {}}}
	b := &Bin{sh: sh}
	if _, err := b.Empty(context.Background(), Options{NoSound: true, Retry: fastRetry(1)}); err != nil {
		t.Fatal(err)
	}
	want := uint32(flagNoConfirmation | flagNoProgressUI | flagNoSound)
	if sh.lastFlags != want {
		t.Errorf("flags = %#x, expected %#x", sh.lastFlags, want)
	}
}

func TestHRESULTErrorUnwrap(t *testing.T) {
	if got := HRESULTError(0x80070020).Unwrap(); got != syscall.Errno(0x20) {
		t.Errorf("Unwrap() = %v, expected errno 0x20", got)
	}
	if got := HRESULTError(0x80004005).Unwrap(); got != nil {
		t.Errorf("non-Win32 HRESULT should not unwrap, got %v", got)
	}
	if HRESULTError(0x8000FFFF).Error() != "HRESULT 0x8000FFFF" {
		t.Errorf("Error() = %q", HRESULTError(0x8000FFFF).Error())
	}
}

func TestUnsupportedPlatform(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("recycle bin is available on windows")
	}
	_, err := New().Empty(context.Background(), Options{})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("error = %v, expected ErrUnsupported", err)
	}
}

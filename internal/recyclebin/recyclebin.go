// Package recyclebin queries and empties the Windows Recycle Bin on all drives.
package recyclebin

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"system-toolbox/internal/fsops"
)

// ErrUnsupported is returned on platforms without a recycle bin API.
var ErrUnsupported = errors.New("recycle bin is not supported on this platform")

// SHEmptyRecycleBinW flags.
const (
	flagNoConfirmation = 0x00000001
	flagNoProgressUI   = 0x00000002
	flagNoSound        = 0x00000004
)

// hresultUnexpected is E_UNEXPECTED, returned when the bin is already empty.
const hresultUnexpected = 0x8000FFFF

// Info is the content of the bin across all drives.
type Info struct {
	Size  int64 `json:"size"`
	Items int64 `json:"items"`
}

// Options control an Empty call.
type Options struct {
	DryRun bool
	// ShowProgress leaves the shell progress dialog enabled.
	ShowProgress bool
	NoSound      bool
	Retry        fsops.RetryPolicy
}

// Result reports an Empty call.
type Result struct {
	Before     Info  `json:"before"`
	BytesFreed int64 `json:"bytes_freed"`
	Items      int64 `json:"items"`
	DryRun     bool  `json:"dry_run"`
}

// HRESULTError is a failing shell32 return code.
type HRESULTError uint32

func (e HRESULTError) Error() string {
	return fmt.Sprintf("HRESULT 0x%08X", uint32(e))
}

// Unwrap exposes the Win32 error code carried by FACILITY_WIN32 results.
func (e HRESULTError) Unwrap() error {
	if (uint32(e)>>16)&0x1FFF == 7 {
		return syscall.Errno(uint32(e) & 0xFFFF)
	}
	return nil
}

// shell is the OS binding.
type shell interface {
	query() (Info, error)
	empty(flags uint32) error
}

// Bin operates on the recycle bin through the platform shell.
type Bin struct {
	sh shell
}

// New returns a Bin bound to the current platform.
func New() *Bin {
	return &Bin{sh: platformShell()}
}

// Query returns the current size and item count.
func (b *Bin) Query() (Info, error) {
	info, err := b.sh.query()
	if err != nil {
		return Info{}, fmt.Errorf("query recycle bin: %w", err)
	}
	return info, nil
}

// Empty empties the bin without confirmation, retrying transient sharing
// and lock violations. An already empty bin is not an error.
func (b *Bin) Empty(ctx context.Context, opts Options) (Result, error) {
	before, err := b.Query()
	if err != nil {
		return Result{}, err
	}
	res := Result{Before: before, DryRun: opts.DryRun}
	if opts.DryRun || before.Items == 0 {
		return res, nil
	}

	flags := uint32(flagNoConfirmation)
	if !opts.ShowProgress {
		flags |= flagNoProgressUI
	}
	if opts.NoSound {
		flags |= flagNoSound
	}

	policy := opts.Retry
	if policy.Attempts == 0 {
		policy = fsops.DefaultRetryPolicy
	}
	err = fsops.Retry(ctx, policy, func() error {
		err := b.sh.empty(flags)
		var hr HRESULTError
		if errors.As(err, &hr) && uint32(hr) == hresultUnexpected {
			return nil
		}
		return err
	})
	if err != nil {
		return res, fmt.Errorf("empty recycle bin: %w", err)
	}

	after, err := b.Query()
	if err != nil {
		after = Info{}
	}
	res.BytesFreed = before.Size - after.Size
	if res.BytesFreed < 0 {
		res.BytesFreed = 0
	}
	res.Items = before.Items - after.Items
	if res.Items < 0 {
		res.Items = 0
	}
	return res, nil
}

//go:build !windows

package recyclebin

type unsupportedShell struct{}

func platformShell() shell { return unsupportedShell{} }

func (unsupportedShell) query() (Info, error) { return Info{}, ErrUnsupported }

func (unsupportedShell) empty(uint32) error { return ErrUnsupported }

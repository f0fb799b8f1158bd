//go:build windows

package recyclebin

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modShell32          = windows.NewLazySystemDLL("shell32.dll")
	procEmptyRecycleBin = modShell32.NewProc("SHEmptyRecycleBinW")
	procQueryRecycleBin = modShell32.NewProc("SHQueryRecycleBinW")
)

// shQueryRBInfo mirrors SHQUERYRBINFO. Natural alignment pads cbSize to
// match the C layout on 32 and 64 bit.
type shQueryRBInfo struct {
	cbSize      uint32
	i64Size     int64
	i64NumItems int64
}

type shell32 struct{}

func platformShell() shell { return shell32{} }

func (shell32) query() (Info, error) {
	if err := procQueryRecycleBin.Find(); err != nil {
		return Info{}, err
	}
	var info shQueryRBInfo
	info.cbSize = uint32(unsafe.Sizeof(info))

	// NULL root queries all drives.
	ret, _, _ := procQueryRecycleBin.Call(0, uintptr(unsafe.Pointer(&info)))
	if ret != 0 {
		return Info{}, HRESULTError(uint32(ret))
	}
	return Info{Size: info.i64Size, Items: info.i64NumItems}, nil
}

func (shell32) empty(flags uint32) error {
	if err := procEmptyRecycleBin.Find(); err != nil {
		return err
	}
	ret, _, _ := procEmptyRecycleBin.Call(0, 0, uintptr(flags))
	if ret != 0 {
		return HRESULTError(uint32(ret))
	}
	return nil
}

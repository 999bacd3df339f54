//go:build windows

package output

import (
	"fmt"
	"os"
	"syscall"
)

func restoreCreationTime(src os.FileInfo, dst string) error {
	attrs, ok := src.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return nil
	}
	p, err := syscall.UTF16PtrFromString(dst)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	h, err := syscall.CreateFile(p, syscall.FILE_WRITE_ATTRIBUTES,
		syscall.FILE_SHARE_READ|syscall.FILE_SHARE_WRITE, nil,
		syscall.OPEN_EXISTING, syscall.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	ctime := attrs.CreationTime
	if err := syscall.SetFileTime(h, &ctime, nil, nil); err != nil {
		return fmt.Errorf("set creation time: %w", err)
	}
	return nil
}

//go:build !windows

package output

import "os"

// Only Windows exposes a settable creation time.
func restoreCreationTime(os.FileInfo, string) error {
	return nil
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package output

import (
	"fmt"
	"os"
	"time"
)

// RestoreFileTimes copies the modification time of src onto dst, and on
// Windows the creation time as well. The access time of dst is left alone.
func RestoreFileTimes(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if err := os.Chtimes(dst, time.Time{}, info.ModTime()); err != nil {
		return fmt.Errorf("set output times: %w", err)
	}
	return restoreCreationTime(info, dst)
}

//go:build darwin

package storage

import (
	"fmt"
	"strings"
	"syscall"
)

// detectFilesystemType returns the f_fstypename of the mount, e.g. "apfs",
// "nfs" or "smbfs".
func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}

	var b strings.Builder
	for _, c := range stat.Fstypename {
		if c == 0 {
			break
		}
		b.WriteByte(byte(c))
	}
	return b.String(), nil
}

package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the directory holding local state such as the SQLite
// session database.
const DataDirName = ".shiro"

// EnsureParentDir creates the directory that will hold file.
func EnsureParentDir(file string) error {
	dir := filepath.Dir(file)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}
	return nil
}

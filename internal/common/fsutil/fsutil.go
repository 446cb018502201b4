// Package fsutil holds the small path helpers shared by config loading,
// the model catalog and the model manager.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome resolves a leading "~" or "~/" against the user's home
// directory. Other paths, including "~user", are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home for %q: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// PathExists reports whether path may exist. Stat errors other than
// not-exist (permission denied, for one) count as existing.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// PlausibleFile reports whether path is a regular file larger than minBytes.
// Truncated downloads and placeholder files fail the check.
func PlausibleFile(path string, minBytes int64) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular() && st.Size() > minBytes
}

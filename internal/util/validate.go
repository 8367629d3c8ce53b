package util

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// IsConfigured reports whether all provided values are non-empty.
func IsConfigured(values ...string) bool {
	return !slices.Contains(values, "")
}

// ValidatePath rejects empty paths and paths with parent directory
// components. field names the setting in the error.
func ValidatePath(field, path string) error {
	if path == "" {
		return fmt.Errorf("%s: is required", field)
	}
	for part := range strings.SplitSeq(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("%s: path cannot contain '..'", field)
		}
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%s: invalid path", field)
	}
	return nil
}

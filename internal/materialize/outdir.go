package materialize

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PrepareOutputDir checks the directory clips and frames are written under
// and creates it when missing.
func PrepareOutputDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("output dir is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return "", fmt.Errorf("output dir cannot contain path traversal")
		}
	}

	cleaned := filepath.Clean(dir)
	info, err := os.Stat(cleaned)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cleaned, 0755); err != nil {
			return "", fmt.Errorf("failed to create output dir: %w", err)
		}
		return cleaned, nil
	case err != nil:
		return "", fmt.Errorf("invalid output dir: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("output dir %s is not a directory", cleaned)
	}
	return cleaned, nil
}

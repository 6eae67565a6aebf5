package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var frameExts = map[string]struct{}{
	".fit":  {},
	".fits": {},
	".fts":  {},
	".xisf": {},
	".tif":  {},
	".tiff": {},
}

// ListFrames returns all frame files under root in lexical order.
func ListFrames(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsFrameFile(path) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// IsFrameFile checks if a file has a supported frame extension.
func IsFrameFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := frameExts[ext]
	return ok
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// EnsureDir creates dir (and parents) if needed and returns it.
func EnsureDir(dir string) (string, error) {
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		return "", fmt.Errorf("cannot create directory %s: file exists with same name", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// EstimateFrameSize returns the average size in bytes of a sample of files.
func EstimateFrameSize(files []string) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}

	// Sample a few files to estimate average size
	sampleSize := len(files)
	if sampleSize > 5 {
		sampleSize = 5
	}

	var total int64
	var counted int64
	for i := 0; i < sampleSize; i++ {
		if stat, err := os.Stat(files[i]); err == nil {
			total += stat.Size()
			counted++
		}
	}
	if counted == 0 {
		return 0, fmt.Errorf("could not determine file sizes")
	}
	return total / counted, nil
}

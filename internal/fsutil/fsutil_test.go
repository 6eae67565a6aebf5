package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListFramesFiltersExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b", "light_002.FITS"), 1)
	writeFile(t, filepath.Join(root, "a", "light_001.xisf"), 1)
	writeFile(t, filepath.Join(root, "a", "notes.txt"), 1)
	writeFile(t, filepath.Join(root, "a", "preview.jpg"), 1)

	files, err := ListFrames(root)
	if err != nil {
		t.Fatalf("ListFrames: %v", err)
	}
	want := []string{
		filepath.Join(root, "a", "light_001.xisf"),
		filepath.Join(root, "b", "light_002.FITS"),
	}
	if len(files) != len(want) {
		t.Fatalf("expected %d frames, got %v", len(want), files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s", i, files[i], want[i])
		}
	}
}

func TestEstimateFrameSizeAverages(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a.fits")
	b := filepath.Join(root, "b.fits")
	writeFile(t, a, 100)
	writeFile(t, b, 300)

	size, err := EstimateFrameSize([]string{a, b, filepath.Join(root, "missing.fits")})
	if err != nil {
		t.Fatalf("EstimateFrameSize: %v", err)
	}
	if size != 200 {
		t.Fatalf("expected 200, got %d", size)
	}

	if _, err := EstimateFrameSize([]string{filepath.Join(root, "missing.fits")}); err == nil {
		t.Fatalf("expected error when no sample can be read")
	}
}

func TestEnsureDirRejectsFile(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "taken")
	writeFile(t, file, 1)
	if _, err := EnsureDir(file); err == nil {
		t.Fatalf("expected error for existing file")
	}
	dir := filepath.Join(root, "x", "y")
	if got, err := EnsureDir(dir); err != nil || got != dir {
		t.Fatalf("EnsureDir(%s) = %s, %v", dir, got, err)
	}
	if Exists(dir) {
		t.Fatalf("Exists should be false for directories")
	}
}

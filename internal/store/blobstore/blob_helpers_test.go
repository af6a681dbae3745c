package blobstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic_StaysInsideRoot(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	for _, name := range []string{"../outside", "/etc/passwd", "ab/../../x", ""} {
		if err := writeFileAtomic(root, name, []byte("x"), 0o644); !errors.Is(err, ErrInvalidID) {
			t.Errorf("writeFileAtomic(%q) error = %v, want ErrInvalidID", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside")); !os.IsNotExist(err) {
		t.Errorf("file written outside root: %v", err)
	}
}

func TestWriteFileAtomic_ReplacesWithoutLeftovers(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	if err := writeFileAtomic(root, filepath.Join("a..b", "blob"), []byte("one"), 0o600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writeFileAtomic(root, filepath.Join("a..b", "blob"), []byte("two"), 0o600); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "a..b", "blob"))
	if err != nil || string(data) != "two" {
		t.Fatalf("content = %q, %v", data, err)
	}
	entries, err := os.ReadDir(filepath.Join(root, "a..b"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the blob", len(entries))
	}
	info, err := os.Stat(filepath.Join(root, "a..b", "blob"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic stores data at root/name. The bytes go to a temp file in the
// target directory which is synced and renamed over the target, so readers see
// either no blob or the whole blob. name must be a local path below root.
func writeFileAtomic(root, name string, data []byte, perm os.FileMode) error {
	if !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q escapes the blob directory", ErrInvalidID, name)
	}
	path := filepath.Join(root, name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create blob shard: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish blob: %w", err)
	}
	renamed = true
	return nil
}

package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore keeps documents under a directory on disk.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte) (string, error) {
	full := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return "", fmt.Errorf("rename %s: %w", key, err)
	}
	return full, nil
}

// Package fileutil provides the filesystem surface behind external content
// payloads: atomic writes, parent creation and best-effort cleanup.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WritePayload writes data to path atomically: the bytes land in a uniquely
// named temp file in the target directory and are renamed into place. With
// mkdir set, missing parent directories are created first.
func WritePayload(path string, data []byte, mkdir bool) error {
	dir := filepath.Dir(path)
	if mkdir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create payload directory: %w", err)
		}
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadPayload reads an external payload into memory.
func ReadPayload(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// RemoveQuiet deletes path on a best-effort basis, for cleanup after an
// error that must propagate unchanged.
func RemoveQuiet(path string) {
	_ = os.Remove(path)
}

// Exists reports whether path names an existing file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore keeps uploads on the local filesystem under a single directory,
// served statically under /uploads/.
type LocalStore struct {
	dir string
}

// NewLocal creates the upload directory if needed and returns a LocalStore.
func NewLocal(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

// Dir returns the directory uploads are written to.
func (s *LocalStore) Dir() string { return s.dir }

// Save writes the object under a random name, preserving the extension.
func (s *LocalStore) Save(_ context.Context, filename string, _ string, r io.Reader) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	dst := filepath.Join(s.dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return "/uploads/" + name, nil
}

// Remove deletes a stored file by its public reference.
func (s *LocalStore) Remove(_ context.Context, ref string) error {
	name, ok := strings.CutPrefix(ref, "/uploads/")
	if !ok || name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid storage reference %q", ref)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

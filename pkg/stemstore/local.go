package stemstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local implements Store on the local filesystem, rooted at a directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir. The directory is created
// if it does not exist.
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("stemstore: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("stemstore: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(path string) string {
	return filepath.Join(l.root, filepath.FromSlash(path))
}

// Put writes data through a temporary file and renames it into place, so
// readers never see a partial object.
func (l *Local) Put(_ context.Context, path string, data []byte, _ string) error {
	full := l.resolve(path)
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stemstore: put %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("stemstore: put %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("stemstore: put %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("stemstore: put %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("stemstore: put %s: %w", path, err)
	}
	return nil
}

// Get reads the named file.
func (l *Local) Get(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(l.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("stemstore: get %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether the named file exists.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(l.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes the named file.
func (l *Local) Delete(_ context.Context, path string) error {
	err := os.Remove(l.resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Location returns the absolute filesystem path.
func (l *Local) Location(path string) string {
	return l.resolve(path)
}

var _ Store = (*Local)(nil)

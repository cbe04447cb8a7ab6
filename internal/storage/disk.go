package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DiskStore writes objects under a local directory and serves them from a
// static base URL. Keys are generated server-side so client file names cannot
// escape the directory.
type DiskStore struct {
	dir     string
	baseURL string
}

func NewDiskStore(dir, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &DiskStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *DiskStore) Upload(_ context.Context, name, _ string, r io.Reader) (Object, error) {
	key := uuid.NewString() + filepath.Ext(filepath.Base(name))
	path := filepath.Join(s.dir, key)

	f, err := os.Create(path)
	if err != nil {
		return Object{}, fmt.Errorf("create object file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		_ = os.Remove(path)
		return Object{}, fmt.Errorf("write object file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return Object{}, fmt.Errorf("close object file: %w", err)
	}

	return Object{
		URL: s.baseURL + "/" + key,
		Key: key,
	}, nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	// Keys are always generated by Upload, but never trust a path from the DB.
	if key != filepath.Base(key) {
		return fmt.Errorf("invalid storage key %q", key)
	}

	err := os.Remove(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	return err
}

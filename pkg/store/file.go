package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const fileExt = ".json"

// FileStore keeps one JSON file per namespace below a directory
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, pkgerrors.Wrapf(err, "create store directory %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(namespace string) string {
	return filepath.Join(f.dir, filepath.FromSlash(namespace)+fileExt)
}

func (f *FileStore) Get(_ context.Context, namespace string) ([]byte, error) {
	if err := validNamespace(namespace); err != nil {
		return nil, err
	}
	doc, err := os.ReadFile(f.path(namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read %s", namespace)
	}
	return doc, nil
}

// Set writes to a temporary file and renames it so a crash never leaves a torn document
func (f *FileStore) Set(_ context.Context, namespace string, doc []byte) error {
	if err := validNamespace(namespace); err != nil {
		return err
	}
	target := f.path(namespace)
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return pkgerrors.Wrapf(err, "create directory for %s", namespace)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return pkgerrors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "write %s", namespace)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "sync %s", namespace)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "close %s", namespace)
	}
	return pkgerrors.Wrapf(os.Rename(tmp.Name(), target), "replace %s", namespace)
}

func (f *FileStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(f.dir, path)
		if err != nil {
			return err
		}
		ns := strings.TrimSuffix(filepath.ToSlash(rel), fileExt)
		if strings.HasPrefix(ns, prefix) {
			keys = append(keys, ns)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list store directory")
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) Close() error { return nil }

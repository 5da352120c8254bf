package db

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore keeps the collection as one JSON document, {"keys": [...]}.
type FileStore struct {
	path string
	log  *slog.Logger
}

type keysDocument struct {
	Keys []LicenseKey `json:"keys"`
}

// NewFileStore makes sure the parent directory of path exists.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	return &FileStore{path: path, log: log}, nil
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) LoadAll(_ context.Context) []LicenseKey {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.log.Warn("key store unreadable, using empty collection", "path", f.path, "error", err)
		}
		return []LicenseKey{}
	}

	var doc keysDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		f.log.Warn("key store corrupt, using empty collection", "path", f.path, "error", err)
		f.quarantine(data)
		return []LicenseKey{}
	}
	if doc.Keys == nil {
		return []LicenseKey{}
	}
	return doc.Keys
}

// SaveAll writes to a temp file in the same directory and renames it over
// the target, so readers see either the old or the new document.
func (f *FileStore) SaveAll(_ context.Context, keys []LicenseKey) error {
	if keys == nil {
		keys = []LicenseKey{}
	}
	data, err := json.MarshalIndent(keysDocument{Keys: keys}, "", "    ")
	if err != nil {
		return &StorageError{Op: "encode", Path: f.path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return &StorageError{Op: "save", Path: f.path, Err: err}
	}
	return nil
}

// quarantine keeps the first corrupt document next to the store so the
// next SaveAll does not destroy the only copy.
func (f *FileStore) quarantine(data []byte) {
	dst := f.path + ".corrupt"
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if !errors.Is(err, fs.ErrExist) {
			f.log.Error("failed to preserve corrupt key store", "path", dst, "error", err)
		}
		return
	}
	defer func() {
		if err := out.Close(); err != nil {
			f.log.Error("failed to close corrupt key store copy", "path", dst, "error", err)
		}
	}()
	if _, err := out.Write(data); err != nil {
		f.log.Error("failed to preserve corrupt key store", "path", dst, "error", err)
		return
	}
	f.log.Warn("corrupt key store preserved", "path", dst)
}

// Package videostore keeps course video files on an afero filesystem.
//
// Paths given to a Store are slash separated and relative to the root of its
// filesystem, so the same code runs against the real disk (usually wrapped in
// an afero.BasePathFs) and against an afero.MemMapFs in tests.
package videostore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const uploadDir = "/.uploads"

var (
	ErrNotFound = fmt.Errorf("file not found")
)

type FileInfo struct {
	// Path is relative to the directory passed to ListFiles.
	Path    string
	Name    string
	ModTime time.Time
}

type Store struct {
	fs afero.Fs
}

func New(fileSystem afero.Fs) *Store {
	return &Store{fs: fileSystem}
}

func (s *Store) Fs() afero.Fs {
	return s.fs
}

// ListFiles walks dir recursively and returns every regular file in it. A
// directory that does not exist has no files.
func (s *Store) ListFiles(dir string) ([]FileInfo, error) {
	var a []FileInfo

	if err := afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := relativePath(dir, p)
		if err != nil {
			return err
		}

		a = append(a, FileInfo{Path: rel, Name: info.Name(), ModTime: info.ModTime()})

		return nil
	}); err != nil {
		return nil, fmt.Errorf("videostore.Store.ListFiles: could not walk %q: %w", dir, err)
	}

	return a, nil
}

// WriteFile writes the contents of rd to name, replacing any existing file.
// The data goes to a temporary file first and is renamed into place, so a
// concurrent ListFiles never sees a partial upload.
func (s *Store) WriteFile(name string, rd io.Reader) (*FileInfo, error) {
	dir := path.Dir(name)

	if err := s.fs.MkdirAll(dir, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not create directory %q: %w", dir, err)
	}

	if err := s.fs.MkdirAll(uploadDir, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not create upload directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, uploadDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		s.fs.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, rd); err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not write temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not sync temporary file: %w", err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not close temporary file: %w", err)
	}

	if err := s.fs.Rename(tmpName, name); err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not move upload into place: %w", err)
	}

	st, err := s.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("videostore.Store.WriteFile: could not stat %q: %w", name, err)
	}

	return &FileInfo{Path: path.Base(name), Name: st.Name(), ModTime: st.ModTime()}, nil
}

func (s *Store) Exists(name string) (bool, error) {
	st, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("videostore.Store.Exists: %w", err)
	}

	return st.Mode().IsRegular(), nil
}

func (s *Store) DeleteFile(name string) error {
	ok, err := s.Exists(name)
	if err != nil {
		return fmt.Errorf("videostore.Store.DeleteFile: %w", err)
	}
	if !ok {
		return fmt.Errorf("videostore.Store.DeleteFile: %q: %w", name, ErrNotFound)
	}

	if err := s.fs.Remove(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("videostore.Store.DeleteFile: %q: %w", name, ErrNotFound)
		}

		return fmt.Errorf("videostore.Store.DeleteFile: %w", err)
	}

	return nil
}

func relativePath(base, target string) (string, error) {
	base = path.Clean("/" + filepath.ToSlash(base))
	target = path.Clean("/" + filepath.ToSlash(target))

	if target == base {
		return "", fmt.Errorf("videostore.relativePath: %q is the base directory", target)
	}

	prefix := base
	if prefix != "/" {
		prefix += "/"
	}

	if len(target) <= len(prefix) || target[:len(prefix)] != prefix {
		return "", fmt.Errorf("videostore.relativePath: %q is not inside %q", target, base)
	}

	return target[len(prefix):], nil
}

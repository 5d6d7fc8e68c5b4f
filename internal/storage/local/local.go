package local

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

type Storage struct {
	name string
	base string
	fs   afero.Fs
}

// New returns a store rooted at basePath on fs. A nil fs means the OS filesystem.
func New(name, basePath string, fs afero.Fs) *Storage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Storage{name: name, base: basePath, fs: fs}
}

func (s *Storage) Name() string { return s.name }

func (s *Storage) BasePath() string { return s.base }

func (s *Storage) OpenWriter(_ context.Context, key string) (io.WriteCloser, string, error) {
	finalPath := filepath.Join(s.base, filepath.FromSlash(key))

	if err := s.fs.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, "", fmt.Errorf("mkdir: %w", err)
	}

	tmpPath := finalPath + ".tmp"
	f, err := s.fs.Create(tmpPath)
	if err != nil {
		return nil, "", fmt.Errorf("create temp: %w", err)
	}

	return &Writer{fs: s.fs, f: f, tmpPath: tmpPath, finalPath: finalPath}, finalPath, nil
}

type Writer struct {
	fs        afero.Fs
	f         afero.File
	tmpPath   string
	finalPath string
	closed    bool
}

func (w *Writer) Write(p []byte) (int, error) { return w.f.Write(p) }

// Close publishes the file under its final name. A failed close leaves nothing behind.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.f.Close(); err != nil {
		_ = w.fs.Remove(w.tmpPath)
		return err
	}
	if err := w.fs.Rename(w.tmpPath, w.finalPath); err != nil {
		_ = w.fs.Remove(w.tmpPath)
		return err
	}
	return nil
}

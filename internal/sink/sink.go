package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const partSuffix = ".part"

// Sink receives the bytes of one transfer. Data is not visible at the final
// path until Commit; Discard after a failed transfer leaves nothing behind.
type Sink interface {
	io.Writer

	// Commit makes the written data visible at Path. No writes may follow.
	Commit() error

	// Discard removes everything written so far. Safe to call after Commit,
	// where it is a no-op.
	Discard() error

	// Path is the final location the data will live at once committed.
	Path() string
}

// FileSink stages a download in a temporary sibling file and renames it into
// place on commit, so a crashed or failed transfer never leaves a partial
// artifact at the destination.
type FileSink struct {
	file      *os.File
	path      string
	committed bool
}

// NewFileSink creates the staging file for the given destination path,
// creating parent directories as needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	file, err := os.Create(path + partSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}

	return &FileSink{file: file, path: path}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *FileSink) Commit() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(s.path+partSuffix, s.path); err != nil {
		return fmt.Errorf("failed to move staging file into place: %w", err)
	}

	s.committed = true

	return nil
}

func (s *FileSink) Discard() error {
	if s.committed {
		return nil
	}

	s.file.Close()

	if err := os.Remove(s.path + partSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}

	return nil
}

func (s *FileSink) Path() string {
	return s.path
}

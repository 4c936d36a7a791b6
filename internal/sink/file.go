package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/followcrawl/internal/crawler"
)

// outputFile is the subset of *os.File the writer needs.
type outputFile interface {
	io.WriteSeeker
	Truncate(size int64) error
	Close() error
}

// FileWriter persists one username per line to a plain UTF-8 text file.
// Every line goes straight to the file so a write error belongs to exactly
// one record.
type FileWriter struct {
	path   string
	file   outputFile
	offset int64
}

// NewFileWriter creates (or truncates) the file at path. Output from earlier
// runs is discarded.
func NewFileWriter(path string) (*FileWriter, error) {
	if path == "" {
		return nil, errors.New("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) //nolint:gosec // output is meant to be shared
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return &FileWriter{path: path, file: f}, nil
}

// Path returns the output file location.
func (w *FileWriter) Path() string { return w.path }

// WriteRecord appends the record's username as a single line. A failed
// write leaves no partial line behind, so later records start cleanly.
func (w *FileWriter) WriteRecord(_ context.Context, record crawler.DiscoveryRecord) error {
	if w.file == nil {
		return errors.New("file writer closed")
	}
	n, err := io.WriteString(w.file, string(record.Username)+"\n")
	if err != nil {
		if n > 0 {
			err = errors.Join(err, w.rollback())
		}
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.offset += int64(n)
	return nil
}

// rollback cuts the file back to the end of the last complete line.
func (w *FileWriter) rollback() error {
	if err := w.file.Truncate(w.offset); err != nil {
		return fmt.Errorf("truncate partial line: %w", err)
	}
	if _, err := w.file.Seek(w.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek past partial line: %w", err)
	}
	return nil
}

// Close releases the file handle.
func (w *FileWriter) Close(context.Context) error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", w.path, err)
	}
	return nil
}

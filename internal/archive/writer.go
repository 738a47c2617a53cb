// Package archive writes gzip-compressed tar archives.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Writer streams entries into a .tar.gz file. Writers are closed in reverse
// order: tar, gzip, file.
type Writer struct {
	tw      *tar.Writer
	closers []io.Closer
	closed  bool
}

// Create opens path for writing, truncating it, with owner-only permissions.
//
//nolint:gosec // path is a staged file
func Create(path string) (*Writer, error) {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	gz, err := gzip.NewWriterLevel(out, gzip.DefaultCompression)
	if err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	tw := tar.NewWriter(gz)

	return &Writer{
		tw:      tw,
		closers: []io.Closer{out, gz, tw},
	}, nil
}

// Close flushes and closes all writers, returning the first error encountered.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Add writes one filesystem entry under name. Regular files are copied,
// directories and symlinks become header-only entries. Symlinks keep their
// literal target and are never followed.
func (w *Writer) Add(srcPath, name string, info fs.FileInfo) error {
	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return fmt.Errorf("failed to read link %s: %w", srcPath, err)
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", srcPath, err)
	}
	hdr.Name = name
	if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
		hdr.Name += "/"
	}

	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", srcPath, err)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(srcPath) //nolint:gosec // srcPath comes from a directory walk
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer func() { _ = f.Close() }()

	// the header fixes the size; a file that grows meanwhile is truncated
	if _, err := io.CopyN(w.tw, f, hdr.Size); err != nil {
		return fmt.Errorf("failed to write %s: %w", srcPath, err)
	}

	return nil
}

// AddFileAs writes the regular file at srcPath as a single entry called name,
// with owner-only permissions and the source's modification time.
func (w *Writer) AddFileAs(srcPath, name string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", srcPath)
	}

	f, err := os.Open(srcPath) //nolint:gosec // srcPath is a staged file
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer func() { _ = f.Close() }()

	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     info.Size(),
		Mode:     0o600,
		ModTime:  info.ModTime(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := io.CopyN(w.tw, f, hdr.Size); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}

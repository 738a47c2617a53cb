// Package archivetest reads archives back for tests.
package archivetest

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Entry describes one member of an archive. Content is only filled for regular files.
type Entry struct {
	Name     string
	Type     byte
	Linkname string
	Mode     int64
	Content  []byte
}

// ReadEntries reads every entry of the .tar.gz file at path into memory.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller controlled
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var entries []Entry
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}

		e := Entry{
			Name:     hdr.Name,
			Type:     hdr.Typeflag,
			Linkname: hdr.Linkname,
			Mode:     hdr.Mode,
		}
		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
			}
			e.Content = content
		}
		entries = append(entries, e)
	}

	return entries, nil
}

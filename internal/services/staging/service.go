// Package staging provides owner-only temporary files and directories for a backup run.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Permission bits for everything the staging area creates.
const (
	FileMode os.FileMode = 0o600
	DirMode  os.FileMode = 0o700
)

// Service defines the interface for staging operations.
type Service interface {
	CreateFile(prefix, suffix string) (*StagedFile, error)
	CreateRoot(path string) (string, error)
	RemoveRoot(path string) error
	Publish(src, dst string) (int64, error)
}

// StagedFile is a temporary file owned by the operation that created it.
// The owner must call Remove on every exit path.
type StagedFile struct {
	Path string
	Mode os.FileMode

	logger zerolog.Logger
}

// Remove unlinks the file. Removing an already removed file is not an error.
func (f *StagedFile) Remove() error {
	if f == nil || f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove staged file %s: %w", f.Path, err)
	}
	f.logger.Debug().Str("path", f.Path).Msg("staged file removed")
	return nil
}

// Release removes the file and logs instead of returning a failure. It is meant for defer.
func (f *StagedFile) Release() {
	if err := f.Remove(); err != nil {
		f.logger.Warn().Err(err).Msg("failed to release staged file")
	}
}

// Impl implements the staging Service interface.
type Impl struct {
	tempDir string
	logger  zerolog.Logger
}

// New creates a staging service rooted at the process temporary directory.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		tempDir: os.TempDir(),
		logger:  logger,
	}
}

// NewWithTempDir creates a staging service that creates files under tempDir (for testing).
func NewWithTempDir(logger zerolog.Logger, tempDir string) *Impl {
	return &Impl{
		tempDir: tempDir,
		logger:  logger,
	}
}

// TempDir returns the directory staged files are created in.
func (s *Impl) TempDir() string {
	return s.tempDir
}

// CreateFile creates an empty owner-only file with a random name.
func (s *Impl) CreateFile(prefix, suffix string) (*StagedFile, error) {
	// uuid.New draws from crypto/rand
	name := prefix + strings.ReplaceAll(uuid.NewString(), "-", "") + suffix
	path := filepath.Join(s.tempDir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, FileMode) //nolint:gosec // path is generated
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}
	// umask can only narrow the mode, but be explicit about it
	if err := os.Chmod(path, FileMode); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to restrict staged file: %w", err)
	}

	s.logger.Debug().Str("path", path).Msg("staged file created")

	return &StagedFile{Path: path, Mode: FileMode, logger: s.logger}, nil
}

// CreateRoot creates the run-scoped staging directory, reusing it if it already exists.
func (s *Impl) CreateRoot(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("staging root path is empty")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve staging root: %w", err)
	}

	if err := os.MkdirAll(abs, DirMode); err != nil {
		return "", fmt.Errorf("failed to create staging root: %w", err)
	}
	if err := os.Chmod(abs, DirMode); err != nil {
		return "", fmt.Errorf("failed to restrict staging root: %w", err)
	}

	s.logger.Debug().Str("path", abs).Msg("staging root ready")
	return abs, nil
}

// RemoveRoot removes the staging directory and everything in it.
func (s *Impl) RemoveRoot(path string) error {
	if path == "" {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove staging root %s: %w", path, err)
	}
	s.logger.Debug().Str("path", path).Msg("staging root removed")
	return nil
}

// Publish copies src to dst with owner-only permissions. The copy is written
// next to dst and renamed into place so dst never appears half written.
func (s *Impl) Publish(src, dst string) (int64, error) {
	in, err := os.Open(src) //nolint:gosec // src is a staged file
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode) //nolint:gosec // dst is inside the staging root
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", partial, err)
	}

	n, copyErr := io.Copy(out, in)
	if copyErr == nil {
		copyErr = out.Sync()
	}
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("failed to copy %s to %s: %w", src, dst, copyErr)
	}

	if err := os.Chmod(partial, FileMode); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("failed to restrict %s: %w", partial, err)
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return 0, fmt.Errorf("failed to publish %s: %w", dst, err)
	}

	return n, nil
}

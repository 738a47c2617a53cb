// Package archiver produces compressed archives of directory targets.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/archive"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/fgeck/gobucket-homelab/internal/services/staging"
	"github.com/rs/zerolog"
)

// shellMetachars are stripped from exclusion patterns rather than rejected.
const shellMetachars = ";&|$`<>()!\"'\\\n\r"

// Service defines the interface for directory archiving.
type Service interface {
	Archive(ctx context.Context, target models.DirectoryTarget, stagingRoot, ts string) (*models.Artifact, error)
}

// Impl implements the archiver Service interface.
type Impl struct {
	staging staging.Service
	logger  zerolog.Logger
}

// New creates a new archiver service.
func New(logger zerolog.Logger, stagingSvc staging.Service) *Impl {
	return &Impl{
		staging: stagingSvc,
		logger:  logger,
	}
}

// Archive writes target.SourcePath into stagingRoot/{name}_{ts}.tar.gz.
func (s *Impl) Archive(ctx context.Context, target models.DirectoryTarget, stagingRoot, ts string) (*models.Artifact, error) {
	artifact, err := s.archive(ctx, target, stagingRoot, ts)
	if err != nil {
		return nil, &models.TargetError{Name: target.Name, Kind: models.KindDirectory, Err: err}
	}
	return artifact, nil
}

func (s *Impl) archive(ctx context.Context, target models.DirectoryTarget, stagingRoot, ts string) (*models.Artifact, error) {
	info, err := os.Stat(target.SourcePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &models.NotFoundError{Path: target.SourcePath}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, &models.NotADirectoryError{Path: target.SourcePath}
	}

	patterns, err := compilePatterns(target)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("target", target.Name).
		Str("source", target.SourcePath).
		Strs("exclude", patterns).
		Msg("archiving directory")

	start := time.Now()

	tmp, err := s.staging.CreateFile(target.Name+"-", ".tar.gz")
	if err != nil {
		return nil, err
	}
	defer tmp.Release()

	w, err := archive.Create(tmp.Path)
	if err != nil {
		return nil, err
	}

	count, walkErr := s.writeTree(ctx, w, target.SourcePath, patterns)
	if closeErr := w.Close(); walkErr == nil && closeErr != nil {
		walkErr = fmt.Errorf("failed to finish archive: %w", closeErr)
	}
	if walkErr != nil {
		return nil, walkErr
	}

	finalPath := filepath.Join(stagingRoot, models.ArtifactFilename(target.Name, ts))
	size, err := s.staging.Publish(tmp.Path, finalPath)
	if err != nil {
		_ = os.Remove(finalPath)
		return nil, err
	}

	s.logger.Info().
		Str("target", target.Name).
		Str("output", finalPath).
		Int("entries", count).
		Str("size", humanize.IBytes(uint64(size))).
		Dur("duration", time.Since(start)).
		Msg("directory archived")

	return &models.Artifact{
		Name:      target.Name,
		LocalPath: finalPath,
		SizeBytes: size,
	}, nil
}

func (s *Impl) writeTree(ctx context.Context, w *archive.Writer, root string, patterns []string) (int, error) {
	count := 0

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, patterns) {
			s.logger.Debug().Str("path", rel).Msg("excluded")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		mode := info.Mode()
		if !mode.IsRegular() && !mode.IsDir() && mode&fs.ModeSymlink == 0 {
			s.logger.Debug().Str("path", rel).Str("mode", mode.String()).Msg("skipping special file")
			return nil
		}

		if err := w.Add(path, rel, info); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to archive %s: %w", root, err)
	}

	return count, nil
}

// SanitizePattern strips shell metacharacters from an exclusion pattern.
func SanitizePattern(p string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(shellMetachars, r) {
			return -1
		}
		return r
	}, p))
}

func compilePatterns(target models.DirectoryTarget) ([]string, error) {
	patterns := make([]string, 0, len(target.Exclude))
	for _, raw := range target.Exclude {
		p := SanitizePattern(raw)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &models.ValidationError{Target: target.Name, Field: "exclude", Reason: fmt.Sprintf("bad pattern %q", p)}
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// excluded matches rel against each pattern; patterns without a slash also
// match the base name at any depth.
func excluded(rel string, patterns []string) bool {
	base := rel
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		base = rel[i+1:]
	}
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

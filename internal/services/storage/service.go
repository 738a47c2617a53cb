// Package storage uploads artifacts to an S3-compatible object store and prunes expired ones.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gobucket-homelab/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for object store operations.
type Service interface {
	Upload(ctx context.Context, artifact models.Artifact) (*models.RemoteObject, error)
	UploadAll(ctx context.Context, artifacts []models.Artifact) ([]models.RemoteObject, error)
	List(ctx context.Context, prefix string) ([]models.RemoteObject, error)
	Expired(ctx context.Context, policy models.RetentionPolicy) ([]models.RemoteObject, error)
	Prune(ctx context.Context, policy models.RetentionPolicy) (*models.PruneResult, error)
}

// ObjectStore is the subset of *minio.Client used here, for mocking.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// Impl implements the storage Service interface.
type Impl struct {
	store       ObjectStore
	cfg         models.StorageConfig
	project     string
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a storage service backed by a minio client.
func New(logger zerolog.Logger, cfg models.StorageConfig, project string, concurrency int) (*Impl, error) {
	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)

	lookup := minio.BucketLookupAuto
	if cfg.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return NewWithStore(logger, client, cfg, project, concurrency), nil
}

// NewWithStore creates a storage service with a custom object store (for testing).
func NewWithStore(logger zerolog.Logger, store ObjectStore, cfg models.StorageConfig, project string, concurrency int) *Impl {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Impl{
		store:       store,
		cfg:         cfg,
		project:     project,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// ProjectPrefix returns "{project}/", the prefix of every key this service owns.
func (s *Impl) ProjectPrefix() string {
	return s.project + "/"
}

// ObjectKey returns "{project}/{name}/{basename(localPath)}".
func (s *Impl) ObjectKey(artifact models.Artifact) string {
	return path.Join(s.project, artifact.Name, filepath.Base(artifact.LocalPath))
}

// Upload streams one artifact to the store.
func (s *Impl) Upload(ctx context.Context, artifact models.Artifact) (*models.RemoteObject, error) {
	obj, err := s.upload(ctx, artifact)
	if err != nil {
		return nil, &models.UploadError{ArtifactName: artifact.Name, Err: err}
	}
	return obj, nil
}

func (s *Impl) upload(ctx context.Context, artifact models.Artifact) (*models.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(artifact.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	key := s.ObjectKey(artifact)
	opts := minio.PutObjectOptions{
		ContentType: "application/gzip",
		PartSize:    s.cfg.PartSize,
	}
	if s.cfg.ServerSideEncryption {
		opts.ServerSideEncryption = encrypt.NewSSE()
	}

	s.logger.Info().
		Str("artifact", artifact.Name).
		Str("bucket", s.cfg.Bucket).
		Str("key", key).
		Str("size", humanize.IBytes(uint64(info.Size()))).
		Msg("uploading artifact")

	start := time.Now()
	uploaded, err := s.store.PutObject(ctx, s.cfg.Bucket, key, f, info.Size(), opts)
	if err != nil {
		return nil, err
	}
	if uploaded.Size != info.Size() {
		return nil, fmt.Errorf("store confirmed %d bytes, expected %d", uploaded.Size, info.Size())
	}

	location := uploaded.Location
	if location == "" {
		location = fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key)
	}
	modified := uploaded.LastModified
	if modified.IsZero() {
		modified = s.now()
	}

	s.logger.Info().
		Str("artifact", artifact.Name).
		Str("location", location).
		Dur("duration", time.Since(start)).
		Msg("artifact uploaded")

	return &models.RemoteObject{
		Key:          key,
		Location:     location,
		LastModified: modified,
		SizeBytes:    uploaded.Size,
	}, nil
}

// UploadAll uploads artifacts keeping their order. The first failure cancels
// the remaining uploads; the returned slice then holds only the objects that
// were stored before the failure.
func (s *Impl) UploadAll(ctx context.Context, artifacts []models.Artifact) ([]models.RemoteObject, error) {
	results := make([]*models.RemoteObject, len(artifacts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, artifact := range artifacts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			obj, err := s.Upload(gctx, artifact)
			if err != nil {
				return err
			}
			results[i] = obj
			return nil
		})
	}
	err := g.Wait()

	uploaded := make([]models.RemoteObject, 0, len(artifacts))
	for _, obj := range results {
		if obj != nil {
			uploaded = append(uploaded, *obj)
		}
	}
	return uploaded, err
}

// List returns every object under prefix, or under the project prefix when prefix is empty.
func (s *Impl) List(ctx context.Context, prefix string) ([]models.RemoteObject, error) {
	if prefix == "" {
		prefix = s.ProjectPrefix()
	}

	s.logger.Debug().Str("bucket", s.cfg.Bucket).Str("prefix", prefix).Msg("listing objects")

	// stops the lister goroutine if we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []models.RemoteObject
	for info := range s.store.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", info.Err)
		}
		objects = append(objects, models.RemoteObject{
			Key:          info.Key,
			LastModified: info.LastModified,
			SizeBytes:    info.Size,
		})
	}

	s.logger.Debug().Int("count", len(objects)).Msg("objects listed")
	return objects, nil
}

// Expired lists the project's objects that policy no longer retains.
func (s *Impl) Expired(ctx context.Context, policy models.RetentionPolicy) ([]models.RemoteObject, error) {
	objects, err := s.List(ctx, s.ProjectPrefix())
	if err != nil {
		return nil, err
	}
	return Expired(objects, s.ProjectPrefix(), policy, s.now()), nil
}

// Prune deletes expired objects one at a time. The first failed delete aborts
// the pass; the result still reports how many objects were removed before it.
func (s *Impl) Prune(ctx context.Context, policy models.RetentionPolicy) (*models.PruneResult, error) {
	s.logger.Info().
		Int("keep_daily", policy.KeepDaily).
		Int("keep_weekly", policy.KeepWeekly).
		Int("keep_monthly", policy.KeepMonthly).
		Msg("applying retention policy")

	start := time.Now()
	result := &models.PruneResult{}

	objects, err := s.List(ctx, s.ProjectPrefix())
	if err != nil {
		result.Duration = time.Since(start)
		return result, &models.PruneError{Err: err}
	}

	result.Scanned = len(objects)
	expired := Expired(objects, s.ProjectPrefix(), policy, s.now())
	result.Kept = result.Scanned - len(expired)

	for _, obj := range expired {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, &models.PruneError{Deleted: result.Deleted, Err: err}
		}

		if err := s.remove(ctx, obj.Key); err != nil {
			result.Duration = time.Since(start)
			return result, &models.PruneError{Key: obj.Key, Deleted: result.Deleted, Err: err}
		}
		result.Deleted++

		s.logger.Debug().
			Str("key", obj.Key).
			Time("last_modified", obj.LastModified).
			Msg("expired object deleted")
	}

	result.Duration = time.Since(start)

	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("kept", result.Kept).
		Int("deleted", result.Deleted).
		Dur("duration", result.Duration).
		Msg("retention policy applied")

	return result, nil
}

// remove deletes key, treating an already missing key as deleted.
func (s *Impl) remove(ctx context.Context, key string) error {
	err := s.store.RemoveObject(ctx, s.cfg.Bucket, key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

// normalizeEndpoint strips an http(s) scheme from endpoint, letting the scheme
// decide whether TLS is used.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

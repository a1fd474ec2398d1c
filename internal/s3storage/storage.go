// Package s3storage implements the remote storage backend on any
// S3-compatible object store through minio-go.
package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/VaultShop/internal/errs"
	"github.com/dharsanguruparan/VaultShop/internal/storage"
)

const keyPrefix = "products/"

// Options configures the remote backend.
type Options struct {
	Name      string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	URLTTL    time.Duration
}

// Remote stores assets as objects under products/ and hands out presigned
// GET URLs instead of streaming bytes.
type Remote struct {
	client *minio.Client
	name   string
	bucket string
	region string
	ttl    time.Duration
	now    func() time.Time
}

var _ storage.Backend = (*Remote)(nil)

// New creates a MinIO client from the options.
func New(opts Options) (*Remote, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	ttl := opts.URLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	name := opts.Name
	if name == "" {
		name = "s3"
	}
	return &Remote{
		client: client,
		name:   name,
		bucket: opts.Bucket,
		region: opts.Region,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Name implements storage.Backend.
func (s *Remote) Name() string { return s.name }

// EnsureBucket makes sure the asset bucket exists before use.
func (s *Remote) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put uploads the object under products/<unix-nanos>_<sanitized-name>.
func (s *Remote) Put(ctx context.Context, r io.Reader, size int64, originalName, contentType string) (string, error) {
	clean := storage.Sanitize(originalName)
	key := objectKey(s.now(), clean)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": clean},
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return "", fmt.Errorf("upload object: %w", err)
	}
	return key, nil
}

// Resolve checks the object exists, then presigns a GET URL that makes the
// browser save it under filename.
func (s *Remote) Resolve(ctx context.Context, key, filename string) (*storage.Access, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, mapError(key, err)
	}
	params := url.Values{}
	params.Set("response-content-disposition", contentDisposition(filename))
	expires := s.now().Add(s.ttl)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, params)
	if err != nil {
		return nil, fmt.Errorf("presign object: %w", err)
	}
	return &storage.Access{URL: u.String(), ExpiresAt: expires}, nil
}

// Open streams the full object.
func (s *Remote) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy, so stat first to report a missing key here rather
	// than on the first Read.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, mapError(key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(key, err)
	}
	return obj, nil
}

// Delete removes the object; S3 treats removing a missing key as success.
func (s *Remote) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Health checks the bucket is reachable without writing anything.
func (s *Remote) Health(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrStorageUnavailable, err)
	}
	if !exists {
		return fmt.Errorf("%w: bucket %s missing", errs.ErrStorageUnavailable, s.bucket)
	}
	return nil
}

func objectKey(now time.Time, cleanName string) string {
	return fmt.Sprintf("%s%d_%s", keyPrefix, now.UnixNano(), cleanName)
}

func contentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"`, storage.Sanitize(filename))
}

func mapError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", errs.ErrAssetMissingOnBackend, key)
	}
	return fmt.Errorf("object %s: %w", key, err)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.StatusCode == http.StatusNotFound ||
			resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
	}
	return strings.Contains(err.Error(), "The specified key does not exist")
}

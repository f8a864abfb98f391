// Package minio stores uploaded files in an S3-compatible bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/poiesic/docchat/storage"
)

const pathScheme = "s3://"

// Config holds the connection settings for the bucket.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	UseSSL          bool   `yaml:"use_ssl"`
	Region          string `yaml:"region"`
	// CreateBucket creates the bucket when it is missing.
	CreateBucket bool `yaml:"create_bucket"`
}

// BlobStore implements storage.BlobStore on a MinIO bucket.
// Paths it returns look like s3://bucket/object.
type BlobStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ storage.BlobStore = (*BlobStore)(nil)

// NewBlobStore connects to the endpoint and checks that the bucket exists.
func NewBlobStore(ctx context.Context, cfg Config) (storage.BlobStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket cannot be empty")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	s := &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		logger: slog.Default().With("component", "minio", "bucket", cfg.Bucket),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists, bucket: %v, err: %w", cfg.Bucket, err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist, please create it manually", cfg.Bucket)
		}
		s.logger.Info("bucket does not exist, creating it")
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put uploads r as a new object.
func (s *BlobStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	object := storage.BlobName(name)
	_, err := s.client.PutObject(ctx, s.bucket, object, r, size, minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", err
	}
	return objectPath(s.bucket, object), nil
}

// Open returns the object at path. Reads are served with ranged GETs.
func (s *BlobStore) Open(ctx context.Context, path string) (storage.Blob, error) {
	object, err := s.objectName(path)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &objectBlob{Object: obj, size: info.Size}, nil
}

// Delete removes the object at path.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	object, err := s.objectName(path)
	if err != nil {
		return err
	}
	return s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{})
}

func objectPath(bucket, object string) string {
	return pathScheme + bucket + "/" + object
}

// objectName extracts the object name from a path produced by Put.
func (s *BlobStore) objectName(path string) (string, error) {
	prefix := pathScheme + s.bucket + "/"
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return "", fmt.Errorf("%w: %s is not in bucket %s", storage.ErrInvalidQuery, path, s.bucket)
	}
	return strings.TrimPrefix(path, prefix), nil
}

type objectBlob struct {
	*minio.Object
	size int64
}

func (b *objectBlob) Size() int64 { return b.size }

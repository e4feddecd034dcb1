package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Store archives scan output in a MinIO (or any S3 compatible) bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	logger     *zap.Logger
}

type Options struct {
	Endpoint   string
	Region     string
	BucketName string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
}

// New connects and makes sure the bucket exists.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, opts.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.BucketName, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, opts.BucketName, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.BucketName, err)
		}
		logger.Info("created artifact bucket", zap.String("bucket", opts.BucketName))
	}

	return &Store{client: cli, bucketName: opts.BucketName, region: opts.Region, logger: logger}, nil
}

// Upload puts the local file under key and returns its object URL.
func (s *Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	_, err := s.client.FPutObject(ctx, s.bucketName, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return objectURL(s.client.EndpointURL(), s.bucketName, key), nil
}

// UploadAndCleanup uploads and then removes the local file. A failed removal
// is logged, since the object is already stored.
func (s *Store) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	u, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}
	if err := os.Remove(localPath); err != nil {
		s.logger.Warn("failed to remove local artifact", zap.String("path", localPath), zap.Error(err))
	}
	return u, nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

func objectURL(endpoint *url.URL, bucket, key string) string {
	u := *endpoint
	u.Path = "/" + bucket + "/" + strings.TrimLeft(key, "/")
	return u.String()
}

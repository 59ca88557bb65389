package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// SyncResult summarises a Sync call.
type SyncResult struct {
	Downloaded int
	Skipped    int
	Bytes      int64
}

// MinIOClient reads from and publishes to one S3-compatible bucket.
type MinIOClient struct {
	client     *minio.Client
	bucketName string
	logger     *slog.Logger
}

// MinIOConfig holds S3 connection settings.
type MinIOConfig struct {
	Endpoint     string // e.g., "s3.amazonaws.com" or "localhost:9000"
	AccessKey    string // empty for anonymous access
	SecretKey    string
	Region       string
	Bucket       string
	UseSSL       bool
	CreateBucket bool
	Logger       *slog.Logger
}

// NewMinIOClient creates a new storage client and checks the bucket exists.
func NewMinIOClient(ctx context.Context, cfg MinIOConfig) (*MinIOClient, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &MinIOClient{
		client:     client,
		bucketName: cfg.Bucket,
		logger:     logger,
	}, nil
}

// List returns every object under prefix, directory markers excluded.
func (m *MinIOClient) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for obj := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", m.bucketName, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		})
	}
	return objects, nil
}

// Download writes one object to path, creating parent directories.
func (m *MinIOClient) Download(ctx context.Context, key, path string) error {
	err := m.client.FGetObject(ctx, m.bucketName, key, path, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("download %s: %w", key, ErrObjectNotFound)
		}
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

// Sync mirrors every object under prefix into dir. Files whose local size
// already matches are skipped unless force is set.
func (m *MinIOClient) Sync(ctx context.Context, prefix, dir string, force bool) (SyncResult, error) {
	var res SyncResult

	objects, err := m.List(ctx, prefix)
	if err != nil {
		return res, err
	}
	if len(objects) == 0 {
		return res, fmt.Errorf("sync %s/%s: %w", m.bucketName, prefix, ErrObjectNotFound)
	}

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		path, err := LocalPath(dir, prefix, obj.Key)
		if err != nil {
			return res, err
		}
		if !force {
			if info, err := os.Stat(path); err == nil && info.Size() == obj.Size {
				res.Skipped++
				m.logger.DebugContext(ctx, "object up to date", "key", obj.Key, "path", path)
				continue
			}
		}
		if err := m.Download(ctx, obj.Key, path); err != nil {
			return res, err
		}
		res.Downloaded++
		res.Bytes += obj.Size
		m.logger.DebugContext(ctx, "object downloaded", "key", obj.Key, "size", humanize.Bytes(uint64(obj.Size)))
	}

	m.logger.InfoContext(ctx, "sync complete",
		"bucket", m.bucketName,
		"prefix", prefix,
		"downloaded", res.Downloaded,
		"skipped", res.Skipped,
		"bytes", humanize.Bytes(uint64(res.Bytes)),
	)
	return res, nil
}

// Put stores an object read from reader.
func (m *MinIOClient) Put(ctx context.Context, key string, reader io.Reader) error {
	_, err := m.client.PutObject(ctx, m.bucketName, key, reader, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to upload to minio: %w", err)
	}

	return nil
}

// PutFile uploads a local file.
func (m *MinIOClient) PutFile(ctx context.Context, key, path string) error {
	info, err := m.client.FPutObject(ctx, m.bucketName, key, path, minio.PutObjectOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	m.logger.InfoContext(ctx, "object published", "key", key, "size", humanize.Bytes(uint64(info.Size)))
	return nil
}

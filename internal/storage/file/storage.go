package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Storage provides an S3-compatible storage backend using MinIO. The
// orchestrator uses it to read source photos and to persist transformation
// results, thumbnails, gallery and public copies.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// SaveOptions carries per-object settings for Save.
type SaveOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo is the subset of object metadata the orchestrator cares about.
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	Metadata    map[string]string
	ModifiedAt  time.Time
}

// NewStorage creates a new Storage instance connected to the specified MinIO server.
// If the bucket does not exist, it will be created automatically.
func NewStorage(ctx context.Context, endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Save uploads the provided reader to the specified subdirectory in the
// bucket. Returns the object path within the bucket.
func (s *Storage) Save(ctx context.Context, subdir, filename string, src io.Reader, opts SaveOptions) (string, error) {
	objectName := filepath.Join(subdir, filename)

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, objectName, src, -1, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}

	return objectName, nil
}

// Load retrieves the file at the given object path and returns a reader.
func (s *Storage) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}

	return obj, nil
}

// Delete removes the specified file from the bucket.
func (s *Storage) Delete(ctx context.Context, path string) error {
	return s.client.RemoveObject(ctx, s.bucketName, path, minio.RemoveObjectOptions{})
}

// Copy duplicates an object inside the bucket, preserving its metadata.
func (s *Storage) Copy(ctx context.Context, srcPath, dstPath string) (string, error) {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucketName, Object: dstPath},
		minio.CopySrcOptions{Bucket: s.bucketName, Object: srcPath},
	)
	if err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}

	return dstPath, nil
}

// Stat returns metadata for the object at the given path.
func (s *Storage) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucketName, path, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}

	return ObjectInfo{
		Path:        path,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    info.UserMetadata,
		ModifiedAt:  info.LastModified,
	}, nil
}

// Exists reports whether an object is present at the given path.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, path, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file: %w", err)
	}

	return true, nil
}

// List returns the object paths under the given prefix.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list files: %w", obj.Err)
		}
		paths = append(paths, obj.Key)
	}

	return paths, nil
}

// SignedURL generates a presigned GET URL for the object, valid for ttl.
func (s *Storage) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, path, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to sign url: %w", err)
	}

	return u.String(), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage implements Storage using Google Cloud Storage
type GCSStorage struct {
	client     *storage.Client
	bucketName string
	baseDir    string
	log        logrus.FieldLogger
}

// NewGCSStorage creates a new GCS storage instance.
// baseDir is the object prefix within the bucket (e.g. "recordings").
// opts are passed to the client, e.g. option.WithCredentialsFile.
func NewGCSStorage(ctx context.Context, bucketName, baseDir string, log logrus.FieldLogger, opts ...option.ClientOption) (*GCSStorage, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Verify bucket exists
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucketName, err)
	}

	return &GCSStorage{
		client:     client,
		bucketName: bucketName,
		baseDir:    strings.Trim(baseDir, "/"),
		log:        log.WithFields(logrus.Fields{"storage": "gcs", "bucket": bucketName}),
	}, nil
}

// Write writes data to GCS
func (s *GCSStorage) Write(ctx context.Context, path string, data []byte) error {
	obj := s.client.Bucket(s.bucketName).Object(s.fullPath(path))
	w := obj.NewWriter(ctx)
	w.ContentType = ContentType(path)
	w.CacheControl = CacheControl(path)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}

	s.log.WithFields(logrus.Fields{"path": path, "bytes": len(data)}).Debug("Uploaded object")
	return nil
}

// Read reads data from GCS
func (s *GCSStorage) Read(ctx context.Context, path string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucketName).Object(s.fullPath(path)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return data, nil
}

// Delete deletes a file from GCS
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucketName).Object(s.fullPath(path)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists checks if a file exists in GCS
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.bucketName).Object(s.fullPath(path)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check GCS object: %w", err)
	}
	return true, nil
}

// List lists files directly under dir in GCS
func (s *GCSStorage) List(ctx context.Context, dir string) ([]string, error) {
	prefix := s.fullPath(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var files []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list GCS objects: %w", err)
		}
		// synthetic directory entries carry only Prefix
		if attrs.Name == "" {
			continue
		}
		files = append(files, strings.TrimPrefix(attrs.Name, prefix))
	}
	return files, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) fullPath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.baseDir == "" {
		return path
	}
	return s.baseDir + "/" + path
}

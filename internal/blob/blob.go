// Package blob keeps feedback screenshots in an S3 compatible bucket such
// as Cloudflare R2.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("object not found")

type Config struct {
	// Endpoint is host[:port], or a URL whose scheme overrides UseSSL.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region defaults to "auto", which R2 expects.
	Region    string
	Transport http.RoundTripper
}

func (c Config) Configured() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != "" && c.Bucket != ""
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if scheme, host, ok := strings.Cut(endpoint, "://"); ok {
		endpoint, secure = strings.TrimRight(host, "/"), scheme == "https"
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    secure,
		Region:    region,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("blob client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// ScreenshotKey names a new object for a feedback item's screenshot.
func ScreenshotKey(feedbackID int64) string {
	return fmt.Sprintf("screenshots/%d/%s.png", feedbackID, uuid.NewString())
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get returns the object body and its content type.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		return data, http.DetectContentType(data), nil
	}
	return data, info.ContentType, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

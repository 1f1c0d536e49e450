// Package blob stores gallery files in an S3-compatible bucket and hands back
// their public URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUpload marks a write the bucket rejected. No metadata should reference
// the path when this is returned.
var ErrUpload = errors.New("upload failed")

const (
	GalleryPrefix = "gallery/"
	cacheControl  = "max-age=3600"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
}

// Object describes one stored blob.
type Object struct {
	Path         string
	Size         int64
	LastModified time.Time
}

type Store struct {
	client  *minio.Client
	bucket  string
	region  string
	baseURL string
}

func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	baseURL := strings.TrimSpace(cfg.PublicBaseURL)
	if baseURL == "" {
		endpoint := client.EndpointURL()
		baseURL = endpoint.Scheme + "://" + endpoint.Host + "/" + cfg.Bucket
	}

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// EnsureBucket creates the bucket with an anonymous-read policy when missing.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	if err := s.client.SetBucketPolicy(ctx, s.bucket, publicReadPolicy(s.bucket)); err != nil {
		return fmt.Errorf("set bucket policy %s: %w", s.bucket, err)
	}
	return nil
}

// Put writes r under objectPath and returns the object's public URL.
func (s *Store) Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrUpload, objectPath, err)
	}
	return s.PublicURL(objectPath), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	objects := make([]Object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		objects = append(objects, Object{Path: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	return objects, nil
}

func (s *Store) Remove(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", objectPath, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *Store) PublicURL(objectPath string) string {
	return s.baseURL + "/" + (&url.URL{Path: objectPath}).EscapedPath()
}

// PathFromURL is the inverse of PublicURL. It reports false for URLs that do
// not point into this bucket.
func (s *Store) PathFromURL(publicURL string) (string, bool) {
	rest, ok := strings.CutPrefix(publicURL, s.baseURL+"/")
	if !ok || rest == "" {
		return "", false
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return unescaped, true
}

// ObjectPath builds gallery/{unix-nanos}.{ext} for an uploaded file name.
func ObjectPath(fileName string, now time.Time) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s%d.%s", GalleryPrefix, now.UnixNano(), ext)
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

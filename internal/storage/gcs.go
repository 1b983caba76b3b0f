package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore writes objects to a Google Cloud Storage bucket. Reads accept
// gs:// URIs from any bucket the credentials can see.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	cdnDomain string
}

// NewGCSStore creates a storage client with application default credentials.
func NewGCSStore(ctx context.Context, bucket, cdnDomain string, opts ...option.ClientOption) (*GCSStore, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: gcs bucket is required")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, cdnDomain: strings.TrimSpace(cdnDomain)}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(cleanKey).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = ContentTypeForKey(cleanKey)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: close gcs writer: %w", err)
	}
	return s.PublicURL(cleanKey), nil
}

// PublicURL prefers the CDN domain when one is configured.
func (s *GCSStore) PublicURL(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimRight(s.cdnDomain, "/"), key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

// Open reads a gs://bucket/object URI.
func (s *GCSStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, object, err := ParseGSURI(uri)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}
		return nil, fmt.Errorf("storage: open gcs object: %w", err)
	}
	return r, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// ErrObjectNotFound is returned when a referenced object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ParseGSURI splits gs://bucket/path/to/object.
func ParseGSURI(uri string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil || u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("storage: invalid gs uri %q", uri)
	}
	object := strings.TrimLeft(u.Path, "/")
	if object == "" {
		return "", "", fmt.Errorf("storage: gs uri %q has no object", uri)
	}
	return u.Host, object, nil
}

// ContentTypeForKey guesses a media type from the key's extension.
func ContentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

var _ ObjectStore = (*GCSStore)(nil)

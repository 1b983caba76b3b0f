// Package ingest copies finished generations from a backend into durable
// object storage.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/storage"
)

var (
	// ErrSourceGone means the backend no longer has the output (404/410).
	ErrSourceGone = errors.New("ingest: source no longer available")
	// ErrEmptySource means the source resolved to zero bytes.
	ErrEmptySource = errors.New("ingest: source is empty")
)

const defaultMaxBytes = 512 << 20

// ObjectReader opens gs:// style URIs.
type ObjectReader interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Options configures an Ingester.
type Options struct {
	Store      storage.ObjectStore
	Objects    ObjectReader
	HTTPClient *http.Client
	Logger     *infra.Logger
	MaxBytes   int64
}

// Ingester resolves a MediaSource and uploads it to the object store.
type Ingester struct {
	store    storage.ObjectStore
	objects  ObjectReader
	client   *http.Client
	logger   *infra.Logger
	maxBytes int64
}

// Result describes a finished ingestion. Degraded is set when both upload
// attempts failed and URL is the uploaded path's public URL on a best-effort basis.
type Result struct {
	URL      string
	Degraded bool
	Bytes    int
}

func New(opts Options) *Ingester {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Ingester{
		store:    opts.Store,
		objects:  opts.Objects,
		client:   client,
		logger:   infra.OrDiscard(opts.Logger),
		maxBytes: maxBytes,
	}
}

// ObjectKey is the deterministic storage path for a job's video.
func ObjectKey(accountID, ownerID, jobID string) string {
	return fmt.Sprintf("videos/%s/%s/%s.mp4", pathPart(accountID), pathPart(ownerID), pathPart(jobID))
}

// Ingest resolves src and stores it under key. Errors from resolving the
// source are returned as-is; storage failures only mark the result degraded.
func (i *Ingester) Ingest(ctx context.Context, src domain.MediaSource, key string) (Result, error) {
	if i.store == nil {
		return Result{}, errors.New("ingest: no object store configured")
	}
	data, contentType, err := i.resolve(ctx, src)
	if err != nil {
		return Result{}, err
	}
	if len(data) == 0 {
		return Result{}, ErrEmptySource
	}
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}

	var uploadErr error
	for attempt := 1; attempt <= 2; attempt++ {
		publicURL, err := i.store.Put(ctx, key, data, contentType)
		if err == nil {
			i.logger.Debug().Str("key", key).Int("bytes", len(data)).Int("attempt", attempt).Msg("ingest upload ok")
			return Result{URL: publicURL, Bytes: len(data)}, nil
		}
		uploadErr = err
		i.logger.Warn().Err(err).Str("key", key).Int("attempt", attempt).Msg("ingest upload failed")
		if ctx.Err() != nil {
			break
		}
	}
	i.logger.Error().Err(uploadErr).Str("key", key).Msg("ingest upload gave up; returning unverified url")
	return Result{URL: i.store.PublicURL(key), Degraded: true, Bytes: len(data)}, nil
}

func (i *Ingester) resolve(ctx context.Context, src domain.MediaSource) ([]byte, string, error) {
	if len(src.Data) > 0 {
		return src.Data, src.ContentType, nil
	}
	uri := strings.TrimSpace(src.URI)
	if uri == "" {
		return nil, "", ErrEmptySource
	}
	if strings.HasPrefix(uri, "gs://") {
		return i.readObject(ctx, uri, src.ContentType)
	}

	data, contentType, status, err := i.fetch(ctx, uri, src.AuthHeader, src.AuthValue)
	if err != nil {
		return nil, "", err
	}
	if (status == http.StatusUnauthorized || status == http.StatusForbidden) && src.FallbackParam != "" {
		i.logger.Debug().Int("status", status).Msg("ingest fetch rejected; retrying with fallback credential")
		data, contentType, status, err = i.fetch(ctx, withQuery(uri, src.FallbackParam, src.FallbackValue), "", "")
		if err != nil {
			return nil, "", err
		}
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return nil, "", ErrSourceGone
	case status < 200 || status > 299:
		return nil, "", fmt.Errorf("ingest: fetch source: status %d", status)
	}
	if src.ContentType != "" {
		contentType = src.ContentType
	}
	return data, contentType, nil
}

func (i *Ingester) fetch(ctx context.Context, uri, header, value string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", 0, fmt.Errorf("ingest: build request: %w", err)
	}
	if header != "" && value != "" {
		req.Header.Set(header, value)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("ingest: fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", resp.StatusCode, nil
	}
	data, err := i.readLimited(resp.Body)
	if err != nil {
		return nil, "", 0, err
	}
	return data, mediaType(resp.Header.Get("Content-Type")), resp.StatusCode, nil
}

func (i *Ingester) readObject(ctx context.Context, uri, contentType string) ([]byte, string, error) {
	if i.objects == nil {
		return nil, "", fmt.Errorf("ingest: no object reader for %s", uri)
	}
	r, err := i.objects.Open(ctx, uri)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrSourceGone
		}
		return nil, "", err
	}
	defer r.Close()
	data, err := i.readLimited(r)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

func (i *Ingester) readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read source: %w", err)
	}
	if n > i.maxBytes {
		return nil, fmt.Errorf("ingest: source exceeds %d bytes", i.maxBytes)
	}
	return buf.Bytes(), nil
}

func withQuery(rawURL, param, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(param, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func mediaType(header string) string {
	if idx := strings.Index(header, ";"); idx >= 0 {
		header = header[:idx]
	}
	header = strings.TrimSpace(header)
	if header == "" || header == "application/octet-stream" {
		return ""
	}
	return header
}

func pathPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}

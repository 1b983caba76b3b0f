package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vidforge/internal/domain"
	"vidforge/internal/storage"
)

type fakeStore struct {
	failures int
	puts     int
	keys     []string
	data     map[string][]byte
	types    map[string]string
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.puts++
	if f.puts <= f.failures {
		return "", errors.New("bucket unavailable")
	}
	if f.data == nil {
		f.data = map[string][]byte{}
		f.types = map[string]string{}
	}
	f.keys = append(f.keys, key)
	f.data[key] = data
	f.types[key] = contentType
	return f.PublicURL(key), nil
}

func (f *fakeStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

type fakeObjects struct {
	body string
	err  error
	uri  string
}

func (f *fakeObjects) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	f.uri = uri
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestIngestInlineData(t *testing.T) {
	store := &fakeStore{}
	ing := New(Options{Store: store})
	res, err := ing.Ingest(context.Background(), domain.MediaSource{Data: []byte("video"), ContentType: "video/mp4"}, "videos/a/u/j.mp4")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if res.URL != "https://cdn.test/videos/a/u/j.mp4" || res.Degraded || res.Bytes != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.types["videos/a/u/j.mp4"] != "video/mp4" {
		t.Fatalf("expected content type to be forwarded")
	}
}

func TestIngestFetchesWithHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "video/mp4; codecs=avc1")
		w.Write([]byte("clip"))
	}))
	defer srv.Close()

	store := &fakeStore{}
	ing := New(Options{Store: store, HTTPClient: srv.Client()})
	res, err := ing.Ingest(context.Background(), domain.MediaSource{
		URI: srv.URL + "/files/abc:download", AuthHeader: "x-goog-api-key", AuthValue: "secret",
	}, "k.mp4")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if string(store.data["k.mp4"]) != "clip" || store.types["k.mp4"] != "video/mp4" {
		t.Fatalf("unexpected stored object: %q %q", store.data["k.mp4"], store.types["k.mp4"])
	}
	if res.Degraded {
		t.Fatalf("did not expect degraded result")
	}
}

func TestIngestFallsBackToQueryCredential(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("key") == "secret" && r.URL.Query().Get("alt") == "media" {
			w.Write([]byte("clip"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := &fakeStore{}
	ing := New(Options{Store: store, HTTPClient: srv.Client()})
	_, err := ing.Ingest(context.Background(), domain.MediaSource{
		URI:           srv.URL + "/files/abc?alt=media",
		AuthHeader:    "x-goog-api-key",
		AuthValue:     "stale",
		FallbackParam: "key",
		FallbackValue: "secret",
	}, "k.mp4")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", calls)
	}
}

func TestIngestSourceGone(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		ing := New(Options{Store: &fakeStore{}, HTTPClient: srv.Client()})
		_, err := ing.Ingest(context.Background(), domain.MediaSource{URI: srv.URL + "/x"}, "k.mp4")
		srv.Close()
		if !errors.Is(err, ErrSourceGone) {
			t.Fatalf("status %d: expected ErrSourceGone, got %v", status, err)
		}
	}
}

func TestIngestServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	ing := New(Options{Store: &fakeStore{}, HTTPClient: srv.Client()})
	_, err := ing.Ingest(context.Background(), domain.MediaSource{URI: srv.URL}, "k.mp4")
	if err == nil || errors.Is(err, ErrSourceGone) || errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestIngestEmptySource(t *testing.T) {
	ing := New(Options{Store: &fakeStore{}})
	if _, err := ing.Ingest(context.Background(), domain.MediaSource{}, "k.mp4"); !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
}

func TestIngestRetriesUploadOnce(t *testing.T) {
	store := &fakeStore{failures: 1}
	ing := New(Options{Store: store})
	res, err := ing.Ingest(context.Background(), domain.MediaSource{Data: []byte("v")}, "k.mp4")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if store.puts != 2 || res.Degraded {
		t.Fatalf("expected success on retry, puts=%d result=%+v", store.puts, res)
	}
}

func TestIngestDegradesAfterTwoUploadFailures(t *testing.T) {
	store := &fakeStore{failures: 5}
	ing := New(Options{Store: store})
	res, err := ing.Ingest(context.Background(), domain.MediaSource{Data: []byte("v")}, "k.mp4")
	if err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if store.puts != 2 {
		t.Fatalf("expected exactly 2 upload attempts, got %d", store.puts)
	}
	if !res.Degraded || res.URL != "https://cdn.test/k.mp4" {
		t.Fatalf("expected degraded result with public url, got %+v", res)
	}
}

func TestIngestReadsGSObjects(t *testing.T) {
	objects := &fakeObjects{body: "gcs-clip"}
	store := &fakeStore{}
	ing := New(Options{Store: store, Objects: objects})
	if _, err := ing.Ingest(context.Background(), domain.MediaSource{URI: "gs://out/sample.mp4"}, "k.mp4"); err != nil {
		t.Fatalf("Ingest error: %v", err)
	}
	if objects.uri != "gs://out/sample.mp4" || string(store.data["k.mp4"]) != "gcs-clip" {
		t.Fatalf("unexpected gs read: %q %q", objects.uri, store.data["k.mp4"])
	}

	missing := New(Options{Store: store, Objects: &fakeObjects{err: storage.ErrObjectNotFound}})
	if _, err := missing.Ingest(context.Background(), domain.MediaSource{URI: "gs://out/none.mp4"}, "k.mp4"); !errors.Is(err, ErrSourceGone) {
		t.Fatalf("expected ErrSourceGone, got %v", err)
	}
}

func TestIngestRejectsOversizedSource(t *testing.T) {
	ing := New(Options{Store: &fakeStore{}, Objects: &fakeObjects{body: "0123456789"}, MaxBytes: 4})
	if _, err := ing.Ingest(context.Background(), domain.MediaSource{URI: "gs://out/big.mp4"}, "k.mp4"); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestObjectKey(t *testing.T) {
	if got := ObjectKey("acct", "user/1", "job"); got != "videos/acct/user_1/job.mp4" {
		t.Fatalf("unexpected key %q", got)
	}
}

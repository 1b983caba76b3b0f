package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/domain"
	"vidforge/internal/middleware"
	"vidforge/internal/orchestrator"
)

type stubVideos struct {
	created   orchestrator.CreateRequest
	filter    domain.JobFilter
	reconcile bool
	extended  string
	job       *domain.Job
	jobs      []domain.Job
	err       error
}

func (s *stubVideos) CreateJob(_ context.Context, req orchestrator.CreateRequest) (*domain.Job, error) {
	s.created = req
	return s.job, s.err
}

func (s *stubVideos) Job(_ context.Context, jobID, ownerID string) (*domain.Job, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.job == nil || s.job.ID != jobID || s.job.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return s.job, nil
}

func (s *stubVideos) PollJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	return s.Job(ctx, jobID, ownerID)
}

func (s *stubVideos) ListJobs(_ context.Context, _ string, filter domain.JobFilter, reconcile bool) ([]domain.Job, error) {
	s.filter = filter
	s.reconcile = reconcile
	return s.jobs, s.err
}

func (s *stubVideos) RequestExtension(_ context.Context, jobID, _, prompt string) (*domain.Job, error) {
	s.extended = jobID + "|" + prompt
	return s.job, s.err
}

type stubLedger struct {
	entries []domain.LedgerEntry
}

func (s stubLedger) History(context.Context, string) ([]domain.LedgerEntry, error) {
	return s.entries, nil
}

func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/videos", app.VideosCreate)
	r.Get("/v1/videos", app.VideosList)
	r.Get("/v1/videos/{job_id}", app.VideoStatus)
	r.Post("/v1/videos/{job_id}/extend", app.VideoExtend)
	r.Get("/v1/videos/{job_id}/ledger", app.VideoLedger)
	return r
}

func request(method, target, body, owner, locale string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	ctx := req.Context()
	if owner != "" {
		ctx = middleware.ContextWithPrincipal(ctx, middleware.Principal{OwnerID: owner, AccountID: "acct-1"})
	}
	if locale != "" {
		ctx = context.WithValue(ctx, middleware.LocaleKey, locale)
	}
	return req.WithContext(ctx)
}

func sampleJob() *domain.Job {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &domain.Job{
		ID:                    "job-1",
		OwnerID:               "owner-1",
		Status:                domain.JobStatusGenerating,
		Provider:              domain.ProviderOperation,
		ProgressPct:           40,
		TargetDurationSeconds: 8,
		CreditCost:            10,
		ErrorKind:             domain.ErrorKindNone,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestVideosCreate(t *testing.T) {
	svc := &stubVideos{job: sampleJob()}
	app := NewApp(svc, stubLedger{}, nil)

	rec := httptest.NewRecorder()
	body := `{"prompt":"a fox","style":"noir","duration_seconds":22,"aspect_ratio":"9:16"}`
	testRouter(app).ServeHTTP(rec, request(http.MethodPost, "/v1/videos", body, "owner-1", ""))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.created.Provider != domain.ProviderOperation {
		t.Fatalf("default provider = %q", svc.created.Provider)
	}
	if svc.created.OwnerID != "owner-1" || svc.created.AccountID != "acct-1" || svc.created.DurationSeconds != 22 {
		t.Fatalf("create request = %+v", svc.created)
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["id"] != "job-1" || payload["status"] != "generating" {
		t.Fatalf("payload = %v", payload)
	}
	if _, ok := payload["error_kind"]; ok {
		t.Fatalf("error_kind should be omitted: %v", payload)
	}
}

func TestVideosCreateRequiresPrincipal(t *testing.T) {
	app := NewApp(&stubVideos{}, stubLedger{}, nil)
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodPost, "/v1/videos", `{}`, "", ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("%w: prompt", domain.ErrInvalidRequest), http.StatusBadRequest, codeBadRequest},
		{domain.ErrProviderUnavailable, http.StatusServiceUnavailable, codeProviderUnavailable},
		{domain.ErrNotFound, http.StatusNotFound, codeNotFound},
		{fmt.Errorf("%w: busy", domain.ErrConflict), http.StatusConflict, codeConflict},
		{domain.ErrExtensionNotAllowed, http.StatusConflict, codeExtensionNotAllowed},
		{domain.ErrUpstream, http.StatusBadGateway, codeUpstream},
		{errors.New("db down"), http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			app := NewApp(&stubVideos{err: tc.err}, stubLedger{}, nil)
			rec := httptest.NewRecorder()
			testRouter(app).ServeHTTP(rec, request(http.MethodPost, "/v1/videos", `{"prompt":"x"}`, "owner-1", "id"))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", body.Error.Code, tc.code)
			}
			if body.Error.Title != titles[tc.code].id {
				t.Fatalf("title = %q, want %q", body.Error.Title, titles[tc.code].id)
			}
			if tc.code == codeInternal && strings.Contains(body.Error.Message, "db down") {
				t.Fatal("internal error detail leaked")
			}
		})
	}
}

func TestVideoStatusLocalizesErrorKind(t *testing.T) {
	job := sampleJob()
	job.Status = domain.JobStatusFailed
	job.ErrorKind = domain.ErrorKindSafetyFilter
	app := NewApp(&stubVideos{job: job}, stubLedger{}, nil)

	for locale, want := range map[string]string{"en": "Blocked by content policy", "id": "Diblokir oleh kebijakan konten"} {
		rec := httptest.NewRecorder()
		testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos/job-1", "", "owner-1", locale))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var payload map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload["error_title"] != want {
			t.Fatalf("%s error_title = %v, want %q", locale, payload["error_title"], want)
		}
		if payload["error_kind"] != "safety_filter" {
			t.Fatalf("error_kind = %v", payload["error_kind"])
		}
		if msg, _ := payload["error_message"].(string); !strings.Contains(msg, "refunded") {
			t.Fatalf("error_message = %q", msg)
		}
	}
}

func TestVideoStatusOtherOwner(t *testing.T) {
	app := NewApp(&stubVideos{job: sampleJob()}, stubLedger{}, nil)
	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos/job-1", "", "owner-2", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVideosListParsesQuery(t *testing.T) {
	svc := &stubVideos{jobs: []domain.Job{*sampleJob()}}
	app := NewApp(svc, stubLedger{}, nil)

	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos?status=generating,extending&provider=operation&limit=5&reconcile=false", "", "owner-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.reconcile {
		t.Fatal("reconcile should be false")
	}
	if len(svc.filter.Statuses) != 2 || svc.filter.Provider != domain.ProviderOperation || svc.filter.Limit != 5 {
		t.Fatalf("filter = %+v", svc.filter)
	}
	var payload struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 1 {
		t.Fatalf("items = %d", len(payload.Items))
	}

	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos", "", "owner-1", ""))
	if !svc.reconcile {
		t.Fatal("reconcile should default to true")
	}

	for _, bad := range []string{"?status=bogus", "?provider=bogus", "?limit=-1", "?reconcile=maybe"} {
		rec = httptest.NewRecorder()
		testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos"+bad, "", "owner-1", ""))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", bad, rec.Code)
		}
	}
}

func TestVideoExtend(t *testing.T) {
	job := sampleJob()
	job.Status = domain.JobStatusExtending
	job.Provider = domain.ProviderOperationChained
	svc := &stubVideos{job: job}
	app := NewApp(svc, stubLedger{}, nil)

	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodPost, "/v1/videos/job-1/extend", `{"prompt":"keep going"}`, "owner-1", ""))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.extended != "job-1|keep going" {
		t.Fatalf("extended = %q", svc.extended)
	}

	svc.err = fmt.Errorf("%w: job is generating", domain.ErrExtensionNotAllowed)
	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodPost, "/v1/videos/job-1/extend", "", "owner-1", ""))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVideoLedger(t *testing.T) {
	job := sampleJob()
	entries := []domain.LedgerEntry{
		{ID: "e1", JobID: "job-1", Kind: domain.LedgerKindDebit, Amount: 26, Reason: "create"},
		{ID: "e2", JobID: "job-1", Kind: domain.LedgerKindRefund, Amount: 16, Reason: "unused extension segments"},
	}
	app := NewApp(&stubVideos{job: job}, stubLedger{entries: entries}, nil)

	rec := httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos/job-1/ledger", "", "owner-1", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload ledgerResponse
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Debited != 26 || payload.Refunded != 16 || payload.Net != 10 || len(payload.Items) != 2 {
		t.Fatalf("ledger = %+v", payload)
	}

	rec = httptest.NewRecorder()
	testRouter(app).ServeHTTP(rec, request(http.MethodGet, "/v1/videos/job-1/ledger", "", "owner-2", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("other owner status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	app := NewApp(&stubVideos{}, stubLedger{}, nil)
	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	app.Ping = func(context.Context) error { return errors.New("down") }
	rec = httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

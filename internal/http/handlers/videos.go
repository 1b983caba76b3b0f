package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/domain"
	"vidforge/internal/ledger"
	"vidforge/internal/middleware"
	"vidforge/internal/orchestrator"
)

type videoCreateRequest struct {
	Prompt          string `json:"prompt"`
	Style           string `json:"style"`
	DurationSeconds int    `json:"duration_seconds"`
	Provider        string `json:"provider"`
	AspectRatio     string `json:"aspect_ratio"`
}

type videoExtendRequest struct {
	Prompt string `json:"prompt"`
}

type videoResponse struct {
	orchestrator.JobStatusView
	ErrorTitle string `json:"error_title,omitempty"`
}

type ledgerEntryResponse struct {
	ID        string            `json:"id"`
	Kind      domain.LedgerKind `json:"kind"`
	Amount    int               `json:"amount"`
	Reason    string            `json:"reason"`
	CreatedAt time.Time         `json:"created_at"`
}

type ledgerResponse struct {
	JobID    string                `json:"job_id"`
	Debited  int                   `json:"debited"`
	Refunded int                   `json:"refunded"`
	Net      int                   `json:"net"`
	Items    []ledgerEntryResponse `json:"items"`
}

const maxBodyBytes = 64 << 10

func (a *App) VideosCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized, "missing user context")
		return
	}
	var req videoCreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, codeBadRequest, "invalid payload")
		return
	}
	provider := domain.ProviderTag(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider == "" {
		provider = domain.ProviderOperation
	}
	job, err := a.Videos.CreateJob(r.Context(), orchestrator.CreateRequest{
		OwnerID:         p.OwnerID,
		AccountID:       p.AccountID,
		Prompt:          req.Prompt,
		Style:           req.Style,
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
		Provider:        provider,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, a.view(r, job))
}

func (a *App) VideoStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized, "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, r, http.StatusBadRequest, codeBadRequest, "job_id required")
		return
	}
	job, err := a.Videos.PollJob(r.Context(), jobID, p.OwnerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, a.view(r, job))
}

func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized, "missing user context")
		return
	}
	q := r.URL.Query()
	var filter domain.JobFilter
	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := domain.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			a.error(w, r, http.StatusBadRequest, codeBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if v := strings.TrimSpace(q.Get("provider")); v != "" {
		filter.Provider = domain.ProviderTag(strings.ToLower(v))
		if !filter.Provider.Valid() {
			a.error(w, r, http.StatusBadRequest, codeBadRequest, "unknown provider "+strconv.Quote(v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.error(w, r, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	reconcile := true
	if v := q.Get("reconcile"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			a.error(w, r, http.StatusBadRequest, codeBadRequest, "reconcile must be a boolean")
			return
		}
		reconcile = b
	}

	jobs, err := a.Videos.ListJobs(r.Context(), p.OwnerID, filter, reconcile)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]videoResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, a.view(r, &jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) VideoExtend(w http.ResponseWriter, r *http.Request) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized, "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	var req videoExtendRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			a.error(w, r, http.StatusBadRequest, codeBadRequest, "invalid payload")
			return
		}
	}
	job, err := a.Videos.RequestExtension(r.Context(), jobID, p.OwnerID, req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, a.view(r, job))
}

func (a *App) VideoLedger(w http.ResponseWriter, r *http.Request) {
	p, ok := a.currentPrincipal(r)
	if !ok {
		a.error(w, r, http.StatusUnauthorized, codeUnauthorized, "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Videos.Job(r.Context(), jobID, p.OwnerID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	entries, err := a.Ledger.History(r.Context(), job.ID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sum := ledger.Summarize(entries)
	resp := ledgerResponse{
		JobID:    job.ID,
		Debited:  sum.Debited,
		Refunded: sum.Refunded,
		Net:      sum.Net(),
		Items:    make([]ledgerEntryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Items = append(resp.Items, ledgerEntryResponse{
			ID:        e.ID,
			Kind:      e.Kind,
			Amount:    e.Amount,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) view(r *http.Request, job *domain.Job) videoResponse {
	v := videoResponse{JobStatusView: orchestrator.NewView(job)}
	if job.ErrorKind != domain.ErrorKindNone {
		v.ErrorTitle = kindTitle(middleware.LocaleFromContext(r.Context()), job.ErrorKind)
	}
	return v
}

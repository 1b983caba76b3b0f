package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/middleware"
	"vidforge/internal/orchestrator"
)

// VideoService is the slice of the orchestrator the handlers drive.
type VideoService interface {
	CreateJob(ctx context.Context, req orchestrator.CreateRequest) (*domain.Job, error)
	Job(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
	PollJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
	ListJobs(ctx context.Context, ownerID string, filter domain.JobFilter, reconcile bool) ([]domain.Job, error)
	RequestExtension(ctx context.Context, jobID, ownerID, prompt string) (*domain.Job, error)
}

// LedgerReader returns a job's credit history.
type LedgerReader interface {
	History(ctx context.Context, jobID string) ([]domain.LedgerEntry, error)
}

type App struct {
	Videos VideoService
	Ledger LedgerReader
	Logger *infra.Logger
	// Ping checks the datastore for the health endpoint; nil skips the check.
	Ping func(ctx context.Context) error
}

func NewApp(videos VideoService, ledger LedgerReader, logger *infra.Logger) *App {
	return &App{Videos: videos, Ledger: ledger, Logger: infra.OrDiscard(logger)}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, status, errorBody{Error: errorDetail{
		Code:    code,
		Title:   errorTitle(locale, code),
		Message: message,
	}})
}

// fail maps an orchestrator error onto a status code. Unexpected errors are
// logged and reported without detail.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		a.requestLogger(r).Error().Err(err).Str("path", r.URL.Path).Msg("handlers: request failed")
		a.error(w, r, status, code, "internal error")
		return
	}
	a.error(w, r, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, codeProviderUnavailable
	case errors.Is(err, domain.ErrExtensionNotAllowed):
		return http.StatusConflict, codeExtensionNotAllowed
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, codeConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, codeUpstream
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func (a *App) currentPrincipal(r *http.Request) (middleware.Principal, bool) {
	return middleware.PrincipalFromContext(r.Context())
}

func (a *App) logger() *infra.Logger {
	return infra.OrDiscard(a.Logger)
}

// requestLogger prefers the request-scoped logger set by the access log
// middleware.
func (a *App) requestLogger(r *http.Request) *infra.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.logger()
}

package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"vidforge/internal/domain"
)

const degradedMessage = "The video finished but could not be copied to storage; the link may not work yet."

// JobStatusView is what callers see of a job.
type JobStatusView struct {
	ID                    string             `json:"id"`
	Status                domain.JobStatus   `json:"status"`
	Provider              domain.ProviderTag `json:"provider"`
	ProgressPct           int                `json:"progress_pct"`
	RawVideoURL           string             `json:"raw_video_url,omitempty"`
	FinalVideoURL         string             `json:"final_video_url,omitempty"`
	ThumbnailURL          string             `json:"thumbnail_url,omitempty"`
	DurationSeconds       int                `json:"duration_seconds,omitempty"`
	TargetDurationSeconds int                `json:"target_duration_seconds"`
	ExtensionStep         int                `json:"extension_step"`
	ExtensionTotal        int                `json:"extension_total"`
	ErrorKind             domain.ErrorKind   `json:"error_kind,omitempty"`
	ErrorMessage          string             `json:"error_message,omitempty"`
	CreditCost            int                `json:"credit_cost"`
	CreditsRefunded       bool               `json:"credits_refunded"`
	IngestionDegraded     bool               `json:"ingestion_degraded"`
	CreatedAt             time.Time          `json:"created_at"`
	UpdatedAt             time.Time          `json:"updated_at"`
}

func NewView(job *domain.Job) JobStatusView {
	v := JobStatusView{
		ID:                    job.ID,
		Status:                job.Status,
		Provider:              job.Provider,
		ProgressPct:           job.ProgressPct,
		RawVideoURL:           job.RawVideoURL,
		FinalVideoURL:         job.FinalVideoURL,
		ThumbnailURL:          job.ThumbnailURL,
		DurationSeconds:       job.DurationSeconds,
		TargetDurationSeconds: job.TargetDurationSeconds,
		ExtensionStep:         job.ExtensionStep,
		ExtensionTotal:        job.ExtensionTotal,
		ErrorMessage:          job.ErrorMessage,
		CreditCost:            job.CreditCost,
		CreditsRefunded:       job.CreditsRefunded,
		IngestionDegraded:     job.ErrorKind == domain.ErrorKindIngestionDegraded,
		CreatedAt:             job.CreatedAt,
		UpdatedAt:             job.UpdatedAt,
	}
	if job.ErrorKind != domain.ErrorKindNone {
		v.ErrorKind = job.ErrorKind
	}
	if job.Status == domain.JobStatusFailed && strings.TrimSpace(v.ErrorMessage) == "" {
		v.ErrorMessage = failureMessage(job.ErrorKind, "")
	}
	return v
}

func NewViews(jobs []domain.Job) []JobStatusView {
	views := make([]JobStatusView, 0, len(jobs))
	for i := range jobs {
		views = append(views, NewView(&jobs[i]))
	}
	return views
}

func failureMessage(kind domain.ErrorKind, detail string) string {
	var base string
	switch kind {
	case domain.ErrorKindSafetyFilter:
		base = "The video was blocked by the content policy"
	case domain.ErrorKindEmptyOutput:
		base = "The provider finished without a usable video"
	case domain.ErrorKindDispatch:
		base = "The provider rejected the request"
	default:
		base = "The video could not be generated"
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return base + ". Your credits were refunded."
	}
	return base + ": " + detail + ". Your credits were refunded."
}

func partialMessage(saved, target int, reason string) string {
	msg := fmt.Sprintf("Saved %ds of the requested %ds", saved, target)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	return msg + ". Credits for the missing segments were refunded."
}

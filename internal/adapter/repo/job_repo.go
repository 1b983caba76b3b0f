package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository over PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts the job row and its creation debit in one statement.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job, debit *domain.LedgerEntry) error {
	if job == nil || debit == nil {
		return fmt.Errorf("%w: job and debit are required", domain.ErrInvalidRequest)
	}
	if debit.ID == "" {
		debit.ID = uuid.NewString()
	}
	var debits int
	err := r.sql.QueryRow(ctx, sqlinline.QInsertVideoJob,
		job.ID,
		job.OwnerID,
		job.AccountID,
		string(job.Status),
		string(job.Provider),
		job.ExternalRef,
		job.Prompt,
		job.Style,
		job.AspectRatio,
		job.ExtensionTotal,
		job.TargetDurationSeconds,
		job.CreditCost,
		debit.ID,
		debit.Amount,
		debit.Reason,
		debit.IdempotencyKey,
	).Scan(&job.CreatedAt, &job.UpdatedAt, &debits)
	if err != nil {
		return fmt.Errorf("insert video job: %w", err)
	}
	if debits != 1 {
		return fmt.Errorf("insert video job: debit not recorded")
	}
	debit.JobID = job.ID
	debit.CreatedAt = job.CreatedAt
	return nil
}

func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectVideoJobByID, jobID))
}

// GetForOwner only returns the job when ownerID matches.
func (r *JobRepositoryPG) GetForOwner(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	return scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectVideoJobForOwner, jobID, ownerID))
}

func (r *JobRepositoryPG) List(ctx context.Context, ownerID string, filter domain.JobFilter) ([]domain.Job, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListVideoJobsForOwner, ownerID, statuses, string(filter.Provider), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListPending returns non-terminal jobs of every owner, least recently
// touched first.
func (r *JobRepositoryPG) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListPendingVideoJobs, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending video jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepositoryPG) MarkDispatched(ctx context.Context, jobID, externalRef string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkVideoJobDispatched, jobID, externalRef)
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress never lowers the stored value.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, pct int) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateVideoJobProgress, jobID, clampPct(pct)); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (r *JobRepositoryPG) Complete(ctx context.Context, jobID string, c domain.Completion) (bool, error) {
	refund := refundArgs(c.Refund)
	var updated, refunded int
	err := r.sql.QueryRow(ctx, sqlinline.QCompleteVideoJob,
		jobID,
		c.RawVideoURL,
		c.DurationSeconds,
		c.ExtensionStep,
		c.ExtensionTotal,
		c.ExtensionVideoURI,
		string(orNone(c.ErrorKind)),
		c.ErrorMessage,
		refund.id,
		refund.amount,
		refund.reason,
		refund.key,
		c.CreditCost,
	).Scan(&updated, &refunded)
	if err != nil {
		return false, fmt.Errorf("complete video job: %w", err)
	}
	return updated == 1, nil
}

func (r *JobRepositoryPG) Fail(ctx context.Context, jobID string, f domain.Failure) (bool, error) {
	refund := refundArgs(f.Refund)
	var updated, refunded int
	err := r.sql.QueryRow(ctx, sqlinline.QFailVideoJob,
		jobID,
		string(orNone(f.ErrorKind)),
		f.ErrorMessage,
		refund.id,
		refund.amount,
		refund.reason,
		refund.key,
	).Scan(&updated, &refunded)
	if err != nil {
		return false, fmt.Errorf("fail video job: %w", err)
	}
	return updated == 1, nil
}

// ClaimExtension reports whether this caller won the step transition.
func (r *JobRepositoryPG) ClaimExtension(ctx context.Context, c domain.ExtensionClaim) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QClaimVideoJobExtension,
		c.JobID,
		c.ExpectedStep,
		c.ExpectedRef,
		c.NextStep,
		c.PendingRef,
		c.SegmentURI,
		c.ClaimedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim extension: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) SetExtensionRef(ctx context.Context, jobID string, step int, externalRef string) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QSetVideoJobExtensionRef, jobID, step, externalRef)
	if err != nil {
		return fmt.Errorf("set extension ref: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.ErrConflict
	}
	return nil
}

func (r *JobRepositoryPG) PromoteToChain(ctx context.Context, p domain.ChainPromotion) (bool, error) {
	if p.Debit == nil {
		return false, fmt.Errorf("%w: promotion debit is required", domain.ErrInvalidRequest)
	}
	if p.Debit.ID == "" {
		p.Debit.ID = uuid.NewString()
	}
	var updated, debits int
	err := r.sql.QueryRow(ctx, sqlinline.QPromoteVideoJobToChain,
		p.JobID,
		p.ExpectedStep,
		p.ExtensionStep,
		p.ExtensionTotal,
		p.CreditCost,
		p.PendingRef,
		p.ClaimedAt.UTC(),
		p.Debit.ID,
		p.Debit.Amount,
		p.Debit.Reason,
		p.Debit.IdempotencyKey,
	).Scan(&updated, &debits)
	if err != nil {
		return false, fmt.Errorf("promote to chain: %w", err)
	}
	return updated == 1, nil
}

func (r *JobRepositoryPG) RestoreCompleted(ctx context.Context, c domain.CompletionRestore) (bool, error) {
	refund := refundArgs(c.Refund)
	var updated, refunded int
	err := r.sql.QueryRow(ctx, sqlinline.QRestoreCompletedVideoJob,
		c.JobID,
		c.PendingRef,
		string(c.Provider),
		c.ExternalRef,
		c.ExtensionTotal,
		c.CreditCost,
		refund.id,
		refund.amount,
		refund.reason,
		refund.key,
		c.ExtensionStep,
	).Scan(&updated, &refunded)
	if err != nil {
		return false, fmt.Errorf("restore completed job: %w", err)
	}
	return updated == 1, nil
}

type refundParams struct {
	id     string
	amount int
	reason string
	key    string
}

// refundArgs always yields a valid uuid so the cast in the CTE succeeds
// even when no refund row is written.
func refundArgs(entry *domain.LedgerEntry) refundParams {
	if entry == nil || entry.Amount <= 0 {
		return refundParams{id: uuid.NewString()}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return refundParams{id: entry.ID, amount: entry.Amount, reason: entry.Reason, key: entry.IdempotencyKey}
}

func orNone(kind domain.ErrorKind) domain.ErrorKind {
	if kind == "" {
		return domain.ErrorKindNone
	}
	return kind
}

func clampPct(pct int) int {
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	default:
		return pct
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		status    string
		provider  string
		errorKind string
		claimedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.AccountID,
		&status,
		&provider,
		&job.ExternalRef,
		&job.Prompt,
		&job.Style,
		&job.AspectRatio,
		&job.ProgressPct,
		&job.RawVideoURL,
		&job.FinalVideoURL,
		&job.ThumbnailURL,
		&job.ExtensionStep,
		&job.ExtensionTotal,
		&job.ExtensionVideoURI,
		&claimedAt,
		&job.TargetDurationSeconds,
		&job.DurationSeconds,
		&job.CreditCost,
		&job.CreditsRefunded,
		&errorKind,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan video job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.Provider = domain.ProviderTag(provider)
	job.ErrorKind = domain.ErrorKind(errorKind)
	job.ExtensionClaimedAt = claimedAt
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

// Package sqlitestore keeps jobs and the credit ledger in a single SQLite
// file. It backs local development and tests when no PostgreSQL URL is set.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vidforge/internal/domain"
)

// Store implements domain.JobRepository and domain.LedgerRepository.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err = db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks that the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS video_jobs (
			id                      TEXT PRIMARY KEY,
			owner_id                TEXT NOT NULL,
			account_id              TEXT NOT NULL,
			status                  TEXT NOT NULL,
			provider                TEXT NOT NULL,
			external_ref            TEXT NOT NULL DEFAULT '',
			prompt                  TEXT NOT NULL DEFAULT '',
			style                   TEXT NOT NULL DEFAULT '',
			aspect_ratio            TEXT NOT NULL DEFAULT '',
			progress_pct            INTEGER NOT NULL DEFAULT 0,
			raw_video_url           TEXT NOT NULL DEFAULT '',
			final_video_url         TEXT NOT NULL DEFAULT '',
			thumbnail_url           TEXT NOT NULL DEFAULT '',
			extension_step          INTEGER NOT NULL DEFAULT 0,
			extension_total         INTEGER NOT NULL DEFAULT 0,
			extension_video_uri     TEXT NOT NULL DEFAULT '',
			extension_claimed_at    DATETIME,
			target_duration_seconds INTEGER NOT NULL DEFAULT 0,
			duration_seconds        INTEGER NOT NULL DEFAULT 0,
			credit_cost             INTEGER NOT NULL DEFAULT 0,
			credits_refunded        INTEGER NOT NULL DEFAULT 0,
			error_kind              TEXT NOT NULL DEFAULT 'none',
			error_message           TEXT NOT NULL DEFAULT '',
			created_at              DATETIME NOT NULL,
			updated_at              DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_video_jobs_owner ON video_jobs(owner_id, created_at);
		CREATE TABLE IF NOT EXISTS credit_ledger (
			id              TEXT PRIMARY KEY,
			job_id          TEXT NOT NULL REFERENCES video_jobs(id) ON DELETE CASCADE,
			owner_id        TEXT NOT NULL,
			account_id      TEXT NOT NULL,
			kind            TEXT NOT NULL,
			amount          INTEGER NOT NULL CHECK (amount > 0),
			reason          TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT NOT NULL UNIQUE,
			created_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_credit_ledger_job ON credit_ledger(job_id, created_at);
	`)
	return err
}

const jobColumns = `id, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
	progress_pct, raw_video_url, final_video_url, thumbnail_url,
	extension_step, extension_total, extension_video_uri, extension_claimed_at,
	target_duration_seconds, duration_seconds, credit_cost, credits_refunded,
	error_kind, error_message, created_at, updated_at`

const nonTerminal = `('queued', 'generating', 'extending')`

func (s *Store) Create(ctx context.Context, job *domain.Job, debit *domain.LedgerEntry) error {
	if job == nil || debit == nil {
		return fmt.Errorf("%w: job and debit are required", domain.ErrInvalidRequest)
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO video_jobs
				(id, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
				 extension_total, target_duration_seconds, credit_cost, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			job.ID, job.OwnerID, job.AccountID, string(job.Status), string(job.Provider), job.ExternalRef,
			job.Prompt, job.Style, job.AspectRatio, job.ExtensionTotal, job.TargetDurationSeconds, job.CreditCost,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		debit.JobID = job.ID
		if _, err := insertEntry(ctx, tx, debit, now); err != nil {
			return err
		}
		job.CreatedAt, job.UpdatedAt = now, now
		if job.ErrorKind == "" {
			job.ErrorKind = domain.ErrorKindNone
		}
		return nil
	})
}

func (s *Store) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *Store) GetForOwner(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ? AND owner_id = ?`, jobID, ownerID)
	return scanJob(row)
}

func (s *Store) List(ctx context.Context, ownerID string, filter domain.JobFilter) ([]domain.Job, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, string(filter.Provider))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListPending returns non-terminal jobs of every owner, least recently
// touched first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE status IN `+nonTerminal+` ORDER BY updated_at ASC, rowid ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]domain.Job, error) {
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkDispatched(ctx context.Context, jobID, externalRef string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_jobs SET status = 'generating', external_ref = ?, updated_at = ?
		WHERE id = ? AND status = 'queued'
	`, externalRef, time.Now().UTC(), jobID)
	if err != nil {
		return false, fmt.Errorf("mark dispatched: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) UpdateProgress(ctx context.Context, jobID string, pct int) error {
	pct = min(max(pct, 0), 100)
	_, err := s.db.ExecContext(ctx, `
		UPDATE video_jobs SET progress_pct = MAX(progress_pct, ?), updated_at = ?
		WHERE id = ? AND status IN ('generating', 'extending') AND progress_pct < ?
	`, pct, time.Now().UTC(), jobID, pct)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *Store) Complete(ctx context.Context, jobID string, c domain.Completion) (bool, error) {
	var won bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE video_jobs SET
				status = 'complete', progress_pct = 100, raw_video_url = ?, duration_seconds = ?,
				extension_step = ?, extension_total = ?, extension_video_uri = ?,
				error_kind = ?, error_message = ?, credits_refunded = credits_refunded OR ?,
				credit_cost = CASE WHEN ? > 0 THEN ? ELSE credit_cost END, updated_at = ?
			WHERE id = ? AND status IN `+nonTerminal,
			c.RawVideoURL, c.DurationSeconds, c.ExtensionStep, c.ExtensionTotal, c.ExtensionVideoURI,
			string(orNone(c.ErrorKind)), c.ErrorMessage, hasAmount(c.Refund), c.CreditCost, c.CreditCost, now, jobID,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if won, err = affectedOne(res); err != nil || !won {
			return err
		}
		return s.refundInTx(ctx, tx, jobID, c.Refund, now)
	})
	return won, err
}

func (s *Store) Fail(ctx context.Context, jobID string, f domain.Failure) (bool, error) {
	var won bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE video_jobs SET
				status = 'failed', error_kind = ?, error_message = ?,
				credits_refunded = credits_refunded OR ?, updated_at = ?
			WHERE id = ? AND status IN `+nonTerminal,
			string(orNone(f.ErrorKind)), f.ErrorMessage, hasAmount(f.Refund), now, jobID,
		)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
		if won, err = affectedOne(res); err != nil || !won {
			return err
		}
		return s.refundInTx(ctx, tx, jobID, f.Refund, now)
	})
	return won, err
}

func (s *Store) ClaimExtension(ctx context.Context, c domain.ExtensionClaim) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_jobs SET
			extension_step = ?, status = 'extending', external_ref = ?, extension_video_uri = ?,
			extension_claimed_at = ?, updated_at = ?
		WHERE id = ? AND extension_step = ? AND external_ref = ? AND status IN ('generating', 'extending')
	`, c.NextStep, c.PendingRef, c.SegmentURI, c.ClaimedAt.UTC(), time.Now().UTC(), c.JobID, c.ExpectedStep, c.ExpectedRef)
	if err != nil {
		return false, fmt.Errorf("claim extension: %w", err)
	}
	return affectedOne(res)
}

func (s *Store) SetExtensionRef(ctx context.Context, jobID string, step int, externalRef string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE video_jobs SET external_ref = ?, updated_at = ?
		WHERE id = ? AND extension_step = ? AND status = 'extending' AND external_ref LIKE 'pending:%'
	`, externalRef, time.Now().UTC(), jobID, step)
	if err != nil {
		return fmt.Errorf("set extension ref: %w", err)
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflict
	}
	return nil
}

func (s *Store) PromoteToChain(ctx context.Context, p domain.ChainPromotion) (bool, error) {
	if p.Debit == nil {
		return false, fmt.Errorf("%w: promotion debit is required", domain.ErrInvalidRequest)
	}
	var won bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE video_jobs SET
				status = 'extending', provider = 'operation-chained', extension_step = ?, extension_total = ?,
				credit_cost = ?, external_ref = ?, extension_claimed_at = ?,
				error_kind = 'none', error_message = '', updated_at = ?
			WHERE id = ? AND status = 'complete' AND extension_step = ?
		`, p.ExtensionStep, p.ExtensionTotal, p.CreditCost, p.PendingRef, p.ClaimedAt.UTC(), now, p.JobID, p.ExpectedStep)
		if err != nil {
			return fmt.Errorf("promote to chain: %w", err)
		}
		if won, err = affectedOne(res); err != nil || !won {
			return err
		}
		p.Debit.JobID = p.JobID
		_, err = insertEntry(ctx, tx, p.Debit, now)
		return err
	})
	return won, err
}

func (s *Store) RestoreCompleted(ctx context.Context, c domain.CompletionRestore) (bool, error) {
	var won bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE video_jobs SET
				status = 'complete', provider = ?, external_ref = ?, extension_step = ?, extension_total = ?,
				credit_cost = ?, credits_refunded = credits_refunded OR ?, extension_claimed_at = NULL, updated_at = ?
			WHERE id = ? AND status = 'extending' AND external_ref = ?
		`, string(c.Provider), c.ExternalRef, c.ExtensionStep, c.ExtensionTotal, c.CreditCost, hasAmount(c.Refund),
			now, c.JobID, c.PendingRef)
		if err != nil {
			return fmt.Errorf("restore completed job: %w", err)
		}
		if won, err = affectedOne(res); err != nil || !won {
			return err
		}
		return s.refundInTx(ctx, tx, c.JobID, c.Refund, now)
	})
	return won, err
}

func (s *Store) ListByJob(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at
		FROM credit_ledger WHERE job_id = ? ORDER BY created_at ASC, rowid ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var (
			e    domain.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.JobID, &e.OwnerID, &e.AccountID, &kind, &e.Amount, &e.Reason, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = domain.LedgerKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) refundInTx(ctx context.Context, tx *sql.Tx, jobID string, refund *domain.LedgerEntry, now time.Time) error {
	if !hasAmount(refund) {
		return nil
	}
	refund.JobID = jobID
	_, err := insertEntry(ctx, tx, refund, now)
	return err
}

// insertEntry fills owner and account from the job row so callers only
// need to supply the job id.
func insertEntry(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry, now time.Time) (bool, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
		SELECT ?, id, owner_id, account_id, ?, ?, ?, ?, ? FROM video_jobs WHERE id = ?
		ON CONFLICT(idempotency_key) DO NOTHING
	`, entry.ID, string(entry.Kind), entry.Amount, entry.Reason, entry.IdempotencyKey, now, entry.JobID)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}
	entry.CreatedAt = now
	return affectedOne(res)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
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
		claimedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.AccountID, &status, &provider, &job.ExternalRef,
		&job.Prompt, &job.Style, &job.AspectRatio,
		&job.ProgressPct, &job.RawVideoURL, &job.FinalVideoURL, &job.ThumbnailURL,
		&job.ExtensionStep, &job.ExtensionTotal, &job.ExtensionVideoURI, &claimedAt,
		&job.TargetDurationSeconds, &job.DurationSeconds, &job.CreditCost, &job.CreditsRefunded,
		&errorKind, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.Provider = domain.ProviderTag(provider)
	job.ErrorKind = domain.ErrorKind(errorKind)
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ExtensionClaimedAt = &t
	}
	return &job, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func hasAmount(entry *domain.LedgerEntry) bool {
	return entry != nil && entry.Amount > 0
}

func orNone(kind domain.ErrorKind) domain.ErrorKind {
	if kind == "" {
		return domain.ErrorKindNone
	}
	return kind
}

var (
	_ domain.JobRepository    = (*Store)(nil)
	_ domain.LedgerRepository = (*Store)(nil)
)

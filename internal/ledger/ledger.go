// Package ledger prices video jobs and records their credit movements.
// Entries are append-only; every write carries an idempotency key so a
// retried transition can never debit or refund twice.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vidforge/internal/domain"
)

// Pricing converts segment counts into credits.
type Pricing struct {
	PerSegment   int
	PerExtension int
}

// CostFor returns the price of a job producing segments segments. The first
// segment is billed at PerSegment and each further one at PerExtension.
func (p Pricing) CostFor(segments int) int {
	if segments <= 0 {
		return 0
	}
	return p.PerSegment + (segments-1)*p.PerExtension
}

// Unconsumed returns how much of creditCost was not spent on the delivered
// segments.
func (p Pricing) Unconsumed(creditCost, delivered int) int {
	refund := creditCost - p.CostFor(delivered)
	if refund < 0 {
		return 0
	}
	return refund
}

// Ledger reads and appends entries through a LedgerRepository.
type Ledger struct {
	repo domain.LedgerRepository
}

func New(repo domain.LedgerRepository) *Ledger {
	return &Ledger{repo: repo}
}

// History lists a job's entries oldest first.
func (l *Ledger) History(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	entries, err := l.repo.ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ledger history: %w", err)
	}
	return entries, nil
}

// Summary totals a set of entries.
type Summary struct {
	Debited  int
	Refunded int
}

func (s Summary) Net() int {
	return s.Debited - s.Refunded
}

func Summarize(entries []domain.LedgerEntry) Summary {
	var s Summary
	for _, e := range entries {
		switch e.Kind {
		case domain.LedgerKindDebit:
			s.Debited += e.Amount
		case domain.LedgerKindRefund:
			s.Refunded += e.Amount
		}
	}
	return s
}

// CreateDebit is the entry written alongside a new job.
func CreateDebit(job *domain.Job) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		AccountID:      job.AccountID,
		Kind:           domain.LedgerKindDebit,
		Amount:         job.CreditCost,
		Reason:         "video generation",
		IdempotencyKey: fmt.Sprintf("debit:%s:create", job.ID),
	}
}

// ExtensionDebit charges one manually requested extension segment. attempt
// keeps a retried request from colliding with an earlier one that was
// rolled back.
func ExtensionDebit(job *domain.Job, segment, amount int, attempt string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		AccountID:      job.AccountID,
		Kind:           domain.LedgerKindDebit,
		Amount:         amount,
		Reason:         fmt.Sprintf("extension segment %d", segment),
		IdempotencyKey: fmt.Sprintf("debit:%s:ext:%d:%s", job.ID, segment, attempt),
	}
}

// RefundEntry builds the refund for a job ending at step. It returns nil
// when there is nothing to refund. The key is derived from the row version
// the caller observed, so pollers racing on the same state produce the same
// key while a later billing round on the same job gets a fresh one.
func RefundEntry(job *domain.Job, step, amount int, reason string) *domain.LedgerEntry {
	if job == nil || amount <= 0 {
		return nil
	}
	return &domain.LedgerEntry{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		AccountID:      job.AccountID,
		Kind:           domain.LedgerKindRefund,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: fmt.Sprintf("refund:%s:%d:%d", job.ID, step, job.UpdatedAt.UnixMicro()),
	}
}

// ExtensionRefund returns the debit of a manual extension that never started.
func ExtensionRefund(job *domain.Job, segment, amount int, attempt string) *domain.LedgerEntry {
	if job == nil || amount <= 0 {
		return nil
	}
	return &domain.LedgerEntry{
		ID:             uuid.NewString(),
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		AccountID:      job.AccountID,
		Kind:           domain.LedgerKindRefund,
		Amount:         amount,
		Reason:         fmt.Sprintf("extension segment %d not started", segment),
		IdempotencyKey: fmt.Sprintf("refund:%s:ext:%d:%s", job.ID, segment, attempt),
	}
}

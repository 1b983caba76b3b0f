package domain

import "time"

// LedgerKind distinguishes debits from refunds.
type LedgerKind string

const (
	LedgerKindDebit  LedgerKind = "debit"
	LedgerKindRefund LedgerKind = "refund"
)

// LedgerEntry is one append-only credit movement tied to a job.
type LedgerEntry struct {
	ID             string
	JobID          string
	OwnerID        string
	AccountID      string
	Kind           LedgerKind
	Amount         int
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

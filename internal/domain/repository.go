package domain

import "context"

// JobRepository persists video jobs. Every state-changing method is a
// conditional write: it reports false when the row was no longer in the state
// the caller expected, which means another poller got there first.
type JobRepository interface {
	// Create inserts a queued job together with its creation debit.
	Create(ctx context.Context, job *Job, debit *LedgerEntry) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	GetForOwner(ctx context.Context, jobID, ownerID string) (*Job, error)
	List(ctx context.Context, ownerID string, filter JobFilter) ([]Job, error)

	// MarkDispatched moves a queued job to generating with its backend ref.
	MarkDispatched(ctx context.Context, jobID, externalRef string) (bool, error)
	// UpdateProgress stores pct only when it is higher than the stored value.
	UpdateProgress(ctx context.Context, jobID string, pct int) error
	// Complete and Fail only apply to non-terminal jobs. A refund, when
	// present, is written in the same statement as the transition.
	Complete(ctx context.Context, jobID string, c Completion) (bool, error)
	Fail(ctx context.Context, jobID string, f Failure) (bool, error)

	ClaimExtension(ctx context.Context, claim ExtensionClaim) (bool, error)
	SetExtensionRef(ctx context.Context, jobID string, step int, externalRef string) error
	PromoteToChain(ctx context.Context, p ChainPromotion) (bool, error)
	RestoreCompleted(ctx context.Context, r CompletionRestore) (bool, error)
}

// LedgerRepository reads credit movements. Entries are only ever written
// together with the job transition they belong to.
type LedgerRepository interface {
	ListByJob(ctx context.Context, jobID string) ([]LedgerEntry, error)
}

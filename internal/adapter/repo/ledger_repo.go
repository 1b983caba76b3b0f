package repo

import (
	"context"
	"fmt"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/sqlinline"
)

// LedgerRepositoryPG implements domain.LedgerRepository over PostgreSQL.
type LedgerRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewLedgerRepository(sql infra.SQLExecutor) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{sql: sql}
}

func (r *LedgerRepositoryPG) ListByJob(ctx context.Context, jobID string) ([]domain.LedgerEntry, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectLedgerByJob, jobID)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return entries, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)

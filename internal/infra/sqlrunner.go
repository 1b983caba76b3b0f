package infra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on. SQLRunner
// implements it over a pgx pool; tests substitute stubs.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// ErrUnmarkedQuery is returned for statements without a "--sql <uuid>" line.
var ErrUnmarkedQuery = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

const defaultSlowQuery = 500 * time.Millisecond

// SQLRunner strips and logs the audit marker of every statement before
// handing it to pgx. Only marked statements are executed.
type SQLRunner struct {
	db     SQLExecutor
	logger zerolog.Logger
	// SlowQuery is the duration above which a statement is logged at warn.
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return newRunner(pool, logger)
}

func newRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger, SlowQuery: defaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.db.Exec(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("sql exec error")
		return tag, fmt.Errorf("sql %s: %w", marker, err)
	}
	r.timing(marker, "exec", start).Int64("rows", tag.RowsAffected()).Msg("sql exec ok")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.db.QueryRow(ctx, body, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.db.Query(ctx, body, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("sql query error")
		return nil, fmt.Errorf("sql %s: %w", marker, err)
	}
	return &loggingRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// timing starts a debug event, promoted to warn when the statement was slow.
func (r *SQLRunner) timing(marker, op string, start time.Time) *zerolog.Event {
	took := time.Since(start)
	evt := r.logger.Debug()
	if r.SlowQuery > 0 && took >= r.SlowQuery {
		evt = r.logger.Warn().Bool("slow", true)
	}
	return evt.Str("sql", marker).Str("op", op).Dur("took", took)
}

type loggingRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil:
		l.runner.timing(l.marker, "query_row", l.start).Msg("sql query_row ok")
	case IsNoRows(err):
		l.runner.timing(l.marker, "query_row", l.start).Msg("sql query_row empty")
	default:
		l.runner.logger.Error().Err(err).Str("sql", l.marker).Msg("sql scan error")
	}
	return err
}

type loggingRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	n      int
	closed bool
}

func (l *loggingRows) Next() bool {
	ok := l.Rows.Next()
	if ok {
		l.n++
	}
	return ok
}

func (l *loggingRows) Close() {
	l.Rows.Close()
	if l.closed {
		return
	}
	l.closed = true
	if err := l.Rows.Err(); err != nil {
		l.runner.logger.Error().Err(err).Str("sql", l.marker).Msg("sql rows error")
		return
	}
	l.runner.timing(l.marker, "query", l.start).Int("rows", l.n).Msg("sql query ok")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits the leading "--sql <uuid>" audit marker from a query.
func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	first, rest, _ := strings.Cut(trimmed, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", ErrUnmarkedQuery
	}
	body := strings.TrimSpace(rest)
	if body == "" {
		return "", "", fmt.Errorf("sql %s: empty statement", m[1])
	}
	return m[1], body, nil
}

// IsNoRows reports whether err means the query matched nothing.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)

package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestExtractMarker(t *testing.T) {
	query := "\n--sql 0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11\nselect 1;\n"
	marker, body, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarkedQuery(t *testing.T) {
	for _, q := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := extractMarker(q); err == nil {
			t.Fatalf("expected error for %q", q)
		}
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)) {
		t.Fatalf("wrapped ErrNoRows not detected")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("unexpected no-rows match")
	}
}

type recordingDB struct {
	queries []string
	execErr error
	rowErr  error
}

func (d *recordingDB) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	d.queries = append(d.queries, query)
	return pgconn.NewCommandTag("UPDATE 1"), d.execErr
}

func (d *recordingDB) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	d.queries = append(d.queries, query)
	return errorRow{err: d.rowErr}
}

func (d *recordingDB) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	d.queries = append(d.queries, query)
	return nil, errors.New("not supported")
}

func TestSQLRunnerStripsMarkerAndLogs(t *testing.T) {
	var buf bytes.Buffer
	db := &recordingDB{}
	runner := newRunner(db, zerolog.New(&buf).Level(zerolog.DebugLevel))

	tag, err := runner.Exec(context.Background(), "--sql 0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11\nupdate t set x = 1", 1)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("rows = %d", tag.RowsAffected())
	}
	if len(db.queries) != 1 || db.queries[0] != "update t set x = 1" {
		t.Fatalf("queries = %q", db.queries)
	}
	if !strings.Contains(buf.String(), `"sql":"0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11"`) {
		t.Fatalf("log missing marker: %s", buf.String())
	}

	if _, err := runner.Exec(context.Background(), "update t set x = 1"); !errors.Is(err, ErrUnmarkedQuery) {
		t.Fatalf("err = %v, want ErrUnmarkedQuery", err)
	}
	if len(db.queries) != 1 {
		t.Fatal("unmarked query reached the database")
	}
}

func TestSQLRunnerWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	db := &recordingDB{execErr: boom, rowErr: pgx.ErrNoRows}
	runner := newRunner(db, zerolog.Nop())

	_, err := runner.Exec(context.Background(), "--sql 0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11\nupdate t set x = 1")
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "0b7c3c52") {
		t.Fatalf("err = %v", err)
	}

	var x int
	err = runner.QueryRow(context.Background(), "--sql 0b7c3c52-3a4e-4d55-9d2c-3c1f1f7f0a11\nselect 1").Scan(&x)
	if !IsNoRows(err) {
		t.Fatalf("QueryRow err = %v", err)
	}
}

package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token string
	tag   string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.NewCommandTag(s.tag), s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderVeo)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderSora)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolvePrefersExplicit(t *testing.T) {
	store := NewStore(&stubExecutor{token: "stored"})
	key, err := store.Resolve(context.Background(), ProviderRunway, " env-key ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "env-key" {
		t.Fatalf("expected env-key, got %q", key)
	}
	key, err = store.Resolve(context.Background(), ProviderRunway, "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "stored" {
		t.Fatalf("expected stored, got %q", key)
	}
}

func TestResolveNilStore(t *testing.T) {
	var store *Store
	key, err := store.Resolve(context.Background(), ProviderVeo, "")
	if err != nil || key != "" {
		t.Fatalf("nil store Resolve = %q, %v", key, err)
	}
}

func TestSet(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.Set(context.Background(), "VEO", "secret"); err != nil {
		t.Fatalf("Set error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderVeo {
		t.Fatalf("expected provider veo, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetRejectsEmptyAndUnknown(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.Set(context.Background(), ProviderSora, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.Set(context.Background(), "gemini", "secret"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDelete(t *testing.T) {
	exec := &stubExecutor{tag: "DELETE 1"}
	store := NewStore(exec)
	removed, err := store.Delete(context.Background(), " Runway ")
	if err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if !removed {
		t.Fatal("expected removed = true")
	}
	if v, _ := exec.exec.args[0].(string); v != ProviderRunway {
		t.Fatalf("provider arg = %v", exec.exec.args[0])
	}

	exec.tag = "DELETE 0"
	if removed, err := store.Delete(context.Background(), ProviderRunway); err != nil || removed {
		t.Fatalf("Delete on missing key = %v, %v", removed, err)
	}
	if _, err := store.Delete(context.Background(), "gemini"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

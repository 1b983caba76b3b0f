package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vidforge/internal/infra"
	"vidforge/internal/sqlinline"
)

// Provider names used as keys in the integration_tokens table.
const (
	ProviderSora   = "sora"
	ProviderVeo    = "veo"
	ProviderRunway = "runway"
)

// Known lists the providers a key can be stored for.
var Known = []string{ProviderSora, ProviderVeo, ProviderRunway}

// Store reads and writes backend API keys kept in the database, used when a
// key is not supplied through the environment.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if s == nil || s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderKey, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the explicit value and falls back to the stored token.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, nil
	}
	return s.Token(ctx, provider)
}

// Set stores key for provider, replacing any previous value.
func (s *Store) Set(ctx context.Context, provider, key string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !IsKnown(provider) {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New(provider + " api key is required")
	}
	return s.upsert(ctx, provider, key, map[string]any{"source": "providerkey"})
}

// Delete removes the stored key for provider. It reports whether a key was
// present.
func (s *Store) Delete(ctx context.Context, provider string) (bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !IsKnown(provider) {
		return false, fmt.Errorf("unsupported provider %q", provider)
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteProviderKey, provider)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IsKnown reports whether provider is a supported key name.
func IsKnown(provider string) bool {
	for _, p := range Known {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertProviderKey, provider, token, raw)
	return err
}

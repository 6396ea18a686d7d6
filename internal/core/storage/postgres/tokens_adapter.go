package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pulsegrid-lab/pulsegrid/internal/core/storage"
)

// TokenAdapter implements storage.TokenStore on the shared connection pool.
type TokenAdapter struct {
	db *sql.DB
}

// NewTokenAdapter wires the token store onto an existing database handle.
func NewTokenAdapter(db *sql.DB) *TokenAdapter {
	return &TokenAdapter{db: db}
}

// LookupToken resolves a bearer token. Revoked tokens behave exactly like
// missing ones: storage.ErrNotFound.
func (a *TokenAdapter) LookupToken(ctx context.Context, token string) (*storage.TokenRecord, error) {
	var (
		tenantID   string
		scopesJSON []byte
	)
	err := a.db.QueryRowContext(ctx, queryLookupToken, token).Scan(&tenantID, &scopesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	var scopes []string
	if len(scopesJSON) > 0 {
		if err := json.Unmarshal(scopesJSON, &scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal token scopes: %w", err)
		}
	}

	return &storage.TokenRecord{TenantID: tenantID, Scopes: scopes}, nil
}

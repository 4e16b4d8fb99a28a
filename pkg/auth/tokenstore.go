package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTokenNotFound is returned when no token matches a hash
var ErrTokenNotFound = errors.New("token not found")

// TokenStore persists issued tokens keyed by their SHA256 hash
type TokenStore interface {
	Create(ctx context.Context, token *AccessToken) error
	FindByHash(ctx context.Context, tokenHash string) (*AccessToken, error)
	Touch(ctx context.Context, tokenHash string, at time.Time) error
	Delete(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLTokenStore keeps tokens in the access_tokens table
type SQLTokenStore struct {
	db *sql.DB
}

// NewSQLTokenStore creates a new SQL-backed token store
func NewSQLTokenStore(db *sql.DB) *SQLTokenStore {
	return &SQLTokenStore{db: db}
}

// Create stores a token and sets its ID
func (s *SQLTokenStore) Create(ctx context.Context, token *AccessToken) error {
	abilities, err := json.Marshal(token.Abilities)
	if err != nil {
		return fmt.Errorf("failed to marshal abilities: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO access_tokens (user_id, name, token_hash, token_prefix, abilities, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, token.UserID, token.Name, token.TokenHash, token.TokenPrefix, string(abilities),
		nullTime(token.ExpiresAt), token.CreatedAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	return nil
}

// FindByHash looks up a token by hash
func (s *SQLTokenStore) FindByHash(ctx context.Context, tokenHash string) (*AccessToken, error) {
	var (
		token      AccessToken
		abilities  string
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, token_hash, token_prefix, abilities, expires_at, last_used_at, created_at
		FROM access_tokens
		WHERE token_hash = $1
	`, tokenHash).Scan(
		&token.ID, &token.UserID, &token.Name, &token.TokenHash, &token.TokenPrefix,
		&abilities, &expiresAt, &lastUsedAt, &token.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	if err := json.Unmarshal([]byte(abilities), &token.Abilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal abilities: %w", err)
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}

	return &token, nil
}

// Touch records the last time a token was used
func (s *SQLTokenStore) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE access_tokens SET last_used_at = $1 WHERE token_hash = $2", at, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

// Delete revokes a single token
func (s *SQLTokenStore) Delete(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_tokens WHERE token_hash = $1", tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrTokenNotFound
	}

	return nil
}

// DeleteExpired removes tokens whose expiry has passed
func (s *SQLTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM access_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

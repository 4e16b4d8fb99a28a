package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
	"github.com/platinummonkey/roomdesk/pkg/database"
)

// ErrUserNotFound is returned when a user lookup misses
var ErrUserNotFound = errors.New("user not found")

// UserStore handles user persistence
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user. A taken username is a validation error.
func (s *UserStore) Create(ctx context.Context, username, passwordHash string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, username, passwordHash, now, now).Scan(&user.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, usernameTaken()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetByUsername retrieves a user by username
func (s *UserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanOne(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE username = $1
	`, username)
}

// GetByID retrieves a user by id
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.scanOne(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`, id)
}

// UsernameExists checks if a username is taken
func (s *UserStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return n > 0, nil
}

func (s *UserStore) scanOne(ctx context.Context, query string, arg interface{}) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func usernameTaken() *apierr.Error {
	return apierr.Validation("The given data was invalid.").
		WithField("username", "The username has already been taken.")
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLTokenStore_FindByHash_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM access_tokens").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = NewSQLTokenStore(db).FindByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTokenStore_FindByHash_DecodesAbilities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "name", "token_hash", "token_prefix", "abilities", "expires_at", "last_used_at", "created_at",
	}).AddRow(1, 2, LoginTokenName, "h", "rd_12345678", `["*"]`, now, nil, now)
	mock.ExpectQuery("SELECT (.+) FROM access_tokens").WithArgs("h").WillReturnRows(rows)

	token, err := NewSQLTokenStore(db).FindByHash(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, []Ability{AbilityAll}, token.Abilities)
	require.NotNil(t, token.ExpiresAt)
	assert.Nil(t, token.LastUsedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTokenStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM access_tokens WHERE token_hash").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM access_tokens WHERE token_hash").
		WithArgs("boom").
		WillReturnError(errors.New("connection reset"))

	store := NewSQLTokenStore(db)
	assert.ErrorIs(t, store.Delete(context.Background(), "gone"), ErrTokenNotFound)

	err = store.Delete(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLTokenStore_DeleteExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec("DELETE FROM access_tokens WHERE expires_at IS NOT NULL").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewSQLTokenStore(db).DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package rbac

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/roomdesk/pkg/apierr"
)

func TestDecentralize_InsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "key" FROM roles WHERE`).
		WithArgs("01_admin").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("01_admin"))
	mock.ExpectQuery(`SELECT "key" FROM permissions WHERE "key" IN`).
		WithArgs("01_manage_inventory").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("01_manage_inventory"))
	mock.ExpectQuery("SELECT permission_key FROM role_permissions").
		WithArgs("01_admin").
		WillReturnRows(sqlmock.NewRows([]string{"permission_key"}))
	mock.ExpectExec("INSERT INTO role_permissions").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = NewStore(db, nil).SyncRolePermissions(context.Background(), Assignments{
		"01_admin": {"01_manage_inventory"},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, apierr.StatusCode(err))
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecentralize_TargetDeletedConcurrently(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "key" FROM roles WHERE`).
		WithArgs("01_admin").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("01_admin"))
	mock.ExpectQuery(`SELECT "key" FROM permissions WHERE "key" IN`).
		WithArgs("04_manage_rooms").
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("04_manage_rooms"))
	mock.ExpectQuery("SELECT permission_key FROM role_permissions").
		WithArgs("01_admin").
		WillReturnRows(sqlmock.NewRows([]string{"permission_key"}))
	mock.ExpectExec("INSERT INTO role_permissions").
		WillReturnError(&pq.Error{Code: "23503", Message: "violates foreign key constraint"})
	mock.ExpectRollback()

	_, err = NewStore(db, nil).SyncRolePermissions(context.Background(), Assignments{
		"01_admin": {"04_manage_rooms"},
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apierr.StatusCode(err))

	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, map[string][]string{"missing_keys": {"04_manage_rooms"}}, apiErr.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecentralize_ResolveFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM users WHERE username").
		WithArgs("owner1").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = NewStore(db, nil).SyncUserRoles(context.Background(), Assignments{"owner1": {"01_admin"}})
	require.Error(t, err)
	assert.False(t, apierr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveUser_LookupOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// bare number: username first, then id
	mock.ExpectQuery("SELECT id FROM users WHERE username").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id FROM users WHERE id").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	id, err := resolveUser(ctx, db, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	mock.ExpectQuery("SELECT id FROM users WHERE username").
		WithArgs("123456").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	id, err = resolveUser(ctx, db, "123456")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	// explicit prefix never consults usernames
	mock.ExpectQuery("SELECT id FROM users WHERE id").
		WithArgs(int64(123456)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	id, err = resolveUser(ctx, db, "user:123456")
	require.NoError(t, err)
	assert.Nil(t, id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecentralize_BeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = NewStore(db, nil).SyncRolePermissions(context.Background(), Assignments{"01_admin": {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many connections")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRole_KeyUpdateFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO roles").
		WithArgs("Admin", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec(`UPDATE roles SET "key"`).
		WithArgs("01_admin", int64(1)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = NewStore(db, nil).CreateRole(context.Background(), RoleInput{Name: "Admin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRoles_CountFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))

	_, _, err = NewStore(db, nil).ListRoles(context.Background(), 5, 0)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeletePermission_RowsAffected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM permissions").
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewStore(db, nil).DeletePermission(context.Background(), 3)
	assert.True(t, apierr.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

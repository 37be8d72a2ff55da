package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserStatusMapsMissingRowToNotFound(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT status FROM users`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	_, err := GetUserStatus(db, "ghost")
	require.Error(t, err)
	serr, ok := err.(ServiceError)
	require.True(t, ok)
	assert.Equal(t, 404, serr.Status)
}

func TestGetUserStatusReturnsStoredValue(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectQuery(`SELECT status FROM users`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUSPENDED"))

	status, err := GetUserStatus(db, "alice")
	require.NoError(t, err)
	assert.Equal(t, "SUSPENDED", status)
}

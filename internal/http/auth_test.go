package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cautela-backend-go/internal/services"
)

func testTokens() services.TokenService {
	return services.TokenService{
		Secret:      []byte("test-secret"),
		Issuer:      "cautela-test",
		AccessTTL:   time.Hour,
		RefreshTTL:  2 * time.Hour,
		RememberTTL: 4 * time.Hour,
	}
}

func TestWithAuthRejectsMissingAndBadTokens(t *testing.T) {
	tokens := testTokens()
	handler := WithAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthRejectsRefreshTokenOnAPISurface(t *testing.T) {
	tokens := testTokens()
	refresh, err := tokens.CreateRefreshToken("alice", false)
	require.NoError(t, err)

	handler := WithAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthPopulatesContext(t *testing.T) {
	tokens := testTokens()
	access, _, err := tokens.CreateAccessToken("alice", "alice@example.com", []string{services.RoleCaregiver})
	require.NoError(t, err)

	var gotUser string
	var gotRoles []string
	handler := WithAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = CurrentUserID(r)
		gotRoles = CurrentRoles(r)
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, []string{services.RoleCaregiver}, gotRoles)
}

func TestRequireRoleBlocksCaregiverFromAdminSurface(t *testing.T) {
	tokens := testTokens()
	access, _, err := tokens.CreateAccessToken("alice", "", []string{services.RoleCaregiver})
	require.NoError(t, err)

	handler := WithAuth(tokens)(RequireRole(services.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	tokens := testTokens()
	hash, err := tokens.HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, tokens.VerifyPassword("correct horse", hash))
	assert.False(t, tokens.VerifyPassword("wrong", hash))
}

func TestRefreshRejectsSuspendedAccount(t *testing.T) {
	server, mock := setupTestServer(t)
	router := server.Router()

	refresh, err := server.Tokens.CreateRefreshToken("alice", false)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT status FROM users`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUSPENDED"))

	rec := postJSON(t, router, "/api/auth/refresh", `{"refreshToken":"`+refresh+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

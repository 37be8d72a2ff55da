package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/services"

	"github.com/google/uuid"
)

type RegisterRequest struct {
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConfirmPassword *string `json:"confirmPassword"`
	Name            *string `json:"name"`
	RecoveryEmail   *string `json:"recoveryEmail"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type TokenResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"`
	User         *UserDTO `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.ConfirmPassword != nil && req.Password != *req.ConfirmPassword {
		WriteError(w, http.StatusBadRequest, "Password confirmation does not match")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		WriteError(w, http.StatusBadRequest, "Email and password are required")
		return
	}
	var exists bool
	if err := s.DB.Get(&exists, `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = $1)`, email); err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if exists {
		WriteError(w, http.StatusBadRequest, "User already exists")
		return
	}
	hash, err := s.Tokens.HashPassword(req.Password)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	userID := uuid.NewString()
	now := time.Now().UTC()
	_, err = s.DB.Exec(`
INSERT INTO users (id, email, password_hash, name, recovery_email, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,'ACTIVE',$6,$6)
`, userID, email, hash, req.Name, req.RecoveryEmail, now)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	_ = services.AssignRole(s.DB, userID, services.RoleCaregiver)
	WriteJSON(w, http.StatusOK, map[string]string{"userId": userID, "email": email})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		WriteError(w, http.StatusBadRequest, "Authentication failed")
		return
	}
	row := struct {
		ID           string `db:"id"`
		PasswordHash string `db:"password_hash"`
		Status       string `db:"status"`
	}{}
	if err := s.DB.Get(&row, `SELECT id, password_hash, status FROM users WHERE lower(email) = $1`, email); err != nil {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	if row.Status != "ACTIVE" {
		WriteError(w, http.StatusForbidden, "Authentication failed")
		return
	}
	if !s.Tokens.VerifyPassword(req.Password, row.PasswordHash) {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	roles, err := services.FetchRoles(s.DB, row.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	access, exp, err := s.Tokens.CreateAccessToken(row.ID, email, roles)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refresh, err := s.Tokens.CreateRefreshToken(row.ID, req.Remember)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	_ = services.SetLastLogin(s.DB, row.ID)
	userDTO, err := buildUserDTO(s.DB, row.ID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         userDTO,
	})
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Authentication failed")
		return
	}
	token, claims, err := s.Tokens.ParseToken(req.RefreshToken)
	if err != nil || !token.Valid || claims["typ"] != "refresh" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	// A refresh token outlives suspensions and deletions; re-check the
	// account before minting new credentials.
	status, err := services.GetUserStatus(s.DB, userID)
	if err != nil || status != "ACTIVE" {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	roles, err := services.FetchRoles(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	access, exp, err := s.Tokens.CreateAccessToken(userID, "", roles)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	remember, _ := claims["rem"].(bool)
	refresh, err := s.Tokens.CreateRefreshToken(userID, remember)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	userDTO, err := buildUserDTO(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		User:         userDTO,
	})
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

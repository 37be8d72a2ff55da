package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cautela-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AdminUserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Status      string     `json:"status"`
	PrimaryRole string     `json:"primaryRole"`
	Roles       []string   `json:"roles"`
	Name        *string    `json:"name,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	LastSeenAt  *time.Time `json:"lastSeenAt,omitempty"`
}

type PagedResponse struct {
	Items    []AdminUserResponse `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
}

type AdminUserCreateRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
	Name     *string  `json:"name"`
	Status   *string  `json:"status"`
}

type AdminUserUpdateRequest struct {
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	Name   *string  `json:"name"`
	Status *string  `json:"status"`
}

type AssignRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("pageSize"), 10)
	if pageSize > 100 {
		pageSize = 100
	}
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	args := []interface{}{}
	where := ""
	if search != "" {
		where = "WHERE lower(email) LIKE $1"
		args = append(args, "%"+strings.ToLower(search)+"%")
	}
	var total int
	if err := s.DB.Get(&total, "SELECT count(*) FROM users "+where, args...); err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	offset := (page - 1) * pageSize
	query := `
SELECT id, email, status, name, created_at, last_login_at, last_seen_at
FROM users
` + where + `
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d`
	args = append(args, pageSize, offset)
	query = fmt.Sprintf(query, len(args)-1, len(args))
	rows := []struct {
		ID        string     `db:"id"`
		Email     string     `db:"email"`
		Status    string     `db:"status"`
		Name      *string    `db:"name"`
		CreatedAt *time.Time `db:"created_at"`
		LastLogin *time.Time `db:"last_login_at"`
		LastSeen  *time.Time `db:"last_seen_at"`
	}{}
	if err := s.DB.Select(&rows, query, args...); err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	items := make([]AdminUserResponse, 0, len(rows))
	for _, row := range rows {
		roles, _ := services.FetchRoles(s.DB, row.ID)
		primary := "CAREGIVER"
		if len(roles) > 0 {
			primary = roles[0]
		}
		items = append(items, AdminUserResponse{
			ID:          row.ID,
			Email:       row.Email,
			Status:      row.Status,
			PrimaryRole: primary,
			Roles:       roles,
			Name:        row.Name,
			CreatedAt:   row.CreatedAt,
			LastLoginAt: row.LastLogin,
			LastSeenAt:  row.LastSeen,
		})
	}
	WriteJSON(w, http.StatusOK, PagedResponse{Items: items, Total: total, Page: page, PageSize: pageSize})
}

func (s *Server) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req AdminUserCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
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
	status := "ACTIVE"
	if req.Status != nil && strings.TrimSpace(*req.Status) != "" {
		status = strings.ToUpper(strings.TrimSpace(*req.Status))
	}
	now := time.Now().UTC()
	_, err = s.DB.Exec(`
INSERT INTO users (id, email, password_hash, name, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
`, userID, email, hash, req.Name, status, now)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{services.RoleCaregiver}
	}
	for _, role := range roles {
		_ = services.AssignRole(s.DB, userID, strings.ToUpper(strings.TrimSpace(role)))
	}
	resp, err := s.buildAdminUser(userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req AdminUserUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		WriteError(w, http.StatusBadRequest, "Email is required")
		return
	}
	var existing string
	if err := s.DB.Get(&existing, `SELECT email FROM users WHERE id = $1`, userID); err != nil {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if strings.ToLower(existing) != email {
		WriteError(w, http.StatusBadRequest, "Email cannot be changed")
		return
	}
	status := (*string)(nil)
	if req.Status != nil && strings.TrimSpace(*req.Status) != "" {
		value := strings.ToUpper(strings.TrimSpace(*req.Status))
		status = &value
	}
	_, _ = s.DB.Exec(`
UPDATE users SET name = COALESCE($2, name), status = COALESCE($3, status), updated_at = $4
WHERE id = $1
`, userID, req.Name, status, time.Now().UTC())

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{services.RoleCaregiver}
	}
	current, _ := services.FetchRoles(s.DB, userID)
	currentSet := map[string]bool{}
	for _, role := range current {
		currentSet[role] = true
	}
	desiredSet := map[string]bool{}
	for _, role := range roles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			desiredSet[role] = true
		}
	}
	for role := range desiredSet {
		if !currentSet[role] {
			_ = services.AssignRole(s.DB, userID, role)
		}
	}
	for role := range currentSet {
		if !desiredSet[role] {
			_ = services.RemoveRole(s.DB, userID, role)
		}
	}
	resp, err := s.buildAdminUser(userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	_, _ = s.DB.Exec(`DELETE FROM users WHERE id = $1`, userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var req AssignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		WriteError(w, http.StatusBadRequest, "Role not found")
		return
	}
	if err := services.AssignRole(s.DB, userID, role); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	role := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "role")))
	if err := services.RemoveRole(s.DB, userID, role); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) buildAdminUser(userID string) (AdminUserResponse, error) {
	row := struct {
		ID        string     `db:"id"`
		Email     string     `db:"email"`
		Status    string     `db:"status"`
		Name      *string    `db:"name"`
		CreatedAt *time.Time `db:"created_at"`
		LastLogin *time.Time `db:"last_login_at"`
		LastSeen  *time.Time `db:"last_seen_at"`
	}{}
	if err := s.DB.Get(&row, `
SELECT id, email, status, name, created_at, last_login_at, last_seen_at
FROM users
WHERE id = $1
`, userID); err != nil {
		return AdminUserResponse{}, err
	}
	roles, _ := services.FetchRoles(s.DB, userID)
	primary := "CAREGIVER"
	if len(roles) > 0 {
		primary = roles[0]
	}
	return AdminUserResponse{
		ID:          row.ID,
		Email:       row.Email,
		Status:      row.Status,
		PrimaryRole: primary,
		Roles:       roles,
		Name:        row.Name,
		CreatedAt:   row.CreatedAt,
		LastLoginAt: row.LastLogin,
		LastSeenAt:  row.LastSeen,
	}, nil
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < 1 {
		return fallback
	}
	return value
}

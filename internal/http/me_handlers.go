package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/services"
)

type ProfileUpdateRequest struct {
	Name          *string `json:"name"`
	AvatarURL     *string `json:"avatarUrl"`
	RecoveryEmail *string `json:"recoveryEmail"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	userDTO, err := buildUserDTO(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]*UserDTO{"user": userDTO})
}

func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.RecoveryEmail != nil {
		trimmed := strings.ToLower(strings.TrimSpace(*req.RecoveryEmail))
		req.RecoveryEmail = &trimmed
	}
	_, err := s.DB.Exec(`
UPDATE users
SET name = COALESCE($2, name),
    avatar_url = COALESCE($3, avatar_url),
    recovery_email = COALESCE(NULLIF($4, ''), recovery_email),
    updated_at = $5
WHERE id = $1
`, userID, req.Name, req.AvatarURL, req.RecoveryEmail, time.Now().UTC())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	userDTO, err := buildUserDTO(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]*UserDTO{"user": userDTO})
}

func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		WriteError(w, http.StatusBadRequest, "Password confirmation does not match")
		return
	}
	row := struct {
		PasswordHash string `db:"password_hash"`
	}{}
	if err := s.DB.Get(&row, `SELECT password_hash FROM users WHERE id = $1`, userID); err != nil {
		WriteError(w, http.StatusNotFound, "User not found")
		return
	}
	if !s.Tokens.VerifyPassword(req.CurrentPassword, row.PasswordHash) {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	hash, err := s.Tokens.HashPassword(req.NewPassword)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	_, err = s.DB.Exec(`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, time.Now().UTC(), userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount routes every owned elder through the unlink cascade before
// removing the user row, so losing the account's last link cleans up the
// elder and device rows instead of orphaning them behind the FK cascade.
func (s *Server) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	elders, err := services.ListUserElders(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	for _, elder := range elders {
		result, err := services.UnlinkElder(s.DB, userID, elder.ElderID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if result.DeviceDeleted {
			s.Tracker.Forget(result.DeviceID)
			s.Presence.Forget(result.DeviceID)
		}
	}
	if _, err := s.DB.Exec(`DELETE FROM users WHERE id = $1`, userID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Ping(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	_ = services.TouchLastSeen(s.DB, userID)
	w.WriteHeader(http.StatusNoContent)
}

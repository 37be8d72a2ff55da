package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
)

type NotificationUpdateRequest struct {
	Kind    *string `json:"kind"`
	Message *string `json:"message"`
	Pulse   *int    `json:"pulse"`
}

type NotificationResponse struct {
	ID         string  `json:"id"`
	ElderID    string  `json:"elderId"`
	Kind       string  `json:"kind"`
	Message    *string `json:"message,omitempty"`
	Pulse      *int    `json:"pulse,omitempty"`
	HappenedAt string  `json:"happenedAt"`
	CreatedAt  string  `json:"createdAt"`
}

func (s *Server) MyNotifications(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	items, err := services.ListUserNotifications(s.DB, userID, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) ElderNotifications(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	elderID := chi.URLParam(r, "elderId")
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	items, err := services.ListElderNotifications(s.DB, userID, elderID, limit)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

type CreateNotificationRequest struct {
	ElderID    string  `json:"elderId"`
	Kind       string  `json:"kind"`
	Message    *string `json:"message"`
	Pulse      *int    `json:"pulse"`
	HappenedAt *string `json:"happenedAt"`
}

// CreateNotification is the generic create path, used for manual entries
// (kind CUSTOM and friends) rather than device callbacks.
func (s *Server) CreateNotification(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	kind := strings.ToUpper(strings.TrimSpace(req.Kind))
	if req.ElderID == "" || kind == "" {
		WriteError(w, http.StatusBadRequest, "elderId and kind are required")
		return
	}
	var exists bool
	if err := s.DB.Get(&exists, `SELECT EXISTS(SELECT 1 FROM elders WHERE id = $1)`, req.ElderID); err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !exists {
		WriteError(w, http.StatusNotFound, "Elder not found")
		return
	}
	visible, err := services.CanSeeElder(s.DB, userID, req.ElderID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !visible && !hasRole(CurrentRoles(r), services.RoleAdmin) {
		WriteError(w, http.StatusForbidden, "Not allowed")
		return
	}
	happenedAt := time.Now().UTC()
	if req.HappenedAt != nil {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.HappenedAt)); err == nil {
			happenedAt = parsed.UTC()
		}
	}
	id, err := services.CreateNotification(s.DB, req.ElderID, kind, req.Message, req.Pulse, happenedAt)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusCreated, NotificationResponse{
		ID:         id,
		ElderID:    req.ElderID,
		Kind:       kind,
		Message:    req.Message,
		Pulse:      req.Pulse,
		HappenedAt: happenedAt.Format(time.RFC3339),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) GetNotification(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	id := chi.URLParam(r, "notificationId")
	notification, err := services.GetNotification(s.DB, id)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	visible, err := services.CanSeeElder(s.DB, userID, notification.ElderID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !visible && !hasRole(CurrentRoles(r), services.RoleAdmin) {
		WriteError(w, http.StatusForbidden, "Not allowed")
		return
	}
	WriteJSON(w, http.StatusOK, NotificationResponse{
		ID:         notification.ID,
		ElderID:    notification.ElderID,
		Kind:       notification.Kind,
		Message:    notification.Message,
		Pulse:      notification.Pulse,
		HappenedAt: notification.HappenedAt.UTC().Format(time.RFC3339),
		CreatedAt:  notification.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) AdminUpdateNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationId")
	var req NotificationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if req.Kind != nil {
		upper := strings.ToUpper(strings.TrimSpace(*req.Kind))
		req.Kind = &upper
	}
	updated, err := services.UpdateNotification(s.DB, id, services.NotificationUpdate{
		Kind:    req.Kind,
		Message: req.Message,
		Pulse:   req.Pulse,
	})
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, NotificationResponse{
		ID:         updated.ID,
		ElderID:    updated.ElderID,
		Kind:       updated.Kind,
		Message:    updated.Message,
		Pulse:      updated.Pulse,
		HappenedAt: updated.HappenedAt.Format(time.RFC3339),
		CreatedAt:  updated.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) AdminDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "notificationId")
	if err := services.DeleteNotification(s.DB, id); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

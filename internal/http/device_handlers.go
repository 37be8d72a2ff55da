package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
)

type LinkDeviceRequest struct {
	DeviceID  string  `json:"deviceId"`
	ElderName string  `json:"elderName"`
	BirthDate *string `json:"birthDate"`
	Address   *string `json:"address"`
}

type LinkDeviceResponse struct {
	DeviceID     string `json:"deviceId"`
	ElderID      string `json:"elderId"`
	ElderCreated bool   `json:"elderCreated"`
}

type ElderUpdateRequest struct {
	Name      *string `json:"name"`
	BirthDate *string `json:"birthDate"`
	Address   *string `json:"address"`
}

func (s *Server) LinkDevice(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req LinkDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	result, err := services.LinkDevice(s.DB, userID, services.LinkRequest{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		ElderName: strings.TrimSpace(req.ElderName),
		BirthDate: parseBirthDate(req.BirthDate),
		Address:   req.Address,
	})
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, LinkDeviceResponse{
		DeviceID:     result.DeviceID,
		ElderID:      result.ElderID,
		ElderCreated: result.ElderCreated,
	})
}

func (s *Server) UnlinkElder(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	elderID := chi.URLParam(r, "elderId")
	result, err := services.UnlinkElder(s.DB, userID, elderID)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	// The device row is gone, so stop tracking its liveness too.
	if result.DeviceDeleted {
		s.Tracker.Forget(result.DeviceID)
		s.Presence.Forget(result.DeviceID)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{
		"elderDeleted":  result.ElderDeleted,
		"deviceDeleted": result.DeviceDeleted,
	})
}

func (s *Server) UpdateElder(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	elderID := chi.URLParam(r, "elderId")
	var req ElderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	err := services.UpdateElder(s.DB, userID, elderID, services.ElderUpdate{
		Name:      req.Name,
		BirthDate: parseBirthDate(req.BirthDate),
		Address:   req.Address,
	})
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) MyElders(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	items, err := services.ListUserElders(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) SharedElders(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	items, err := services.ListEldersSharedWithUser(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) DeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceId")
	status, err := s.Dispatcher.ConnectionStatus(deviceID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

func (s *Server) FleetStatus(w http.ResponseWriter, r *http.Request) {
	items, err := s.Dispatcher.FleetStatus()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func parseBirthDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	value := strings.TrimSpace(*raw)
	if value == "" {
		return nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil
	}
	return &parsed
}

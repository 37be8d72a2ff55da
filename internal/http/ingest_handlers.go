package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/services"
)

// Payload shapes mirror the device firmware exactly, snake_case sensor
// fields included. Changing them breaks units already in the field.
type ConnectionCallbackRequest struct {
	DeviceID string `json:"deviceId"`
	UserID   string `json:"userId"`
	SSID     string `json:"ssid"`
	IP       string `json:"ip"`
	WifiRSSI *int   `json:"wifi_rssi"`
}

type SensorDataRequest struct {
	DeviceID   string   `json:"deviceId"`
	UserID     string   `json:"userId"`
	MaxBPM     *float64 `json:"max_bpm"`
	MaxAvgBPM  *float64 `json:"max_avg_bpm"`
	MaxIRValue *float64 `json:"max_ir_value"`
	Battery    *int     `json:"battery"`
	WifiRSSI   *int     `json:"wifi_rssi"`
	Timestamp  *string  `json:"timestamp"`
}

type AlertRequest struct {
	DeviceID  string  `json:"deviceId"`
	UserID    string  `json:"userId"`
	AlertType *string `json:"alert_type"`
	BPM       *int    `json:"bpm"`
	Message   *string `json:"message"`
	Timestamp *string `json:"timestamp"`
}

func (s *Server) DeviceConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		WriteError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	result, err := s.Dispatcher.HandleConnection(services.ConnectionCallback{
		DeviceID: strings.TrimSpace(req.DeviceID),
		UserID:   strings.TrimSpace(req.UserID),
		SSID:     req.SSID,
		IP:       req.IP,
		RSSI:     req.WifiRSSI,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) DeviceSensorData(w http.ResponseWriter, r *http.Request) {
	var req SensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		WriteError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	sample := services.VitalsSample{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		UserID:    strings.TrimSpace(req.UserID),
		Battery:   req.Battery,
		RSSI:      req.WifiRSSI,
		Timestamp: parseDeviceTimestamp(req.Timestamp),
	}
	if req.MaxBPM != nil {
		sample.BPM = *req.MaxBPM
	}
	if req.MaxAvgBPM != nil {
		sample.AvgBPM = *req.MaxAvgBPM
	}
	if req.MaxIRValue != nil {
		sample.IRValue = *req.MaxIRValue
	}
	result, err := s.Dispatcher.HandleVitals(sample)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) DeviceFallAlert(w http.ResponseWriter, r *http.Request) {
	s.deviceAlert(w, r, func(cb services.AlertCallback) (services.IngestResult, error) {
		return s.Dispatcher.HandleFallAlert(cb)
	})
}

func (s *Server) DevicePanicAlert(w http.ResponseWriter, r *http.Request) {
	s.deviceAlert(w, r, func(cb services.AlertCallback) (services.IngestResult, error) {
		return s.Dispatcher.HandlePanicAlert(cb)
	})
}

func (s *Server) deviceAlert(w http.ResponseWriter, r *http.Request, handle func(services.AlertCallback) (services.IngestResult, error)) {
	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		WriteError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	cb := services.AlertCallback{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		UserID:    strings.TrimSpace(req.UserID),
		BPM:       req.BPM,
		Timestamp: parseDeviceTimestamp(req.Timestamp),
	}
	if req.AlertType != nil {
		cb.AlertType = strings.ToUpper(strings.TrimSpace(*req.AlertType))
	}
	if req.Message != nil {
		cb.Message = strings.TrimSpace(*req.Message)
	}
	result, err := handle(cb)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// EmergencyWebhookRequest keeps the firmware's Spanish field names; the
// mensaje_adicional and tipo_alerta fields are legacy aliases older
// firmware builds still send.
type EmergencyWebhookRequest struct {
	DeviceID         string  `json:"deviceId"`
	UserID           string  `json:"userId"`
	Tipo             string  `json:"tipo"`
	TipoAlerta       *string `json:"tipo_alerta"`
	Mensaje          *string `json:"mensaje"`
	MensajeAdicional *string `json:"mensaje_adicional"`
	FechaHora        *string `json:"fecha_hora"`
	Ubicacion        *string `json:"ubicacion"`
}

// EmergencyWebhook receives confirmed EMERGENCIA/AYUDA alerts from the
// unit after the wearer failed to cancel the on-device countdown.
func (s *Server) EmergencyWebhook(w http.ResponseWriter, r *http.Request) {
	var req EmergencyWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if strings.TrimSpace(req.DeviceID) == "" {
		WriteError(w, http.StatusBadRequest, "deviceId is required")
		return
	}
	var kind string
	switch strings.ToUpper(strings.TrimSpace(req.Tipo)) {
	case "EMERGENCIA":
		kind = services.KindEmergency
	case "AYUDA":
		kind = services.KindHelp
	default:
		WriteError(w, http.StatusBadRequest, "tipo must be EMERGENCIA or AYUDA")
		return
	}
	message := ""
	if req.Mensaje != nil {
		message = *req.Mensaje
	} else if req.MensajeAdicional != nil {
		message = *req.MensajeAdicional
	}
	if req.Ubicacion != nil && *req.Ubicacion != "" {
		message = strings.TrimSpace(message + " @ " + *req.Ubicacion)
	}
	cb := services.AlertCallback{
		DeviceID:  strings.TrimSpace(req.DeviceID),
		UserID:    strings.TrimSpace(req.UserID),
		Message:   strings.TrimSpace(message),
		Timestamp: parseDeviceTimestamp(req.FechaHora),
	}
	if req.TipoAlerta != nil {
		cb.AlertType = *req.TipoAlerta
	}
	result, err := s.Dispatcher.HandleWebhookAlert(cb, kind)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// DeviceConnectionStatus is the poll the firmware and the linking screen
// use while waiting for a unit to announce itself.
func (s *Server) DeviceConnectionStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device"))
	if deviceID == "" {
		WriteError(w, http.StatusBadRequest, "device is required")
		return
	}
	status, err := s.Dispatcher.ConnectionStatus(deviceID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// parseDeviceTimestamp tolerates the unit's clock being unset: a missing or
// unparseable timestamp falls back to server time.
func parseDeviceTimestamp(raw *string) time.Time {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return time.Now().UTC()
	}
	value := strings.TrimSpace(*raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}

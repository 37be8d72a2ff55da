package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cautela-backend-go/internal/config"
	"cautela-backend-go/internal/services"
)

func setupTestServer(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{
		JWTSecret:               "test-secret",
		JWTIssuer:               "cautela-test",
		AccessTTLSeconds:        3600,
		RefreshTTLSeconds:       7200,
		RememberTTLSeconds:      14400,
		HeartbeatTimeoutSeconds: 10,
	}
	bus := services.NewEventBus()
	presence := services.NewConnectionCache()
	tracker := services.NewHeartbeatTracker(10*time.Second, nil)
	dispatcher := services.NewDispatcher(db, bus, tracker, presence)
	tracker.SetExpireFunc(dispatcher.HandleDeviceTimeout)
	return NewServer(db, cfg, bus, tracker, presence, dispatcher), mock
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSensorDataMissingDeviceID(t *testing.T) {
	server, _ := setupTestServer(t)
	router := server.Router()

	rec := postJSON(t, router, "/api/esp32/sensor-data", `{"max_bpm": 80}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSensorDataUnlinkedDeviceAcknowledgedAndDropped(t *testing.T) {
	server, mock := setupTestServer(t)
	router := server.Router()

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-404", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := postJSON(t, router, "/api/esp32/sensor-data", `{"deviceId":"CA-404","max_bpm":80,"max_avg_bpm":78,"max_ir_value":51234}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "device not linked", result.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPanicAlertDeliversToSubscribedOwner(t *testing.T) {
	server, mock := setupTestServer(t)
	router := server.Router()

	sub := server.Bus.Subscribe("alice", nil)
	defer sub.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "birth_date", "address", "device_id", "created_at", "updated_at"}).
			AddRow("elder-1", "Maria", nil, nil, "CA-001", now, now))
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id\s+FROM elder_links`).
		WithArgs("elder-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice"))
	mock.ExpectQuery(`SELECT DISTINCT sgm\.user_id`).
		WithArgs("elder-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	rec := postJSON(t, router, "/api/esp32/panic-alert", `{"deviceId":"CA-001","bpm":112,"message":"BOTON_PANICO"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sub.C, 1)
	event := <-sub.C
	assert.Equal(t, services.TopicNotification, event.Topic)
	alert := event.Payload.(services.AlertEvent)
	assert.Equal(t, services.KindPanic, alert.Kind)
	assert.Equal(t, "BOTON_PANICO", alert.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionCallbackCachesPresence(t *testing.T) {
	server, mock := setupTestServer(t)
	router := server.Router()

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-002", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := postJSON(t, router, "/api/esp32/connection", `{"deviceId":"CA-002","ssid":"home","ip":"10.0.0.7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	presence, ok := server.Presence.Get("CA-002")
	require.True(t, ok)
	assert.Equal(t, "home", presence.SSID)
}

func TestEmergencyWebhookMapsFirmwareKinds(t *testing.T) {
	server, mock := setupTestServer(t)
	router := server.Router()

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "birth_date", "address", "device_id", "created_at", "updated_at"}).
			AddRow("elder-1", "Maria", nil, nil, "CA-001", time.Now().UTC(), time.Now().UTC()))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), "elder-1", services.KindHelp, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id\s+FROM elder_links`).
		WithArgs("elder-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("alice"))
	mock.ExpectQuery(`SELECT DISTINCT sgm\.user_id`).
		WithArgs("elder-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	rec := postJSON(t, router, "/api/esp32/webhook", `{"deviceId":"CA-001","tipo":"AYUDA","mensaje":"necesito ayuda"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "ok", result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmergencyWebhookRejectsUnknownTipo(t *testing.T) {
	server, _ := setupTestServer(t)
	router := server.Router()

	rec := postJSON(t, router, "/api/esp32/webhook", `{"deviceId":"CA-001","tipo":"PANICO"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock, *capturingBus, *fakeScheduler) {
	t.Helper()
	db, mock := setupMockDB(t)
	bus := &capturingBus{}
	sched := newFakeScheduler()
	tracker := NewHeartbeatTracker(10*time.Second, sched)
	dispatcher := NewDispatcher(db, bus, tracker, NewConnectionCache())
	tracker.SetExpireFunc(dispatcher.HandleDeviceTimeout)
	return dispatcher, mock, bus, sched
}

func elderRows(pairs ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "birth_date", "address", "device_id", "created_at", "updated_at"})
	now := time.Now().UTC()
	for i := 0; i+1 < len(pairs); i += 2 {
		rows.AddRow(pairs[i], pairs[i+1], nil, nil, "CA-001", now, now)
	}
	return rows
}

func expectAudience(mock sqlmock.Sqlmock, elderID string, owners, members []string) {
	ownerRows := sqlmock.NewRows([]string{"user_id"})
	for _, id := range owners {
		ownerRows.AddRow(id)
	}
	memberRows := sqlmock.NewRows([]string{"user_id"})
	for _, id := range members {
		memberRows.AddRow(id)
	}
	mock.ExpectQuery(`SELECT user_id\s+FROM elder_links`).WithArgs(elderID).WillReturnRows(ownerRows)
	mock.ExpectQuery(`SELECT DISTINCT sgm\.user_id`).WithArgs(elderID).WillReturnRows(memberRows)
}

func TestHandleConnectionUnregisteredDevice(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := dispatcher.HandleConnection(ConnectionCallback{DeviceID: "CA-001", UserID: "alice", SSID: "home", IP: "10.0.0.7"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "not linked yet", result.Reason)
	assert.Empty(t, bus.published)

	// The announcement is cached even though no row exists yet, so the
	// linking UI can confirm the device is alive.
	presence, ok := dispatcher.Presence.Get("CA-001")
	require.True(t, ok)
	assert.Equal(t, "home", presence.SSID)
	assert.Equal(t, "alice", presence.UserID)
	assert.Equal(t, 0, dispatcher.Tracker.Pending())
}

func TestHandleConnectionRegisteredDevice(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := dispatcher.HandleConnection(ConnectionCallback{DeviceID: "CA-001", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Empty(t, result.Reason)
	assert.Equal(t, 1, dispatcher.Tracker.Pending())

	require.Len(t, bus.published, 1)
	assert.Equal(t, "alice", bus.published[0].UserID)
	assert.Equal(t, TopicConnection, bus.published[0].Topic)
	event := bus.published[0].Payload.(ConnectionEvent)
	assert.True(t, event.Online)
}

func TestHandleVitalsIgnoredForUnlinkedDevice(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-404", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := dispatcher.HandleVitals(VitalsSample{DeviceID: "CA-404", BPM: 80})
	require.NoError(t, err)
	assert.Equal(t, "ignored", result.Status)
	assert.Equal(t, "device not linked", result.Reason)
	assert.Empty(t, bus.published)
	assert.Equal(t, 0, dispatcher.Tracker.Pending())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleVitalsFansOutOwnersThenMembers(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	battery := 84
	mock.ExpectExec(`UPDATE devices SET battery`).
		WithArgs("CA-001", battery).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, birth_date, address, device_id, created_at, updated_at\s+FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(elderRows("elder-1", "Maria"))
	expectAudience(mock, "elder-1", []string{"alice", "bob"}, []string{"bob", "carol"})

	result, err := dispatcher.HandleVitals(VitalsSample{DeviceID: "CA-001", BPM: 78, AvgBPM: 75, Battery: &battery})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)

	// bob appears once: owner delivery wins over group membership.
	assert.Equal(t, []string{"alice", "bob", "carol"}, bus.usersFor(TopicVitals))
	event := bus.published[0].Payload.(VitalsEvent)
	assert.Equal(t, "elder-1", event.ElderID)
	assert.Equal(t, 78.0, event.BPM)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlePanicAlertPersistsAndFansOut(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, birth_date, address, device_id, created_at, updated_at\s+FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(elderRows("elder-1", "Maria"))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), "elder-1", KindPanic, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudience(mock, "elder-1", []string{"alice"}, nil)

	bpm := 112
	result, err := dispatcher.HandlePanicAlert(AlertCallback{DeviceID: "CA-001", BPM: &bpm})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)

	require.Len(t, bus.published, 1)
	assert.Equal(t, "alice", bus.published[0].UserID)
	assert.Equal(t, TopicNotification, bus.published[0].Topic)
	event := bus.published[0].Payload.(AlertEvent)
	assert.Equal(t, KindPanic, event.Kind)
	assert.Equal(t, "Panic button pressed", event.Message)
	assert.NotEmpty(t, event.NotificationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleFallAlertIgnoredForUnknownDevice(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-404", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := dispatcher.HandleFallAlert(AlertCallback{DeviceID: "CA-404"})
	require.NoError(t, err)
	assert.Equal(t, "ignored", result.Status)
	assert.Empty(t, bus.published)
	// No INSERT INTO notifications was expected; a write would fail here.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleAlertDegradedModeWithoutElder(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, birth_date, address, device_id, created_at, updated_at\s+FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(elderRows())

	result, err := dispatcher.HandleFallAlert(AlertCallback{DeviceID: "CA-001", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, "no elder linked", result.Reason)

	// Best-effort direct delivery, nothing persisted.
	require.Len(t, bus.published, 1)
	assert.Equal(t, "alice", bus.published[0].UserID)
	event := bus.published[0].Payload.(AlertEvent)
	assert.Empty(t, event.NotificationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeviceTimeoutMarksOfflineAndNotifies(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM devices`).
		WithArgs("CA-001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE devices SET online = FALSE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, birth_date, address, device_id, created_at, updated_at\s+FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(elderRows("elder-1", "Maria"))
	expectAudience(mock, "elder-1", []string{"alice"}, []string{"carol"})

	dispatcher.HandleDeviceTimeout("CA-001")

	assert.Equal(t, []string{"alice", "carol"}, bus.usersFor(TopicConnection))
	event := bus.published[0].Payload.(ConnectionEvent)
	assert.False(t, event.Online)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDeviceTimeoutUnknownDeviceIsSilent(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM devices`).
		WithArgs("CA-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	dispatcher.HandleDeviceTimeout("CA-404")
	assert.Empty(t, bus.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionStatusPrefersMemory(t *testing.T) {
	dispatcher, _, _, _ := setupDispatcher(t)

	dispatcher.Presence.Set(DevicePresence{DeviceID: "CA-001", SSID: "home", IP: "10.0.0.7", AnnouncedAt: time.Now().UTC()})

	status, err := dispatcher.ConnectionStatus("CA-001")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "memory", status.Source)
	assert.Equal(t, "home", status.SSID)
}

func TestConnectionStatusFallsBackToDatabase(t *testing.T) {
	dispatcher, mock, _, _ := setupDispatcher(t)

	lastSeen := time.Now().UTC().Add(-time.Minute)
	mock.ExpectQuery(`SELECT id, online, last_seen, battery, created_at, updated_at\s+FROM devices`).
		WithArgs("CA-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "online", "last_seen", "battery", "created_at", "updated_at"}).
			AddRow("CA-001", true, lastSeen, 90, time.Now().UTC(), time.Now().UTC()))

	status, err := dispatcher.ConnectionStatus("CA-001")
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.Equal(t, "database", status.Source)
}

func TestConnectionStatusUnknownDevice(t *testing.T) {
	dispatcher, mock, _, _ := setupDispatcher(t)

	mock.ExpectQuery(`SELECT id, online, last_seen, battery, created_at, updated_at\s+FROM devices`).
		WithArgs("CA-404").
		WillReturnRows(sqlmock.NewRows([]string{"id", "online", "last_seen", "battery", "created_at", "updated_at"}))

	status, err := dispatcher.ConnectionStatus("CA-404")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, "CA-404", status.DeviceID)
}

func TestFleetStatusMergesPresenceCache(t *testing.T) {
	dispatcher, mock, _, _ := setupDispatcher(t)

	lastSeen := time.Now().UTC().Add(-time.Hour)
	mock.ExpectQuery(`SELECT d\.id, d\.online, d\.last_seen`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "online", "last_seen", "elder_name"}).
			AddRow("CA-001", false, lastSeen, "Maria").
			AddRow("CA-002", true, lastSeen, nil))

	// CA-001 announced itself after its row went stale; memory wins.
	dispatcher.Presence.Set(DevicePresence{DeviceID: "CA-001", SSID: "home", AnnouncedAt: time.Now().UTC()})

	fleet, err := dispatcher.FleetStatus()
	require.NoError(t, err)
	require.Len(t, fleet, 2)

	assert.True(t, fleet[0].Connected)
	assert.Equal(t, "memory", fleet[0].Source)
	require.NotNil(t, fleet[0].ElderName)
	assert.Equal(t, "Maria", *fleet[0].ElderName)

	assert.True(t, fleet[1].Connected)
	assert.Equal(t, "database", fleet[1].Source)
	assert.Nil(t, fleet[1].ElderName)
}

func TestHandleWebhookAlertEmergencyPersistsAndFansOut(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	mock.ExpectExec(`UPDATE devices SET online = TRUE`).
		WithArgs("CA-001", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, name, birth_date, address, device_id, created_at, updated_at\s+FROM elders`).
		WithArgs("CA-001").
		WillReturnRows(elderRows("elder-1", "Maria"))
	mock.ExpectExec(`INSERT INTO notifications`).
		WithArgs(sqlmock.AnyArg(), "elder-1", KindEmergency, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudience(mock, "elder-1", []string{"alice"}, nil)

	result, err := dispatcher.HandleWebhookAlert(AlertCallback{DeviceID: "CA-001"}, KindEmergency)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)

	require.Len(t, bus.published, 1)
	event := bus.published[0].Payload.(AlertEvent)
	assert.Equal(t, KindEmergency, event.Kind)
	assert.Equal(t, "Emergency confirmed", event.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleWebhookAlertRejectsUnknownKind(t *testing.T) {
	dispatcher, mock, bus, _ := setupDispatcher(t)

	_, err := dispatcher.HandleWebhookAlert(AlertCallback{DeviceID: "CA-001"}, KindPanic)
	require.Error(t, err)
	serr, ok := err.(ServiceError)
	require.True(t, ok)
	assert.Equal(t, 400, serr.Status)
	assert.Empty(t, bus.published)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
)

// Notification kinds. Fall and panic come from the device sensors,
// emergency and help from the confirmed-alert webhook, custom from the
// generic create endpoint.
const (
	KindEmergency = "EMERGENCY"
	KindHelp      = "HELP"
	KindFall      = "FALL"
	KindPanic     = "PANIC"
	KindCustom    = "CUSTOM"
)

// Dispatcher handles the unauthenticated device callbacks: connection
// announcements, periodic vitals samples and the two alert types. Every
// path validates that the device is registered, keeps the heartbeat alive
// and fans events out to the elder's audience, owners first.
type Dispatcher struct {
	DB       *sqlx.DB
	Bus      EventPublisher
	Tracker  *HeartbeatTracker
	Presence *ConnectionCache
}

func NewDispatcher(db *sqlx.DB, bus EventPublisher, tracker *HeartbeatTracker, presence *ConnectionCache) *Dispatcher {
	return &Dispatcher{DB: db, Bus: bus, Tracker: tracker, Presence: presence}
}

type ConnectionCallback struct {
	DeviceID string
	UserID   string
	SSID     string
	IP       string
	RSSI     *int
}

type VitalsSample struct {
	DeviceID  string
	UserID    string
	BPM       float64
	AvgBPM    float64
	IRValue   float64
	Battery   *int
	RSSI      *int
	Timestamp time.Time
}

type AlertCallback struct {
	DeviceID  string
	UserID    string
	AlertType string
	Message   string
	BPM       *int
	Timestamp time.Time
}

// IngestResult is success-shaped even for rejected traffic: devices cannot
// act on HTTP error codes, so unlinked-device data is acknowledged and
// dropped with Status "ignored".
type IngestResult struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	DeviceID string `json:"deviceId"`
}

const (
	ingestOK      = "ok"
	ingestIgnored = "ignored"
)

type ConnectionEvent struct {
	DeviceID  string    `json:"deviceId"`
	Online    bool      `json:"online"`
	SSID      string    `json:"ssid,omitempty"`
	IP        string    `json:"ip,omitempty"`
	RSSI      *int      `json:"rssi,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type VitalsEvent struct {
	DeviceID  string    `json:"deviceId"`
	ElderID   string    `json:"elderId"`
	ElderName string    `json:"elderName"`
	BPM       float64   `json:"bpm"`
	AvgBPM    float64   `json:"avgBpm"`
	IRValue   float64   `json:"irValue"`
	Timestamp time.Time `json:"timestamp"`
}

type AlertEvent struct {
	NotificationID string    `json:"notificationId,omitempty"`
	DeviceID       string    `json:"deviceId"`
	ElderID        string    `json:"elderId,omitempty"`
	ElderName      string    `json:"elderName,omitempty"`
	Kind           string    `json:"kind"`
	Message        string    `json:"message,omitempty"`
	Pulse          *int      `json:"pulse,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// HandleConnection always refreshes the in-memory cache. A device that was
// never linked gets no database row here: creation waits for the explicit
// link call that carries elder metadata.
func (d *Dispatcher) HandleConnection(cb ConnectionCallback) (IngestResult, error) {
	now := time.Now().UTC()
	d.Presence.Set(DevicePresence{
		DeviceID:    cb.DeviceID,
		SSID:        cb.SSID,
		IP:          cb.IP,
		RSSI:        cb.RSSI,
		UserID:      cb.UserID,
		AnnouncedAt: now,
	})

	registered, err := d.markSeen(cb.DeviceID, now)
	if err != nil {
		return IngestResult{}, err
	}
	if !registered {
		return IngestResult{Status: ingestOK, Reason: "not linked yet", DeviceID: cb.DeviceID}, nil
	}

	d.Tracker.Touch(cb.DeviceID)
	if cb.UserID != "" {
		d.Bus.Publish(cb.UserID, TopicConnection, ConnectionEvent{
			DeviceID:  cb.DeviceID,
			Online:    true,
			SSID:      cb.SSID,
			IP:        cb.IP,
			RSSI:      cb.RSSI,
			Timestamp: now,
		})
	}
	return IngestResult{Status: ingestOK, DeviceID: cb.DeviceID}, nil
}

// HandleVitals streams a live sample to the audience of every elder on the
// device. Samples are ephemeral: nothing is persisted beyond the liveness
// columns, and samples for unlinked devices are dropped, never buffered.
func (d *Dispatcher) HandleVitals(sample VitalsSample) (IngestResult, error) {
	now := time.Now().UTC()
	registered, err := d.markSeen(sample.DeviceID, now)
	if err != nil {
		return IngestResult{}, err
	}
	if !registered {
		return IngestResult{Status: ingestIgnored, Reason: "device not linked", DeviceID: sample.DeviceID}, nil
	}
	d.Tracker.Touch(sample.DeviceID)
	if sample.Battery != nil {
		_, _ = d.DB.Exec(`UPDATE devices SET battery = $2 WHERE id = $1`, sample.DeviceID, *sample.Battery)
	}

	elders, err := EldersForDevice(d.DB, sample.DeviceID)
	if err != nil {
		return IngestResult{}, err
	}
	timestamp := sample.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}
	for _, elder := range elders {
		audience, err := ResolveAudience(d.DB, elder.ID)
		if err != nil {
			return IngestResult{}, err
		}
		event := VitalsEvent{
			DeviceID:  sample.DeviceID,
			ElderID:   elder.ID,
			ElderName: elder.Name,
			BPM:       sample.BPM,
			AvgBPM:    sample.AvgBPM,
			IRValue:   sample.IRValue,
			Timestamp: timestamp,
		}
		d.fanOut(audience, TopicVitals, event)
	}
	return IngestResult{Status: ingestOK, DeviceID: sample.DeviceID}, nil
}

func (d *Dispatcher) HandleFallAlert(cb AlertCallback) (IngestResult, error) {
	return d.handleAlert(cb, KindFall, "Fall detected")
}

func (d *Dispatcher) HandlePanicAlert(cb AlertCallback) (IngestResult, error) {
	return d.handleAlert(cb, KindPanic, "Panic button pressed")
}

// HandleWebhookAlert ingests the confirmed-emergency webhook the firmware
// fires after on-device confirmation. It is a durable alert path like fall
// and panic, just with its own kind vocabulary.
func (d *Dispatcher) HandleWebhookAlert(cb AlertCallback, kind string) (IngestResult, error) {
	switch kind {
	case KindEmergency:
		return d.handleAlert(cb, KindEmergency, "Emergency confirmed")
	case KindHelp:
		return d.handleAlert(cb, KindHelp, "Help requested")
	default:
		return IngestResult{}, ErrBadRequest("Unknown alert kind")
	}
}

func (d *Dispatcher) handleAlert(cb AlertCallback, kind, defaultMessage string) (IngestResult, error) {
	now := time.Now().UTC()
	registered, err := d.markSeen(cb.DeviceID, now)
	if err != nil {
		return IngestResult{}, err
	}
	if !registered {
		return IngestResult{Status: ingestIgnored, Reason: "device not linked", DeviceID: cb.DeviceID}, nil
	}
	d.Tracker.Touch(cb.DeviceID)

	message := cb.Message
	if message == "" {
		message = defaultMessage
	}
	timestamp := cb.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	elders, err := EldersForDevice(d.DB, cb.DeviceID)
	if err != nil {
		return IngestResult{}, err
	}
	if len(elders) == 0 {
		// Linking race: the device row exists but no elder does yet. If the
		// unit told us who it belongs to, deliver a best-effort direct alert
		// without persisting.
		if cb.UserID != "" {
			d.Bus.Publish(cb.UserID, TopicNotification, AlertEvent{
				DeviceID:  cb.DeviceID,
				Kind:      kind,
				Message:   message,
				Pulse:     cb.BPM,
				Timestamp: timestamp,
			})
		}
		return IngestResult{Status: ingestOK, Reason: "no elder linked", DeviceID: cb.DeviceID}, nil
	}

	for _, elder := range elders {
		notificationID, err := CreateNotification(d.DB, elder.ID, kind, &message, cb.BPM, timestamp)
		if err != nil {
			return IngestResult{}, err
		}
		audience, err := ResolveAudience(d.DB, elder.ID)
		if err != nil {
			return IngestResult{}, err
		}
		event := AlertEvent{
			NotificationID: notificationID,
			DeviceID:       cb.DeviceID,
			ElderID:        elder.ID,
			ElderName:      elder.Name,
			Kind:           kind,
			Message:        message,
			Pulse:          cb.BPM,
			Timestamp:      timestamp,
		}
		d.fanOut(audience, TopicNotification, event)
	}
	return IngestResult{Status: ingestOK, DeviceID: cb.DeviceID}, nil
}

type ConnectionStatus struct {
	DeviceID  string     `json:"deviceId"`
	Connected bool       `json:"connected"`
	Source    string     `json:"source,omitempty"`
	SSID      string     `json:"ssid,omitempty"`
	IP        string     `json:"ip,omitempty"`
	RSSI      *int       `json:"rssi,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// ConnectionStatus answers the UI poll used during linking. The in-memory
// cache wins because a just-announced device has no database row yet;
// absence everywhere means "not connected yet", not an error.
func (d *Dispatcher) ConnectionStatus(deviceID string) (ConnectionStatus, error) {
	if presence, ok := d.Presence.Get(deviceID); ok {
		announced := presence.AnnouncedAt
		return ConnectionStatus{
			DeviceID:  deviceID,
			Connected: true,
			Source:    "memory",
			SSID:      presence.SSID,
			IP:        presence.IP,
			RSSI:      presence.RSSI,
			LastSeen:  &announced,
		}, nil
	}
	device, err := GetDevice(d.DB, deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return ConnectionStatus{DeviceID: deviceID, Connected: false}, nil
		}
		return ConnectionStatus{}, err
	}
	return ConnectionStatus{
		DeviceID:  deviceID,
		Connected: device.Online,
		Source:    "database",
		LastSeen:  device.LastSeen,
	}, nil
}

type FleetDevice struct {
	DeviceID  string     `json:"deviceId"`
	Connected bool       `json:"connected"`
	Source    string     `json:"source,omitempty"`
	ElderName *string    `json:"elderName,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// FleetStatus lists every registered device with its liveness, for the
// admin fleet view. Devices present in the connection cache report from
// memory even when their row says offline.
func (d *Dispatcher) FleetStatus() ([]FleetDevice, error) {
	rows := []struct {
		ID        string     `db:"id"`
		Online    bool       `db:"online"`
		LastSeen  *time.Time `db:"last_seen"`
		ElderName *string    `db:"elder_name"`
	}{}
	err := d.DB.Select(&rows, `
SELECT d.id, d.online, d.last_seen,
       (SELECT e.name FROM elders e WHERE e.device_id = d.id LIMIT 1) AS elder_name
FROM devices d
ORDER BY d.id
`)
	if err != nil {
		return nil, err
	}
	fleet := make([]FleetDevice, 0, len(rows))
	for _, row := range rows {
		item := FleetDevice{
			DeviceID:  row.ID,
			Connected: row.Online,
			Source:    "database",
			ElderName: row.ElderName,
			LastSeen:  row.LastSeen,
		}
		if presence, ok := d.Presence.Get(row.ID); ok {
			announced := presence.AnnouncedAt
			item.Connected = true
			item.Source = "memory"
			item.LastSeen = &announced
		}
		fleet = append(fleet, item)
	}
	return fleet, nil
}

// HandleDeviceTimeout runs when a device has been silent past the
// heartbeat timeout. It only ever runs off the expiry timer; persistence
// failures are logged and swallowed because there is no caller to report
// to, and the heartbeat entry is already gone so a bad write cannot cause
// a retry storm.
func (d *Dispatcher) HandleDeviceTimeout(deviceID string) {
	now := time.Now().UTC()
	var exists bool
	if err := d.DB.Get(&exists, `SELECT EXISTS(SELECT 1 FROM devices WHERE id = $1)`, deviceID); err != nil {
		log.Printf("heartbeat expiry %s: lookup: %v", deviceID, err)
		return
	}
	if !exists {
		return
	}
	if _, err := d.DB.Exec(`
UPDATE devices SET online = FALSE, last_seen = $2, updated_at = $2 WHERE id = $1
`, deviceID, now); err != nil {
		log.Printf("heartbeat expiry %s: persist offline: %v", deviceID, err)
	}

	elders, err := EldersForDevice(d.DB, deviceID)
	if err != nil {
		log.Printf("heartbeat expiry %s: elders: %v", deviceID, err)
		return
	}
	event := ConnectionEvent{DeviceID: deviceID, Online: false, Timestamp: now}
	for _, elder := range elders {
		audience, err := ResolveAudience(d.DB, elder.ID)
		if err != nil {
			log.Printf("heartbeat expiry %s: audience for elder %s: %v", deviceID, elder.ID, err)
			continue
		}
		d.fanOut(audience, TopicConnection, event)
	}
}

// markSeen flips the liveness columns for a registered device and reports
// whether a row existed at all.
func (d *Dispatcher) markSeen(deviceID string, now time.Time) (bool, error) {
	result, err := d.DB.Exec(`
UPDATE devices SET online = TRUE, last_seen = $2, updated_at = $2 WHERE id = $1
`, deviceID, now)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (d *Dispatcher) fanOut(audience Audience, topic string, payload interface{}) {
	for _, userID := range audience.Owners {
		d.Bus.Publish(userID, topic, payload)
	}
	for _, userID := range audience.Members {
		d.Bus.Publish(userID, topic, payload)
	}
}

package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cautela-backend-go/internal/models"
)

type LinkRequest struct {
	DeviceID  string
	ElderName string
	BirthDate *time.Time
	Address   *string
}

type LinkResult struct {
	DeviceID     string
	ElderID      string
	ElderCreated bool
}

// LinkDevice is the only path that creates a durable device row. It is an
// idempotent upsert: device by external id, elder by device, then the
// ownership link. Calling it twice for the same user and device updates
// rather than duplicates.
func LinkDevice(db *sqlx.DB, userID string, req LinkRequest) (LinkResult, error) {
	if req.DeviceID == "" {
		return LinkResult{}, ErrBadRequest("Device id is required")
	}
	tx, err := db.Beginx()
	if err != nil {
		return LinkResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.Exec(`
INSERT INTO devices (id, online, created_at, updated_at)
VALUES ($1, FALSE, $2, $2)
ON CONFLICT (id) DO NOTHING
`, req.DeviceID, now); err != nil {
		return LinkResult{}, err
	}

	var elderID string
	created := false
	err = tx.Get(&elderID, `
SELECT id FROM elders WHERE device_id = $1 ORDER BY created_at LIMIT 1
`, req.DeviceID)
	switch {
	case err != nil && err != sql.ErrNoRows:
		return LinkResult{}, err
	case err == nil:
		if _, err := tx.Exec(`
UPDATE elders
SET name = COALESCE(NULLIF($2, ''), name),
    birth_date = COALESCE($3, birth_date),
    address = COALESCE($4, address),
    updated_at = $5
WHERE id = $1
`, elderID, req.ElderName, req.BirthDate, req.Address, now); err != nil {
			return LinkResult{}, err
		}
	default:
		if req.ElderName == "" {
			return LinkResult{}, ErrBadRequest("Elder name is required")
		}
		elderID = uuid.NewString()
		created = true
		if _, err := tx.Exec(`
INSERT INTO elders (id, name, birth_date, address, device_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
`, elderID, req.ElderName, req.BirthDate, req.Address, req.DeviceID, now); err != nil {
			return LinkResult{}, err
		}
	}

	if _, err := tx.Exec(`
INSERT INTO elder_links (id, user_id, elder_id, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, elder_id) DO NOTHING
`, uuid.NewString(), userID, elderID, now); err != nil {
		return LinkResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return LinkResult{}, err
	}
	return LinkResult{DeviceID: req.DeviceID, ElderID: elderID, ElderCreated: created}, nil
}

type UnlinkResult struct {
	ElderDeleted  bool
	DeviceDeleted bool
	DeviceID      string
}

// UnlinkElder removes the caller's monitoring link. Cascade order matters:
// link first, then the elder once no links remain, then the device once no
// elder references it.
func UnlinkElder(db *sqlx.DB, userID, elderID string) (UnlinkResult, error) {
	tx, err := db.Beginx()
	if err != nil {
		return UnlinkResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	elder := struct {
		ID       string  `db:"id"`
		DeviceID *string `db:"device_id"`
	}{}
	if err := tx.Get(&elder, `SELECT id, device_id FROM elders WHERE id = $1`, elderID); err != nil {
		if err == sql.ErrNoRows {
			return UnlinkResult{}, ErrNotFound("Elder not found")
		}
		return UnlinkResult{}, err
	}
	var owns bool
	if err := tx.Get(&owns, `
SELECT EXISTS(SELECT 1 FROM elder_links WHERE user_id = $1 AND elder_id = $2)
`, userID, elderID); err != nil {
		return UnlinkResult{}, err
	}
	if !owns {
		return UnlinkResult{}, ErrForbidden("You are not monitoring this elder")
	}
	if _, err := tx.Exec(`DELETE FROM elder_links WHERE user_id = $1 AND elder_id = $2`, userID, elderID); err != nil {
		return UnlinkResult{}, err
	}

	result := UnlinkResult{}
	var remaining int
	if err := tx.Get(&remaining, `SELECT count(*) FROM elder_links WHERE elder_id = $1`, elderID); err != nil {
		return UnlinkResult{}, err
	}
	if remaining == 0 {
		if _, err := tx.Exec(`DELETE FROM elders WHERE id = $1`, elderID); err != nil {
			return UnlinkResult{}, err
		}
		result.ElderDeleted = true
		if elder.DeviceID != nil {
			var dependents int
			if err := tx.Get(&dependents, `SELECT count(*) FROM elders WHERE device_id = $1`, *elder.DeviceID); err != nil {
				return UnlinkResult{}, err
			}
			if dependents == 0 {
				if _, err := tx.Exec(`DELETE FROM devices WHERE id = $1`, *elder.DeviceID); err != nil {
					return UnlinkResult{}, err
				}
				result.DeviceDeleted = true
				result.DeviceID = *elder.DeviceID
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return UnlinkResult{}, err
	}
	return result, nil
}

type ElderUpdate struct {
	Name      *string
	BirthDate *time.Time
	Address   *string
}

func UpdateElder(db *sqlx.DB, userID, elderID string, update ElderUpdate) error {
	var owns bool
	if err := db.Get(&owns, `
SELECT EXISTS(SELECT 1 FROM elder_links WHERE user_id = $1 AND elder_id = $2)
`, userID, elderID); err != nil {
		return err
	}
	if !owns {
		var exists bool
		if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM elders WHERE id = $1)`, elderID); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound("Elder not found")
		}
		return ErrForbidden("You are not monitoring this elder")
	}
	_, err := db.Exec(`
UPDATE elders
SET name = COALESCE($2, name),
    birth_date = COALESCE($3, birth_date),
    address = COALESCE($4, address),
    updated_at = $5
WHERE id = $1
`, elderID, update.Name, update.BirthDate, update.Address, time.Now().UTC())
	return err
}

type MonitoredElder struct {
	ElderID   string     `db:"elder_id" json:"elderId"`
	Name      string     `db:"name" json:"name"`
	BirthDate *time.Time `db:"birth_date" json:"birthDate,omitempty"`
	Address   *string    `db:"address" json:"address,omitempty"`
	DeviceID  *string    `db:"device_id" json:"deviceId,omitempty"`
	Online    *bool      `db:"online" json:"online,omitempty"`
	LastSeen  *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
	Battery   *int       `db:"battery" json:"battery,omitempty"`
}

func ListUserElders(db *sqlx.DB, userID string) ([]MonitoredElder, error) {
	items := []MonitoredElder{}
	err := db.Select(&items, `
SELECT e.id AS elder_id, e.name, e.birth_date, e.address, e.device_id,
       d.online, d.last_seen, d.battery
FROM elder_links el
JOIN elders e ON e.id = el.elder_id
LEFT JOIN devices d ON d.id = e.device_id
WHERE el.user_id = $1
ORDER BY e.created_at
`, userID)
	return items, err
}

func EldersForDevice(db *sqlx.DB, deviceID string) ([]models.Elder, error) {
	elders := []models.Elder{}
	err := db.Select(&elders, `
SELECT id, name, birth_date, address, device_id, created_at, updated_at
FROM elders
WHERE device_id = $1
ORDER BY created_at
`, deviceID)
	return elders, err
}

func GetDevice(db *sqlx.DB, deviceID string) (*models.Device, error) {
	device := models.Device{}
	if err := db.Get(&device, `
SELECT id, online, last_seen, battery, created_at, updated_at
FROM devices
WHERE id = $1
`, deviceID); err != nil {
		return nil, err
	}
	return &device, nil
}

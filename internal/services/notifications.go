package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cautela-backend-go/internal/models"
)

func CreateNotification(db *sqlx.DB, elderID, kind string, message *string, pulse *int, happenedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
INSERT INTO notifications (id, elder_id, kind, message, pulse, happened_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, id, elderID, kind, message, pulse, happenedAt.UTC(), time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

type NotificationInfo struct {
	ID         string    `db:"id" json:"id"`
	ElderID    string    `db:"elder_id" json:"elderId"`
	ElderName  string    `db:"elder_name" json:"elderName"`
	Kind       string    `db:"kind" json:"kind"`
	Message    *string   `db:"message" json:"message,omitempty"`
	Pulse      *int      `db:"pulse" json:"pulse,omitempty"`
	HappenedAt time.Time `db:"happened_at" json:"happenedAt"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// ListUserNotifications returns notifications for every elder the user can
// see, whether through a direct link or through a shared group.
func ListUserNotifications(db *sqlx.DB, userID string, limit int) ([]NotificationInfo, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items := []NotificationInfo{}
	err := db.Select(&items, `
SELECT n.id, n.elder_id, e.name AS elder_name, n.kind, n.message, n.pulse, n.happened_at, n.created_at
FROM notifications n
JOIN elders e ON e.id = n.elder_id
WHERE n.elder_id IN (
    SELECT elder_id FROM elder_links WHERE user_id = $1
    UNION
    SELECT sge.elder_id
    FROM shared_group_members sgm
    JOIN shared_group_elders sge ON sge.group_id = sgm.group_id
    WHERE sgm.user_id = $1
)
ORDER BY n.happened_at DESC
LIMIT $2
`, userID, limit)
	return items, err
}

// CanSeeElder reports whether the elder is visible to the user, either as
// an owner or through group sharing.
func CanSeeElder(db *sqlx.DB, userID, elderID string) (bool, error) {
	var visible bool
	err := db.Get(&visible, `
SELECT EXISTS(
    SELECT 1 FROM elder_links WHERE user_id = $1 AND elder_id = $2
    UNION
    SELECT 1
    FROM shared_group_members sgm
    JOIN shared_group_elders sge ON sge.group_id = sgm.group_id
    WHERE sgm.user_id = $1 AND sge.elder_id = $2
)
`, userID, elderID)
	return visible, err
}

func ListElderNotifications(db *sqlx.DB, userID, elderID string, limit int) ([]NotificationInfo, error) {
	var exists bool
	if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM elders WHERE id = $1)`, elderID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound("Elder not found")
	}
	visible, err := CanSeeElder(db, userID, elderID)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, ErrForbidden("You cannot view this elder's notifications")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	items := []NotificationInfo{}
	err = db.Select(&items, `
SELECT n.id, n.elder_id, e.name AS elder_name, n.kind, n.message, n.pulse, n.happened_at, n.created_at
FROM notifications n
JOIN elders e ON e.id = n.elder_id
WHERE n.elder_id = $1
ORDER BY n.happened_at DESC
LIMIT $2
`, elderID, limit)
	return items, err
}

func GetNotification(db *sqlx.DB, id string) (models.Notification, error) {
	n := models.Notification{}
	err := db.Get(&n, `
SELECT id, elder_id, kind, message, pulse, happened_at, created_at
FROM notifications WHERE id = $1
`, id)
	if err == sql.ErrNoRows {
		return models.Notification{}, ErrNotFound("Notification not found")
	}
	return n, err
}

type NotificationUpdate struct {
	Kind    *string
	Message *string
	Pulse   *int
}

func UpdateNotification(db *sqlx.DB, id string, update NotificationUpdate) (models.Notification, error) {
	if _, err := GetNotification(db, id); err != nil {
		return models.Notification{}, err
	}
	_, err := db.Exec(`
UPDATE notifications SET
    kind = COALESCE($2, kind),
    message = COALESCE($3, message),
    pulse = COALESCE($4, pulse)
WHERE id = $1
`, id, update.Kind, update.Message, update.Pulse)
	if err != nil {
		return models.Notification{}, err
	}
	return GetNotification(db, id)
}

func DeleteNotification(db *sqlx.DB, id string) error {
	result, err := db.Exec(`DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound("Notification not found")
	}
	return nil
}

package services

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	RoleAdmin     = "ADMIN"
	RoleCaregiver = "CAREGIVER"
)

var roleCodes = []string{RoleAdmin, RoleCaregiver}

func EnsureRoles(db *sqlx.DB) error {
	for _, code := range roleCodes {
		var exists bool
		if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM roles WHERE code = $1)`, code); err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.Exec(`INSERT INTO roles (id, code) VALUES ($1,$2)`, uuid.NewString(), code); err != nil {
			return err
		}
	}
	return nil
}

func AssignRole(db *sqlx.DB, userID, code string) error {
	var roleID string
	if err := db.Get(&roleID, `SELECT id FROM roles WHERE code = $1`, code); err != nil {
		return err
	}
	_, err := db.Exec(`
INSERT INTO user_roles (id, user_id, role_id, assigned_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (user_id, role_id) DO NOTHING
`, uuid.NewString(), userID, roleID, time.Now().UTC())
	return err
}

func RemoveRole(db *sqlx.DB, userID, code string) error {
	_, err := db.Exec(`
DELETE FROM user_roles
WHERE user_id = $1 AND role_id = (SELECT id FROM roles WHERE code = $2)
`, userID, code)
	return err
}

// EnsureAdminUser bootstraps the operator account from the environment so a
// fresh deployment has someone who can reach the admin surface.
func EnsureAdminUser(db *sqlx.DB, tokens TokenService, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	var exists bool
	if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM users WHERE lower(email) = lower($1))`, email); err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, err := tokens.HashPassword(password)
	if err != nil {
		return err
	}
	userID := uuid.NewString()
	now := time.Now().UTC()
	if _, err := db.Exec(`
INSERT INTO users (id, email, password_hash, status, created_at, updated_at)
VALUES ($1,lower($2),$3,'ACTIVE',$4,$4)
`, userID, email, hash, now); err != nil {
		return err
	}
	return AssignRole(db, userID, RoleAdmin)
}

package services

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"cautela-backend-go/internal/models"
)

// newJoinCode produces the human-shareable 8-hex group code.
func newJoinCode() (string, error) {
	raw := make([]byte, 4)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func CreateSharedGroup(db *sqlx.DB, userID string, name *string) (models.SharedGroup, error) {
	code, err := newJoinCode()
	if err != nil {
		return models.SharedGroup{}, err
	}
	tx, err := db.Beginx()
	if err != nil {
		return models.SharedGroup{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	group := models.SharedGroup{
		ID:        uuid.NewString(),
		Name:      name,
		Code:      code,
		CreatedBy: userID,
		CreatedAt: now,
	}
	if _, err := tx.Exec(`
INSERT INTO shared_groups (id, name, code, created_by, created_at)
VALUES ($1,$2,$3,$4,$5)
`, group.ID, group.Name, group.Code, group.CreatedBy, group.CreatedAt); err != nil {
		return models.SharedGroup{}, err
	}
	// The creator joins their own group; invited_by stays NULL.
	if _, err := tx.Exec(`
INSERT INTO shared_group_members (id, group_id, user_id, invited_by, joined_at)
VALUES ($1,$2,$3,NULL,$4)
`, uuid.NewString(), group.ID, userID, now); err != nil {
		return models.SharedGroup{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.SharedGroup{}, err
	}
	return group, nil
}

func JoinGroupByCode(db *sqlx.DB, userID, code string) (models.SharedGroup, error) {
	group := models.SharedGroup{}
	if err := db.Get(&group, `
SELECT id, name, code, created_by, created_at FROM shared_groups WHERE code = $1
`, code); err != nil {
		if err == sql.ErrNoRows {
			return models.SharedGroup{}, ErrNotFound("Invalid group code")
		}
		return models.SharedGroup{}, err
	}
	var member bool
	if err := db.Get(&member, `
SELECT EXISTS(SELECT 1 FROM shared_group_members WHERE group_id = $1 AND user_id = $2)
`, group.ID, userID); err != nil {
		return models.SharedGroup{}, err
	}
	if member {
		return group, nil
	}
	_, err := db.Exec(`
INSERT INTO shared_group_members (id, group_id, user_id, invited_by, joined_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (group_id, user_id) DO NOTHING
`, uuid.NewString(), group.ID, userID, group.CreatedBy, time.Now().UTC())
	if err != nil {
		return models.SharedGroup{}, err
	}
	return group, nil
}

// LeaveGroup removes the caller's membership. If the caller created the
// group the whole group goes with them; memberships, elder shares and the
// join code all die by cascade.
func LeaveGroup(db *sqlx.DB, userID, groupID string) (deleted bool, err error) {
	group := models.SharedGroup{}
	if err := db.Get(&group, `
SELECT id, name, code, created_by, created_at FROM shared_groups WHERE id = $1
`, groupID); err != nil {
		if err == sql.ErrNoRows {
			return false, ErrNotFound("Group not found")
		}
		return false, err
	}
	if group.CreatedBy == userID {
		_, err := db.Exec(`DELETE FROM shared_groups WHERE id = $1`, groupID)
		return true, err
	}
	_, err = db.Exec(`
DELETE FROM shared_group_members WHERE group_id = $1 AND user_id = $2
`, groupID, userID)
	return false, err
}

func RemoveGroupMember(db *sqlx.DB, requesterID, groupID, memberID string) error {
	group := models.SharedGroup{}
	if err := db.Get(&group, `
SELECT id, name, code, created_by, created_at FROM shared_groups WHERE id = $1
`, groupID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound("Group not found")
		}
		return err
	}
	if group.CreatedBy != requesterID {
		return ErrForbidden("Only the group creator can remove members")
	}
	if memberID == group.CreatedBy {
		return ErrBadRequest("The group creator cannot be removed")
	}
	result, err := db.Exec(`
DELETE FROM shared_group_members WHERE group_id = $1 AND user_id = $2
`, groupID, memberID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound("User is not a member of this group")
	}
	return nil
}

// ShareElder makes the elder visible to every member of the group. The
// sharer must be a member and must own the elder.
func ShareElder(db *sqlx.DB, userID, groupID, elderID string) error {
	var member bool
	if err := db.Get(&member, `
SELECT EXISTS(SELECT 1 FROM shared_group_members WHERE group_id = $1 AND user_id = $2)
`, groupID, userID); err != nil {
		return err
	}
	if !member {
		return ErrForbidden("You are not a member of this group")
	}
	var elderExists bool
	if err := db.Get(&elderExists, `SELECT EXISTS(SELECT 1 FROM elders WHERE id = $1)`, elderID); err != nil {
		return err
	}
	if !elderExists {
		return ErrNotFound("Elder not found")
	}
	var owns bool
	if err := db.Get(&owns, `
SELECT EXISTS(SELECT 1 FROM elder_links WHERE user_id = $1 AND elder_id = $2)
`, userID, elderID); err != nil {
		return err
	}
	if !owns {
		return ErrForbidden("You are not monitoring this elder")
	}
	var shared bool
	if err := db.Get(&shared, `
SELECT EXISTS(SELECT 1 FROM shared_group_elders WHERE group_id = $1 AND elder_id = $2)
`, groupID, elderID); err != nil {
		return err
	}
	if shared {
		return ErrConflict("Elder is already shared with this group")
	}
	_, err := db.Exec(`
INSERT INTO shared_group_elders (id, group_id, elder_id, shared_by, created_at)
VALUES ($1,$2,$3,$4,$5)
`, uuid.NewString(), groupID, elderID, userID, time.Now().UTC())
	return err
}

// UnshareElder may be done by whoever shared the elder or by the group
// creator.
func UnshareElder(db *sqlx.DB, userID, groupID, elderID string) error {
	share := struct {
		ID       string `db:"id"`
		SharedBy string `db:"shared_by"`
	}{}
	if err := db.Get(&share, `
SELECT id, shared_by FROM shared_group_elders WHERE group_id = $1 AND elder_id = $2
`, groupID, elderID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound("Elder is not shared with this group")
		}
		return err
	}
	var createdBy string
	if err := db.Get(&createdBy, `SELECT created_by FROM shared_groups WHERE id = $1`, groupID); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound("Group not found")
		}
		return err
	}
	if share.SharedBy != userID && createdBy != userID {
		return ErrForbidden("You cannot unshare this elder")
	}
	_, err := db.Exec(`DELETE FROM shared_group_elders WHERE id = $1`, share.ID)
	return err
}

type GroupMemberInfo struct {
	UserID    string    `db:"user_id" json:"userId"`
	Email     string    `db:"email" json:"email"`
	Name      *string   `db:"name" json:"name,omitempty"`
	AvatarURL *string   `db:"avatar_url" json:"avatarUrl,omitempty"`
	InvitedBy *string   `db:"invited_by" json:"invitedBy,omitempty"`
	JoinedAt  time.Time `db:"joined_at" json:"joinedAt"`
	IsCreator bool      `db:"is_creator" json:"isCreator"`
}

func ListGroupMembers(db *sqlx.DB, groupID string) ([]GroupMemberInfo, error) {
	var exists bool
	if err := db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM shared_groups WHERE id = $1)`, groupID); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound("Group not found")
	}
	members := []GroupMemberInfo{}
	err := db.Select(&members, `
SELECT sgm.user_id, u.email, u.name, u.avatar_url, sgm.invited_by, sgm.joined_at,
       (sgm.user_id = sg.created_by) AS is_creator
FROM shared_group_members sgm
JOIN shared_groups sg ON sg.id = sgm.group_id
JOIN users u ON u.id = sgm.user_id
WHERE sgm.group_id = $1
ORDER BY sgm.joined_at
`, groupID)
	return members, err
}

func IsGroupMember(db *sqlx.DB, groupID, userID string) (bool, error) {
	var member bool
	err := db.Get(&member, `
SELECT EXISTS(SELECT 1 FROM shared_group_members WHERE group_id = $1 AND user_id = $2)
`, groupID, userID)
	return member, err
}

type SharedElderInfo struct {
	ElderID   string     `db:"elder_id" json:"elderId"`
	Name      string     `db:"name" json:"name"`
	DeviceID  *string    `db:"device_id" json:"deviceId,omitempty"`
	Online    *bool      `db:"online" json:"online,omitempty"`
	LastSeen  *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
	SharedBy  string     `db:"shared_by" json:"sharedBy"`
	GroupID   string     `db:"group_id" json:"groupId"`
	GroupName *string    `db:"group_name" json:"groupName,omitempty"`
	GroupCode string     `db:"group_code" json:"groupCode"`
}

func ListSharedElders(db *sqlx.DB, groupID string) ([]SharedElderInfo, error) {
	items := []SharedElderInfo{}
	err := db.Select(&items, `
SELECT e.id AS elder_id, e.name, e.device_id, d.online, d.last_seen,
       sge.shared_by, sg.id AS group_id, sg.name AS group_name, sg.code AS group_code
FROM shared_group_elders sge
JOIN shared_groups sg ON sg.id = sge.group_id
JOIN elders e ON e.id = sge.elder_id
LEFT JOIN devices d ON d.id = e.device_id
WHERE sge.group_id = $1
ORDER BY sge.created_at
`, groupID)
	return items, err
}

// ListEldersSharedWithUser collects every elder visible to the user through
// any of their groups.
func ListEldersSharedWithUser(db *sqlx.DB, userID string) ([]SharedElderInfo, error) {
	items := []SharedElderInfo{}
	err := db.Select(&items, `
SELECT e.id AS elder_id, e.name, e.device_id, d.online, d.last_seen,
       sge.shared_by, sg.id AS group_id, sg.name AS group_name, sg.code AS group_code
FROM shared_group_members sgm
JOIN shared_groups sg ON sg.id = sgm.group_id
JOIN shared_group_elders sge ON sge.group_id = sg.id
JOIN elders e ON e.id = sge.elder_id
LEFT JOIN devices d ON d.id = e.device_id
WHERE sgm.user_id = $1
ORDER BY sg.created_at, sge.created_at
`, userID)
	return items, err
}

func ListUserGroups(db *sqlx.DB, userID string) ([]models.SharedGroup, error) {
	groups := []models.SharedGroup{}
	err := db.Select(&groups, `
SELECT sg.id, sg.name, sg.code, sg.created_by, sg.created_at
FROM shared_groups sg
JOIN shared_group_members sgm ON sgm.group_id = sg.id
WHERE sgm.user_id = $1
ORDER BY sg.created_at
`, userID)
	return groups, err
}

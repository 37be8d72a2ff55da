package models

import "time"

type User struct {
	ID            string     `db:"id"`
	Email         string     `db:"email"`
	PasswordHash  string     `db:"password_hash"`
	Name          *string    `db:"name"`
	AvatarURL     *string    `db:"avatar_url"`
	RecoveryEmail *string    `db:"recovery_email"`
	Status        string     `db:"status"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
	LastLoginAt   *time.Time `db:"last_login_at"`
	LastSeenAt    *time.Time `db:"last_seen_at"`
}

type Role struct {
	ID   string `db:"id"`
	Code string `db:"code"`
}

type Device struct {
	ID        string     `db:"id"`
	Online    bool       `db:"online"`
	LastSeen  *time.Time `db:"last_seen"`
	Battery   *int       `db:"battery"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

type Elder struct {
	ID        string     `db:"id"`
	Name      string     `db:"name"`
	BirthDate *time.Time `db:"birth_date"`
	Address   *string    `db:"address"`
	DeviceID  *string    `db:"device_id"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

type ElderLink struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ElderID   string    `db:"elder_id"`
	CreatedAt time.Time `db:"created_at"`
}

type SharedGroup struct {
	ID        string    `db:"id"`
	Name      *string   `db:"name"`
	Code      string    `db:"code"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
}

type SharedGroupMember struct {
	ID        string    `db:"id"`
	GroupID   string    `db:"group_id"`
	UserID    string    `db:"user_id"`
	InvitedBy *string   `db:"invited_by"`
	JoinedAt  time.Time `db:"joined_at"`
}

type SharedGroupElder struct {
	ID        string    `db:"id"`
	GroupID   string    `db:"group_id"`
	ElderID   string    `db:"elder_id"`
	SharedBy  string    `db:"shared_by"`
	CreatedAt time.Time `db:"created_at"`
}

type Notification struct {
	ID         string    `db:"id"`
	ElderID    string    `db:"elder_id"`
	Kind       string    `db:"kind"`
	Message    *string   `db:"message"`
	Pulse      *int      `db:"pulse"`
	HappenedAt time.Time `db:"happened_at"`
	CreatedAt  time.Time `db:"created_at"`
}

type ServerMetricSample struct {
	ID                string    `db:"id"`
	CapturedAt        time.Time `db:"captured_at"`
	HeapUsedBytes     int64     `db:"heap_used_bytes"`
	HeapMaxBytes      int64     `db:"heap_max_bytes"`
	SystemMemoryTotal int64     `db:"system_memory_total_bytes"`
	SystemMemoryUsed  int64     `db:"system_memory_used_bytes"`
	DiskTotalBytes    int64     `db:"disk_total_bytes"`
	DiskUsedBytes     int64     `db:"disk_used_bytes"`
	ProcessCpuLoad    float64   `db:"process_cpu_load"`
	SystemCpuLoad     float64   `db:"system_cpu_load"`
}

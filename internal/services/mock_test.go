package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// capturingBus records every publish in order, for asserting fan-out.
type capturingBus struct {
	published []capturedEvent
}

type capturedEvent struct {
	UserID  string
	Topic   string
	Payload interface{}
}

func (b *capturingBus) Publish(userID, topic string, payload interface{}) {
	b.published = append(b.published, capturedEvent{UserID: userID, Topic: topic, Payload: payload})
}

func (b *capturingBus) usersFor(topic string) []string {
	users := []string{}
	for _, event := range b.published {
		if event.Topic == topic {
			users = append(users, event.UserID)
		}
	}
	return users
}

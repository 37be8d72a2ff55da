package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversOnlyToMatchingUser(t *testing.T) {
	bus := NewEventBus()
	alice := bus.Subscribe("alice", nil)
	bob := bus.Subscribe("bob", nil)
	defer alice.Close()
	defer bob.Close()

	bus.Publish("alice", TopicVitals, map[string]int{"bpm": 72})

	require.Len(t, alice.C, 1)
	event := <-alice.C
	assert.Equal(t, TopicVitals, event.Topic)
	assert.Len(t, bob.C, 0)
}

func TestEventBusDropsWhenBufferFull(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("alice", nil)
	defer sub.Close()

	for i := 0; i < cap(sub.C)+10; i++ {
		bus.Publish("alice", TopicVitals, i)
	}
	// The overflow is dropped, not queued, and publishing never blocks.
	assert.Len(t, sub.C, cap(sub.C))
}

func TestEventBusBroadcastRole(t *testing.T) {
	bus := NewEventBus()
	admin := bus.Subscribe("root", []string{RoleAdmin})
	caregiver := bus.Subscribe("alice", []string{RoleCaregiver})
	defer admin.Close()
	defer caregiver.Close()

	bus.BroadcastRole(RoleAdmin, TopicMetrics, "sample")

	require.Len(t, admin.C, 1)
	assert.Equal(t, TopicMetrics, (<-admin.C).Topic)
	assert.Len(t, caregiver.C, 0)
}

func TestEventBusCloseIsIdempotent(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("alice", nil)
	require.Equal(t, 1, bus.SubscriberCount())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount())

	// Publishing after close must not panic or deliver.
	bus.Publish("alice", TopicVitals, nil)
}

func TestConnectionCacheSetGetForget(t *testing.T) {
	cache := NewConnectionCache()

	_, ok := cache.Get("CA-001")
	assert.False(t, ok)

	cache.Set(DevicePresence{DeviceID: "CA-001", SSID: "home", IP: "10.0.0.7"})
	got, ok := cache.Get("CA-001")
	require.True(t, ok)
	assert.Equal(t, "home", got.SSID)

	cache.Set(DevicePresence{DeviceID: "CA-001", SSID: "office"})
	got, _ = cache.Get("CA-001")
	assert.Equal(t, "office", got.SSID)

	cache.Forget("CA-001")
	_, ok = cache.Get("CA-001")
	assert.False(t, ok)
}

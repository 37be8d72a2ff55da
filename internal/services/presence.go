package services

import (
	"sync"
	"time"
)

// DevicePresence is what a connection announcement told us about the
// device's network situation, plus which user the unit believes it belongs
// to. It only exists in memory: a restart clears it and callers fall back
// to the persisted device row.
type DevicePresence struct {
	DeviceID    string    `json:"deviceId"`
	SSID        string    `json:"ssid"`
	IP          string    `json:"ip"`
	RSSI        *int      `json:"rssi,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	AnnouncedAt time.Time `json:"announcedAt"`
}

// ConnectionCache holds the latest announcement per device id.
type ConnectionCache struct {
	mu      sync.Mutex
	entries map[string]DevicePresence
}

func NewConnectionCache() *ConnectionCache {
	return &ConnectionCache{entries: map[string]DevicePresence{}}
}

func (c *ConnectionCache) Set(p DevicePresence) {
	c.mu.Lock()
	c.entries[p.DeviceID] = p
	c.mu.Unlock()
}

func (c *ConnectionCache) Get(deviceID string) (DevicePresence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[deviceID]
	return p, ok
}

func (c *ConnectionCache) Forget(deviceID string) {
	c.mu.Lock()
	delete(c.entries, deviceID)
	c.mu.Unlock()
}

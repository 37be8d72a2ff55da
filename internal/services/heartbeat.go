package services

import (
	"sync"
	"time"
)

// Scheduler abstracts the delayed-expiry mechanism so tests can fire
// expiries by hand. Schedule replaces any pending callback for the same id.
type Scheduler interface {
	Schedule(id string, d time.Duration, fn func())
	Cancel(id string)
}

type timerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler() Scheduler {
	return &timerScheduler{timers: map[string]*time.Timer{}}
}

func (s *timerScheduler) Schedule(id string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}
	s.timers[id] = time.AfterFunc(d, fn)
}

func (s *timerScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

type heartbeatEntry struct {
	lastSeen time.Time
	gen      uint64
}

// HeartbeatTracker keeps a last-seen instant and a single pending expiry
// per device. Touch cancels-and-reschedules; the expiry handler runs only
// when a device has been silent for the full timeout.
type HeartbeatTracker struct {
	mu      sync.Mutex
	entries map[string]*heartbeatEntry
	timeout time.Duration
	sched   Scheduler
	expire  func(deviceID string)
	now     func() time.Time
}

func NewHeartbeatTracker(timeout time.Duration, sched Scheduler) *HeartbeatTracker {
	if sched == nil {
		sched = NewTimerScheduler()
	}
	return &HeartbeatTracker{
		entries: map[string]*heartbeatEntry{},
		timeout: timeout,
		sched:   sched,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireFunc wires the disconnect handler. Must be called before the
// first Touch; the tracker and its consumer are constructed in two steps
// because each needs the other.
func (t *HeartbeatTracker) SetExpireFunc(fn func(deviceID string)) {
	t.mu.Lock()
	t.expire = fn
	t.mu.Unlock()
}

// Touch records that the device was just heard from. The generation
// counter makes a timer that already fired but lost the race to a newer
// Touch a no-op. Scheduling happens under the tracker lock so that two
// concurrent Touch calls cannot leave a stale closure as the only pending
// timer; the scheduler's lock never acquires the tracker's.
func (t *HeartbeatTracker) Touch(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[deviceID]
	if !ok {
		entry = &heartbeatEntry{}
		t.entries[deviceID] = entry
	}
	entry.lastSeen = t.now()
	entry.gen++
	gen := entry.gen

	t.sched.Schedule(deviceID, t.timeout, func() {
		t.timerFired(deviceID, gen)
	})
}

func (t *HeartbeatTracker) timerFired(deviceID string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[deviceID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, deviceID)
	expire := t.expire
	t.mu.Unlock()

	if expire != nil {
		expire(deviceID)
	}
}

// Forget drops the entry and its pending expiry without treating the
// device as disconnected. Used when a device row is deleted.
func (t *HeartbeatTracker) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, deviceID)
	t.sched.Cancel(deviceID)
}

func (t *HeartbeatTracker) LastSeen(deviceID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return entry.lastSeen, true
}

func (t *HeartbeatTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

package stream

import (
	"sync"
	"time"

	"github.com/user/ambuwatch/internal/types"
)

// Entry is the last playback URL resolved for a device.
type Entry struct {
	URL         string    `json:"url"`
	Token       string    `json:"-"`
	CameraIndex int       `json:"camera_index"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Cache holds the most recent playback URL per device. Entries never
// expire on their own; they are cleared when authentication fails or the
// device selection changes.
//
// Every clear advances the device's generation so a resolution that started
// before the clear cannot write its result back.
type Cache struct {
	mu         sync.RWMutex
	entries    map[types.DeviceID]Entry
	gens       map[types.DeviceID]uint64
	clearedAll uint64
	seq        uint64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[types.DeviceID]Entry),
		gens:    make(map[types.DeviceID]uint64),
	}
}

// Get returns the cached entry for id.
func (c *Cache) Get(id types.DeviceID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// Put stores e for id unconditionally.
func (c *Cache) Put(id types.DeviceID, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = e
}

// Generation returns a token identifying the current cache epoch of id.
func (c *Cache) Generation(id types.DeviceID) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation(id)
}

func (c *Cache) generation(id types.DeviceID) uint64 {
	if g := c.gens[id]; g > c.clearedAll {
		return g
	}
	return c.clearedAll
}

// PutIfCurrent stores e only if id has not been cleared since gen was
// taken. It reports whether the entry was stored.
func (c *Cache) PutIfCurrent(id types.DeviceID, gen uint64, e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(id) != gen {
		return false
	}
	c.entries[id] = e
	return true
}

// ClearSession drops the entry for id.
func (c *Cache) ClearSession(id types.DeviceID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.gens[id] = c.seq
	delete(c.entries, id)
}

// ClearAllSessions drops every entry.
func (c *Cache) ClearAllSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.clearedAll = c.seq
	c.entries = make(map[types.DeviceID]Entry)
	c.gens = make(map[types.DeviceID]uint64)
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package coordinator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/pyropy/pmkfleet/core/model"
	"github.com/pyropy/pmkfleet/lib/utils"
)

var (
	ErrUnknownClient = errors.New("unknown client")
)

type clientRecord struct {
	id            string
	address       string
	assigned      map[string]struct{}
	throughput    int64
	lastHeartbeat time.Time
	connectedAt   time.Time
}

func (c *clientRecord) export() model.ClientRecord {
	assigned := utils.Keys(c.assigned)
	sort.Strings(assigned)

	return model.ClientRecord{
		ID:            c.id,
		Address:       c.address,
		Assigned:      assigned,
		Throughput:    c.throughput,
		LastHeartbeat: c.lastHeartbeat,
		ConnectedAt:   c.connectedAt,
	}
}

// ClientRegistry is the in-memory table of connected workers. Every method
// takes the lock for its own body only and never does I/O while holding it.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*clientRecord
	// holders maps a leased chunk id to the client holding it.
	holders map[string]string

	now func() time.Time
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: map[string]*clientRecord{},
		holders: map[string]string{},
		now:     time.Now,
	}
}

// Connect registers a client. Connecting an already known client is a no-op
// and returns false.
func (r *ClientRegistry) Connect(id, addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[id]; exists {
		return false
	}

	now := r.now()
	r.clients[id] = &clientRecord{
		id:            id,
		address:       addr,
		assigned:      map[string]struct{}{},
		lastHeartbeat: now,
		connectedAt:   now,
	}

	return true
}

func (r *ClientRegistry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.clients[id]
	return exists
}

// Heartbeat stamps the client with the current time.
func (r *ClientRegistry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return false
	}

	c.lastHeartbeat = r.now()
	return true
}

func (r *ClientRegistry) RecordThroughput(id string, value int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return false
	}

	c.throughput = value
	return true
}

// Assign records that client id holds chunkID.
func (r *ClientRegistry) Assign(id, chunkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return ErrUnknownClient
	}

	if prev, held := r.holders[chunkID]; held && prev != id {
		if other, ok := r.clients[prev]; ok {
			delete(other.assigned, chunkID)
		}
	}

	c.assigned[chunkID] = struct{}{}
	r.holders[chunkID] = id
	return nil
}

// Unassign drops chunkID from whichever client holds it and returns that
// client's id.
func (r *ClientRegistry) Unassign(chunkID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, held := r.holders[chunkID]
	if !held {
		return "", false
	}

	delete(r.holders, chunkID)
	if c, exists := r.clients[holder]; exists {
		delete(c.assigned, chunkID)
	}

	return holder, true
}

func (r *ClientRegistry) Holder(chunkID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	holder, held := r.holders[chunkID]
	return holder, held
}

// Assigned returns the chunk ids held by client id, sorted.
func (r *ClientRegistry) Assigned(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return nil
	}

	assigned := utils.Keys(c.assigned)
	sort.Strings(assigned)
	return assigned
}

// ClearAssigned forgets every chunk held by client id.
func (r *ClientRegistry) ClearAssigned(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return
	}

	for chunkID := range c.assigned {
		if r.holders[chunkID] == id {
			delete(r.holders, chunkID)
		}
	}
	c.assigned = map[string]struct{}{}
}

// Disconnect removes the client record. Callers revoke its chunks first.
func (r *ClientRegistry) Disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[id]
	if !exists {
		return false
	}

	for chunkID := range c.assigned {
		if r.holders[chunkID] == id {
			delete(r.holders, chunkID)
		}
	}
	delete(r.clients, id)
	return true
}

// Stale returns ids of clients whose last heartbeat is at least threshold old.
func (r *ClientRegistry) Stale(threshold time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	stale := make([]string, 0)
	for id, c := range r.clients {
		if now.Sub(c.lastHeartbeat) >= threshold {
			stale = append(stale, id)
		}
	}

	sort.Strings(stale)
	return stale
}

func (r *ClientRegistry) Get(id string) (model.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.clients[id]
	if !exists {
		return model.ClientRecord{}, false
	}

	return c.export(), true
}

// Snapshot returns copies of every record sorted by id.
func (r *ClientRegistry) Snapshot() []model.ClientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]model.ClientRecord, 0, len(r.clients))
	for _, c := range r.clients {
		records = append(records, c.export())
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})

	return records
}

func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}

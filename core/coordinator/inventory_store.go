package coordinator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pyropy/pmkfleet/core/model"
	"github.com/pyropy/pmkfleet/lib/utils"
)

const InventoryFileName = "INVENTORY.json"

var (
	ErrChunkNotFound     = errors.New("chunk not found")
	ErrInvalidTransition = errors.New("invalid chunk state transition")
)

// Keys left behind by upstream data issues. They never name a real chunk.
var nullChunkIDs = []string{"", "null", "None"}

// InventoryStore holds chunk states and rewrites the inventory document on
// every mutation.
type InventoryStore struct {
	mu        sync.RWMutex
	path      string
	ssidCount int
	order     []string
	chunks    map[string]model.ChunkState

	// persistMu orders writers so the newest snapshot always lands last.
	persistMu sync.Mutex
}

// LoadInventory reads the inventory document at path.
func LoadInventory(path string) (*InventoryStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	inv, err := model.DecodeInventory(b)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", path, err)
	}

	return NewInventoryStore(path, inv), nil
}

func NewInventoryStore(path string, inv *model.Inventory) *InventoryStore {
	s := &InventoryStore{
		path:      path,
		ssidCount: inv.SSIDCount,
		order:     make([]string, 0, len(inv.Chunks)),
		chunks:    make(map[string]model.ChunkState, len(inv.Chunks)),
	}

	for _, c := range inv.Chunks {
		s.order = append(s.order, c.ID)
		s.chunks[c.ID] = c.State
	}

	s.Sanitize()
	return s
}

// Sanitize removes placeholder keys and returns how many were dropped.
func (s *InventoryStore) Sanitize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sanitize()
}

func (s *InventoryStore) sanitize() int {
	removed := 0
	order := s.order[:0]
	for _, id := range s.order {
		if utils.Contains(nullChunkIDs, id) {
			delete(s.chunks, id)
			removed++
			continue
		}

		order = append(order, id)
	}

	s.order = order
	if removed > 0 {
		log.Warnw("inventory", "status", "removed null chunk keys", "count", removed)
	}

	return removed
}

func (s *InventoryStore) Path() string {
	return s.path
}

func (s *InventoryStore) SSIDCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ssidCount
}

// Get returns the state of chunk id.
func (s *InventoryStore) Get(id string) (model.ChunkState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.chunks[id]
	return state, exists
}

// SetState moves every chunk in ids to state. Either all transitions are
// legal and applied or none is.
func (s *InventoryStore) SetState(state model.ChunkState, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		from, exists := s.chunks[id]
		if !exists {
			return fmt.Errorf("%w: %q", ErrChunkNotFound, id)
		}

		if !canTransition(from, state) {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, from, state)
		}
	}

	for _, id := range ids {
		s.chunks[id] = state
	}

	return nil
}

func canTransition(from, to model.ChunkState) bool {
	switch from {
	case model.ChunkTODO:
		// TODO -> DONE covers a submit that arrives after the lease was revoked.
		return to == model.ChunkWIP || to == model.ChunkDONE
	case model.ChunkWIP:
		return to == model.ChunkTODO || to == model.ChunkDONE
	case model.ChunkDONE:
		return to == model.ChunkDONE
	default:
		return false
	}
}

// FindFirstInState scans in document order.
func (s *InventoryStore) FindFirstInState(state model.ChunkState) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if s.chunks[id] == state {
			return id, true
		}
	}

	return "", false
}

// ResetAllWIP returns every WIP chunk to TODO. Run once at boot before any
// request is served.
func (s *InventoryStore) ResetAllWIP() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for id, state := range s.chunks {
		if state == model.ChunkWIP {
			s.chunks[id] = model.ChunkTODO
			reset++
		}
	}

	return reset
}

// Counts returns the number of chunks per state.
func (s *InventoryStore) Counts() map[model.ChunkState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[model.ChunkState]int{
		model.ChunkTODO: 0,
		model.ChunkWIP:  0,
		model.ChunkDONE: 0,
	}
	for _, state := range s.chunks {
		counts[state]++
	}

	return counts
}

func (s *InventoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.order)
}

// Snapshot copies the inventory in document order.
func (s *InventoryStore) Snapshot() *model.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sanitize()
	inv := &model.Inventory{
		SSIDCount: s.ssidCount,
		Chunks:    make([]model.Chunk, 0, len(s.order)),
	}
	for _, id := range s.order {
		inv.Chunks = append(inv.Chunks, model.Chunk{ID: id, State: s.chunks[id]})
	}

	return inv
}

// Persist rewrites the inventory document via write-temp-then-rename. The
// store lock is only held while the snapshot is taken.
func (s *InventoryStore) Persist() error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	b, err := model.EncodeInventory(s.Snapshot())
	if err != nil {
		return err
	}

	return writeFileAtomic(s.path, b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

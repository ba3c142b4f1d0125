package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pyropy/pmkfleet/core/model"
)

var ErrNoWork = errors.New("no TODO chunks left to batch")

// Dispatcher bridges the inventory and the client registry. mu is the one
// lock domain shared by lease, submit, revoke and eviction: every
// read-modify-write spanning both tables runs inside it. Persisting happens
// after mu is released but before the caller gets an answer.
type Dispatcher struct {
	mu          sync.Mutex
	inventory   *InventoryStore
	clients     *ClientRegistry
	submissions *SubmissionStore
}

func NewDispatcher(inventory *InventoryStore, clients *ClientRegistry, submissions *SubmissionStore) *Dispatcher {
	return &Dispatcher{
		inventory:   inventory,
		clients:     clients,
		submissions: submissions,
	}
}

// Lease hands the first TODO chunk in document order to clientID.
func (d *Dispatcher) Lease(clientID string) (string, error) {
	chunkID, err := d.lease(clientID)
	if err != nil {
		return "", err
	}

	if err := d.inventory.Persist(); err != nil {
		return chunkID, fmt.Errorf("persist inventory: %w", err)
	}

	return chunkID, nil
}

func (d *Dispatcher) lease(clientID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.clients.Exists(clientID) {
		return "", ErrUnknownClient
	}

	chunkID, found := d.inventory.FindFirstInState(model.ChunkTODO)
	if !found {
		return "", ErrNoWork
	}

	if err := d.inventory.SetState(model.ChunkWIP, chunkID); err != nil {
		return "", err
	}

	if err := d.clients.Assign(clientID, chunkID); err != nil {
		// unreachable while mu is held, the record cannot vanish
		_ = d.inventory.SetState(model.ChunkTODO, chunkID)
		return "", err
	}

	d.clients.Heartbeat(clientID)
	return chunkID, nil
}

// Submit stores payload and marks chunkID DONE. The payload is written
// before any state changes so a failed upload leaves the lease untouched.
func (d *Dispatcher) Submit(ctx context.Context, clientID, chunkID string, payload io.Reader) (*Submission, error) {
	state, exists := d.inventory.Get(chunkID)
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrChunkNotFound, chunkID)
	}

	var previous *Submission
	if state == model.ChunkDONE {
		previous, _ = d.submissions.Get(ctx, chunkID)
	}

	submission, err := d.submissions.Save(ctx, clientID, chunkID, payload)
	if err != nil {
		return nil, err
	}

	if previous != nil {
		log.Warnw("dispatcher", "status", "chunk submitted again", "chunkID", chunkID, "clientID", clientID,
			"previousClientID", previous.ClientID, "previousSubmittedAt", previous.SubmittedAt,
			"payloadChanged", previous.Checksum != submission.Checksum)
	}

	duplicate, err := d.complete(clientID, chunkID)
	if err != nil {
		return nil, err
	}
	submission.Duplicate = duplicate

	if err := d.inventory.Persist(); err != nil {
		return submission, fmt.Errorf("persist inventory: %w", err)
	}

	return submission, nil
}

func (d *Dispatcher) complete(clientID, chunkID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev, _ := d.inventory.Get(chunkID)
	if err := d.inventory.SetState(model.ChunkDONE, chunkID); err != nil {
		return false, err
	}

	if holder, held := d.clients.Unassign(chunkID); held && holder != clientID {
		log.Warnw("dispatcher", "status", "chunk submitted by non holder", "chunkID", chunkID, "holder", holder, "clientID", clientID)
	}

	d.clients.Heartbeat(clientID)
	return prev == model.ChunkDONE, nil
}

// Revoke returns every chunk leased by clientID to TODO.
func (d *Dispatcher) Revoke(clientID string) ([]string, error) {
	d.mu.Lock()
	revoked, err := d.revokeLocked(clientID)
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if len(revoked) == 0 {
		return revoked, nil
	}

	return revoked, d.inventory.Persist()
}

func (d *Dispatcher) revokeLocked(clientID string) ([]string, error) {
	revoked := make([]string, 0)
	for _, chunkID := range d.clients.Assigned(clientID) {
		if state, _ := d.inventory.Get(chunkID); state == model.ChunkWIP {
			revoked = append(revoked, chunkID)
		}
	}

	if err := d.inventory.SetState(model.ChunkTODO, revoked...); err != nil {
		return nil, err
	}

	d.clients.ClearAssigned(clientID)
	return revoked, nil
}

// Disconnect revokes clientID's chunks and removes its record.
func (d *Dispatcher) Disconnect(clientID string) ([]string, error) {
	d.mu.Lock()
	if !d.clients.Exists(clientID) {
		d.mu.Unlock()
		return nil, ErrUnknownClient
	}

	revoked, err := d.revokeLocked(clientID)
	if err == nil {
		d.clients.Disconnect(clientID)
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return revoked, d.inventory.Persist()
}

// Eviction is one client removed by Evict.
type Eviction struct {
	ClientID string
	Revoked  []string
}

// Evict removes every client silent for at least threshold, revoking its
// chunks before the record goes away. The inventory is persisted once.
func (d *Dispatcher) Evict(threshold time.Duration) ([]Eviction, error) {
	d.mu.Lock()
	evicted := make([]Eviction, 0)
	for _, clientID := range d.clients.Stale(threshold) {
		revoked, err := d.revokeLocked(clientID)
		if err != nil {
			d.mu.Unlock()
			return evicted, err
		}

		d.clients.Disconnect(clientID)
		evicted = append(evicted, Eviction{ClientID: clientID, Revoked: revoked})
	}
	d.mu.Unlock()

	if len(evicted) == 0 {
		return evicted, nil
	}

	return evicted, d.inventory.Persist()
}

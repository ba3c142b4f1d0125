package coordinator

import (
	"fmt"
	"path/filepath"

	"github.com/pyropy/pmkfleet/lib/logger"
)

var log, _ = logger.New("coordinator")

// Coordinator owns the inventory and the client registry. It is built once
// at startup and shared by every request handler.
type Coordinator struct {
	*Dispatcher
	*Telemetry

	Inventory   *InventoryStore
	Clients     *ClientRegistry
	Submissions *SubmissionStore
	Monitor     *LivenessMonitor

	ChunksDir string
}

// NewCoordinator loads the job directory. WIP chunks left by a previous run
// are reset to TODO and the inventory rewritten before anything is served.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	chunksDir := cfg.Chunks.Path
	inventory, err := LoadInventory(filepath.Join(chunksDir, InventoryFileName))
	if err != nil {
		return nil, err
	}

	if reset := inventory.ResetAllWIP(); reset > 0 {
		log.Infow("startup", "status", "WIP chunks have been reset", "count", reset)
	}

	if err := inventory.Persist(); err != nil {
		return nil, fmt.Errorf("persist inventory: %w", err)
	}

	submissions, err := NewSubmissionStore(chunksDir)
	if err != nil {
		return nil, fmt.Errorf("open submission store: %w", err)
	}

	clients := NewClientRegistry()
	dispatcher := NewDispatcher(inventory, clients, submissions)

	return &Coordinator{
		Dispatcher:  dispatcher,
		Telemetry:   NewTelemetry(inventory, clients, cfg.Chunks.RecordsPerChunk),
		Inventory:   inventory,
		Clients:     clients,
		Submissions: submissions,
		Monitor:     NewLivenessMonitor(dispatcher, clients, cfg.Liveness.Threshold, cfg.Liveness.PollInterval),
		ChunksDir:   chunksDir,
	}, nil
}

// ChunkPath is where the payload of chunkID is served from.
func (c *Coordinator) ChunkPath(chunkID string) string {
	return filepath.Join(c.ChunksDir, chunkID)
}

func (c *Coordinator) Close() error {
	return c.Submissions.Close()
}

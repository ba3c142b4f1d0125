package coordinator

import (
	"fmt"
	"time"

	"github.com/pyropy/pmkfleet/core/model"
)

const DefaultRecordsPerChunk = 25000

// Telemetry derives fleet throughput and an ETA from the registry and the
// inventory.
type Telemetry struct {
	inventory       *InventoryStore
	clients         *ClientRegistry
	recordsPerChunk int64
}

func NewTelemetry(inventory *InventoryStore, clients *ClientRegistry, recordsPerChunk int64) *Telemetry {
	if recordsPerChunk <= 0 {
		recordsPerChunk = DefaultRecordsPerChunk
	}

	return &Telemetry{
		inventory:       inventory,
		clients:         clients,
		recordsPerChunk: recordsPerChunk,
	}
}

// FleetThroughput sums the latest sample of every registered client.
func (t *Telemetry) FleetThroughput() int64 {
	var total int64
	for _, c := range t.clients.Snapshot() {
		total += c.Throughput
	}

	return total
}

// RemainingWork is a linear projection: non-DONE chunks times records per
// chunk times ssid count.
func (t *Telemetry) RemainingWork() int64 {
	counts := t.inventory.Counts()
	notDone := int64(counts[model.ChunkTODO] + counts[model.ChunkWIP])

	return notDone * t.recordsPerChunk * int64(t.inventory.SSIDCount())
}

// ETA returns false when no throughput has been reported.
func (t *Telemetry) ETA() (time.Duration, bool) {
	return EstimateETA(t.RemainingWork(), t.FleetThroughput())
}

// EstimateETA divides remaining work units by a per-second rate.
func EstimateETA(remaining, throughput int64) (time.Duration, bool) {
	if throughput <= 0 {
		return 0, false
	}

	seconds := float64(remaining) / float64(throughput)
	return time.Duration(seconds * float64(time.Second)), true
}

type ClientStats struct {
	IP            string    `json:"ip"`
	Performance   int64     `json:"performance"`
	Assigned      []string  `json:"assigned"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

type PerformanceStats struct {
	ClientData       map[string]ClientStats `json:"clientData"`
	ETA              string                 `json:"eta"`
	ETASeconds       *int64                 `json:"etaSeconds"`
	TotalPerformance int64                  `json:"totalPerformance"`
	BatchedChunks    int                    `json:"batchedChunks"`
	TodoChunks       int                    `json:"todoChunks"`
	WIPChunks        int                    `json:"wipChunks"`
	TotalChunks      int                    `json:"totalChunks"`
	RemainingWork    int64                  `json:"remainingWork"`
}

// Stats builds the observability payload. todoChunks counts every chunk not
// yet DONE.
func (t *Telemetry) Stats() PerformanceStats {
	records := t.clients.Snapshot()
	counts := t.inventory.Counts()

	stats := PerformanceStats{
		ClientData:    make(map[string]ClientStats, len(records)),
		ETA:           "N/A",
		BatchedChunks: counts[model.ChunkDONE],
		TodoChunks:    counts[model.ChunkTODO] + counts[model.ChunkWIP],
		WIPChunks:     counts[model.ChunkWIP],
		TotalChunks:   counts[model.ChunkTODO] + counts[model.ChunkWIP] + counts[model.ChunkDONE],
	}

	for _, c := range records {
		stats.TotalPerformance += c.Throughput
		stats.ClientData[c.ID] = ClientStats{
			IP:            c.Address,
			Performance:   c.Throughput,
			Assigned:      c.Assigned,
			LastHeartbeat: c.LastHeartbeat,
		}
	}

	stats.RemainingWork = int64(stats.TodoChunks) * t.recordsPerChunk * int64(t.inventory.SSIDCount())
	if eta, ok := EstimateETA(stats.RemainingWork, stats.TotalPerformance); ok {
		seconds := int64(eta / time.Second)
		stats.ETASeconds = &seconds
		stats.ETA = formatETA(seconds)
	}

	return stats
}

// formatETA renders whole seconds as H:MM:SS, prefixed by a day count once
// the estimate passes 24 hours ("2 days, 3:04:05").
func formatETA(seconds int64) string {
	days, rest := seconds/86400, seconds%86400
	hms := fmt.Sprintf("%d:%02d:%02d", rest/3600, rest%3600/60, rest%60)

	switch days {
	case 0:
		return hms
	case 1:
		return "1 day, " + hms
	default:
		return fmt.Sprintf("%d days, %s", days, hms)
	}
}

package coordinator

import (
	"context"
	"time"
)

var (
	DefaultInactivityThreshold  = 30 * time.Second
	DefaultLivenessPollInterval = 10 * time.Second
)

// LivenessMonitor evicts clients whose heartbeat went stale and returns
// their chunks to the lease pool. A dead client can look active for up to
// threshold plus one poll interval.
type LivenessMonitor struct {
	dispatcher   *Dispatcher
	clients      *ClientRegistry
	threshold    time.Duration
	pollInterval time.Duration
}

func NewLivenessMonitor(dispatcher *Dispatcher, clients *ClientRegistry, threshold, pollInterval time.Duration) *LivenessMonitor {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}

	if pollInterval <= 0 {
		pollInterval = DefaultLivenessPollInterval
	}

	return &LivenessMonitor{
		dispatcher:   dispatcher,
		clients:      clients,
		threshold:    threshold,
		pollInterval: pollInterval,
	}
}

// Start runs the sweep loop until ctx is canceled.
func (m *LivenessMonitor) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	log.Infow("liveness", "status", "starting liveness monitor", "threshold", m.threshold, "pollInterval", m.pollInterval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one eviction pass.
func (m *LivenessMonitor) Sweep() []Eviction {
	if m.clients.Len() == 0 {
		return nil
	}

	evicted, err := m.dispatcher.Evict(m.threshold)
	if err != nil {
		log.Errorw("liveness", "error", err)
	}

	for _, e := range evicted {
		log.Warnw("liveness", "status", "evicted inactive client", "clientID", e.ClientID, "revoked", e.Revoked)
	}

	return evicted
}

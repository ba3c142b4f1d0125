package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeJob lays out a job directory with an inventory and one payload file
// per chunk, all chunks in the given state.
func writeJob(t *testing.T, ssidCount int, chunks []string, state string) string {
	t.Helper()

	dir := t.TempDir()
	entries := make([]string, 0, len(chunks))
	for _, id := range chunks {
		entries = append(entries, fmt.Sprintf("%q: %q", id, state))
		if err := os.WriteFile(filepath.Join(dir, id), []byte("payload "+id), 0644); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
	}

	doc := fmt.Sprintf(`{"ssidCount": %d, "chunks": {%s}}`, ssidCount, strings.Join(entries, ", "))
	if err := os.WriteFile(filepath.Join(dir, InventoryFileName), []byte(doc), 0644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}

	return dir
}

func testConfig(dir string) *Config {
	cfg := &Config{}
	cfg.Chunks.Path = dir
	cfg.Chunks.RecordsPerChunk = DefaultRecordsPerChunk
	cfg.Liveness.Threshold = time.Minute
	cfg.Liveness.PollInterval = time.Minute
	return cfg
}

func newTestCoordinator(t *testing.T, ssidCount int, chunks ...string) *Coordinator {
	t.Helper()

	c, err := NewCoordinator(testConfig(writeJob(t, ssidCount, chunks, "TODO")))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c
}

func chunkIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("wordlist-chunk-%03d", i))
	}

	return ids
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

package worker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func newTestPool(t *testing.T, url string, threads, limit int, tool string) (*Pool, string) {
	t.Helper()

	workDir := t.TempDir()
	cfg := &Config{
		ServerURL:      url,
		ClientID:       "worker-1",
		Threads:        threads,
		Limit:          limit,
		Executable:     tool,
		WorkDir:        workDir,
		ReportInterval: 10 * time.Millisecond,
	}

	client := NewClient(cfg.ServerURL, cfg.ClientID, cfg.WorkDir)
	return NewPool(cfg, client, NewBatchRunner(cfg.Executable)), workDir
}

func chunkList(n int) []string {
	chunks := make([]string, 0, n)
	for i := 0; i < n; i++ {
		chunks = append(chunks, fmt.Sprintf("wordlist-chunk-%03d", i))
	}

	return chunks
}

func TestPoolDrainsCoordinator(t *testing.T) {
	chunks := chunkList(6)
	fake, srv := newFakeCoordinator(t, chunks...)
	pool, workDir := newTestPool(t, srv.URL, 2, 0, fakeBatchTool(t, 520, 0))

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if pool.Batched() != int64(len(chunks)) {
		t.Fatalf("batched = %d, want %d", pool.Batched(), len(chunks))
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if len(fake.submitted) != len(chunks) {
		t.Fatalf("submitted %d chunks, want %d", len(fake.submitted), len(chunks))
	}

	for _, id := range chunks {
		want := "raw " + id + "\nprocessed\n"
		if got := string(fake.submitted[id]); got != want {
			t.Fatalf("%s = %q, want %q", id, got, want)
		}
	}

	if len(fake.performance) == 0 {
		t.Fatal("no performance reports")
	}

	last := fake.performance[len(fake.performance)-1]
	if last == 0 || last%520 != 0 || last > 2*520 {
		t.Fatalf("final performance = %d", last)
	}

	if len(fake.jobDone) != 1 || fake.jobDone[0] != "worker-1" {
		t.Fatalf("job done = %v", fake.jobDone)
	}

	leftovers, _ := os.ReadDir(workDir)
	if len(leftovers) != 0 {
		t.Fatalf("work dir not cleaned: %v", leftovers)
	}
}

func TestPoolChunkLimit(t *testing.T) {
	fake, srv := newFakeCoordinator(t, chunkList(10)...)
	pool, _ := newTestPool(t, srv.URL, 1, 3, fakeBatchTool(t, 100, 0))

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if len(fake.submitted) != 3 || len(fake.todo) != 7 {
		t.Fatalf("submitted = %d, left = %d", len(fake.submitted), len(fake.todo))
	}
}

func TestPoolLimitRaisedToThreadCount(t *testing.T) {
	_, srv := newFakeCoordinator(t)
	pool, _ := newTestPool(t, srv.URL, 4, 2, "/bin/true")

	if pool.limit != 4 {
		t.Fatalf("limit = %d, want 4", pool.limit)
	}
}

func TestPoolContinuesAfterSubmitFailure(t *testing.T) {
	fake, srv := newFakeCoordinator(t, chunkList(3)...)
	fake.failSubmits = 1
	pool, _ := newTestPool(t, srv.URL, 1, 0, fakeBatchTool(t, 100, 0))

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if fake.submitCalls != 3 || len(fake.submitted) != 2 {
		t.Fatalf("submit calls = %d, stored = %d", fake.submitCalls, len(fake.submitted))
	}

	if len(fake.todo) != 0 || len(fake.jobDone) != 1 {
		t.Fatalf("todo = %v, job done = %v", fake.todo, fake.jobDone)
	}
}

func TestPoolSubmitsAfterToolFailure(t *testing.T) {
	fake, srv := newFakeCoordinator(t, "a")
	pool, _ := newTestPool(t, srv.URL, 1, 0, fakeBatchTool(t, 100, 1))

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()

	if !strings.HasSuffix(string(fake.submitted["a"]), "processed\n") {
		t.Fatalf("submitted = %q", fake.submitted["a"])
	}
}

func TestPoolAbortsWhenCoordinatorUnreachable(t *testing.T) {
	fake, srv := newFakeCoordinator(t, "a")
	url := srv.URL
	srv.Close()

	pool, _ := newTestPool(t, url, 2, 0, "/nonexistent/batch-tool")
	if err := pool.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail against an unreachable coordinator")
	}

	if pool.Batched() != 0 || len(fake.todo) != 1 {
		t.Fatalf("batched = %d, todo = %v", pool.Batched(), fake.todo)
	}
}

func TestPoolThroughputSumsUnits(t *testing.T) {
	_, srv := newFakeCoordinator(t)
	pool, _ := newTestPool(t, srv.URL, 2, 0, "/bin/true")

	pool.samples.Set(1, 500)
	pool.samples.Set(2, 300)
	pool.samples.Set(1, 450)

	if got := pool.Throughput(); got != 750 {
		t.Fatalf("throughput = %d, want 750", got)
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/pyropy/pmkfleet/lib/concurrent_map"
	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of lease-compute-submit units against one
// coordinator plus a reporter that publishes the summed throughput.
type Pool struct {
	client         *Client
	runner         *BatchRunner
	threads        int
	limit          int64
	workDir        string
	reportInterval time.Duration

	// samples holds the latest throughput sample of each unit.
	samples *concurrent_map.Map[int, int64]
	// batched counts chunks completed by all units. The limit check and the
	// increment are not one atomic step, so the limit is soft.
	batched atomic.Int64
}

func NewPool(cfg *Config, client *Client, runner *BatchRunner) *Pool {
	reportInterval := cfg.ReportInterval
	if reportInterval <= 0 {
		reportInterval = DefaultReportInterval
	}

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}

	return &Pool{
		client:         client,
		runner:         runner,
		threads:        threads,
		limit:          int64(ClampLimit(cfg.Limit, threads)),
		workDir:        cfg.WorkDir,
		reportInterval: reportInterval,
		samples:        concurrent_map.NewMap[int, int64](),
	}
}

// Run checks that the coordinator is reachable, then blocks until every unit
// has stopped. The coordinator is told the worker is done before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("coordinator unreachable: %w", err)
	}
	log.Infow("pool", "status", "coordinator reachable", "clientID", p.client.ClientID())

	if err := p.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := os.MkdirAll(p.workDir, 0750); err != nil {
		return err
	}

	unitsDone := make(chan struct{})
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		p.report(ctx, unitsDone)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= p.threads; i++ {
		unit := i
		g.Go(func() error {
			return p.unit(gctx, unit)
		})
	}

	err := g.Wait()
	close(unitsDone)
	<-reporterDone

	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	p.sendReport(finalCtx)
	if err := p.client.JobDone(finalCtx); err != nil {
		log.Errorw("pool", "status", "job done notification failed", "error", err)
	}

	log.Infow("pool", "status", "client job done", "batched", p.batched.Load())
	return err
}

func (p *Pool) limitReached() bool {
	return p.limit > 0 && p.batched.Load() >= p.limit
}

// unit loops until there is no work left, the chunk limit is reached or ctx
// is canceled. Lease failures stop the unit without failing the pool.
func (p *Pool) unit(ctx context.Context, unit int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if p.limitReached() {
			log.Infow("pool", "unit", unit, "status", "chunk limit reached, unit done")
			return nil
		}

		log.Debugw("pool", "unit", unit, "status", "requesting chunk")
		chunkID, path, err := p.client.LeaseChunk(ctx)
		switch {
		case errors.Is(err, ErrNoWork):
			log.Infow("pool", "unit", unit, "status", "no chunks left to batch, unit done")
			return nil
		case err != nil:
			if path == "" && chunkID != "" {
				log.Errorw("pool", "unit", unit, "status", "download failed", "chunkID", chunkID, "error", err)
			} else {
				log.Errorw("pool", "unit", unit, "status", "lease failed", "error", err)
			}
			return nil
		}

		p.batch(ctx, unit, chunkID, path)

		n := p.batched.Add(1)
		log.Debugw("pool", "unit", unit, "status", "batched counter increased", "batched", n)
	}
}

func (p *Pool) batch(ctx context.Context, unit int, chunkID, path string) {
	defer os.Remove(path)

	log.Infow("pool", "unit", unit, "status", "batch started", "chunkID", chunkID)
	err := p.runner.Run(ctx, unit, path, func(progress Progress) {
		p.samples.Set(unit, progress.Rate)
	})

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		log.Warnw("pool", "unit", unit, "status", "batch tool exited with error", "chunkID", chunkID, "exitCode", exitErr.ExitCode())
	case err != nil:
		log.Errorw("pool", "unit", unit, "status", "batch failed", "chunkID", chunkID, "error", err)
	default:
		rate, _ := p.samples.Get(unit)
		log.Infow("pool", "unit", unit, "status", "batch finished", "chunkID", chunkID, "rate", rate)
	}

	if ctx.Err() != nil {
		return
	}

	reply, err := p.client.SubmitChunk(ctx, chunkID, path)
	if err != nil {
		log.Errorw("pool", "unit", unit, "status", "submit failed", "chunkID", chunkID, "error", err)
		return
	}

	log.Infow("pool", "unit", unit, "status", "chunk submitted", "chunkID", chunkID, "stored", reply.FilePath, "duplicate", reply.Duplicate)
}

// Throughput sums the latest sample of every unit.
func (p *Pool) Throughput() int64 {
	var total int64
	p.samples.Range(func(_ int, rate int64) bool {
		total += rate
		return true
	})

	return total
}

// Batched returns how many chunks the pool has processed.
func (p *Pool) Batched() int64 {
	return p.batched.Load()
}

func (p *Pool) report(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(p.reportInterval)
	defer ticker.Stop()

	for {
		p.sendReport(ctx)

		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) sendReport(ctx context.Context) {
	total := p.Throughput()
	log.Infow("status", "totalPerformance", total, "unit", "PMK/s", "reportingUnits", p.samples.Len(), "batched", p.batched.Load())

	if err := p.client.SendPerformance(ctx, total); err != nil {
		log.Warnw("status", "status", "performance report failed", "error", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/google/uuid"
	"github.com/pyropy/pmkfleet/core/worker"
	"github.com/pyropy/pmkfleet/lib/logger"
	"github.com/urfave/cli/v2"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:     "ip",
		Aliases:  []string{"i"},
		Required: true,
		Usage:    "Coordinator IP",
		EnvVars:  []string{"COORDINATOR_IP"},
	},
	&cli.IntFlag{
		Name:     "port",
		Aliases:  []string{"p"},
		Required: true,
		Usage:    "Coordinator port",
		EnvVars:  []string{"COORDINATOR_PORT"},
	},
	&cli.IntFlag{
		Name:     "threads",
		Aliases:  []string{"t"},
		Required: true,
		Usage:    "Parallel batch tool instances, at most the CPU count",
		EnvVars:  []string{"WORKER_THREADS"},
	},
	&cli.IntFlag{
		Name:  "limit",
		Usage: "Max number of chunks to batch before quitting, cannot be less than --threads",
	},
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "Debug logging",
	},
	&cli.StringFlag{
		Name:    "executable",
		Value:   worker.DefaultExecutable,
		Usage:   "Path to the batch executable",
		EnvVars: []string{"BATCH_EXECUTABLE"},
	},
	&cli.StringFlag{
		Name:    "work-dir",
		Value:   worker.DefaultWorkDir(),
		Usage:   "Directory leased chunks are downloaded to",
		EnvVars: []string{"WORKER_DIR"},
	},
	&cli.DurationFlag{
		Name:  "report-interval",
		Value: worker.DefaultReportInterval,
		Usage: "How often the total throughput is sent to the coordinator",
	},
}

func setup(ctx *cli.Context) error {
	logger.SetDebug(ctx.Bool("debug"))
	return nil
}

func configFromFlags(ctx *cli.Context) *worker.Config {
	threads := worker.ClampThreads(ctx.Int("threads"), runtime.NumCPU())

	return &worker.Config{
		ServerURL:      fmt.Sprintf("http://%s:%d", ctx.String("ip"), ctx.Int("port")),
		ClientID:       uuid.NewString(),
		Threads:        threads,
		Limit:          worker.ClampLimit(ctx.Int("limit"), threads),
		Executable:     ctx.String("executable"),
		WorkDir:        ctx.String("work-dir"),
		ReportInterval: ctx.Duration("report-interval"),
	}
}

func run(ctx *cli.Context) error {
	cfg := configFromFlags(ctx)
	log.Infow("startup", "clientID", cfg.ClientID, "coordinator", cfg.ServerURL, "threads", cfg.Threads, "limit", cfg.Limit)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := worker.NewClient(cfg.ServerURL, cfg.ClientID, cfg.WorkDir)
	pool := worker.NewPool(cfg, client, worker.NewBatchRunner(cfg.Executable))

	return pool.Run(sigCtx)
}

package worker

import (
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultExecutable     = "/usr/bin/airolib-ng"
	DefaultReportInterval = 3 * time.Second
)

type Config struct {
	// ServerURL is the coordinator base url, e.g. http://10.0.0.1:5000.
	ServerURL      string
	ClientID       string
	Threads        int
	Limit          int
	Executable     string
	WorkDir        string
	ReportInterval time.Duration
}

// DefaultWorkDir is where leased chunks are downloaded when no directory is
// configured.
func DefaultWorkDir() string {
	return filepath.Join(os.TempDir(), "pmkfleet-worker")
}

// ClampThreads keeps the unit count within [1, cpus].
func ClampThreads(requested, cpus int) int {
	if requested < 1 {
		log.Warnw("config", "status", "thread count must be positive, defaulting to 1", "requested", requested)
		return 1
	}

	if cpus > 0 && requested > cpus {
		log.Warnw("config", "status", "thread count larger than cpu count, defaulting to cpu count", "requested", requested, "cpus", cpus)
		return cpus
	}

	return requested
}

// ClampLimit raises a chunk limit below the thread count to the thread
// count. Zero means no limit.
func ClampLimit(limit, threads int) int {
	if limit <= 0 {
		return 0
	}

	if limit < threads {
		log.Infow("config", "status", "chunk limit below thread count, defaulting to thread count", "limit", limit, "threads", threads)
		return threads
	}

	return limit
}

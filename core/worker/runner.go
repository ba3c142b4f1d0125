package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
)

// BatchRunner runs the external batch executable against one chunk file.
type BatchRunner struct {
	Executable string
}

func NewBatchRunner(executable string) *BatchRunner {
	if executable == "" {
		executable = DefaultExecutable
	}

	return &BatchRunner{Executable: executable}
}

// Run blocks until the tool exits, calling onProgress for every progress
// line on stdout. A non-zero exit is reported as an *exec.ExitError.
func (b *BatchRunner) Run(ctx context.Context, unit int, chunkPath string, onProgress func(Progress)) error {
	cmd := exec.CommandContext(ctx, b.Executable, chunkPath, "--batch")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", b.Executable, err)
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debugw("batch", "unit", unit, "stderr", scanner.Text())
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		progress, ok := ParseProgress(line)
		if !ok {
			log.Debugw("batch", "unit", unit, "stdout", line)
			continue
		}

		log.Infow("batch", "unit", unit, "progress", line)
		if onProgress != nil {
			onProgress(progress)
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// keep the pipe flowing so the tool does not block on a full buffer
		io.Copy(io.Discard, stdout)
	}

	<-drained
	if err := cmd.Wait(); err != nil {
		return err
	}

	return scanErr
}

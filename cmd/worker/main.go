package main

import (
	"os"

	"github.com/pyropy/pmkfleet/lib/logger"
	"github.com/urfave/cli/v2"
)

var log, _ = logger.New("worker-cli")

func main() {
	app := &cli.App{
		Name:   "pmkfleet-worker",
		Usage:  "lease PMK chunks from a coordinator and batch them with airolib-ng",
		Flags:  flags,
		Before: setup,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalw("worker", "ERROR", err)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	core "github.com/pyropy/pmkfleet/core/coordinator"
	"github.com/pyropy/pmkfleet/lib/logger"
	"golang.org/x/sync/errgroup"
)

var log, _ = logger.New("coordinator-api")

func main() {
	if err := run(); err != nil {
		log.Fatalw("startup", "ERROR", err)
	}
}

func run() error {
	cfg, err := core.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	coordinator, err := core.NewCoordinator(cfg)
	if err != nil {
		log.Errorw("startup", "error", "couldn't load the inventory file, make sure the chunk path holds properly generated chunks", "path", cfg.Chunks.Path)
		return err
	}
	defer coordinator.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Errorw("startup", "error", "net listen failed")
		return err
	}

	api := NewCoordinatorAPI(coordinator)
	server := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("startup", "status", "coordinator http server started", "address", l.Addr().String(), "chunks", coordinator.Inventory.Len())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		return coordinator.Monitor.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutdown", "status", "coordinator http server stopping", "address", l.Addr().String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Infow("shutdown", "status", "coordinator http server stopped")
	return err
}

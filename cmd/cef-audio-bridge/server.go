package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qieqieplus/cef-audio-bridge/pkg/config"
	"github.com/qieqieplus/cef-audio-bridge/pkg/log"
	"github.com/qieqieplus/cef-audio-bridge/pkg/server"
)

func startServer(cfg *config.Config) {
	log.Info("Starting server...")

	p, err := newPipeline(cfg)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	wsServer := server.NewWebSocketServer(p.bus, p.manager, cfg)
	httpServer := server.NewHTTPServer(p.manager, p.bus, wsServer,
		server.WithGatherer(p.registry),
		server.WithRestart(p.restart),
	)

	// Start HTTP server in a goroutine
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpServer,
	}

	// The pipeline context must exist before any restart request can arrive.
	if err := p.start(context.Background()); err != nil {
		p.stop()
		log.Fatalf("Failed to start pipeline: %v", err)
	}

	go func() {
		log.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Reap subscribers whose clients stopped answering pings
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.bus.CleanupInactiveSubscribers(cfg.WebSocket.ReadTimeout)
			}
		}
	}()

	// Wait for shutdown signal
	waitForShutdown(srv, p)
}

func waitForShutdown(srv *http.Server, p *pipeline) {
	// Create channel to listen for OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received
	<-stop

	log.Info("Shutting down server...")

	// Create a context with a timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop the pipeline first so clients see their streams end
	p.stop()
	log.Info("Capture pipeline shut down successfully")

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Error during HTTP server shutdown: %v", err)
	} else {
		log.Info("HTTP server shut down successfully")
	}

	log.Info("Server shutdown complete.")
}

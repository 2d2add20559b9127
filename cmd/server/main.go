package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stepforge/walkthrough/internal/app/server"
	"github.com/stepforge/walkthrough/internal/platform/otel"
)

func main() {
	ctx := context.Background()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	otelShutdown, err := otel.Setup(ctx, "walkthrough")
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("failed to serve: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

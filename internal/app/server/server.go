// Package server assembles the walkthrough service: storage, generator,
// engine, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/stepforge/walkthrough/internal/api/httpapi"
	"github.com/stepforge/walkthrough/internal/observability/audit"
	"github.com/stepforge/walkthrough/internal/platform/config"
	"github.com/stepforge/walkthrough/internal/platform/timeouts"
	"github.com/stepforge/walkthrough/internal/storage/sqlite"
	"github.com/stepforge/walkthrough/internal/walkthrough/engine"
)

// Config carries the service's environment configuration. Variable names
// are read under the WALKTHROUGH_ prefix.
type Config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	DBPath    string `env:"DB_PATH" envDefault:"walkthrough.db"`
	ScriptDir string `env:"SCRIPT_DIR" envDefault:"scripts"`
}

// LoadConfig reads the service configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server is the assembled walkthrough service.
type Server struct {
	cfg   Config
	store *sqlite.Store
	http  *http.Server
}

// New opens storage and wires the service for the given configuration.
func New(cfg Config) (*Server, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	generator := engine.NewScriptGenerator(cfg.ScriptDir)
	runner := engine.NewRunner(store, generator)
	service := httpapi.NewService(runner, audit.NewEmitter(store))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           service.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{cfg: cfg, store: store, http: httpServer}, nil
}

// Serve blocks running the HTTP server until Shutdown is called.
func (s *Server) Serve() error {
	log.Printf("walkthrough service listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes storage.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Shutdown)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if closeErr := s.store.Close(); err == nil {
		err = closeErr
	}
	return err
}

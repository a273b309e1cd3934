// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/calm-otter-ops/siren/internal/api/health"
	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address   string
	JWTSecret []byte
	// ProducerToken is the static bearer token machine producers may
	// present on the ingest endpoint instead of a JWT. Empty disables
	// the static path.
	ProducerToken string
	TokenTTL      time.Duration
	// IngestRateLimit is requests per second per client IP on the
	// detections endpoint.
	IngestRateLimit float64
	IngestBurst     int
	Verbose         bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.IngestRateLimit == 0 {
		c.IngestRateLimit = 50
	}
	if c.IngestBurst == 0 {
		c.IngestBurst = 100
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	machine       *lifecycle.Machine
	tracker       *sla.Tracker
	ingestor      *ingest.Ingestor
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, machine *lifecycle.Machine, tracker *sla.Tracker, ingestor *ingest.Ingestor) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		machine:       machine,
		tracker:       tracker,
		ingestor:      ingestor,
		healthHandler: health.NewHandler(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}

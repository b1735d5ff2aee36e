package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/realm"
)

// SessionCounter reports live transport sessions; the transport adapter
// implements it.
type SessionCounter interface {
	SessionCount() int
}

// Options carries the server's collaborators.
type Options struct {
	// Realm is the land registry the admin surface operates on. Required.
	Realm *realm.Realm

	// Sessions reports transport session counts for /admin/system. Optional.
	Sessions SessionCounter

	// ReplayRecord resolves a land's in-progress recording for
	// /admin/lands/{landID}/replay. Optional.
	ReplayRecord func(landID string) (any, bool)

	// Version is the build version reported by /admin/system.
	Version string
}

// Server is the admin API HTTP server. It is created stopped; Start blocks
// until the context is cancelled.
type Server struct {
	server  *http.Server
	config  Config
	opts    Options
	started time.Time

	shutdownOnce sync.Once
}

// NewServer builds the admin API server.
func NewServer(config Config, opts Options) (*Server, error) {
	if opts.Realm == nil {
		return nil, fmt.Errorf("api: realm is required")
	}
	config.ApplyDefaults()

	s := &Server{config: config, opts: opts, started: time.Now()}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.newRouter(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API failed: %w", err)
	}
}

// Stop shuts the server down gracefully. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown: %w", err)
		} else {
			logger.Info("admin API stopped")
		}
	})
	return shutdownErr
}

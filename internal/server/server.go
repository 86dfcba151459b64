// Package server wires the gateway together: configuration, credential
// store backend, engine driver, session manager, dispatch and the HTTP
// surface.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/wagate/wagate/pkg/autoreply"
	"github.com/wagate/wagate/pkg/config"
	"github.com/wagate/wagate/pkg/credstore"
	credpg "github.com/wagate/wagate/pkg/credstore/postgres"
	"github.com/wagate/wagate/pkg/database/migrate"
	"github.com/wagate/wagate/pkg/dispatch"
	"github.com/wagate/wagate/pkg/engine"
	"github.com/wagate/wagate/pkg/gateway"
	"github.com/wagate/wagate/pkg/health"
	"github.com/wagate/wagate/pkg/session"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Server is the assembled gateway.
type Server struct {
	cfg     *config.Config
	db      *sql.DB
	store   credstore.Store
	manager *session.Manager
	checker *health.Checker
	handler http.Handler
}

// New builds a Server from configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, checker: health.NewChecker()}

	store, err := s.openStore()
	if err != nil {
		return nil, err
	}
	s.store = store

	responder := autoreply.NewResponder(autoreply.Config{
		Fallback:     cfg.AutoReply.Fallback,
		ReplyToKnown: cfg.AutoReply.ReplyToKnown,
	})
	for trigger, response := range cfg.AutoReply.Responses {
		responder.Table().Set(trigger, response)
	}

	manager, err := session.NewManager(session.Config{
		Store: store,
		Open: func(sessionID string) (engine.Engine, error) {
			return engine.Open(cfg.Engine.Driver, engine.Options{
				SessionID: sessionID,
				Settings:  cfg.Engine.Settings,
			})
		},
		OnMessage: responder.HandleMessage,
	})
	if err != nil {
		s.closePartial()
		return nil, err
	}
	s.manager = manager
	s.checker.SetSessionCounter(manager.Registry().Len)

	dispatcher, err := dispatch.NewService(dispatch.Config{
		Registry:      manager.Registry(),
		MaxFetchBytes: cfg.Dispatch.MaxFetchBytes,
	})
	if err != nil {
		s.closePartial()
		return nil, err
	}

	api := gateway.NewHandler(gateway.Config{
		Manager:        manager,
		Dispatcher:     dispatcher,
		Responder:      responder,
		AuthMiddleware: gateway.AuthMiddleware(cfg.Server.RequireAuth),
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	s.handler = mux

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Manager returns the session manager.
func (s *Server) Manager() *session.Manager {
	return s.manager
}

// Run bootstraps persisted sessions, serves HTTP and shuts down
// gracefully when the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.manager.Bootstrap(ctx); err != nil {
		// Bootstrap failure is not fatal: the store may recover, and
		// explicit creation requests can still resume sessions.
		slog.Error("bootstrap failed", "error", err)
	}
	s.checker.SetReady()

	httpSrv := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", s.cfg.Server.Address, "version", Version)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close releases all resources.
func (s *Server) Close() error {
	var errs []error
	if s.manager != nil {
		errs = append(errs, s.manager.Close())
	}
	s.closePartial()
	return errors.Join(errs...)
}

func (s *Server) closePartial() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openStore selects the credential store backend. The postgres backend
// owns schema migrations; the file backend only needs its directory.
func (s *Server) openStore() (credstore.Store, error) {
	switch s.cfg.Store.Backend {
	case config.BackendFile:
		store, err := credstore.NewFileStore(s.cfg.Store.File.Dir)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		slog.Info("credential store ready", "backend", "file", "dir", s.cfg.Store.File.Dir)
		return store, nil

	case config.BackendPostgres:
		db, err := sql.Open("postgres", s.cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		db.SetMaxOpenConns(s.cfg.Store.Postgres.MaxOpenConns)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pinging postgres: %w", errors.Join(credstore.ErrUnavailable, err))
		}
		if err := migrate.Run(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		slog.Info("credential store ready", "backend", "postgres")
		return credpg.New(db), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", s.cfg.Store.Backend)
	}
}

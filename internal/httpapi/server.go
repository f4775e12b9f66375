// Package httpapi exposes the session and dispatch operations over HTTP.
// Routes and response shapes follow the operator UI's expectations.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"wasend/internal/dispatch"
	"wasend/internal/session"
	"wasend/pkg/logx"
)

type Config struct {
	Addr string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	return c
}

// Server manages the HTTP listener lifecycle.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string

	manager    *session.Manager
	dispatcher *dispatch.Dispatcher
}

func NewServer(manager *session.Manager, dispatcher *dispatch.Dispatcher, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{log: log.With(logx.String("comp", "httpapi")), manager: manager, dispatcher: dispatcher}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", logx.String("addr", s.addr), logx.Err(err))
		}
	}()
	s.log.Info("http api listening", logx.String("addr", s.addr))
	return nil
}

// Addr returns the bound address ("" when stopped). Useful in tests with
// ":0" listeners.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.addr = ""
	s.mu.Unlock()
	if srv == nil {
		return
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown failed", logx.Err(err))
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/initialize", s.handleInitialize)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/identity", s.handleIdentity)
	mux.HandleFunc("GET /api/identity/{id}", s.handleIdentity)
	mux.HandleFunc("POST /api/send-bulk", s.handleSendBulk)
	mux.HandleFunc("POST /api/send-test", s.handleSendTest)
	mux.HandleFunc("POST /api/validate-numbers", s.handleValidate)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /api/disconnect/{id}", s.handleDisconnect)
	mux.HandleFunc("POST /api/force-cleanup", s.handleForceCleanup)
	mux.HandleFunc("POST /api/force-cleanup/{id}", s.handleForceCleanup)

	return mux
}

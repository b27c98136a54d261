// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api is the thin HTTP/WebSocket gateway named (but left out of
// scope for depth of implementation) in spec.md §6. It exposes the control
// surface over internal/engine and the per-session chat transport over
// internal/observer, following internal/api/router.go's gorilla/mux
// subrouter structure.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/wingedpig/sessiond/internal/config"
	"github.com/wingedpig/sessiond/internal/engine"
	"github.com/wingedpig/sessiond/internal/gateway/handlers"
	"github.com/wingedpig/sessiond/internal/gateway/middleware"
	"github.com/wingedpig/sessiond/internal/observer"
)

// Dependencies holds what the router needs to wire up handlers.
type Dependencies struct {
	Engine   *engine.Engine
	Observer *observer.Observer
	// Restarter is optional; when set, it wires POST
	// /api/test/restart-engine. internal/app's *App satisfies it.
	Restarter handlers.Restarter
}

// NewRouter builds the gateway's mux.Router over deps.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	session := handlers.NewSessionHandler(deps.Engine, deps.Observer)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", session.ListAgents).Methods("GET")
	api.HandleFunc("/agents", session.CreateAgent).Methods("POST")
	api.HandleFunc("/agents/{id}", session.InterruptAgent).Methods("DELETE")
	api.HandleFunc("/test/destroy-session/{id}", session.DestroySession).Methods("POST")

	if deps.Restarter != nil {
		control := handlers.NewControlHandler(deps.Restarter)
		api.HandleFunc("/test/restart-engine", control.RestartEngine).Methods("POST")
	}

	r.HandleFunc("/ws/chat/{id}", session.ChatStream).Methods("GET")

	return r
}

// Server wraps an http.Server over the gateway's router. The router is
// held behind a mutex so UpdateDependencies can swap it out from under a
// live listener (used by the restart-engine control endpoint).
type Server struct {
	mu     sync.RWMutex
	router *mux.Router
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer builds a Server listening per cfg.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	return &Server{router: NewRouter(deps), cfg: cfg}
}

// Router returns the underlying mux.Router, mainly for tests.
func (s *Server) Router() *mux.Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// UpdateDependencies rebuilds the router over deps and swaps it in place,
// without interrupting a running ListenAndServe.
func (s *Server) UpdateDependencies(deps Dependencies) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = NewRouter(deps)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	router := s.router
	s.mu.RUnlock()
	router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP (or HTTPS, if TLSCert/TLSKey are set)
// server. It blocks until the server stops or fails.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(s.serveHTTP),
	}

	if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
		log.Printf("gateway listening on https://%s", addr)
		return s.server.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
	}

	log.Printf("gateway listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}

// Package api exposes the engine's status and control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/arscape/artifact-engine/internal/artifactcache"
	"github.com/arscape/artifact-engine/internal/modelpool"
	"github.com/arscape/artifact-engine/internal/monitor"
)

// HostController mediates pin operations on tracked marker hosts.
type HostController interface {
	Pin(markerID string) (bool, error)
	Unpin(markerID string) (bool, error)
}

// Dependencies holds the server's collaborators.
type Dependencies struct {
	Cache   *artifactcache.Cache
	Pool    *modelpool.Pool
	Monitor *monitor.Service
	Hosts   HostController
	Log     zerolog.Logger
}

// Server serves the status and control API.
type Server struct {
	deps Dependencies
	srv  *http.Server
}

// NewServer builds the server for the given listen address.
func NewServer(deps Dependencies, listenAddr string) *Server {
	s := &Server{deps: deps}
	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	r.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/v1/artifacts", s.handleArtifacts).Methods("GET")
	r.HandleFunc("/api/v1/pool/stats", s.handlePoolStats).Methods("GET")
	r.HandleFunc("/api/v1/markers/{id}/pin", s.handlePin).Methods("POST")
	r.HandleFunc("/api/v1/markers/{id}/unpin", s.handleUnpin).Methods("POST")
	r.HandleFunc("/api/v1/cache", s.handleClearCache).Methods("DELETE")

	return r
}

// Start runs the server until Shutdown.
func (s *Server) Start() {
	go func() {
		s.deps.Log.Info().Str("addr", s.srv.Addr).Msg("Status API listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Log.Error().Err(err).Msg("Status API server failed")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Monitor.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.History())
}

func (s *Server) handleArtifacts(w http.ResponseWriter, _ *http.Request) {
	artifacts, err := s.deps.Cache.ListArtifacts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	s.handlePinChange(w, r, s.deps.Hosts.Pin)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	s.handlePinChange(w, r, s.deps.Hosts.Unpin)
}

func (s *Server) handlePinChange(w http.ResponseWriter, r *http.Request, op func(string) (bool, error)) {
	markerID := mux.Vars(r)["id"]
	pinned, err := op(markerID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markerId": markerID,
		"pinned":   pinned,
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Cache.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.deps.Pool.Clear()
	s.deps.Log.Info().Msg("Cache cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

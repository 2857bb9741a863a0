// Package server provides the HTTP API of the serving process.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/daemon/hub"
	"github.com/grovetools/slidesync/internal/metrics"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/version"
)

// DefaultHeartbeat is the interval of keep-alive comments on event streams.
const DefaultHeartbeat = 15 * time.Second

// ConfigStore is the configuration the API reads and replaces.
type ConfigStore interface {
	Read() *config.Snapshot
	Replace(partial map[string]interface{}) (*config.Snapshot, config.ChangeSet, error)
}

// Jobs is the serving half of the reprocessing protocol.
type Jobs interface {
	RequestJob(ctx context.Context, reason string) error
	RequestOnGeometryChange(ctx context.Context, changes config.ChangeSet) (bool, error)
	Status(ctx context.Context) sentinel.Status
	Clear(ctx context.Context) error
}

// Server manages the HTTP server.
type Server struct {
	logger    *logrus.Entry
	mu        sync.Mutex
	server    *http.Server
	hub       *hub.Hub
	store     ConfigStore
	jobs      Jobs
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	startedAt time.Time
}

// New creates a new Server instance.
func New(logger *logrus.Entry, h *hub.Hub, store ConfigStore, jobs Jobs) *Server {
	return &Server{
		logger:    logger,
		hub:       h,
		store:     store,
		jobs:      jobs,
		heartbeat: DefaultHeartbeat,
		startedAt: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// SetHeartbeat changes the keep-alive interval of event streams.
func (s *Server) SetHeartbeat(d time.Duration) {
	s.heartbeat = d
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))

	// Event streams are not instrumented: they stay open for the connection's life.
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/images", s.instrument("/api/images", s.handleListImages))
	mux.HandleFunc("GET /images/{filename}", s.instrument("/images", s.handleImage))
	mux.HandleFunc("GET /api/config", s.instrument("/api/config", s.handlePublicConfig))

	admin := http.NewServeMux()
	admin.HandleFunc("GET /api/admin/config", s.instrument("/api/admin/config", s.handleGetConfig))
	admin.HandleFunc("POST /api/admin/config", s.instrument("/api/admin/config", s.handleUpdateConfig))
	admin.HandleFunc("GET /api/admin/stats", s.instrument("/api/admin/stats", s.handleStats))
	admin.HandleFunc("POST /api/admin/reprocess", s.instrument("/api/admin/reprocess", s.handleReprocess))
	admin.HandleFunc("DELETE /api/admin/reprocess", s.instrument("/api/admin/reprocess", s.handleClearReprocess))
	admin.HandleFunc("GET /api/admin/reprocess-status", s.instrument("/api/admin/reprocess-status", s.handleReprocessStatus))
	admin.Handle("/admin/", http.HandlerFunc(s.handleStatic))
	mux.Handle("/api/admin/", s.adminOnly(admin))
	mux.Handle("/admin/", s.adminOnly(admin))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/", s.handleStatic)

	return mux
}

// ListenAndServe serves on the configured port, with TLS when enabled.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(addr string) error {
	snap := s.store.Read()
	if addr == "" {
		addr = ":" + strconv.Itoa(snap.Port)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if snap.HTTPS.Enabled {
		s.logger.WithField("addr", listener.Addr().String()).Info("Server listening (https)")
		return srv.ServeTLS(listener, snap.Resolve(snap.HTTPS.Cert), snap.Resolve(snap.HTTPS.Key))
	}
	s.logger.WithField("addr", listener.Addr().String()).Info("Server listening")
	return srv.Serve(listener)
}

// Shutdown disconnects event streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.hub.Close()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).Seconds(),
		"version": version.Version,
	})
}

func (s *Server) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"slideshowInterval": snap.SlideshowInterval,
		"randomOrder":       snap.RandomOrder,
	})
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Read()
	http.FileServer(http.Dir(snap.Resolve(snap.StaticPath))).ServeHTTP(w, r)
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

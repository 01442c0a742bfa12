// Package api provides the thin HTTP and WebSocket surface over the
// engine's add_runner/remove_runner/feed_bar/get_snapshot/get_history/
// pause/resume/stop/subscribe_events operations.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/config"
	"github.com/atlas-desktop/stratrunner/internal/engine"
	"github.com/atlas-desktop/stratrunner/internal/runner"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// Server is the HTTP/WebSocket API server fronting an Engine.
type Server struct {
	logger     *zap.Logger
	cfg        config.ServerConfig
	engine     *engine.Engine
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
}

// NewServer wires routes for every Engine operation plus a WS event
// stream and a Prometheus /metrics endpoint.
func NewServer(logger *zap.Logger, cfg config.ServerConfig, eng *engine.Engine) *Server {
	s := &Server{
		logger: logger.Named("api"),
		cfg:    cfg,
		engine: eng,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hub: newHub(logger.Named("hub")),
	}
	go s.hub.run()
	go s.pumpEngineEvents()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.engine.PrometheusRegistry(), promhttp.HandlerOpts{})).Methods("GET")

	s.router.HandleFunc("/api/v1/runners", s.handleAddRunner).Methods("POST")
	s.router.HandleFunc("/api/v1/runners/{id}", s.handleRemoveRunner).Methods("DELETE")
	s.router.HandleFunc("/api/v1/runners/{id}/snapshot", s.handleGetSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/runners/{id}/history", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/runners/{id}/pause", s.handlePause).Methods("POST")
	s.router.HandleFunc("/api/v1/runners/{id}/resume", s.handleResume).Methods("POST")
	s.router.HandleFunc("/api/v1/runners/{id}/stop", s.handleStop).Methods("POST")

	s.router.HandleFunc("/api/v1/bars", s.handleFeedBar).Methods("POST")
	s.router.HandleFunc("/api/v1/summary", s.handleSummary).Methods("GET")
	s.router.HandleFunc("/api/v1/health_check", s.handleHealthCheck).Methods("GET")

	s.router.HandleFunc("/ws/events", s.handleWebSocket)
}

// Start runs the HTTP server until it returns (normally on Shutdown).
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	handler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Router exposes the underlying mux.Router for tests (e.g. httptest.NewServer).
func (s *Server) Router() *mux.Router { return s.router }

// Shutdown gracefully stops the HTTP server and WebSocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// pumpEngineEvents relays every engine event onto the WS hub's broadcast
// channel, independent of which runner emitted it.
func (s *Server) pumpEngineEvents() {
	sub := s.engine.SubscribeEvents()
	defer sub.Unsubscribe()
	for ev := range sub.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Warn("failed to marshal event", zap.Error(err))
			continue
		}
		s.hub.broadcast <- payload
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "time": time.Now().Unix()})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.HealthCheck())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

type addRunnerRequest struct {
	ID             string `json:"id"`
	Symbol         string `json:"symbol"`
	ScriptPath     string `json:"script_path"`
	WindowCapacity int    `json:"window_capacity"`
	StopOnError    bool   `json:"stop_on_error"`
}

func (s *Server) handleAddRunner(w http.ResponseWriter, r *http.Request) {
	var req addRunnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.Symbol == "" || req.ScriptPath == "" {
		writeError(w, http.StatusBadRequest, "id, symbol, and script_path are required")
		return
	}

	cfg := runner.DefaultConfig()
	if req.WindowCapacity > 0 {
		cfg.WindowCapacity = req.WindowCapacity
	}
	cfg.StopOnError = req.StopOnError

	if err := s.engine.AddRunner(req.ID, req.Symbol, req.ScriptPath, cfg); err != nil {
		switch err {
		case engine.ErrDuplicateID:
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID, "status": "running"})
}

func (s *Server) handleRemoveRunner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.RemoveRunner(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.engine.GetSnapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "runner not found or snapshot query timed out")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n := 50
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}
	bars, ok := s.engine.GetHistory(id, n)
	if !ok {
		writeError(w, http.StatusNotFound, "runner not found or history query timed out")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runner_id": id, "bars": bars, "count": len(bars)})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Pause(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Resume(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopped"})
}

func (s *Server) handleFeedBar(w http.ResponseWriter, r *http.Request) {
	var bar types.Bar
	if err := json.NewDecoder(r.Body).Decode(&bar); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bar payload")
		return
	}
	if err := s.engine.FeedBar(bar); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	client := newClient(s.hub, conn)
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

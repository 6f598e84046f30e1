// Package web serves the read-only status endpoint and a WebSocket
// feed of reflector events.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/svxgo/svxreflector/pkg/config"
	"github.com/svxgo/svxreflector/pkg/logger"
	"github.com/svxgo/svxreflector/pkg/reflector"
)

// StatusProvider supplies the node snapshot for the status endpoint
type StatusProvider interface {
	Status() []reflector.NodeStatus
}

// Server is the status HTTP server
type Server struct {
	cfg    config.WebConfig
	log    *logger.Logger
	status StatusProvider
	hub    *Hub
}

// NewServer creates a web server for the given status provider
func NewServer(cfg config.WebConfig, status StatusProvider, log *logger.Logger) *Server {
	return &Server{
		cfg:    cfg,
		log:    log,
		status: status,
		hub:    NewHub(log),
	}
}

// Hub returns the event hub; register it as a reflector event sink
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the HTTP server until the context is canceled
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("Web server is disabled")
		return nil
	}

	go s.hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/ws", s.hub.Handler())

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	s.log.Info("Web server started", logger.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errChan:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus renders the node map: address, protocol version,
// current and monitored TGs and whether the node is the talker
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"msg": r.Method + ": Method not implemented",
		})
		return
	}

	nodes := make(map[string]reflector.NodeStatus)
	for _, n := range s.status.Status() {
		nodes[n.Callsign] = n
	}

	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"nodes": nodes}); err != nil {
		s.log.Warn("Failed to encode status", logger.Error(err))
	}
}

// Package api serves the device configuration surface over HTTP and streams
// status updates over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chase3718/pedalmidi/internal/device"
)

const (
	maxBodyBytes   = 64 << 10
	requestTimeout = 2 * time.Second
	statusQueue    = 64
)

// Doer runs fn on the goroutine that owns the device.
type Doer interface {
	Do(ctx context.Context, fn func(device.Handler)) error
}

// Config wires a Server.
type Config struct {
	Hub HubConfig
	// Ports, when set, reports the connected MIDI input and output names.
	Ports func() (in, out string)
}

// Server exposes a device through HTTP handlers.
type Server struct {
	logger   *slog.Logger
	dev      Doer
	hub      *Hub
	statuses chan device.Status
	ports    func() (in, out string)
}

// NewServer constructs the API. Register its handler on an HTTP server and
// start Run(ctx).
func NewServer(dev Doer, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:   logger,
		dev:      dev,
		hub:      NewHub(logger, cfg.Hub),
		statuses: make(chan device.Status, statusQueue),
		ports:    cfg.Ports,
	}
}

// Hub returns the status stream hub.
func (s *Server) Hub() *Hub { return s.hub }

// PublishStatus queues a status update for stream clients. It never blocks,
// so it is safe to call from the device loop.
func (s *Server) PublishStatus(st device.Status) {
	select {
	case s.statuses <- st:
	default:
		s.logger.Debug("api: status queue full, dropping update")
	}
}

// Run drives the hub and the status broadcaster until ctx is canceled.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)
	RunBroadcaster(ctx, s.hub, s.statuses, s.logger)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("PUT /config", s.handlePutConfig)
	mux.HandleFunc("GET /schema", s.handleSchema)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /midi", s.handleMIDI)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// do runs fn against the device with a per-request deadline.
func (s *Server) do(r *http.Request, fn func(device.Handler)) error {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	return s.dev.Do(ctx, fn)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	var doc []byte
	var docErr error
	if err := s.do(r, func(h device.Handler) { doc, docErr = h.ExportConfig() }); err != nil {
		s.unavailable(w, err)
		return
	}
	if docErr != nil {
		writeError(w, http.StatusInternalServerError, docErr)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	var doc []byte
	var importErr, exportErr error
	err = s.do(r, func(h device.Handler) {
		if importErr = h.ImportConfig(body); importErr != nil {
			return
		}
		doc, exportErr = h.ExportConfig()
	})
	switch {
	case err != nil:
		s.unavailable(w, err)
	case errors.Is(importErr, device.ErrNotObject):
		writeError(w, http.StatusBadRequest, importErr)
	case importErr != nil:
		writeError(w, http.StatusInternalServerError, importErr)
	case exportErr != nil:
		writeError(w, http.StatusInternalServerError, exportErr)
	default:
		s.logger.Info("api: config imported", "remote_addr", r.RemoteAddr)
		writeRaw(w, http.StatusOK, doc)
	}
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	var doc []byte
	var docErr error
	if err := s.do(r, func(h device.Handler) { doc, docErr = h.Schema() }); err != nil {
		s.unavailable(w, err)
		return
	}
	if docErr != nil {
		writeError(w, http.StatusInternalServerError, docErr)
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st device.Status
	if err := s.do(r, func(h device.Handler) { st = h.Status() }); err != nil {
		s.unavailable(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var st device.Status
	if err := s.do(r, func(h device.Handler) {
		h.Reset()
		st = h.Status()
	}); err != nil {
		s.unavailable(w, err)
		return
	}
	s.logger.Info("api: reset requested", "remote_addr", r.RemoteAddr)
	writeJSON(w, http.StatusOK, st)
}

type midiPorts struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

func (s *Server) handleMIDI(w http.ResponseWriter, r *http.Request) {
	var p midiPorts
	if s.ports != nil {
		p.Input, p.Output = s.ports()
	}
	writeJSON(w, http.StatusOK, p)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades, queues status_init and only then registers the
// client, so the snapshot is always its first frame. A change published
// between the snapshot and registration reaches it with the next status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("api: ws upgrade failed", "err", err)
		return
	}
	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	var st device.Status
	if err := s.do(r, func(h device.Handler) { st = h.Status() }); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("api: ws snapshot failed", "id", client.id, "err", err)
		}
		client.close()
		return
	}
	msg, err := marshalEnvelope(TypeStatusInit, st)
	if err != nil {
		s.logger.Warn("api: ws snapshot marshal failed", "err", err)
		client.close()
		return
	}
	client.trySend(msg)

	s.hub.register <- client

	// The pumps outlive the request; the hub and connection errors end them.
	go client.writePump()
	go client.readPump()
}

func (s *Server) unavailable(w http.ResponseWriter, err error) {
	s.logger.Warn("api: device request failed", "err", err)
	writeError(w, http.StatusServiceUnavailable, fmt.Errorf("device busy: %w", err))
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, code, b)
}

func writeRaw(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

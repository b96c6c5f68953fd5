// Package server is the HTTP front end of the gateway. It only routes requests to the
// registry, the connection manager and the characteristic gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/ecogate/internal/catalog"
	"github.com/srg/ecogate/internal/device"
)

// DeviceStore is the read side of the device registry
type DeviceStore interface {
	List() []device.Snapshot
	ListPaired() []device.Snapshot
	Get(identity string) (device.Snapshot, error)
}

// Connector starts connect sequences
type Connector interface {
	ConnectAsync(ctx context.Context, identity string) error
}

// CharacteristicGateway reads and writes characteristics by symbolic name
type CharacteristicGateway interface {
	Read(ctx context.Context, identity, name string) ([]byte, error)
	Write(ctx context.Context, identity, name string, payload []byte) error
	Characteristics() []catalog.Entry
}

// Config holds server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the gateway's HTTP server
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration

	devices   DeviceStore
	connector Connector
	gateway   CharacteristicGateway
	logger    *logrus.Logger
}

// New creates a new server instance
func New(cfg Config, devices DeviceStore, connector Connector, gateway CharacteristicGateway, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		shutdownTimeout: cfg.ShutdownTimeout,
		devices:         devices,
		connector:       connector,
		gateway:         gateway,
		logger:          logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.logRequests(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		s.logger.Info("HTTP server shut down gracefully")
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /devices", s.handleListDevices)
	mux.HandleFunc("GET /devices/{id}", s.handleGetDevice)
	mux.HandleFunc("POST /devices/{id}/connect", s.handleConnect)
	mux.HandleFunc("GET /devices/{id}/characteristics/{name}", s.handleRead)
	mux.HandleFunc("PUT /devices/{id}/characteristics/{name}", s.handleWrite)
	mux.HandleFunc("GET /characteristics", s.handleCharacteristics)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err).Warn("Failed to encode response")
	}
}

// writeError maps gateway errors to HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := device.KindOf(err)
	s.writeJSON(w, statusFor(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Kind: "bad_request"})
}

func statusFor(kind device.ErrorKind) int {
	switch kind {
	case device.KindDeviceNotFound, device.KindUnknownCharacteristic:
		return http.StatusNotFound
	case device.KindNotAuthorized:
		return http.StatusForbidden
	case device.KindBusy, device.KindInvalidState:
		return http.StatusConflict
	case device.KindTimeout:
		return http.StatusGatewayTimeout
	case device.KindLinkFailure, device.KindPairing, device.KindAuthorization:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

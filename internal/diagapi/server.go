package diagapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/knx-tpuart-gateway/internal/device"
	"github.com/nerrad567/knx-tpuart-gateway/internal/eventlog"
)

// Logger is the minimal structured-logging surface this package
// needs, satisfied by internal/infrastructure/logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EventReader is the read-only slice of *eventlog.DB the diagnostics
// API needs for postmortem queries.
type EventReader interface {
	Recent(limit int) ([]eventlog.Event, error)
}

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server serves the diagnostics HTTP API and WebSocket feed for one
// device.
type Server struct {
	dev       *device.Device
	jwtSecret string
	logger    Logger
	hub       *hub
	httpSrv   *http.Server
	events    EventReader
}

// New returns a Server bound to dev. address is the listen address
// (e.g. ":8080"); jwtSecret signs and validates admin bearer tokens.
func New(dev *device.Device, address, jwtSecret string, logger Logger) *Server {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Server{
		dev:       dev,
		jwtSecret: jwtSecret,
		logger:    logger,
		hub:       newHub(logger),
	}
	s.httpSrv = &http.Server{
		Addr:              address,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Hub returns the server's event broadcaster, for wiring into the
// device's link-event and update hooks.
func (s *Server) Hub() *hub { return s.hub }

// SetEventLog attaches the event log the /events route reads from.
// Leaving it unset makes /events report an empty history, matching
// the event log being an independently optional component.
func (s *Server) SetEventLog(r EventReader) { s.events = r }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/objects", s.handleListObjects)
		r.Get("/events", s.handleRecentEvents)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/bus/reset", s.handleBusReset)
			r.Post("/objects/{ga}/write", s.handleWriteObject)
		})
	})
	return r
}

// ListenAndServe starts the HTTP server. It blocks until the server
// stops or ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		s.hub.closeAll()
	}()

	err := s.httpSrv.ListenAndServe()
	if err != nil && errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

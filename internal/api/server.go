package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/journal"
	"github.com/nerrad567/gray-logic-relay/internal/metrics"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// HTTP server timeouts. Every endpoint answers from memory or a single
// indexed query.
const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// StatusSource reports live connection and queue state. *relay.Relay
// satisfies it.
type StatusSource interface {
	Status() relay.Status
}

// MetricsSource reports event counters. *metrics.Recorder satisfies it.
type MetricsSource interface {
	Summary(ctx context.Context) (metrics.Summary, error)
}

// HealthChecker is an optional sink checked by the health endpoint.
// *database.DB and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Relay   StatusSource
	Metrics MetricsSource            // optional
	Journal journal.Repository       // optional; /events answers 404 without it
	Hub     *Hub                     // optional; /events/ws answers 404 without it
	Checks  map[string]HealthChecker // optional; reported by /health under their names
	Version string
}

// Server is the HTTP status server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	relay     StatusSource
	metrics   MetricsSource
	journal   journal.Repository
	hub       *Hub
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Relay are required; the rest are optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	if deps.Relay == nil {
		return nil, fmt.Errorf("%w: relay status", ErrMissingDependency)
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.With("component", "api"),
		relay:     deps.Relay,
		metrics:   deps.Metrics,
		journal:   deps.Journal,
		hub:       deps.Hub,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves requests in a background goroutine.
// Bind errors are returned here rather than logged later.
//
// Parameters:
//   - ctx: Context for the bind; it does not bound the server lifetime
//
// Returns:
//   - error: wraps ErrListenFailed if the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrListenFailed, addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Info("status API listening", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects event stream clients and shuts down the server,
// waiting up to five seconds for in-flight requests.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status API shutting down")
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}

// Package server exposes the voice assistant over HTTP: the /ws/speech
// WebSocket endpoint that multiplexes binary audio and JSON control frames,
// the REST companion endpoints, and the health and metrics surfaces.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mylee04/email-manager/internal/archive"
	"github.com/mylee04/email-manager/internal/conversation"
	"github.com/mylee04/email-manager/internal/health"
	"github.com/mylee04/email-manager/internal/observe"
	"github.com/mylee04/email-manager/pkg/provider/stt"
)

const (
	// workerJoinTimeout bounds how long a closing connection waits for its
	// recognition worker to exit before tearing the session down anyway.
	workerJoinTimeout = 5 * time.Second

	// controlAckTimeout bounds bridge waits for control-frame acknowledgements.
	controlAckTimeout = 1 * time.Second

	readHeaderTimeout = 10 * time.Second
)

// Config carries the HTTP server tunables.
type Config struct {
	// ListenAddr is the address the HTTP server binds to.
	ListenAddr string

	// AllowedOrigins are the origin patterns accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string

	// Worker is the per-session recognition worker configuration, including
	// the stream settings passed to the STT provider.
	Worker conversation.WorkerConfig
}

// TurnSearcher runs full-text queries over archived turns. *archive.Store
// implements it.
type TurnSearcher interface {
	Search(ctx context.Context, query string, opts archive.SearchOpts) ([]conversation.ConversationTurn, error)
}

// Deps are the collaborators the server wires into its handlers. History is
// optional; when nil the history search endpoint reports the archive as
// unavailable.
type Deps struct {
	Store   *conversation.Store
	STT     stt.Provider
	Turns   *conversation.TurnProcessor
	History TurnSearcher
	Metrics *observe.Metrics
	Health  *health.Handler
	Logger  *slog.Logger
}

// Server is the HTTP front of the assistant. It owns the router, the listener
// lifecycle, and the registry of live WebSocket sessions.
type Server struct {
	cfg     Config
	store   *conversation.Store
	stt     stt.Provider
	turns   *conversation.TurnProcessor
	history TurnSearcher
	metrics *observe.Metrics
	logger  *slog.Logger

	router  chi.Router
	httpSrv *http.Server
	conns   *ConnectionManager
}

// New assembles the server and its routes.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = health.New()
	}

	s := &Server{
		cfg:     cfg,
		store:   deps.Store,
		stt:     deps.STT,
		turns:   deps.Turns,
		history: deps.History,
		metrics: metrics,
		logger:  logger,
		conns:   NewConnectionManager(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(observe.Middleware(metrics))

	r.Get("/ws/speech", s.handleSpeech)
	r.Route("/api", func(r chi.Router) {
		r.Post("/command", s.handleCommand)
		r.Post("/transcribe", s.handleTranscribe)
		r.Get("/health", s.handleHealth)
		r.Get("/speech/status", s.handleSpeechStatus)
		r.Get("/history/search", s.handleHistorySearch)
	})
	healthHandler.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP listener until it fails or Shutdown is called. It
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"addr", s.cfg.ListenAddr,
		"tls", s.cfg.TLSCertFile != "")

	var err error
	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		err = s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops every live WebSocket session and then drains the HTTP
// listener within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	n := s.conns.Shutdown()
	if n > 0 {
		s.logger.Info("stopping live sessions", "count", n)
	}
	return s.httpSrv.Shutdown(ctx)
}

// ─────────────────────────────── Connections ───────────────────────────────

// ConnectionManager tracks the cancel function of every live WebSocket
// session so that server shutdown can cascade a stop to all of them.
type ConnectionManager struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewConnectionManager returns an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{cancels: make(map[string]context.CancelFunc)}
}

// Register tracks the session's cancel function.
func (m *ConnectionManager) Register(sessionID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[sessionID] = cancel
}

// Unregister forgets the session. Safe to call for unknown IDs.
func (m *ConnectionManager) Unregister(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, sessionID)
}

// Len returns the number of live sessions.
func (m *ConnectionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cancels)
}

// Shutdown cancels every live session and returns how many were cancelled.
// The sessions unregister themselves as their handlers unwind.
func (m *ConnectionManager) Shutdown() int {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

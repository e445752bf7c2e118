package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/glance/internal/config"
	"github.com/ent0n29/glance/internal/observability"
	"github.com/ent0n29/glance/internal/protocol"
	"github.com/ent0n29/glance/internal/records"
	"github.com/ent0n29/glance/internal/session"
)

// Engine runs one websocket connection against its session.
type Engine interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.Inbound, outbound chan<- any) error
}

const defaultMaxMessageBytes = 16 << 20

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	engine   Engine
	records  records.Store
	metrics  *observability.Metrics
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader

	// conns tracks websocket handlers, which http.Server.Shutdown does not
	// wait for once the connection is hijacked.
	connsMu  sync.Mutex
	draining bool
	conns    sync.WaitGroup
}

func New(cfg config.Config, sessions *session.Manager, engine Engine, store records.Store, metrics *observability.Metrics, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		records:  store,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 16 << 10,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may stream a user's screen unless
				// explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// WaitConnections refuses new websocket upgrades and blocks until every
// handler has returned or ctx is done. Close the sessions first so the
// handlers actually exit.
func (s *Server) WaitConnections(ctx context.Context) error {
	s.connsMu.Lock()
	s.draining = true
	s.connsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) trackConn() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.draining {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Delete("/v1/perf/latency", s.handlePerfReset)

	r.Get("/v1/guide/ws", s.handleGuideWS)
	r.Get("/v1/sessions", s.handleListSessions)

	r.Route("/v1/records", func(r chi.Router) {
		r.Post("/", s.handleCreateRecord)
		r.Get("/", s.handleListRecords)
		r.Get("/{id}", s.handleGetRecord)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "engine not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"records_enabled":   s.records != nil,
		"inactivity_ttl_ms": s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	list := s.sessions.List()
	respondJSON(w, http.StatusOK, map[string]any{
		"count":    len(list),
		"sessions": list,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

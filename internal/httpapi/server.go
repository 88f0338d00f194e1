package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/auth"
	"github.com/ent0n29/taskhub/internal/config"
	"github.com/ent0n29/taskhub/internal/notify"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/schema"
	"github.com/ent0n29/taskhub/internal/session"
	"github.com/ent0n29/taskhub/internal/taskservice"
)

const maxBodyBytes = 1 << 20

// Deps are the collaborators the HTTP and socket surfaces call into.
type Deps struct {
	Config    config.Config
	Auth      *auth.Service
	Tasks     *taskservice.Service
	Registry  *session.Registry
	Router    *notify.Router
	Validator *schema.Validator
	Metrics   *observability.Metrics
	Logger    log.FieldLogger

	// StoreMode and RelayEnabled are reported by the health endpoints.
	StoreMode    string
	RelayEnabled bool
}

type Server struct {
	cfg       config.Config
	auth      *auth.Service
	tasks     *taskservice.Service
	registry  *session.Registry
	router    *notify.Router
	validator *schema.Validator
	parser    *protocol.Parser
	metrics   *observability.Metrics
	logger    log.FieldLogger
	upgrader  websocket.Upgrader
	routes    map[protocol.MessageType]socketRoute

	storeMode    string
	relayEnabled bool

	// tracks live socket handlers so Shutdown can wait for their cleanup
	sockets sync.WaitGroup
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	validator := d.Validator
	if validator == nil {
		validator = schema.MustNew()
	}
	cfg := d.Config
	if cfg.WSWriteTimeout <= 0 {
		cfg.WSWriteTimeout = 10 * time.Second
	}
	if cfg.WSPongTimeout <= 0 {
		cfg.WSPongTimeout = 60 * time.Second
	}
	if cfg.WSOutboundBuffer <= 0 {
		cfg.WSOutboundBuffer = 256
	}
	s := &Server{
		cfg:          cfg,
		auth:         d.Auth,
		tasks:        d.Tasks,
		registry:     d.Registry,
		router:       d.Router,
		validator:    validator,
		parser:       protocol.NewParser(validator),
		metrics:      d.Metrics,
		logger:       logger.WithField("component", "http"),
		storeMode:    d.StoreMode,
		relayEnabled: d.RelayEnabled,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if d.Config.AllowAnyOrigin {
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
	s.routes = s.socketRoutes()
	if s.registry != nil {
		s.registry.SetExpireHook(func(c session.Conn) {
			if wc, ok := c.(*wsConn); ok {
				s.logger.WithFields(log.Fields{"conn_id": wc.id, "user_id": wc.userID}).Info("closing idle connection")
				wc.close()
			}
		})
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/api/perf/latency", s.handlePerfLatency)
	r.Get("/ws", s.handleSocket)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/me", s.handleMe)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListUsers)
		r.Get("/profile", s.handleProfile)
		r.Put("/profile", s.handleUpdateProfile)
		r.Delete("/account", s.handleDeleteAccount)
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Get("/stats/overview", s.handleTaskStats)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Put("/", s.handleUpdateTask)
			r.Patch("/", s.handleUpdateTask)
			r.Delete("/", s.handleDeleteTask)
			r.Post("/share", s.handleShareTask)
			r.Delete("/share/{userId}", s.handleUnshareTask)
			r.Post("/comments", s.handleCommentTask)
		})
	})

	return r
}

// Shutdown waits for socket handlers to finish unregistering. Callers close
// the listener first.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, c := range s.registry.All() {
		if wc, ok := c.(*wsConn); ok {
			wc.close()
		}
	}
	done := make(chan struct{})
	go func() {
		s.sockets.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.healthBody("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.healthBody("ready"))
}

func (s *Server) healthBody(status string) map[string]any {
	conns, users := s.registry.Counts()
	return map[string]any{
		"status":        status,
		"store_mode":    s.storeMode,
		"relay_enabled": s.relayEnabled,
		"connections":   conns,
		"online_users":  users,
	}
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotLatency())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

// decodeValidated reads the request body, checks it against the named
// schema, then decodes it into out.
func (s *Server) decodeValidated(r *http.Request, name schema.Name, out any) error {
	if r.Body == nil {
		return apperr.Wrap(apperr.KindValidation, errEmptyBody, "request body is required")
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "could not read request body")
	}
	if len(raw) > maxBodyBytes {
		return apperr.Validation("request body is too large")
	}
	if err := s.validator.Validate(name, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "invalid request body")
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

// respondAppError maps an error kind onto its HTTP status. Storage and
// internal details stay in the log.
func (s *Server) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
	}
	respondError(w, status, string(kind), apperr.MessageOf(err))
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

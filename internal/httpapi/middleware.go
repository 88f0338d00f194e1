package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/auth"
	"github.com/ent0n29/taskhub/internal/policy"
	"github.com/ent0n29/taskhub/internal/users"
)

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, u users.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// currentUser is only valid behind requireAuth.
func currentUser(r *http.Request) users.User {
	u, _ := r.Context().Value(userKey).(users.User)
	return u
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.respondAppError(w, r, apperr.Unauthenticated("missing bearer token"))
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.respondAppError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// accessLog writes one entry per request. Tokens in the query string are
// masked before logging.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		target, _ := policy.RedactCredentials(r.URL.RequestURI())
		status := ww.Status()
		if status == 0 {
			// hijacked for the websocket upgrade
			status = http.StatusSwitchingProtocols
		}
		entry := s.logger.WithFields(log.Fields{
			"request_id":  middleware.GetReqID(r.Context()),
			"method":      r.Method,
			"path":        target,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"panic":      fmt.Sprint(rec),
			}).Error("handler panicked")
			respondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

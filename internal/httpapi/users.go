package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/taskhub/internal/auth"
	"github.com/ent0n29/taskhub/internal/schema"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if err := s.decodeValidated(r, schema.AuthRegister, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	grant, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, grant)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeValidated(r, schema.AuthLogin, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
	}
	grant, err := s.auth.Login(r.Context(), identifier, req.Password)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, grant)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"user": currentUser(r)})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	grant, err := s.auth.Refresh(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, grant)
}

// handleLogout only acknowledges; tokens are stateless and expire on their own.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.auth.ListActive(r.Context())
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": list})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Profile(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileInput
	if err := s.decodeValidated(r, schema.UserProfile, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	user, err := s.auth.UpdateProfile(r.Context(), currentUser(r).ID, req)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleDeleteAccount removes the user's tasks and shares first, so
// collaborators get the usual events, then drops the account and its
// open sockets.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r).ID
	if err := s.tasks.ForgetUser(r.Context(), userID); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	if err := s.auth.DeleteUser(r.Context(), userID); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	for _, c := range s.registry.ConnectionsFor(userID) {
		if wc, ok := c.(*wsConn); ok {
			wc.close()
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/schema"
	"github.com/ent0n29/taskhub/internal/taskservice"
	"github.com/ent0n29/taskhub/internal/tasks"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFrom(r)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	page, err := s.tasks.List(r.Context(), currentUser(r).ID, filter)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func listFilterFrom(r *http.Request) (tasks.ListFilter, error) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		return tasks.ListFilter{}, err
	}
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		return tasks.ListFilter{}, err
	}
	filter := tasks.ListFilter{
		Status:   tasks.Status(strings.TrimSpace(q.Get("status"))),
		Priority: tasks.Priority(strings.TrimSpace(q.Get("priority"))),
		Search:   q.Get("search"),
		SortBy:   tasks.SortField(strings.TrimSpace(q.Get("sortBy"))),
		Page:     page,
		Limit:    limit,
	}
	switch strings.ToLower(strings.TrimSpace(q.Get("sortOrder"))) {
	case "", "desc":
		filter.Descending = true
	case "asc":
	default:
		return tasks.ListFilter{}, apperr.Validation("sortOrder must be asc or desc")
	}
	return filter, nil
}

func queryInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Validation("%s must be a positive integer", name)
	}
	return n, nil
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TaskCreate
	if err := s.decodeValidated(r, schema.TaskCreate, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	view, err := s.tasks.Create(r.Context(), currentUser(r).ID, req.Draft())
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, protocol.TaskPayload{Task: view})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.tasks.Get(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.TaskPayload{Task: view})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TaskUpdate
	if err := s.decodeValidated(r, schema.TaskUpdate, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	view, err := s.tasks.Update(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), req.Patch())
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.TaskPayload{Task: view})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	if err := s.tasks.Delete(r.Context(), currentUser(r).ID, taskID); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.TaskIDPayload{TaskID: taskID})
}

func (s *Server) handleShareTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TaskShare
	if err := s.decodeValidated(r, schema.TaskShare, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	view, err := s.tasks.Share(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), taskservice.ShareRequest{
		UserID:     req.UserID,
		Email:      req.Email,
		Permission: req.Permission,
	})
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.TaskPayload{Task: view})
}

func (s *Server) handleUnshareTask(w http.ResponseWriter, r *http.Request) {
	view, err := s.tasks.Unshare(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.TaskPayload{Task: view})
}

func (s *Server) handleCommentTask(w http.ResponseWriter, r *http.Request) {
	var req protocol.TaskComment
	if err := s.decodeValidated(r, schema.TaskComment, &req); err != nil {
		s.respondAppError(w, r, err)
		return
	}
	view, err := s.tasks.Comment(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), req.Content)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, protocol.TaskPayload{Task: view})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.Stats(r.Context(), currentUser(r).ID)
	if err != nil {
		s.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

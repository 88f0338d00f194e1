// Package taskservice runs every task operation through the same steps:
// authorize against a fresh snapshot, persist, resolve the snapshot for
// display, then broadcast to interested users.
package taskservice

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ent0n29/taskhub/internal/apperr"
	"github.com/ent0n29/taskhub/internal/notify"
	"github.com/ent0n29/taskhub/internal/observability"
	"github.com/ent0n29/taskhub/internal/policy"
	"github.com/ent0n29/taskhub/internal/protocol"
	"github.com/ent0n29/taskhub/internal/tasks"
	"github.com/ent0n29/taskhub/internal/users"
)

type Config struct {
	PageSize    int
	MaxPageSize int
	Rules       policy.Rules
}

type Service struct {
	store       tasks.Store
	users       users.Store
	router      *notify.Router
	rules       policy.Rules
	metrics     *observability.Metrics
	logger      log.FieldLogger
	pageSize    int
	maxPageSize int
	now         func() time.Time
}

func New(cfg Config, store tasks.Store, directory users.Store, router *notify.Router, metrics *observability.Metrics, logger log.FieldLogger) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.MaxPageSize < cfg.PageSize {
		cfg.MaxPageSize = cfg.PageSize
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{
		store:       store,
		users:       directory,
		router:      router,
		rules:       cfg.Rules,
		metrics:     metrics,
		logger:      logger.WithField("component", "tasks"),
		pageSize:    cfg.PageSize,
		maxPageSize: cfg.MaxPageSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type ShareRequest struct {
	UserID     string
	Email      string
	Permission tasks.Permission
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalTasks  int  `json:"totalTasks"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

type Page struct {
	Tasks      []tasks.View `json:"tasks"`
	Pagination Pagination   `json:"pagination"`
}

// Create makes actorID the owner. Any authenticated user may create.
func (s *Service) Create(ctx context.Context, actorID string, draft tasks.Draft) (view tasks.View, err error) {
	defer s.observe(policy.OpCreate, time.Now(), &err)

	task, err := draft.Build(actorID, s.now())
	if err != nil {
		return tasks.View{}, err
	}
	saved, err := s.store.Insert(ctx, task)
	if err != nil {
		return tasks.View{}, storeError(err)
	}
	view = s.resolve(ctx, saved)
	s.router.Broadcast(ctx, view, protocol.EventTaskCreated, protocol.TaskPayload{Task: view})
	s.logger.WithFields(log.Fields{"task_id": saved.ID, "user_id": actorID}).Info("task created")
	return view, nil
}

func (s *Service) Get(ctx context.Context, actorID, taskID string) (view tasks.View, err error) {
	defer s.observe(policy.OpRead, time.Now(), &err)

	task, err := s.load(ctx, actorID, taskID, policy.OpRead)
	if err != nil {
		return tasks.View{}, err
	}
	return s.resolve(ctx, task), nil
}

// CanView reports, as an error, whether actorID may see taskID.
func (s *Service) CanView(ctx context.Context, actorID, taskID string) error {
	_, err := s.load(ctx, actorID, taskID, policy.OpRead)
	return err
}

// List returns one page of the tasks owned by or shared with actorID.
func (s *Service) List(ctx context.Context, actorID string, filter tasks.ListFilter) (Page, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, apperr.Validation("unknown status filter %q", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		return Page{}, apperr.Validation("unknown priority filter %q", filter.Priority)
	}
	if filter.SortBy != "" && !filter.SortBy.Valid() {
		return Page{}, apperr.Validation("cannot sort by %q", filter.SortBy)
	}
	filter = filter.Normalize(s.pageSize, s.maxPageSize)

	list, total, err := s.store.FindVisibleTo(ctx, actorID, filter)
	if err != nil {
		return Page{}, storeError(err)
	}

	ids := make([]string, 0, len(list)*2)
	for _, t := range list {
		ids = append(ids, t.ReferencedUsers()...)
	}
	dir := s.directory(ctx, ids)
	now := s.now()
	views := make([]tasks.View, 0, len(list))
	for _, t := range list {
		views = append(views, tasks.Resolve(t, dir, now))
	}

	totalPages := int(math.Ceil(float64(total) / float64(filter.Limit)))
	return Page{
		Tasks: views,
		Pagination: Pagination{
			CurrentPage: filter.Page,
			TotalPages:  totalPages,
			TotalTasks:  total,
			HasNextPage: filter.Page < totalPages,
			HasPrevPage: filter.Page > 1,
		},
	}, nil
}

func (s *Service) Update(ctx context.Context, actorID, taskID string, patch tasks.Patch) (tasks.View, error) {
	if patch.Empty() {
		return tasks.View{}, apperr.Validation("no fields to update")
	}
	return s.mutate(ctx, policy.OpUpdate, actorID, taskID, protocol.EventTaskUpdated, func(t *tasks.Task) error {
		return patch.Apply(t, s.now())
	})
}

// Delete removes the task and tells everyone who could see it.
func (s *Service) Delete(ctx context.Context, actorID, taskID string) (err error) {
	defer s.observe(policy.OpDelete, time.Now(), &err)

	unlock := s.router.LockTask(taskID)
	defer unlock()

	task, err := s.load(ctx, actorID, taskID, policy.OpDelete)
	if err != nil {
		return err
	}
	// Recipients come from the last committed snapshot; nobody can see the
	// task once it is gone.
	view := s.resolve(ctx, task)
	deleted, err := s.store.Delete(ctx, taskID)
	if err != nil {
		return storeError(err)
	}
	if !deleted {
		return apperr.NotFound("task not found")
	}
	s.router.Broadcast(ctx, view, protocol.EventTaskDeleted, protocol.TaskIDPayload{TaskID: taskID})
	s.logger.WithFields(log.Fields{"task_id": taskID, "user_id": actorID}).Info("task deleted")
	return nil
}

// Share adds req's user to the share list or updates its permission.
func (s *Service) Share(ctx context.Context, actorID, taskID string, req ShareRequest) (tasks.View, error) {
	target, err := s.shareTarget(ctx, req)
	if err != nil {
		return tasks.View{}, err
	}
	return s.mutate(ctx, policy.OpShareAdd, actorID, taskID, protocol.EventTaskShared, func(t *tasks.Task) error {
		return t.ShareWith(target.ID, req.Permission, s.now())
	})
}

// Unshare removes userID. Remaining users get task:shared with the new list
// and the removed user gets task:revoked.
func (s *Service) Unshare(ctx context.Context, actorID, taskID, userID string) (view tasks.View, err error) {
	view, err = s.mutate(ctx, policy.OpShareRemove, actorID, taskID, protocol.EventTaskShared, func(t *tasks.Task) error {
		if !t.Unshare(userID) {
			return apperr.NotFound("user %s is not on the share list", userID)
		}
		return nil
	}, func(ctx context.Context, _ tasks.View) {
		s.router.ToUsers(ctx, []string{userID}, protocol.EventTaskRevoked, protocol.TaskIDPayload{TaskID: taskID})
	})
	return view, err
}

func (s *Service) Comment(ctx context.Context, actorID, taskID, content string) (tasks.View, error) {
	comment, err := tasks.NewComment(uuid.NewString(), actorID, content, s.now())
	if err != nil {
		return tasks.View{}, err
	}
	return s.mutate(ctx, policy.OpComment, actorID, taskID, protocol.EventTaskCommented, func(t *tasks.Task) error {
		t.Comments = append(t.Comments, comment)
		return nil
	})
}

func (s *Service) Stats(ctx context.Context, actorID string) (tasks.Stats, error) {
	counts, err := s.store.CountByStatus(ctx, actorID)
	if err != nil {
		return tasks.Stats{}, storeError(err)
	}
	return tasks.StatsFromCounts(counts), nil
}

// ForgetUser runs account deletion through the normal broadcast paths:
// owned tasks are deleted and shares revoked. The store sweep afterwards
// catches anything created concurrently.
func (s *Service) ForgetUser(ctx context.Context, userID string) error {
	filter := tasks.ListFilter{Limit: s.maxPageSize}.Normalize(s.pageSize, s.maxPageSize)
	for {
		list, _, err := s.store.FindVisibleTo(ctx, userID, filter)
		if err != nil {
			return storeError(err)
		}
		progressed := false
		for _, t := range list {
			if t.OwnerID == userID {
				err = s.Delete(ctx, userID, t.ID)
			} else {
				_, err = s.Unshare(ctx, t.OwnerID, t.ID, userID)
			}
			switch {
			case err == nil:
				progressed = true
			case errors.Is(err, apperr.ErrNotFound):
			default:
				return err
			}
		}
		if !progressed {
			break
		}
	}
	if err := s.store.ForgetUser(ctx, userID); err != nil {
		return storeError(err)
	}
	return nil
}

// mutate holds the task lock from authorization to broadcast. The store
// runs apply on its freshest copy, so the permission check never sees a
// staler snapshot than the write it guards. after hooks run under the lock.
func (s *Service) mutate(
	ctx context.Context,
	op policy.Operation,
	actorID, taskID string,
	kind protocol.MessageType,
	apply tasks.Mutation,
	after ...func(context.Context, tasks.View),
) (view tasks.View, err error) {
	defer s.observe(op, time.Now(), &err)

	unlock := s.router.LockTask(taskID)
	defer unlock()

	required := s.rules.Required(op)
	updated, err := s.store.Update(ctx, taskID, func(t *tasks.Task) error {
		if !policy.Authorize(actorID, *t, required) {
			return forbidden(actorID, *t, required)
		}
		return apply(t)
	})
	if err != nil {
		return tasks.View{}, storeError(err)
	}

	view = s.resolve(ctx, updated)
	s.router.Broadcast(ctx, view, kind, protocol.TaskPayload{Task: view})
	for _, hook := range after {
		hook(ctx, view)
	}
	s.logger.WithFields(log.Fields{"task_id": taskID, "user_id": actorID, "op": op}).Debug("task mutated")
	return view, nil
}

func (s *Service) load(ctx context.Context, actorID, taskID string, op policy.Operation) (tasks.Task, error) {
	task, err := s.store.FindByID(ctx, taskID)
	if err != nil {
		return tasks.Task{}, storeError(err)
	}
	required := s.rules.Required(op)
	if !policy.Authorize(actorID, task, required) {
		return tasks.Task{}, forbidden(actorID, task, required)
	}
	return task, nil
}

func (s *Service) shareTarget(ctx context.Context, req ShareRequest) (users.User, error) {
	if !req.Permission.Valid() {
		return users.User{}, apperr.Validation("permission must be view or edit")
	}
	var (
		target users.User
		err    error
	)
	switch {
	case req.UserID != "":
		target, err = s.users.FindByID(ctx, req.UserID)
	case req.Email != "":
		target, err = s.users.FindByEmail(ctx, req.Email)
	default:
		return users.User{}, apperr.Validation("userId or email is required")
	}
	if err != nil {
		if errors.Is(err, users.ErrStoreNotFound) {
			return users.User{}, apperr.NotFound("user to share with was not found")
		}
		return users.User{}, apperr.Storage(err)
	}
	if !target.IsActive {
		return users.User{}, apperr.NotFound("user to share with was not found")
	}
	return target, nil
}

func (s *Service) resolve(ctx context.Context, task tasks.Task) tasks.View {
	return tasks.Resolve(task, s.directory(ctx, task.ReferencedUsers()), s.now())
}

// directory degrades to placeholder summaries when the user store fails;
// the task write has already committed by then.
func (s *Service) directory(ctx context.Context, ids []string) map[string]users.Summary {
	dir, err := users.Directory(ctx, s.users, ids)
	if err != nil {
		s.logger.WithError(err).Warn("resolving user summaries failed")
		return map[string]users.Summary{}
	}
	return dir
}

func (s *Service) observe(op policy.Operation, start time.Time, errp *error) {
	outcome := "ok"
	if *errp != nil {
		outcome = string(apperr.KindOf(*errp))
	}
	s.metrics.ObserveMutation(string(op), outcome, time.Since(start))
}

func forbidden(actorID string, task tasks.Task, required policy.Level) error {
	return apperr.Forbidden("%s access to task %s requires %s permission", levelWord(policy.Evaluate(actorID, task)), task.ID, required)
}

func levelWord(l policy.Level) string {
	if l == policy.LevelNone {
		return "no"
	}
	return l.String()
}

func storeError(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, tasks.ErrStoreNotFound):
		return apperr.NotFound("task not found")
	default:
		return apperr.Storage(err)
	}
}

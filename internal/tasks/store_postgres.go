package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			due_date TIMESTAMPTZ NULL,
			completed_at TIMESTAMPTZ NULL,
			tags JSONB NOT NULL DEFAULT '[]'::jsonb,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			shared_with JSONB NOT NULL DEFAULT '[]'::jsonb,
			comments JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks (owner_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_shared_with ON tasks USING GIN (shared_with jsonb_path_ops);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const taskColumns = `id, owner_id, title, description, status, priority, due_date, completed_at,
	tags, is_public, shared_with, comments, created_at, updated_at`

const visibleToClause = `(owner_id = $1 OR shared_with @> jsonb_build_array(jsonb_build_object('userId', $1::text)))`

func (s *PostgresStore) Insert(ctx context.Context, task Task) (Task, error) {
	now := time.Now().UTC()
	task = task.Clone()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	args, err := taskArgs(task)
	if err != nil {
		return Task{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		args...,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return normalizeSlices(task), nil
}

func (s *PostgresStore) FindByID(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) FindVisibleTo(ctx context.Context, userID string, filter ListFilter) ([]Task, int, error) {
	where := []string{visibleToClause}
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset())
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		taskColumns, whereSQL, orderBy(filter.SortBy, filter.Descending), len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, total, nil
}

// Update locks the row for the duration of mutate so concurrent writers on
// other processes serialize on the database.
func (s *PostgresStore) Update(ctx context.Context, taskID string, mutate Mutation) (Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("load task: %w", err)
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return Task{}, err
	}
	next.ID = current.ID
	next.OwnerID = current.OwnerID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()

	args, err := taskArgs(next)
	if err != nil {
		return Task{}, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE tasks SET
			title=$3, description=$4, status=$5, priority=$6, due_date=$7, completed_at=$8,
			tags=$9, is_public=$10, shared_with=$11, comments=$12, updated_at=$14
		 WHERE id=$1 AND owner_id=$2 AND created_at=$13`,
		args...,
	)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("commit tx: %w", err)
	}
	return normalizeSlices(next), nil
}

func (s *PostgresStore) Delete(ctx context.Context, taskID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, count(*) FROM tasks WHERE `+visibleToClause+` GROUP BY status`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) ForgetUser(ctx context.Context, userID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM tasks WHERE owner_id=$1`, userID); err != nil {
		return fmt.Errorf("delete owned tasks: %w", err)
	}
	_, err = tx.Exec(ctx,
		`UPDATE tasks SET shared_with = COALESCE((
			SELECT jsonb_agg(entry) FROM jsonb_array_elements(shared_with) AS entry
			 WHERE entry->>'userId' <> $1
		), '[]'::jsonb), updated_at = $2
		 WHERE shared_with @> jsonb_build_array(jsonb_build_object('userId', $1::text))`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("remove user from share lists: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func taskArgs(task Task) ([]any, error) {
	task = normalizeSlices(task)
	tags, err := json.Marshal(task.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	shared, err := json.Marshal(task.SharedWith)
	if err != nil {
		return nil, fmt.Errorf("encode shared_with: %w", err)
	}
	comments, err := json.Marshal(task.Comments)
	if err != nil {
		return nil, fmt.Errorf("encode comments: %w", err)
	}
	return []any{
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		string(task.Status),
		string(task.Priority),
		task.DueDate,
		task.CompletedAt,
		string(tags),
		task.IsPublic,
		string(shared),
		string(comments),
		task.CreatedAt,
		task.UpdatedAt,
	}, nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task     Task
		status   string
		priority string
		tags     []byte
		shared   []byte
		comments []byte
	)
	if err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Description,
		&status,
		&priority,
		&task.DueDate,
		&task.CompletedAt,
		&tags,
		&task.IsPublic,
		&shared,
		&comments,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	task.Status = Status(status)
	task.Priority = Priority(priority)
	if err := json.Unmarshal(tags, &task.Tags); err != nil {
		return Task{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(shared, &task.SharedWith); err != nil {
		return Task{}, fmt.Errorf("decode shared_with: %w", err)
	}
	if err := json.Unmarshal(comments, &task.Comments); err != nil {
		return Task{}, fmt.Errorf("decode comments: %w", err)
	}
	return normalizeSlices(task), nil
}

func normalizeSlices(task Task) Task {
	if task.Tags == nil {
		task.Tags = []string{}
	}
	if task.SharedWith == nil {
		task.SharedWith = []Share{}
	}
	if task.Comments == nil {
		task.Comments = []Comment{}
	}
	return task
}

func orderBy(field SortField, desc bool) string {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	var expr string
	switch field {
	case SortUpdatedAt:
		expr = "updated_at"
	case SortDueDate:
		return "due_date " + dir + " NULLS LAST, id ASC"
	case SortPriority:
		expr = "CASE priority WHEN 'low' THEN 0 WHEN 'medium' THEN 1 WHEN 'high' THEN 2 ELSE -1 END"
	case SortTitle:
		expr = "lower(title)"
	case SortStatus:
		expr = "status"
	default:
		expr = "created_at"
	}
	return expr + " " + dir + ", id ASC"
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

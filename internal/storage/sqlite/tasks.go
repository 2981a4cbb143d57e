package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/query"
)

const taskSelect = `SELECT t.id, t.title, t.description, t.due_date, t.priority, t.status,
        t.assigned_to, t.created_by, t.created_at, t.updated_at,
        a.id, a.name, a.email, c.id, c.name, c.email
    FROM tasks t
    LEFT JOIN users a ON a.id = t.assigned_to
    LEFT JOIN users c ON c.id = t.created_by`

// InsertTask persists a new task exactly as given.
func (s *Store) InsertTask(ctx context.Context, t models.Task) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks(id, title, description, due_date, priority, status, assigned_to, created_by, created_at, updated_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, nullableTime(t.DueDate), string(t.Priority), string(t.Status),
		t.AssignedToID, t.CreatedByID, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id with its user references resolved.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, apperr.NotFound("Task not found")
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask writes the non-nil patch fields. created_by is never touched.
func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch, at time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{at.UTC()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	switch {
	case patch.ClearDueDate:
		sets = append(sets, "due_date = NULL")
	case patch.DueDate != nil:
		sets = append(sets, "due_date = ?")
		args = append(args, patch.DueDate.UTC())
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, string(*patch.Priority))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *patch.AssignedTo)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectAffected(res, "Task not found")
}

// DeleteTask removes a task by id. Its activity log stays.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectAffected(res, "Task not found")
}

// FindTasks returns the requested page, newest first, and the total number
// of tasks matching q.Where.
func (s *Store) FindTasks(ctx context.Context, q query.TaskQuery) ([]models.Task, int, error) {
	where, args, err := compilePredicate(q.Where)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	if q.Skip >= total {
		return []models.Task{}, total, nil
	}

	pageArgs := append(append([]any{}, args...), q.Limit, q.Skip)
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE `+where+`
        ORDER BY t.created_at DESC, t.rowid DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t                  models.Task
		due                sql.NullTime
		priority, status   string
		aID, aName, aEmail sql.NullString
		cID, cName, cEmail sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &due, &priority, &status,
		&t.AssignedToID, &t.CreatedByID, &t.CreatedAt, &t.UpdatedAt,
		&aID, &aName, &aEmail, &cID, &cName, &cEmail)
	if err != nil {
		return models.Task{}, err
	}
	if due.Valid {
		d := due.Time
		t.DueDate = &d
	}
	t.Priority = models.Priority(priority)
	t.Status = models.Status(status)
	t.AssignedTo = userRef(aID, aName, aEmail)
	t.CreatedBy = userRef(cID, cName, cEmail)
	return t, nil
}

func userRef(id, name, email sql.NullString) *models.UserRef {
	if !id.Valid {
		return nil
	}
	return &models.UserRef{ID: id.String, Name: name.String, Email: email.String}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
)

// AppendLog stores an activity entry. Writing the same id twice is a no-op,
// which makes retried writes safe.
func (s *Store) AppendLog(ctx context.Context, l models.ActivityLog) error {
	if !l.Action.Valid() {
		return apperr.Validation("invalid activity action %q", l.Action)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity_logs(id, task_id, user_id, action, details, created_at)
        VALUES(?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		l.ID, l.TaskID, l.UserID, string(l.Action), l.Details, l.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// ListLogs returns the entries for a task, newest first.
func (s *Store) ListLogs(ctx context.Context, taskID string) ([]models.ActivityLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT l.id, l.task_id, l.user_id, l.action, l.details, l.created_at,
            u.id, u.name, u.email
        FROM activity_logs l
        LEFT JOIN users u ON u.id = l.user_id
        WHERE l.task_id = ?
        ORDER BY l.created_at DESC, l.rowid DESC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list activity logs: %w", err)
	}
	defer rows.Close()

	logs := []models.ActivityLog{}
	for rows.Next() {
		var (
			l                  models.ActivityLog
			action             string
			uID, uName, uEmail sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &l.UserID, &action, &l.Details, &l.CreatedAt, &uID, &uName, &uEmail); err != nil {
			return nil, fmt.Errorf("scan activity log: %w", err)
		}
		l.Action = models.Action(action)
		l.User = userRef(uID, uName, uEmail)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

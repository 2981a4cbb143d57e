package sqlite

import (
	"context"
	"fmt"

	"tasktracker/internal/models"
)

// TaskStats aggregates counts over all tasks. Assignees that no longer exist
// are left out of the per-user breakdown; the order of Users is unspecified.
func (s *Store) TaskStats(ctx context.Context) (models.Stats, error) {
	stats := models.Stats{
		Status:   map[models.Status]int{},
		Priority: map[models.Priority]int{},
		Users:    []models.AssigneeStats{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&stats.TotalTasks); err != nil {
		return models.Stats{}, fmt.Errorf("count tasks: %w", err)
	}

	byStatus, err := s.countBy(ctx, "status")
	if err != nil {
		return models.Stats{}, err
	}
	for k, v := range byStatus {
		stats.Status[models.Status(k)] = v
	}

	byPriority, err := s.countBy(ctx, "priority")
	if err != nil {
		return models.Stats{}, err
	}
	for k, v := range byPriority {
		stats.Priority[models.Priority(k)] = v
	}

	rows, err := s.db.QueryContext(ctx, `SELECT u.id, u.name, u.email, COUNT(*),
            SUM(CASE WHEN t.status = 'completed' THEN 1 ELSE 0 END),
            SUM(CASE WHEN t.status = 'pending' THEN 1 ELSE 0 END)
        FROM tasks t
        JOIN users u ON u.id = t.assigned_to
        GROUP BY u.id, u.name, u.email`)
	if err != nil {
		return models.Stats{}, fmt.Errorf("assignee stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a models.AssigneeStats
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Count, &a.Completed, &a.Pending); err != nil {
			return models.Stats{}, fmt.Errorf("scan assignee stats: %w", err)
		}
		stats.Users = append(stats.Users, a)
	}
	return stats, rows.Err()
}

// countBy groups tasks by a fixed column name; column is never user input.
func (s *Store) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM tasks GROUP BY `+column)
	if err != nil {
		return nil, fmt.Errorf("count tasks by %s: %w", column, err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		out[key] = n
	}
	return out, rows.Err()
}

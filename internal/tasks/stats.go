package tasks

import (
	"context"
	"sort"

	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

// Stats returns the task rollups for an admin. The per-assignee list covers
// only users that currently hold at least one task, busiest first.
func (s *Service) Stats(ctx context.Context, subject policy.Subject) (models.Stats, error) {
	if err := policy.CanViewStats(subject); err != nil {
		return models.Stats{}, err
	}
	stats, err := s.store.TaskStats(ctx)
	if err != nil {
		return models.Stats{}, storeErr(err)
	}
	sortAssignees(stats.Users)
	return stats, nil
}

func sortAssignees(users []models.AssigneeStats) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Count != users[j].Count {
			return users[i].Count > users[j].Count
		}
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
}

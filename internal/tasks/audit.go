package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

// auditRule decides whether an update is recorded under a specific action.
// It compares the task as it was before the update with the incoming patch.
type auditRule struct {
	action models.Action
	match  func(prior models.Task, patch models.TaskPatch) (details string, ok bool)
}

// updateAuditRules is checked in order and the first match wins; an update
// that matches none is recorded as ActionUpdated. Exactly one entry is written
// per update, so a patch changing both status and priority is recorded as a
// status change only.
var updateAuditRules = []auditRule{
	{
		action: models.ActionStatusChanged,
		match: func(prior models.Task, patch models.TaskPatch) (string, bool) {
			if patch.Status == nil || *patch.Status == prior.Status {
				return "", false
			}
			return fmt.Sprintf("Status changed from %s to %s", prior.Status, *patch.Status), true
		},
	},
	{
		action: models.ActionPriorityChanged,
		match: func(prior models.Task, patch models.TaskPatch) (string, bool) {
			if patch.Priority == nil || *patch.Priority == prior.Priority {
				return "", false
			}
			return fmt.Sprintf("Priority changed from %s to %s", prior.Priority, *patch.Priority), true
		},
	},
}

const updatedDetails = "Task details updated"

// classifyUpdate picks the single audit action for an update.
func classifyUpdate(prior models.Task, patch models.TaskPatch) (models.Action, string) {
	for _, rule := range updateAuditRules {
		if details, ok := rule.match(prior, patch); ok {
			return rule.action, details
		}
	}
	return models.ActionUpdated, updatedDetails
}

func (s *Service) newEntry(subject policy.Subject, taskID string, action models.Action, details string) models.ActivityLog {
	return models.ActivityLog{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    subject.ID,
		Action:    action,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
}

// recordActivity appends entry, retrying with exponential backoff. The entry
// id is fixed before the first attempt and the store ignores duplicate ids,
// so a retried write is never recorded twice.
func (s *Service) recordActivity(ctx context.Context, entry models.ActivityLog) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.store.AppendLog(ctx, entry)
		if apperr.Is(err, apperr.KindValidation) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil && attempt < s.auditAttempts {
			s.logger.Warn("activity log write failed; retrying",
				slog.String("task", entry.TaskID),
				slog.String("action", string(entry.Action)),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(s.auditBackoff()),
		backoff.WithMaxTries(uint(s.auditAttempts)),
		backoff.WithMaxElapsedTime(10*time.Second),
	)
	if err != nil {
		return apperr.Internal(fmt.Errorf("record %s activity for task %s: %w", entry.Action, entry.TaskID, err))
	}
	return nil
}

func (s *Service) auditBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.auditInterval
	b.MaxInterval = 20 * s.auditInterval
	return b
}

// Package tasks implements task creation, listing, mutation with an audit
// trail, and the administrative statistics.
//
// Every operation takes the acting subject explicitly. A mutation is written
// first and its activity entry second; the two are not atomic. If the audit
// write still fails after retries the operation reports an internal error
// while the mutation itself stays applied.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
	"tasktracker/internal/query"
)

// Store is the persistence needed by Service.
type Store interface {
	InsertTask(ctx context.Context, t models.Task) error
	GetTask(ctx context.Context, id string) (models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch, at time.Time) error
	DeleteTask(ctx context.Context, id string) error
	FindTasks(ctx context.Context, q query.TaskQuery) ([]models.Task, int, error)
	AppendLog(ctx context.Context, l models.ActivityLog) error
	ListLogs(ctx context.Context, taskID string) ([]models.ActivityLog, error)
	TaskStats(ctx context.Context) (models.Stats, error)
	UserExists(ctx context.Context, id string) (bool, error)
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	AuditAttempts int
	AuditInterval time.Duration
	Now           func() time.Time
	Logger        *slog.Logger
}

// Service runs task operations on behalf of a subject.
type Service struct {
	store         Store
	now           func() time.Time
	logger        *slog.Logger
	auditAttempts int
	auditInterval time.Duration
}

// NewService builds a Service over store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:         store,
		now:           opts.Now,
		logger:        opts.Logger,
		auditAttempts: opts.AuditAttempts,
		auditInterval: opts.AuditInterval,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.auditAttempts < 1 {
		s.auditAttempts = 3
	}
	if s.auditInterval <= 0 {
		s.auditInterval = 50 * time.Millisecond
	}
	return s
}

// CreateInput holds the fields accepted when creating a task.
type CreateInput struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    models.Priority
	Status      models.Status
	AssignedTo  string
}

// Create stores a new task owned by subject. Only admins may assign it to
// someone else; everyone else is assigned their own task.
func (s *Service) Create(ctx context.Context, subject policy.Subject, in CreateInput) (models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, apperr.Validation("Please add a task title")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.Valid() {
		return models.Task{}, apperr.Validation("invalid priority %q", in.Priority)
	}
	if in.Status == "" {
		in.Status = models.StatusPending
	}
	if !in.Status.Valid() {
		return models.Task{}, apperr.Validation("invalid status %q", in.Status)
	}

	assignee := subject.ID
	if policy.CanAssignOthers(subject) && in.AssignedTo != "" {
		if err := s.checkAssignee(ctx, in.AssignedTo); err != nil {
			return models.Task{}, err
		}
		assignee = in.AssignedTo
	}

	now := s.now().UTC()
	task := models.Task{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		DueDate:      in.DueDate,
		Priority:     in.Priority,
		Status:       in.Status,
		AssignedToID: assignee,
		CreatedByID:  subject.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return models.Task{}, storeErr(err)
	}
	s.logger.Debug("task created", slog.String("task", task.ID), slog.String("by", subject.ID))

	entry := s.newEntry(subject, task.ID, models.ActionCreated, fmt.Sprintf("Task created by %s", subject.Name))
	if err := s.recordActivity(ctx, entry); err != nil {
		return models.Task{}, err
	}

	return s.fetch(ctx, task.ID)
}

// Get returns a task subject may view.
func (s *Service) Get(ctx context.Context, subject policy.Subject, id string) (models.Task, error) {
	task, err := s.fetch(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if err := policy.CanView(subject, task); err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// List returns one page of the tasks visible to subject.
func (s *Service) List(ctx context.Context, subject policy.Subject, filter query.TaskFilter, page, pageSize int) (models.TaskPage, error) {
	q, err := query.BuildTaskQuery(subject, filter, page, pageSize)
	if err != nil {
		return models.TaskPage{}, err
	}
	tasks, total, err := s.store.FindTasks(ctx, q)
	if err != nil {
		return models.TaskPage{}, storeErr(err)
	}
	return models.TaskPage{
		Tasks:       tasks,
		TotalTasks:  total,
		TotalPages:  query.TotalPages(total, pageSize),
		CurrentPage: page,
	}, nil
}

// Update applies patch to a task subject may edit. A non-admin's assignee
// change is dropped silently.
func (s *Service) Update(ctx context.Context, subject policy.Subject, id string, patch models.TaskPatch) (models.Task, error) {
	prior, err := s.fetch(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if err := policy.CanEdit(subject, prior); err != nil {
		return models.Task{}, err
	}

	patch = policy.RestrictPatch(subject, patch)
	if err := s.validatePatch(ctx, &patch); err != nil {
		return models.Task{}, err
	}

	if err := s.store.UpdateTask(ctx, id, patch, s.now().UTC()); err != nil {
		return models.Task{}, storeErr(err)
	}

	action, details := classifyUpdate(prior, patch)
	s.logger.Debug("task updated", slog.String("task", id), slog.String("action", string(action)), slog.String("by", subject.ID))
	if err := s.recordActivity(ctx, s.newEntry(subject, id, action, details)); err != nil {
		return models.Task{}, err
	}

	return s.fetch(ctx, id)
}

// Delete removes a task subject may delete and returns its id. The activity
// entry is written first; if it cannot be written the task is kept.
func (s *Service) Delete(ctx context.Context, subject policy.Subject, id string) (string, error) {
	task, err := s.fetch(ctx, id)
	if err != nil {
		return "", err
	}
	if err := policy.CanDelete(subject, task); err != nil {
		return "", err
	}

	entry := s.newEntry(subject, id, models.ActionDeleted, fmt.Sprintf("Task deleted by %s", subject.Name))
	if err := s.recordActivity(ctx, entry); err != nil {
		return "", err
	}
	if err := s.store.DeleteTask(ctx, id); err != nil {
		return "", storeErr(err)
	}
	s.logger.Debug("task deleted", slog.String("task", id), slog.String("by", subject.ID))
	return id, nil
}

// Logs returns the activity of a task, newest first. Entries of an existing
// task follow its view rule; entries of a deleted task are visible to admins.
func (s *Service) Logs(ctx context.Context, subject policy.Subject, taskID string) ([]models.ActivityLog, error) {
	task, err := s.fetch(ctx, taskID)
	switch {
	case err == nil:
		if err := policy.CanView(subject, task); err != nil {
			return nil, err
		}
	case apperr.Is(err, apperr.KindNotFound) && subject.IsAdmin():
	default:
		return nil, err
	}

	logs, err := s.store.ListLogs(ctx, taskID)
	if err != nil {
		return nil, storeErr(err)
	}
	return logs, nil
}

func (s *Service) fetch(ctx context.Context, id string) (models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, storeErr(err)
	}
	return task, nil
}

func (s *Service) validatePatch(ctx context.Context, p *models.TaskPatch) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return apperr.Validation("Please add a task title")
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		p.Description = &desc
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return apperr.Validation("invalid priority %q", *p.Priority)
	}
	if p.Status != nil && !p.Status.Valid() {
		return apperr.Validation("invalid status %q", *p.Status)
	}
	if p.AssignedTo != nil {
		if err := s.checkAssignee(ctx, *p.AssignedTo); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) checkAssignee(ctx context.Context, id string) error {
	ok, err := s.store.UserExists(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return apperr.Validation("assignee %q does not exist", id)
	}
	return nil
}

func storeErr(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Internal(err)
}

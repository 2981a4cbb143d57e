package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
	"tasktracker/internal/query"
	"tasktracker/internal/storage/sqlite"
)

type fixture struct {
	store *sqlite.Store
	svc   *Service
	now   time.Time
	admin policy.Subject
	u1    policy.Subject
	u2    policy.Subject
	u3    policy.Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "tasks.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	f.svc = NewService(store, Options{
		AuditInterval: time.Millisecond,
		Now: func() time.Time {
			f.now = f.now.Add(time.Second)
			return f.now
		},
	})
	f.admin = f.addUser(t, "admin", models.RoleAdmin)
	f.u1 = f.addUser(t, "u1", models.RoleUser)
	f.u2 = f.addUser(t, "u2", models.RoleUser)
	f.u3 = f.addUser(t, "u3", models.RoleUser)
	return f
}

func (f *fixture) addUser(t *testing.T, id string, role models.Role) policy.Subject {
	t.Helper()
	u := models.User{ID: id, Name: "User " + id, Email: id + "@example.com", PasswordHash: "x", Role: role, CreatedAt: f.now, UpdatedAt: f.now}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return policy.SubjectOf(u)
}

func ptr[T any](v T) *T { return &v }

func TestCreateDefaultsAndRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	created, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "  Write docs ", Description: "all of them", DueDate: &due})
	require.NoError(t, err)
	assert.Equal(t, "Write docs", created.Title)
	assert.Equal(t, models.PriorityMedium, created.Priority)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, "u1", created.AssignedToID)
	assert.Equal(t, "u1", created.CreatedByID)
	require.NotNil(t, created.AssignedTo)
	assert.Equal(t, models.UserRef{ID: "u1", Name: "User u1", Email: "u1@example.com"}, *created.AssignedTo)

	got, err := f.svc.Get(ctx, f.u1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Description, got.Description)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(due))

	logs, err := f.svc.Logs(ctx, f.u1, created.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActionCreated, logs[0].Action)
	assert.Equal(t, "Task created by User u1", logs[0].Details)
}

func TestCreateAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byUser, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "mine", AssignedTo: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u1", byUser.AssignedToID, "non-admins are always self-assigned")

	byAdmin, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "delegated", AssignedTo: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u2", byAdmin.AssignedToID)
	assert.Equal(t, "admin", byAdmin.CreatedByID)

	_, err = f.svc.Create(ctx, f.admin, CreateInput{Title: "ghost", AssignedTo: "nobody"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []CreateInput{
		{Title: ""},
		{Title: "   "},
		{Title: "x", Priority: "urgent"},
		{Title: "x", Status: "done"},
	} {
		_, err := f.svc.Create(ctx, f.u1, in)
		assert.True(t, apperr.Is(err, apperr.KindValidation), "%+v", in)
	}
}

func TestGetEnforcesVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "for u2", AssignedTo: "u2"})
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.u2, task.ID)
	assert.NoError(t, err)
	_, err = f.svc.Get(ctx, f.u3, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.svc.Get(ctx, f.u3, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateDropsAssigneeForNonAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "review", AssignedTo: "u2"})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, f.u2, task.ID, models.TaskPatch{AssignedTo: ptr("u3")})
	require.NoError(t, err)
	assert.Equal(t, "u2", updated.AssignedToID)

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.AssignedToID)
	assert.Equal(t, "admin", stored.CreatedByID)

	reassigned, err := f.svc.Update(ctx, f.admin, task.ID, models.TaskPatch{AssignedTo: ptr("u3")})
	require.NoError(t, err)
	assert.Equal(t, "u3", reassigned.AssignedToID)
	assert.Equal(t, "admin", reassigned.CreatedByID)
}

func TestUpdateStatusChangeIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "ship"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Status: ptr(models.StatusCompleted)})
	require.NoError(t, err)

	logs, err := f.svc.Logs(ctx, f.u1, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ActionStatusChanged, logs[0].Action)
	assert.Equal(t, "Status changed from pending to completed", logs[0].Details)
	assert.Equal(t, models.ActionCreated, logs[1].Action)
}

func TestToggleStatusTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "toggle", Status: models.StatusCompleted})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Status: ptr(models.StatusPending)})
	require.NoError(t, err)
	final, err := f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Status: ptr(models.StatusCompleted)})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)

	logs, err := f.svc.Logs(ctx, f.u1, task.ID)
	require.NoError(t, err)
	changes := 0
	for _, l := range logs {
		if l.Action == models.ActionStatusChanged {
			changes++
		}
	}
	assert.Equal(t, 2, changes)
}

func TestUpdateClearsDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	due := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "pay rent", DueDate: &due})
	require.NoError(t, err)
	require.NotNil(t, task.DueDate)

	kept, err := f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Title: ptr("pay rent now")})
	require.NoError(t, err)
	require.NotNil(t, kept.DueDate)
	assert.True(t, kept.DueDate.Equal(due))

	cleared, err := f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{ClearDueDate: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.DueDate)
	assert.Equal(t, "pay rent now", cleared.Title)

	logs, err := f.svc.Logs(ctx, f.u1, task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.ActionUpdated, logs[0].Action)
}

func TestClassifyUpdate(t *testing.T) {
	prior := models.Task{Status: models.StatusPending, Priority: models.PriorityLow}
	tests := []struct {
		name    string
		patch   models.TaskPatch
		action  models.Action
		details string
	}{
		{"status wins over priority", models.TaskPatch{Status: ptr(models.StatusCompleted), Priority: ptr(models.PriorityHigh)}, models.ActionStatusChanged, "Status changed from pending to completed"},
		{"priority only", models.TaskPatch{Priority: ptr(models.PriorityHigh)}, models.ActionPriorityChanged, "Priority changed from low to high"},
		{"same status falls through to priority", models.TaskPatch{Status: ptr(models.StatusPending), Priority: ptr(models.PriorityMedium)}, models.ActionPriorityChanged, "Priority changed from low to medium"},
		{"unchanged values", models.TaskPatch{Status: ptr(models.StatusPending), Priority: ptr(models.PriorityLow)}, models.ActionUpdated, updatedDetails},
		{"title only", models.TaskPatch{Title: ptr("new")}, models.ActionUpdated, updatedDetails},
		{"assignee only", models.TaskPatch{AssignedTo: ptr("u9")}, models.ActionUpdated, updatedDetails},
		{"empty patch", models.TaskPatch{}, models.ActionUpdated, updatedDetails},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, details := classifyUpdate(prior, tt.patch)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.details, details)
		})
	}
}

func TestUpdateWritesSingleEntryWhenStatusAndPriorityChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "both"})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{
		Status:   ptr(models.StatusCompleted),
		Priority: ptr(models.PriorityHigh),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, updated.Priority)

	logs, err := f.svc.Logs(ctx, f.u1, task.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	assert.Equal(t, models.ActionStatusChanged, logs[0].Action)
}

func TestUpdateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "guarded"})
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, f.u1, "missing", models.TaskPatch{Title: ptr("x")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.Update(ctx, f.u2, task.ID, models.TaskPatch{Title: ptr("x")})
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	_, err = f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Title: ptr("  ")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Priority: ptr(models.Priority("urgent"))})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Update(ctx, f.admin, task.ID, models.TaskPatch{AssignedTo: ptr("nobody")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "temp", AssignedTo: "u2"})
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, f.u2, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuth), "assignee alone cannot delete")

	id, err := f.svc.Delete(ctx, f.admin, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, id)

	_, err = f.svc.Get(ctx, f.admin, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.svc.Delete(ctx, f.admin, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	logs, err := f.svc.Logs(ctx, f.admin, task.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.ActionDeleted, logs[0].Action)
	assert.Equal(t, "Task deleted by User admin", logs[0].Details)

	_, err = f.svc.Logs(ctx, f.u2, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestLogsAreViewGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "private"})
	require.NoError(t, err)

	_, err = f.svc.Logs(ctx, f.u2, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	_, err = f.svc.Logs(ctx, f.admin, task.ID)
	assert.NoError(t, err)
}

func TestListSearchScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.u2, CreateInput{Title: "Invoice for ACME"})
	require.NoError(t, err)
	mine, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "Check", Description: "the invoice totals"})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, f.u1, query.TaskFilter{Search: "invoice"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, mine.ID, page.Tasks[0].ID)
	assert.Equal(t, 1, page.TotalTasks)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
}

func TestListPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := f.svc.Create(ctx, f.u1, CreateInput{Title: fmt.Sprintf("task %d", i)})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, f.u1, query.TaskFilter{}, 3, 5)
	require.NoError(t, err)
	assert.Len(t, page.Tasks, 2)
	assert.Equal(t, 12, page.TotalTasks)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, "task 1", page.Tasks[0].Title)

	empty, err := f.svc.List(ctx, f.u1, query.TaskFilter{}, 4, 5)
	require.NoError(t, err)
	assert.Empty(t, empty.Tasks)
	assert.Equal(t, 12, empty.TotalTasks)

	_, err = f.svc.List(ctx, f.u1, query.TaskFilter{}, 0, 5)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListFarPastLastPageIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "only"})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, f.u1, query.TaskFilter{}, math.MaxInt/10+2, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Tasks)
	assert.Equal(t, 1, page.TotalTasks)
	assert.Equal(t, 1, page.TotalPages)
	assert.Equal(t, math.MaxInt/10+2, page.CurrentPage)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, in := range []struct {
		assignee string
		status   models.Status
		priority models.Priority
	}{
		{"u1", models.StatusPending, models.PriorityLow},
		{"u2", models.StatusCompleted, models.PriorityHigh},
		{"u2", models.StatusPending, models.PriorityHigh},
		{"u2", models.StatusCompleted, models.PriorityMedium},
	} {
		_, err := f.svc.Create(ctx, f.admin, CreateInput{Title: "t", AssignedTo: in.assignee, Status: in.status, Priority: in.priority})
		require.NoError(t, err)
	}

	_, err := f.svc.Stats(ctx, f.u1)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	stats, err := f.svc.Stats(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalTasks)
	assert.Equal(t, 2, stats.Status[models.StatusCompleted])
	assert.Equal(t, 2, stats.Priority[models.PriorityHigh])
	require.Len(t, stats.Users, 2)
	assert.Equal(t, models.AssigneeStats{ID: "u2", Name: "User u2", Email: "u2@example.com", Count: 3, Completed: 2, Pending: 1}, stats.Users[0])
	assert.Equal(t, "u1", stats.Users[1].ID)
}

func TestSortAssigneesIsDeterministic(t *testing.T) {
	users := []models.AssigneeStats{
		{ID: "c", Name: "Zed", Count: 1},
		{ID: "b", Name: "Amy", Count: 1},
		{ID: "a", Name: "Amy", Count: 1},
		{ID: "d", Name: "Bob", Count: 5},
	}
	sortAssignees(users)
	ids := []string{users[0].ID, users[1].ID, users[2].ID, users[3].ID}
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids)
}

// flakyStore fails the first failures activity log writes.
type flakyStore struct {
	*sqlite.Store
	failures int
	calls    int
}

func (s *flakyStore) AppendLog(ctx context.Context, l models.ActivityLog) error {
	s.calls++
	if s.calls <= s.failures {
		return errors.New("transient write failure")
	}
	return s.Store.AppendLog(ctx, l)
}

// rejectingStore refuses every activity log write as invalid.
type rejectingStore struct {
	*sqlite.Store
	calls int
}

func (s *rejectingStore) AppendLog(context.Context, models.ActivityLog) error {
	s.calls++
	return apperr.Validation("invalid activity action")
}

func TestRejectedAuditWriteIsNotRetried(t *testing.T) {
	f := newFixture(t)
	store := &rejectingStore{Store: f.store}
	svc := NewService(store, Options{AuditAttempts: 3, AuditInterval: time.Millisecond})

	_, err := svc.Create(context.Background(), f.u1, CreateInput{Title: "no log"})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, 1, store.calls)
}

func TestAuditWriteIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyStore{Store: f.store, failures: 2}
	svc := NewService(flaky, Options{AuditAttempts: 3, AuditInterval: time.Millisecond})

	task, err := svc.Create(ctx, f.u1, CreateInput{Title: "retry me"})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)

	logs, err := svc.Logs(ctx, f.u1, task.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestAuditFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.Create(ctx, f.u1, CreateInput{Title: "keep me"})
	require.NoError(t, err)

	flaky := &flakyStore{Store: f.store, failures: 100}
	svc := NewService(flaky, Options{AuditAttempts: 2, AuditInterval: time.Millisecond})

	_, err = svc.Update(ctx, f.u1, task.ID, models.TaskPatch{Title: ptr("renamed")})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, 2, flaky.calls)

	stored, err := f.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", stored.Title, "the mutation is not rolled back")

	_, err = svc.Delete(ctx, f.u1, task.ID)
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	_, err = f.store.GetTask(ctx, task.ID)
	assert.NoError(t, err, "delete is abandoned when its audit entry cannot be written")
}

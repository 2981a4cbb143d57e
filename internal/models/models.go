package models

import "time"

// Role controls what a user may see and manage.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status is the completion state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

// Action names the kind of mutation recorded in the activity log.
type Action string

const (
	ActionCreated         Action = "created"
	ActionUpdated         Action = "updated"
	ActionDeleted         Action = "deleted"
	ActionStatusChanged   Action = "status_changed"
	ActionPriorityChanged Action = "priority_changed"
	ActionAssigned        Action = "assigned"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted, ActionStatusChanged, ActionPriorityChanged, ActionAssigned:
		return true
	}
	return false
}

// User is a registered account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRef is a resolved reference to a user as exposed on tasks and logs.
type UserRef struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Task is a unit of work. AssignedTo and CreatedBy are resolved from the raw
// ids and are nil when the referenced user has been deleted.
type Task struct {
	ID           string     `json:"_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	DueDate      *time.Time `json:"dueDate"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	AssignedToID string     `json:"assignedToId"`
	CreatedByID  string     `json:"createdById"`
	AssignedTo   *UserRef   `json:"assignedTo"`
	CreatedBy    *UserRef   `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TaskPatch lists the mutable task fields. Nil means unchanged. ClearDueDate
// removes the due date and wins over DueDate.
type TaskPatch struct {
	Title        *string
	Description  *string
	DueDate      *time.Time
	ClearDueDate bool
	Priority     *Priority
	Status       *Status
	AssignedTo   *string
}

// ActivityLog is an append-only audit entry for one task mutation. TaskID may
// point at a task that no longer exists.
type ActivityLog struct {
	ID        string    `json:"_id"`
	TaskID    string    `json:"task"`
	UserID    string    `json:"userId"`
	User      *UserRef  `json:"user"`
	Action    Action    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskPage is one page of a filtered task listing.
type TaskPage struct {
	Tasks       []Task `json:"tasks"`
	TotalTasks  int    `json:"totalTasks"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
}

// AssigneeStats is the per-assignee breakdown in Stats.
type AssigneeStats struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Count     int    `json:"count"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
}

// Stats summarises all tasks for administrators.
type Stats struct {
	TotalTasks int              `json:"totalTasks"`
	Status     map[Status]int   `json:"status"`
	Priority   map[Priority]int `json:"priority"`
	Users      []AssigneeStats  `json:"users"`
}

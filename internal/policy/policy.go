// Package policy holds the access rules for tasks and user management. Every
// function is pure: decisions depend only on the subject and the task passed in.
package policy

import (
	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
)

// Subject is the authenticated actor of a request.
type Subject struct {
	ID   string
	Name string
	Role models.Role
}

// SubjectOf builds the subject for a stored user.
func SubjectOf(u models.User) Subject {
	return Subject{ID: u.ID, Name: u.Name, Role: u.Role}
}

// IsAdmin reports whether s holds the admin role.
func (s Subject) IsAdmin() bool {
	return s.Role == models.RoleAdmin
}

func (s Subject) involvedIn(t models.Task) bool {
	return s.ID != "" && (s.ID == t.AssignedToID || s.ID == t.CreatedByID)
}

// CanView allows admins, the assignee and the creator.
func CanView(s Subject, t models.Task) error {
	if s.IsAdmin() || s.involvedIn(t) {
		return nil
	}
	return apperr.Auth("User not authorized")
}

// CanEdit uses the same rule as CanView.
func CanEdit(s Subject, t models.Task) error {
	if s.IsAdmin() || s.involvedIn(t) {
		return nil
	}
	return apperr.Auth("User not authorized")
}

// CanDelete allows admins and the creator only.
func CanDelete(s Subject, t models.Task) error {
	if s.IsAdmin() || (s.ID != "" && s.ID == t.CreatedByID) {
		return nil
	}
	return apperr.Auth("User not authorized to delete this task")
}

// CanAssignOthers reports whether s may choose an assignee other than itself.
func CanAssignOthers(s Subject) bool {
	return s.IsAdmin()
}

// CanManageUsers gates user deletion.
func CanManageUsers(s Subject) error {
	if s.IsAdmin() {
		return nil
	}
	return apperr.Auth("Not authorized as an admin")
}

// CanViewStats gates the aggregate statistics.
func CanViewStats(s Subject) error {
	if s.IsAdmin() {
		return nil
	}
	return apperr.Auth("Not authorized as an admin")
}

// RestrictPatch drops the assignee change when s may not assign others.
// The request still succeeds for the remaining fields.
func RestrictPatch(s Subject, p models.TaskPatch) models.TaskPatch {
	if !CanAssignOthers(s) {
		p.AssignedTo = nil
	}
	return p
}

package auth

import (
	"context"
	"log/slog"
	"strings"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

// ListUsers returns all users, optionally filtered by a name or email
// substring. Any authenticated subject may list users.
func (s *Service) ListUsers(ctx context.Context, _ policy.Subject, search string) ([]models.User, error) {
	users, err := s.users.ListUsers(ctx, search)
	if err != nil {
		return nil, storeErr(err)
	}
	return users, nil
}

// DeleteUser removes a user. Tasks and activity entries that reference the
// user are kept and will resolve the reference to null.
func (s *Service) DeleteUser(ctx context.Context, subject policy.Subject, id string) error {
	if err := policy.CanManageUsers(subject); err != nil {
		return err
	}
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return storeErr(err)
	}
	s.logger.Info("user deleted", slog.String("user", id), slog.String("by", subject.ID))
	return nil
}

// EnsureAdmin creates the bootstrap administrator, or promotes the existing
// account with that email. The password of an existing account is kept.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (models.User, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if email == "" || password == "" {
		return models.User{}, apperr.Validation("admin email and password are required")
	}
	if name == "" {
		name = "Administrator"
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == models.RoleAdmin {
			return existing, nil
		}
		if err := s.users.SetUserRole(ctx, existing.ID, models.RoleAdmin, s.now()); err != nil {
			return models.User{}, storeErr(err)
		}
		existing.Role = models.RoleAdmin
		s.logger.Info("promoted user to admin", slog.String("user", existing.ID))
		return existing, nil
	case !apperr.Is(err, apperr.KindNotFound):
		return models.User{}, storeErr(err)
	}

	u, err := s.newUser(name, email, password, models.RoleAdmin)
	if err != nil {
		return models.User{}, err
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return models.User{}, storeErr(err)
	}
	s.logger.Info("created admin account", slog.String("user", u.ID))
	return u, nil
}

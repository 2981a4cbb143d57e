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
)

const userColumns = `id, name, email, password_hash, role, created_at, updated_at`

// CreateUser inserts a new account. A duplicate email yields a conflict error.
func (s *Store) CreateUser(ctx context.Context, u models.User) error {
	if !u.Role.Valid() {
		return apperr.Validation("invalid role %q", u.Role)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(`+userColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, string(u.Role), u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if isUniqueViolation(err) {
		return apperr.Conflict("User already exists")
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByEmail fetches a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// UserExists reports whether id refers to a stored user.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return n > 0, nil
}

// ListUsers returns users in registration order, optionally filtered by a
// case-insensitive substring of name or email.
func (s *Store) ListUsers(ctx context.Context, search string) ([]models.User, error) {
	stmt := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if q := strings.ToLower(strings.TrimSpace(search)); q != "" {
		stmt += ` WHERE instr(lower(name), ?) > 0 OR instr(lower(email), ?) > 0`
		args = append(args, q, q)
	}
	stmt += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUserRole changes the role of an existing user.
func (s *Store) SetUserRole(ctx context.Context, id string, role models.Role, at time.Time) error {
	if !role.Valid() {
		return apperr.Validation("invalid role %q", role)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, string(role), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return expectAffected(res, "User not found")
}

// DeleteUser removes a user. Tasks and logs referencing it are left in place.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectAffected(res, "User not found")
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, apperr.NotFound("User not found")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = models.Role(role)
	if !u.Role.Valid() {
		return models.User{}, fmt.Errorf("scan user %s: unknown role %q", u.ID, role)
	}
	return u, nil
}

func expectAffected(res sql.Result, notFound string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.NotFound(notFound)
	}
	return nil
}

// Package auth registers and authenticates users, issues session tokens and
// manages the user directory.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tasktracker/internal/apperr"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 30 * 24 * time.Hour

const invalidCredentials = "Invalid credentials"

// UserStore is the persistence needed by Service.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context, search string) ([]models.User, error)
	SetUserRole(ctx context.Context, id string, role models.Role, at time.Time) error
	DeleteUser(ctx context.Context, id string) error
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	Secret     []byte
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
	Logger     *slog.Logger
}

// Service implements the credential store.
type Service struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	logger *slog.Logger
}

// Session is an authenticated user together with a fresh token.
type Session struct {
	User  models.User
	Token string
}

// NewService builds a Service. An empty secret is rejected.
func NewService(users UserStore, opts Options) (*Service, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: empty token secret")
	}
	s := &Service{
		users:  users,
		secret: opts.Secret,
		ttl:    opts.TokenTTL,
		cost:   opts.BcryptCost,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a regular user and signs it in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return Session{}, apperr.Validation("Please add all fields")
	}

	u, err := s.newUser(name, email, password, models.RoleUser)
	if err != nil {
		return Session{}, err
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return Session{}, storeErr(err)
	}
	s.logger.Info("user registered", slog.String("user", u.ID))

	return s.session(u)
}

// Authenticate checks email and password. Unknown emails and wrong passwords
// produce the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if apperr.Is(err, apperr.KindNotFound) {
		return Session{}, apperr.Auth(invalidCredentials)
	}
	if err != nil {
		return Session{}, storeErr(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, apperr.Auth(invalidCredentials)
	}
	return s.session(u)
}

// IssueToken signs a token for userID valid for the configured TTL.
func (s *Service) IssueToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// VerifyToken checks signature and expiry and returns the user id.
func (s *Service) VerifyToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", apperr.Auth("Not authorized, token expired")
	case err != nil, !parsed.Valid, claims.Subject == "":
		return "", apperr.Auth("Not authorized, token failed")
	}
	return claims.Subject, nil
}

// ResolveSubject verifies token and loads the user it names. A token for a
// deleted user is rejected.
func (s *Service) ResolveSubject(ctx context.Context, token string) (policy.Subject, models.User, error) {
	if token == "" {
		return policy.Subject{}, models.User{}, apperr.Auth("Not authorized, no token")
	}
	id, err := s.VerifyToken(token)
	if err != nil {
		return policy.Subject{}, models.User{}, err
	}
	u, err := s.users.GetUser(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return policy.Subject{}, models.User{}, apperr.Auth("Not authorized, user not found")
	}
	if err != nil {
		return policy.Subject{}, models.User{}, storeErr(err)
	}
	return policy.SubjectOf(u), u, nil
}

func (s *Service) session(u models.User) (Session, error) {
	token, err := s.IssueToken(u.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token}, nil
}

func (s *Service) newUser(name, email, password string, role models.Role) (models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, apperr.Validation("password is too long")
		}
		return models.User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}
	now := s.now().UTC()
	return models.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// storeErr keeps classified errors and wraps the rest as internal.
func storeErr(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	return apperr.Internal(err)
}

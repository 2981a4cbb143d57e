package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tasktracker/internal/apperr"
	"tasktracker/internal/auth"
	"tasktracker/internal/models"
	"tasktracker/internal/policy"
)

const (
	subjectKey = "subject"
	userKey    = "user"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	ID    string      `json:"_id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Token string      `json:"token"`
}

func newSessionResponse(sess auth.Session) sessionResponse {
	return sessionResponse{
		ID:    sess.User.ID,
		Name:  sess.User.Name,
		Email: sess.User.Email,
		Role:  sess.User.Role,
		Token: sess.Token,
	}
}

// requireAuth resolves the bearer token into a subject for later handlers.
func (s *Server) requireAuth(c *gin.Context) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		s.respondError(c, apperr.Auth("Not authorized, no token"))
		return
	}

	subject, user, err := s.auth.ResolveSubject(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Set(subjectKey, subject)
	c.Set(userKey, user)
	c.Next()
}

// requireAdmin rejects non-admin subjects. It must run after requireAuth.
func (s *Server) requireAdmin(c *gin.Context) {
	if err := policy.CanManageUsers(subjectFrom(c)); err != nil {
		s.respondError(c, err)
		return
	}
	c.Next()
}

// subjectFrom returns the subject stored by requireAuth.
func subjectFrom(c *gin.Context) policy.Subject {
	v, _ := c.Get(subjectKey)
	subject, _ := v.(policy.Subject)
	return subject
}

// handleRegister creates a regular account and returns a session.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	sess, err := s.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, newSessionResponse(sess))
}

// handleLogin exchanges credentials for a session.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	sess, err := s.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, newSessionResponse(sess))
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(c *gin.Context) {
	v, _ := c.Get(userKey)
	user, _ := v.(models.User)
	respondSuccess(c, http.StatusOK, user)
}

// handleListUsers lists users, optionally filtered by ?search=.
func (s *Server) handleListUsers(c *gin.Context) {
	users, err := s.auth.ListUsers(c.Request.Context(), subjectFrom(c), c.Query("search"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, users)
}

// handleDeleteUser removes a user account without touching its tasks.
func (s *Server) handleDeleteUser(c *gin.Context) {
	id := c.Param("id")
	if err := s.auth.DeleteUser(c.Request.Context(), subjectFrom(c), id); err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"id": id})
}

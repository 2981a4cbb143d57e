package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tasktracker/internal/models"
	"tasktracker/internal/query"
	"tasktracker/internal/tasks"
)

type createTaskRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	DueDate     optionalDate `json:"dueDate"`
	Priority    string       `json:"priority" binding:"omitempty,oneof=low medium high"`
	Status      string       `json:"status" binding:"omitempty,oneof=pending completed"`
	AssignedTo  string       `json:"assignedTo"`
}

type updateTaskRequest struct {
	Title       *string      `json:"title"`
	Description *string      `json:"description"`
	DueDate     optionalDate `json:"dueDate"`
	Priority    *string      `json:"priority" binding:"omitempty,oneof=low medium high"`
	Status      *string      `json:"status" binding:"omitempty,oneof=pending completed"`
	AssignedTo  *string      `json:"assignedTo"`
}

// patch converts the request into the closed patch type. An empty assignee
// is treated as absent; an empty or null due date clears it.
func (r updateTaskRequest) patch() models.TaskPatch {
	p := models.TaskPatch{
		Title:        r.Title,
		Description:  r.Description,
		DueDate:      r.DueDate.Time,
		ClearDueDate: r.DueDate.cleared(),
	}
	if r.Priority != nil {
		v := models.Priority(*r.Priority)
		p.Priority = &v
	}
	if r.Status != nil {
		v := models.Status(*r.Status)
		p.Status = &v
	}
	if r.AssignedTo != nil && *r.AssignedTo != "" {
		p.AssignedTo = r.AssignedTo
	}
	return p
}

// handleListTasks returns one filtered page of visible tasks.
func (s *Server) handleListTasks(c *gin.Context) {
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", s.opts.DefaultPageSize)
	if limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}

	filter := query.TaskFilter{
		Priority: c.Query("priority"),
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	}
	result, err := s.tasks.List(c.Request.Context(), subjectFrom(c), filter, page, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, result)
}

// handleCreateTask stores a new task for the caller.
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	task, err := s.tasks.Create(c.Request.Context(), subjectFrom(c), tasks.CreateInput{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate.Time,
		Priority:    models.Priority(req.Priority),
		Status:      models.Status(req.Status),
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, task)
}

// handleGetTask returns a single task.
func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Request.Context(), subjectFrom(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// handleUpdateTask applies a partial update.
func (s *Server) handleUpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, bindError(err))
		return
	}

	task, err := s.tasks.Update(c.Request.Context(), subjectFrom(c), c.Param("id"), req.patch())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, task)
}

// handleDeleteTask removes a task completely.
func (s *Server) handleDeleteTask(c *gin.Context) {
	id, err := s.tasks.Delete(c.Request.Context(), subjectFrom(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"id": id})
}

// handleTaskLogs returns the activity of a task, newest first.
func (s *Server) handleTaskLogs(c *gin.Context) {
	logs, err := s.tasks.Logs(c.Request.Context(), subjectFrom(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, logs)
}

// handleStats returns the admin rollups.
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.tasks.Stats(c.Request.Context(), subjectFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, stats)
}

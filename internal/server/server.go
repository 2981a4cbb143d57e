package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"tasktracker/internal/apperr"
	"tasktracker/internal/auth"
	"tasktracker/internal/tasks"
)

// Options configures the HTTP surface.
type Options struct {
	StaticDir       string
	DefaultPageSize int
	MaxPageSize     int
	CORSOrigins     []string
}

// Server provides HTTP handlers for the task tracker API.
type Server struct {
	engine *gin.Engine
	auth   *auth.Service
	tasks  *tasks.Service
	logger *slog.Logger
	opts   Options
}

// New constructs the HTTP server with routes and middleware configured.
func New(authSvc *auth.Service, taskSvc *tasks.Service, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultPageSize < 1 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}

	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithWriter(gin.DefaultWriter, "/api/healthz"))
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))

	srv := &Server{
		engine: router,
		auth:   authSvc,
		tasks:  taskSvc,
		logger: logger,
		opts:   opts,
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API and static handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", s.handleRegister)
			authGroup.POST("/login", s.handleLogin)
			authGroup.GET("/me", s.requireAuth, s.handleMe)
			authGroup.GET("/users", s.requireAuth, s.handleListUsers)
			authGroup.DELETE("/:id", s.requireAuth, s.requireAdmin, s.handleDeleteUser)
		}

		taskGroup := api.Group("/tasks", s.requireAuth)
		{
			taskGroup.GET("", s.handleListTasks)
			taskGroup.POST("", s.handleCreateTask)
			taskGroup.GET("/stats", s.handleStats)
			taskGroup.GET("/:id/logs", s.handleTaskLogs)
			taskGroup.GET("/:id", s.handleGetTask)
			taskGroup.PUT("/:id", s.handleUpdateTask)
			taskGroup.DELETE("/:id", s.handleDeleteTask)
		}
	}

	s.mountStatic()
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

// intQuery reads a numeric query parameter, keeping fallback when it is
// missing or not a number.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// respondError logs the error and returns a JSON payload.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	} else {
		s.logger.Debug("request rejected", slog.String("path", c.FullPath()), slog.Int("status", status), slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, gin.H{"message": apperr.Message(err)})
}

// strictJSON decodes a request body like gin's JSON binding but rejects
// unknown fields. It leaves gin's package level decoder settings untouched.
type strictJSON struct{}

func (strictJSON) Name() string {
	return "json"
}

func (strictJSON) Bind(req *http.Request, obj any) error {
	if req == nil || req.Body == nil {
		return errors.New("invalid request")
	}
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	if binding.Validator == nil {
		return nil
	}
	return binding.Validator.ValidateStruct(obj)
}

// bindJSON binds the request body into obj with strictJSON.
func bindJSON(c *gin.Context, obj any) error {
	return c.ShouldBindWith(obj, strictJSON{})
}

// respondSuccess writes payload as JSON, or only the status when it is nil.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}

// bindError turns a request decoding failure into a validation error.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return apperr.Validation("%s", strings.Join(msgs, "; "))
	}
	return apperr.Validation("invalid request body: %v", err)
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// dateLayouts lists accepted due date encodings, most specific first.
var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

// optionalDate decodes a due date sent either as an RFC 3339 timestamp or a
// plain calendar date. Set records that the field was present at all, so an
// explicit empty string or null can be told apart from an omitted field.
type optionalDate struct {
	Time *time.Time
	Set  bool
}

// cleared reports whether the field was sent without a date.
func (d optionalDate) cleared() bool {
	return d.Set && d.Time == nil
}

func (d *optionalDate) UnmarshalJSON(data []byte) error {
	d.Set = true
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		d.Time = nil
		return nil
	}
	unquoted, err := strconv.Unquote(raw)
	if err != nil {
		return fmt.Errorf("dueDate must be a string")
	}
	unquoted = strings.TrimSpace(unquoted)
	if unquoted == "" {
		d.Time = nil
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, unquoted); err == nil {
			utc := t.UTC()
			d.Time = &utc
			return nil
		}
	}
	return fmt.Errorf("dueDate %q is not a valid date", unquoted)
}

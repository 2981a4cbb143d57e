package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// mountStatic serves the compiled browser client from the configured
// directory. Unknown /api paths always answer with a JSON 404.
func (s *Server) mountStatic() {
	indexPath := ""
	defer func() {
		s.engine.NoRoute(func(c *gin.Context) {
			if indexPath == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"message": "endpoint not found"})
				return
			}
			c.File(indexPath)
		})
	}()

	if s.opts.StaticDir == "" {
		s.logger.Warn("static directory not configured; API only mode")
		return
	}

	info, err := os.Stat(s.opts.StaticDir)
	if err != nil || !info.IsDir() {
		s.logger.Warn("static directory missing", "path", s.opts.StaticDir, "error", err)
		return
	}

	candidate := filepath.Join(s.opts.StaticDir, "index.html")
	if _, err := os.Stat(candidate); err != nil {
		s.logger.Warn("index.html not found", "path", candidate, "error", err)
	} else {
		indexPath = candidate
		s.engine.GET("/", func(c *gin.Context) {
			c.File(indexPath)
		})
	}

	assetsDir := filepath.Join(s.opts.StaticDir, "assets")
	if _, err := os.Stat(assetsDir); err == nil {
		s.engine.StaticFS("/assets", gin.Dir(assetsDir, false))
	}

	favicon := filepath.Join(s.opts.StaticDir, "favicon.ico")
	if _, err := os.Stat(favicon); err == nil {
		s.engine.StaticFile("/favicon.ico", favicon)
	}
}

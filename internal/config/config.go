// Package config loads the server configuration from defaults, an optional
// YAML file, TASKTRACKER_* environment variables and command line flags, in
// that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"tasktracker/internal/util"
)

// Admin describes the administrator account ensured at startup. It is
// skipped when Email is empty.
type Admin struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Config holds every tunable of the server.
type Config struct {
	Addr            string        `yaml:"addr"`
	DBPath          string        `yaml:"db_path"`
	StaticDir       string        `yaml:"static_dir"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	AuditRetries    int           `yaml:"audit_retries"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	LogLevel        string        `yaml:"log_level"`
	Admin           Admin         `yaml:"admin"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:            ":5000",
		DBPath:          "data/tasktracker.db",
		StaticDir:       "web/dist",
		TokenTTL:        30 * 24 * time.Hour,
		BcryptCost:      10,
		DefaultPageSize: 10,
		MaxPageSize:     100,
		AuditRetries:    3,
		CORSOrigins:     []string{"*"},
		LogLevel:        "info",
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error. fs may be nil; otherwise every flag registered
// by RegisterFlags and set on the command line overrides the other sources.
// The result is validated only after all sources are applied.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if fs != nil {
		if err := cfg.applyFlags(fs); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RegisterFlags adds the command line overrides to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address")
	fs.String("db", "", "Path to sqlite database file")
	fs.String("static", "", "Directory with built frontend")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	targets := []struct {
		name string
		dst  *string
	}{
		{"addr", &c.Addr},
		{"db", &c.DBPath},
		{"static", &c.StaticDir},
		{"log-level", &c.LogLevel},
	}
	for _, t := range targets {
		if !fs.Changed(t.name) {
			continue
		}
		v, err := fs.GetString(t.name)
		if err != nil {
			return fmt.Errorf("flag --%s: %w", t.name, err)
		}
		*t.dst = v
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	envInt := func(key string, dst *int) {
		v, err := util.EnvInt(key, *dst)
		errs = append(errs, err)
		*dst = v
	}

	c.Addr = util.EnvOrDefault("TASKTRACKER_ADDR", c.Addr)
	c.DBPath = util.EnvOrDefault("TASKTRACKER_DB_PATH", c.DBPath)
	c.StaticDir = util.EnvOrDefault("TASKTRACKER_STATIC_DIR", c.StaticDir)
	c.JWTSecret = util.EnvOrDefault("TASKTRACKER_JWT_SECRET", c.JWTSecret)
	ttl, err := util.EnvDuration("TASKTRACKER_TOKEN_TTL", c.TokenTTL)
	errs = append(errs, err)
	c.TokenTTL = ttl
	envInt("TASKTRACKER_BCRYPT_COST", &c.BcryptCost)
	envInt("TASKTRACKER_DEFAULT_PAGE_SIZE", &c.DefaultPageSize)
	envInt("TASKTRACKER_MAX_PAGE_SIZE", &c.MaxPageSize)
	envInt("TASKTRACKER_AUDIT_RETRIES", &c.AuditRetries)
	c.CORSOrigins = util.EnvList("TASKTRACKER_CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = util.EnvOrDefault("TASKTRACKER_LOG_LEVEL", c.LogLevel)
	c.Admin.Name = util.EnvOrDefault("TASKTRACKER_ADMIN_NAME", c.Admin.Name)
	c.Admin.Email = util.EnvOrDefault("TASKTRACKER_ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = util.EnvOrDefault("TASKTRACKER_ADMIN_PASSWORD", c.Admin.Password)
	return errors.Join(errs...)
}

// Validate checks the configuration for values the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path must not be empty"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token_ttl must be positive"))
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < 1 {
		errs = append(errs, errors.New("page sizes must be at least 1"))
	} else if c.DefaultPageSize > c.MaxPageSize {
		errs = append(errs, errors.New("default_page_size must not exceed max_page_size"))
	}
	if c.AuditRetries < 1 {
		errs = append(errs, errors.New("audit_retries must be at least 1"))
	}
	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			errs = append(errs, fmt.Errorf("cors origin %q must be \"*\" or start with http:// or https://", origin))
		}
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Admin.Email != "" && c.Admin.Password == "" {
		errs = append(errs, errors.New("admin.password is required when admin.email is set"))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Package config loads and validates the service's startup configuration.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("config validation failed with %d errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Config is the service's full startup configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
}

// ServerConfig controls the HTTP transport and Store connection.
type ServerConfig struct {
	Port      int
	APIPrefix string
	// DSN selects the Store backend by scheme: "sqlite://<path>" or
	// "postgres://...". Empty opens the sqlite file "endpointd.db" in the
	// working directory.
	DSN string
	// Production gates the fatal-vs-synthesize behavior on missing auth
	// key material (spec.md §4.8).
	Production bool
}

// SecurityConfig carries the auth guard's key material (spec.md §4.8).
type SecurityConfig struct {
	BearerSecret  string
	SigningSecret string
	ClientID      string
	ClientSecret  string
}

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	var errors ValidationErrors

	if err := c.Server.Validate(); err != nil {
		if verrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, verrs...)
		}
	}
	if err := c.Security.Validate(c.Server.Production); err != nil {
		if verrs, ok := err.(ValidationErrors); ok {
			errors = append(errors, verrs...)
		}
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// Validate validates the server configuration.
func (s *ServerConfig) Validate() error {
	var errors ValidationErrors

	if s.Port < 1 || s.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d is out of range: must be between 1 and 65535", s.Port),
		})
	}
	if s.APIPrefix == "" {
		errors = append(errors, ValidationError{
			Field:   "server.apiPrefix",
			Message: "apiPrefix cannot be empty",
		})
	} else if !strings.HasPrefix(s.APIPrefix, "/") {
		errors = append(errors, ValidationError{
			Field:   "server.apiPrefix",
			Message: "apiPrefix must start with '/'",
		})
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

// Validate checks that the auth guard has at least one usable credential
// path. In production mode, absence of both the bearer secret and the
// signing secret is a fatal configuration error per spec.md §4.8; outside
// production this method never fails — LoadFromEnv synthesizes material
// instead so a bare `go run` still works.
func (s *SecurityConfig) Validate(production bool) error {
	if !production {
		return nil
	}
	var errors ValidationErrors
	if s.BearerSecret == "" && s.SigningSecret == "" {
		errors = append(errors, ValidationError{
			Field:   "security",
			Message: "at least one of bearerSecret or signingSecret must be configured in production",
		})
	}
	if len(errors) > 0 {
		return errors
	}
	return nil
}

const (
	envPort          = "SCIM_PORT"
	envAPIPrefix     = "SCIM_API_PREFIX"
	envDSN           = "SCIM_DSN"
	envEnvironment   = "SCIM_ENV"
	envBearerSecret  = "SCIM_BEARER_SECRET"
	envSigningSecret = "SCIM_TOKEN_SIGNING_SECRET"
	envClientID      = "SCIM_TOKEN_CLIENT_ID"
	envClientSecret  = "SCIM_TOKEN_CLIENT_SECRET"
)

// LoadFromEnv reads the environment variables spec.md §6 enumerates. In
// production mode, having neither a bearer secret nor a signing secret is
// fatal (returned as a ValidationErrors), while either one alone is enough;
// in development mode missing material is
// synthesized and logged via logger, never silently left empty.
func LoadFromEnv(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	production := strings.EqualFold(os.Getenv(envEnvironment), "production")

	port := 8880
	if raw := os.Getenv(envPort); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}

	prefix := os.Getenv(envAPIPrefix)
	if prefix == "" {
		prefix = "/scim"
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:       port,
			APIPrefix:  prefix,
			DSN:        os.Getenv(envDSN),
			Production: production,
		},
		Security: SecurityConfig{
			BearerSecret:  os.Getenv(envBearerSecret),
			SigningSecret: os.Getenv(envSigningSecret),
			ClientID:      os.Getenv(envClientID),
			ClientSecret:  os.Getenv(envClientSecret),
		},
	}

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}

	if cfg.Security.BearerSecret == "" && cfg.Security.SigningSecret == "" {
		if production {
			return nil, ValidationErrors{{
				Field:   "security",
				Message: "SCIM_BEARER_SECRET or SCIM_TOKEN_SIGNING_SECRET must be set in production",
			}}
		}
		synthesized, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize a development signing secret: %w", err)
		}
		logger.Warn("no auth key material configured; synthesizing a development-only signing secret",
			"env_var", envSigningSecret)
		cfg.Security.SigningSecret = synthesized
	}

	return cfg, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

/*
Package config holds the one-shot connection profile spec.md §6
describes: hostname/port/credentials/timeouts/backoff parameters. It
never persists subscription, EPG, or channel state — that remains a
Non-goal (spec.md §1) regardless of how this config is loaded.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/htsp-go/htsp/backoff"
	"github.com/htsp-go/htsp/herrors"
)

// Config is the connection profile handed to the supervisor. Timeouts
// are stored in milliseconds to match the wire/file representation in
// spec.md §6 verbatim; use ConnectTimeoutDuration/ReplyTimeoutDuration
// to get a time.Duration.
type Config struct {
	Hostname         string          `json:"hostname" yaml:"hostname"`
	Port             int             `json:"port" yaml:"port"`
	Username         string          `json:"username" yaml:"username"`
	Password         string          `json:"password" yaml:"password"`
	ClientName       string          `json:"clientName" yaml:"clientName"`
	ClientVersion    string          `json:"clientVersion" yaml:"clientVersion"`
	ConnectTimeoutMs int             `json:"connectTimeoutMs" yaml:"connectTimeoutMs"`
	ReplyTimeoutMs   int             `json:"replyTimeoutMs" yaml:"replyTimeoutMs"`
	ReconnectBackoff ReconnectConfig `json:"reconnectBackoff" yaml:"reconnectBackoff"`
	HtspVersion      int             `json:"htspVersion" yaml:"htspVersion"`
}

// ConnectTimeoutDuration returns ConnectTimeoutMs as a time.Duration.
func (c Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ReplyTimeoutDuration returns ReplyTimeoutMs as a time.Duration.
func (c Config) ReplyTimeoutDuration() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

// ReconnectConfig is spec.md §6's reconnectBackoff object.
type ReconnectConfig struct {
	InitialMs int     `json:"initialMs" yaml:"initialMs"`
	MaxMs     int     `json:"maxMs" yaml:"maxMs"`
	Jitter    float64 `json:"jitter" yaml:"jitter"`
}

// Backoff converts the config into a backoff.Config for the supervisor.
func (r ReconnectConfig) Backoff() backoff.Config {
	return backoff.Config{
		InitialDelay: time.Duration(r.InitialMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxMs) * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    r.Jitter > 0,
	}
}

// Default returns spec.md §6's defaults.
func Default() Config {
	return Config{
		Port:             9982,
		ClientName:       "htsp-go",
		ClientVersion:    "1.0",
		ConnectTimeoutMs: 5000,
		ReplyTimeoutMs:   5000,
		ReconnectBackoff: ReconnectConfig{
			InitialMs: 1000,
			MaxMs:     30000,
			Jitter:    0.25,
		},
		HtspVersion: 26,
	}
}

// Validate checks the fields spec.md §6 constrains, returning
// herrors-classified Invalid errors modeled on the retrieved
// config.MinimalConfig.Validate().
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Hostname) == "" {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", "hostname is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", fmt.Sprintf("port %d out of range 1..65535", c.Port))
	}
	if c.ConnectTimeoutMs < 0 {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", "connectTimeoutMs must be non-negative")
	}
	if c.ReplyTimeoutMs < 0 {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", "replyTimeoutMs must be non-negative")
	}
	if c.ReconnectBackoff.InitialMs < 0 || c.ReconnectBackoff.MaxMs < 0 {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", "reconnectBackoff delays must be non-negative")
	}
	if c.ReconnectBackoff.MaxMs > 0 && c.ReconnectBackoff.InitialMs > c.ReconnectBackoff.MaxMs {
		return herrors.WrapInvalid(herrors.ErrMalformed, "config", "Validate", "reconnectBackoff.initialMs must not exceed maxMs")
	}
	return nil
}

const maxConfigSize = 1 << 20 // 1MB; a connection profile is a handful of fields.

// safeReadFile applies the size/regular-file checks the retrieved
// semstreams config.safeReadFile establishes, narrowed to what this
// module's single-profile use case needs (no path-traversal check: the
// path is operator-supplied, not derived from untrusted input).
func safeReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, herrors.WrapInvalid(err, "config", "safeReadFile", "cannot stat config file")
	}
	if !info.Mode().IsRegular() {
		return nil, herrors.WrapInvalid(herrors.ErrMalformed, "config", "safeReadFile", "not a regular file")
	}
	if info.Size() > maxConfigSize {
		return nil, herrors.WrapInvalid(herrors.ErrMalformed, "config", "safeReadFile", fmt.Sprintf("config file too large: %d bytes", info.Size()))
	}
	return os.ReadFile(path)
}

// LoadFile loads a Config from a JSON or YAML file (dispatched on
// extension), overlays HTSP_* environment variables, and validates the
// result.
func LoadFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, herrors.WrapInvalid(err, "config", "LoadFile", "invalid YAML")
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, herrors.WrapInvalid(err, "config", "LoadFile", "invalid JSON")
		}
	default:
		return nil, herrors.WrapInvalid(herrors.ErrMalformed, "config", "LoadFile", "unsupported config extension "+ext)
	}

	overlayEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// overlayEnv applies HTSP_HOSTNAME/HTSP_PORT/HTSP_USERNAME/
// HTSP_PASSWORD on top of a file-loaded Config, in the style of the
// retrieved plumego config.LoadEnvFile: environment always wins when
// set, so a deployment can override a checked-in profile without
// editing it.
func overlayEnv(cfg *Config) {
	if v := os.Getenv("HTSP_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("HTSP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("HTSP_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("HTSP_PASSWORD"); v != "" {
		cfg.Password = v
	}
}

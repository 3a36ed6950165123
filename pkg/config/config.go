// Package config loads cellpilot settings from a YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and the file exists.
const DefaultFile = "cellpilot.yaml"

// Environment variables that override file settings.
const (
	EnvBackendURL = "CELLPILOT_BACKEND_URL"
	EnvChatURL    = "CELLPILOT_CHAT_URL"
	EnvNotebook   = "CELLPILOT_NOTEBOOK"
	EnvLogLevel   = "CELLPILOT_LOG_LEVEL"
)

// Config holds every runtime setting.
type Config struct {
	BackendURL string            `yaml:"backend_url"`
	ChatURL    string            `yaml:"chat_url,omitempty"`
	Notebook   string            `yaml:"notebook,omitempty"`
	Vars       map[string]string `yaml:"vars,omitempty"`
	// RequestTimeout bounds each backend request; zero means none.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	LogLevel       string        `yaml:"log_level,omitempty"`
	LogFile        string        `yaml:"log_file,omitempty"`
	TraceFile      string        `yaml:"trace_file,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BackendURL: "http://localhost:8000",
		LogLevel:   "info",
		LogFile:    "cellpilot.log",
	}
}

// Load reads path over the defaults. An empty path reads DefaultFile when
// it exists; an explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackendURL); ok && v != "" {
		c.BackendURL = v
	}
	if v, ok := lookup(EnvChatURL); ok && v != "" {
		c.ChatURL = v
	}
	if v, ok := lookup(EnvNotebook); ok && v != "" {
		c.Notebook = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// ResolvedChatURL returns ChatURL, or derives ws(s)://<backend host>/ws/chat.
func (c Config) ResolvedChatURL() (string, error) {
	if c.ChatURL != "" {
		return c.ChatURL, nil
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	return u.String(), nil
}

// Validate checks the settings for obvious mistakes.
func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend_url %q must be an http(s) URL", c.BackendURL)
	}
	if c.ChatURL != "" {
		u, err := url.Parse(c.ChatURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("chat_url %q must be a ws(s) URL", c.ChatURL)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}

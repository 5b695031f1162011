// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jeranaias/glial-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete glial configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server" yaml:"server"`
	UI      UIConfig      `toml:"ui" json:"ui" yaml:"ui"`
	Log     LogConfig     `toml:"log" json:"log" yaml:"log"`
	Archive ArchiveConfig `toml:"archive" json:"archive" yaml:"archive"`
	Serve   ServeConfig   `toml:"serve" json:"serve" yaml:"serve"`
}

// ServerConfig selects the backend and the conversation to stream into.
type ServerConfig struct {
	// URL is the backend base URL.
	URL string `toml:"url" json:"url" yaml:"url"`
	// Session is the backend session id. Ignored when Conversation is set.
	Session string `toml:"session" json:"session" yaml:"session"`
	// Conversation streams into a stored conversation instead of a session.
	Conversation string `toml:"conversation" json:"conversation" yaml:"conversation"`
	// Token is sent as a bearer token.
	Token string `toml:"token" json:"token" yaml:"token"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
}

// UIConfig controls the chat view.
type UIConfig struct {
	Theme         string `toml:"theme" json:"theme" yaml:"theme"`
	ShowReasoning bool   `toml:"show_reasoning" json:"show_reasoning" yaml:"show_reasoning"`
	Markdown      bool   `toml:"markdown" json:"markdown" yaml:"markdown"`
	// RedrawHz caps how often a streaming turn repaints the view.
	RedrawHz int `toml:"redraw_hz" json:"redraw_hz" yaml:"redraw_hz"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Debug bool `toml:"debug" json:"debug" yaml:"debug"`
	// File receives log entries for interactive commands.
	File string `toml:"file" json:"file" yaml:"file"`
	// Format is auto, terminal, json or text.
	Format string `toml:"format" json:"format" yaml:"format"`
}

// ArchiveConfig controls the local transcript archive.
type ArchiveConfig struct {
	// Path of the sqlite archive. Empty means ~/.glial/archive.db.
	Path           string `toml:"path" json:"path" yaml:"path"`
	MaxTranscripts int    `toml:"max_transcripts" json:"max_transcripts" yaml:"max_transcripts"`
	// AutoSave archives the transcript when the TUI exits.
	AutoSave bool `toml:"auto_save" json:"auto_save" yaml:"auto_save"`
}

// ServeConfig holds defaults for `glial serve`.
type ServeConfig struct {
	Addr string `toml:"addr" json:"addr" yaml:"addr"`
	// Script is a JSON-lines frame script. Empty means the built-in echo.
	Script string `toml:"script" json:"script" yaml:"script"`
	// DB is the sqlite conversation store. Empty keeps conversations in memory.
	DB           string `toml:"db" json:"db" yaml:"db"`
	Token        string `toml:"token" json:"token" yaml:"token"`
	FrameDelayMs int    `toml:"frame_delay_ms" json:"frame_delay_ms" yaml:"frame_delay_ms"`
}

// Timeout returns TimeoutSecs as a duration.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// FrameDelay returns FrameDelayMs as a duration.
func (s ServeConfig) FrameDelay() time.Duration {
	return time.Duration(s.FrameDelayMs) * time.Millisecond
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default values.
const (
	DefaultServerURL      = "http://localhost:8000"
	DefaultSession        = "default"
	DefaultTimeoutSecs    = 30
	DefaultTheme          = "dark"
	DefaultRedrawHz       = 30
	DefaultLogFormat      = "auto"
	DefaultMaxTranscripts = 200
	DefaultServeAddr      = "127.0.0.1:8000"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:         DefaultServerURL,
			Session:     DefaultSession,
			TimeoutSecs: DefaultTimeoutSecs,
		},
		UI: UIConfig{
			Theme:         DefaultTheme,
			ShowReasoning: true,
			Markdown:      true,
			RedrawHz:      DefaultRedrawHz,
		},
		Log: LogConfig{
			Format: DefaultLogFormat,
		},
		Archive: ArchiveConfig{
			MaxTranscripts: DefaultMaxTranscripts,
			AutoSave:       true,
		},
		Serve: ServeConfig{
			Addr: DefaultServeAddr,
		},
	}
}

// fillDefaults replaces zero values left by a partial file.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Server.URL == "" {
		cfg.Server.URL = d.Server.URL
	}
	if cfg.Server.Session == "" {
		cfg.Server.Session = d.Server.Session
	}
	if cfg.Server.TimeoutSecs == 0 {
		cfg.Server.TimeoutSecs = d.Server.TimeoutSecs
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = d.UI.Theme
	}
	if cfg.UI.RedrawHz == 0 {
		cfg.UI.RedrawHz = d.UI.RedrawHz
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.Archive.MaxTranscripts == 0 {
		cfg.Archive.MaxTranscripts = d.Archive.MaxTranscripts
	}
	if cfg.Serve.Addr == "" {
		cfg.Serve.Addr = d.Serve.Addr
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// fileNames lists the files Load searches, in order.
var fileNames = []string{"config.toml", "config.json", "config.yaml"}

// ConfigDir returns the glial configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".glial"), nil
}

// ConfigPathTOML returns the path of the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Find returns the first existing config file in ConfigDir, or "" when
// there is none.
func Find() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the first config file found in ConfigDir, falling back to
// defaults. Environment overrides are applied last. A file that fails to
// parse yields defaults together with the parse error.
func Load() (*Config, error) {
	path, err := Find()
	if err == nil && path != "" {
		cfg, loadErr := LoadFromPath(path)
		if loadErr == nil {
			return cfg, nil
		}
		if errors.As(loadErr, new(ValidateErrors)) {
			return nil, loadErr
		}
		err = loadErr
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if verr := cfg.Validate(); verr != nil {
		return nil, fmt.Errorf("invalid config: %w", verr)
	}
	return cfg, err
}

// LoadFromPath reads path, choosing the decoder by extension (.json,
// .yaml/.yml, TOML otherwise), then fills defaults, applies environment
// overrides and validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if err := decodeFile(cfg, path); err != nil {
		return nil, err
	}
	fillDefaults(cfg)
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with owner-only permissions. The token may
// be in the file.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# glial configuration file\n")
	buf.WriteString("# Environment variables GLIAL_* override these values.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, buf.Bytes())
}

// SaveJSON writes cfg as indented JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, append(data, '\n'))
}

// SaveYAML writes cfg as YAML.
func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

func writeConfig(path string, data []byte) error {
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validThemes     = []string{"dark", "light", "auto"}
	validLogFormats = []string{"auto", "terminal", "json", "text"}
)

// Validate checks every field and returns ValidateErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if msg := checkURL(c.Server.URL); msg != "" {
		add("server.url", "%s", msg)
	}
	if c.Server.TimeoutSecs < 0 {
		add("server.timeout_secs", "must not be negative, got %d", c.Server.TimeoutSecs)
	}
	if !oneOf(c.UI.Theme, validThemes) {
		add("ui.theme", "invalid theme %q, must be one of: %s", c.UI.Theme, strings.Join(validThemes, ", "))
	}
	if c.UI.RedrawHz < 1 || c.UI.RedrawHz > 120 {
		add("ui.redraw_hz", "must be between 1 and 120, got %d", c.UI.RedrawHz)
	}
	if !oneOf(c.Log.Format, validLogFormats) {
		add("log.format", "invalid format %q, must be one of: %s", c.Log.Format, strings.Join(validLogFormats, ", "))
	}
	if c.Archive.MaxTranscripts < 0 {
		add("archive.max_transcripts", "must not be negative, got %d", c.Archive.MaxTranscripts)
	}
	if c.Serve.FrameDelayMs < 0 {
		add("serve.frame_delay_ms", "must not be negative, got %d", c.Serve.FrameDelayMs)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "missing host"
	}
	return ""
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// Environment variables read by ApplyEnvOverrides.
const (
	EnvServerURL    = "GLIAL_SERVER_URL"
	EnvSession      = "GLIAL_SESSION"
	EnvConversation = "GLIAL_CONVERSATION"
	EnvToken        = "GLIAL_TOKEN"
	EnvDebug        = "GLIAL_DEBUG"
	EnvLogFile      = "GLIAL_LOG_FILE"
)

// ApplyEnvOverrides copies set GLIAL_* variables over the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv(EnvSession); v != "" {
		c.Server.Session = v
	}
	if v := os.Getenv(EnvConversation); v != "" {
		c.Server.Conversation = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv(EnvDebug); v != "" {
		c.Log.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		c.Log.File = v
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders c as JSON with tokens redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	if safe.Serve.Token != "" {
		safe.Serve.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process configuration, loading it on first use.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if cfg == nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the process configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal replaces the process configuration.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting clears the process configuration.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

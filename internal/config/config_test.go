// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// isolate points HOME at an empty directory and clears GLIAL_* variables.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, env := range []string{EnvServerURL, EnvSession, EnvConversation, EnvToken, EnvDebug, EnvLogFile} {
		t.Setenv(env, "")
	}
	return home
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("Server.URL = %q, want %q", cfg.Server.URL, DefaultServerURL)
	}
	if cfg.Server.Session != "default" {
		t.Errorf("Server.Session = %q, want default", cfg.Server.Session)
	}
	if cfg.Server.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", cfg.Server.Timeout())
	}
	if !cfg.UI.ShowReasoning {
		t.Error("reasoning should be shown by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
}

func TestLoad_SearchOrder(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".glial")

	writeFile(t, filepath.Join(dir, "config.yaml"), "server:\n  session: from-yaml\n")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Session != "from-yaml" {
		t.Errorf("Session = %q, want from-yaml", cfg.Server.Session)
	}

	writeFile(t, filepath.Join(dir, "config.toml"), "[server]\nsession = \"from-toml\"\n")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Session != "from-toml" {
		t.Errorf("Session = %q, want from-toml", cfg.Server.Session)
	}
}

func TestLoad_BrokenFileFallsBack(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".glial", "config.toml"), "[server\nurl = ")

	cfg, err := Load()
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if cfg == nil || cfg.Server.URL != DefaultServerURL {
		t.Errorf("expected defaults alongside the error, got %+v", cfg)
	}
}

func TestLoad_InvalidFileFails(t *testing.T) {
	home := isolate(t)
	writeFile(t, filepath.Join(home, ".glial", "config.toml"), "[ui]\ntheme = \"neon\"\n")

	cfg, err := Load()
	if err == nil || cfg != nil {
		t.Fatalf("Load() = %v, %v; want nil and a validation error", cfg, err)
	}
	var verrs ValidateErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %v is not ValidateErrors", err)
	}
	if verrs[0].Field != "ui.theme" {
		t.Errorf("Field = %q, want ui.theme", verrs[0].Field)
	}
}

func TestLoadFromPath_Formats(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	tests := []struct {
		file    string
		content string
	}{
		{"c.toml", "[server]\nurl = \"https://chat.example.com\"\nsession = \"work\"\n[ui]\nredraw_hz = 10\n"},
		{"c.json", `{"server":{"url":"https://chat.example.com","session":"work"},"ui":{"redraw_hz":10}}`},
		{"c.yml", "server:\n  url: https://chat.example.com\n  session: work\nui:\n  redraw_hz: 10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			cfg, err := LoadFromPath(path)
			if err != nil {
				t.Fatalf("LoadFromPath() error = %v", err)
			}
			if cfg.Server.URL != "https://chat.example.com" || cfg.Server.Session != "work" {
				t.Errorf("server = %+v", cfg.Server)
			}
			if cfg.UI.RedrawHz != 10 {
				t.Errorf("RedrawHz = %d, want 10", cfg.UI.RedrawHz)
			}
			// Unset fields are filled from defaults.
			if cfg.Server.TimeoutSecs != DefaultTimeoutSecs || cfg.UI.Theme != DefaultTheme {
				t.Errorf("defaults not filled: %+v %+v", cfg.Server, cfg.UI)
			}
		})
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

// =============================================================================
// SAVE
// =============================================================================

func TestSave_RoundTripsAllFormats(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg := Default()
	cfg.Server.Conversation = "conv-1"
	cfg.Serve.Script = "/tmp/script.jsonl"
	cfg.UI.ShowReasoning = false

	savers := map[string]func(*Config, string) error{
		"c.toml": SaveTOML,
		"c.json": SaveJSON,
		"c.yaml": SaveYAML,
	}
	for name, save := range savers {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			if err := save(cfg, path); err != nil {
				t.Fatalf("save error = %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("permissions = %o, want 600", perm)
			}

			got, err := LoadFromPath(path)
			if err != nil {
				t.Fatalf("LoadFromPath() error = %v", err)
			}
			if got.Server.Conversation != "conv-1" || got.Serve.Script != "/tmp/script.jsonl" {
				t.Errorf("loaded %+v", got)
			}
			if got.UI.ShowReasoning {
				t.Error("ShowReasoning should stay false")
			}
		})
	}
}

func TestSave_DefaultLocation(t *testing.T) {
	home := isolate(t)

	if err := Save(Default()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(home, ".glial", "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# glial configuration file") {
		t.Errorf("missing header: %q", data)
	}

	path, err := Find()
	if err != nil || filepath.Base(path) != "config.toml" {
		t.Errorf("Find() = %q, %v", path, err)
	}
}

// =============================================================================
// VALIDATION AND ENVIRONMENT
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://host" }, "server.url"},
		{"no host", func(c *Config) { c.Server.URL = "http://" }, "server.url"},
		{"negative timeout", func(c *Config) { c.Server.TimeoutSecs = -1 }, "server.timeout_secs"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"theme case", func(c *Config) { c.UI.Theme = "LIGHT" }, ""},
		{"redraw zero", func(c *Config) { c.UI.RedrawHz = 0 }, "ui.redraw_hz"},
		{"redraw high", func(c *Config) { c.UI.RedrawHz = 500 }, "ui.redraw_hz"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"archive", func(c *Config) { c.Archive.MaxTranscripts = -5 }, "archive.max_transcripts"},
		{"frame delay", func(c *Config) { c.Serve.FrameDelayMs = -1 }, "serve.frame_delay_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			var verrs ValidateErrors
			if !errors.As(err, &verrs) || len(verrs) != 1 {
				t.Fatalf("Validate() = %v, want one ValidationError", err)
			}
			if verrs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", verrs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateErrors_Message(t *testing.T) {
	errs := ValidateErrors{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}}
	if got := errs.Error(); got != "a: x; b: y" {
		t.Errorf("Error() = %q", got)
	}
	if got := (ValidateErrors{}).Error(); got != "no validation errors" {
		t.Errorf("Error() = %q", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvServerURL, "https://override.example.com")
	t.Setenv(EnvSession, "env-session")
	t.Setenv(EnvConversation, "env-conv")
	t.Setenv(EnvToken, "secret")
	t.Setenv(EnvDebug, "TRUE")
	t.Setenv(EnvLogFile, "/tmp/glial.log")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Server.URL != "https://override.example.com" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Session != "env-session" || cfg.Server.Conversation != "env-conv" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.Token != "secret" {
		t.Errorf("Token = %q", cfg.Server.Token)
	}
	if !cfg.Log.Debug || cfg.Log.File != "/tmp/glial.log" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestApplyEnvOverrides_BeatFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "c.toml")
	writeFile(t, path, "[server]\nsession = \"file\"\n")
	t.Setenv(EnvSession, "env")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Session != "env" {
		t.Errorf("Session = %q, want env", cfg.Server.Session)
	}
}

func TestConfig_StringRedactsTokens(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "client-secret"
	cfg.Serve.Token = "server-secret"

	s := cfg.String()
	if strings.Contains(s, "client-secret") || strings.Contains(s, "server-secret") {
		t.Errorf("String() leaked a token: %s", s)
	}
	if cfg.Server.Token != "client-secret" {
		t.Error("String() must not modify the config")
	}
}

func TestExpandHome(t *testing.T) {
	home := isolate(t)

	if got := ExpandHome("~/logs/glial.log"); got != filepath.Join(home, "logs", "glial.log") {
		t.Errorf("ExpandHome() = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome() = %q", got)
	}
	if got := ExpandHome("~user/x"); got != "~user/x" {
		t.Errorf("ExpandHome() = %q", got)
	}
}

// =============================================================================
// GLOBAL
// =============================================================================

// TestConfig_ConcurrentAccess checks Global, SetGlobal and ReloadGlobal
// under the race detector.
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 90; i++ {
		wg.Add(1)
		switch i % 3 {
		case 0:
			go func() {
				defer wg.Done()
				if Global() == nil {
					t.Error("Global() returned nil")
				}
			}()
		case 1:
			go func() {
				defer wg.Done()
				c := Default()
				c.Server.Session = "concurrent"
				SetGlobal(c)
			}()
		case 2:
			go func() {
				defer wg.Done()
				_ = ReloadGlobal()
			}()
		}
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	if Global().Server.URL != DefaultServerURL {
		t.Error("Global() should load defaults")
	}

	custom := Default()
	custom.Server.Session = "custom"
	SetGlobal(custom)

	if got := Global().Server.Session; got != "custom" {
		t.Errorf("Session = %q, want custom", got)
	}
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[server]\nsession = \"one\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		cfg *Config
		err error
	}
	changes := make(chan result, 8)
	if err := Watch(ctx, path, func(c *Config, err error) { changes <- result{c, err} }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// A sibling file is ignored.
	writeFile(t, filepath.Join(filepath.Dir(path), "other.toml"), "x = 1\n")
	writeFile(t, path, "[server]\nsession = \"two\"\n")

	select {
	case r := <-changes:
		if r.err != nil {
			t.Fatalf("reload error = %v", r.err)
		}
		if r.cfg.Server.Session != "two" {
			t.Errorf("Session = %q, want two", r.cfg.Server.Session)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	writeFile(t, path, "[ui]\ntheme = \"neon\"\n")
	select {
	case r := <-changes:
		if r.err == nil || r.cfg != nil {
			t.Errorf("expected a validation error, got %+v, %v", r.cfg, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after invalid write")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.toml"), func(*Config, error) {})
	if err == nil {
		t.Error("expected an error watching a missing directory")
	}
}

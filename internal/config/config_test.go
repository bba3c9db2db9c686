package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/papershelf/internal/providers"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.ChunkSize != 50 || cfg.RenderDPI != 96 {
		t.Errorf("unexpected defaults chunk_size=%d render_dpi=%d", cfg.ChunkSize, cfg.RenderDPI)
	}
	if cfg.OCR.Providers[providers.MistralOCRName].APIKey != "${MISTRAL_API_KEY}" {
		t.Error("expected mistral API key placeholder")
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ProviderConfigs(t *testing.T) {
	t.Setenv("TEST_MISTRAL_KEY", "m-key-123")

	cfg := DefaultConfig()
	cfg.OCR.Providers = map[string]OCRProviderCfg{
		providers.MistralOCRName: {APIKey: "${TEST_MISTRAL_KEY}", RateLimit: 6, TimeoutSeconds: 30},
		"tesseract":              {Language: "deu"},
	}

	got := cfg.ProviderConfigs()
	m := got[providers.MistralOCRName]
	if m.APIKey != "m-key-123" || m.RateLimit != 6 || m.Timeout != 30*time.Second {
		t.Errorf("unexpected mistral config %+v", m)
	}
	if got["tesseract"].Language != "deu" {
		t.Errorf("unexpected tesseract config %+v", got["tesseract"])
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative chunk size", func(c *Config) { c.ChunkSize = -1 }},
		{"zero dpi", func(c *Config) { c.RenderDPI = 0 }},
		{"unknown schema", func(c *Config) { c.Schema = "c" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown runner", func(c *Config) { c.Figures.Runner = "podman" }},
		{"no provider", func(c *Config) { c.OCR.Provider = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file over defaults", func(t *testing.T) {
		path := writeConfig(t, `
chunk_size: 25
schema: inline-caption
ocr:
  provider: tesseract
  providers:
    tesseract:
      language: eng
figures:
  runner: cli
  cli:
    command: [sbt]
    dir: /opt/pdffigures2
`)
		mgr, err := NewManager(path, "")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.ChunkSize != 25 || cfg.Schema != "inline-caption" {
			t.Errorf("unexpected values %+v", cfg)
		}
		if cfg.RenderDPI != 96 {
			t.Errorf("expected default render_dpi, got %d", cfg.RenderDPI)
		}
		if cfg.OCR.Provider != "tesseract" || cfg.OCR.Providers["tesseract"].Language != "eng" {
			t.Errorf("unexpected ocr config %+v", cfg.OCR)
		}
		if _, ok := cfg.OCR.Providers[providers.MistralOCRName]; !ok {
			t.Error("expected default mistral block to survive")
		}
		if strings.Join(cfg.Figures.CLI.Command, " ") != "sbt" || cfg.Figures.CLI.Dir != "/opt/pdffigures2" {
			t.Errorf("unexpected cli config %+v", cfg.Figures.CLI)
		}
		if mgr.ConfigFile() != path {
			t.Errorf("expected config file %s, got %s", path, mgr.ConfigFile())
		}
	})

	t.Run("defaults without file", func(t *testing.T) {
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if mgr.Get().ChunkSize != 50 || mgr.ConfigFile() != "" {
			t.Errorf("expected defaults, got %+v", mgr.Get())
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("PAPERSHELF_CHUNK_SIZE", "10")
		t.Setenv("PAPERSHELF_FIGURES_RUNNER", "none")
		mgr, err := NewManager("", t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		cfg := mgr.Get()
		if cfg.ChunkSize != 10 || cfg.Figures.Runner != RunnerNone {
			t.Errorf("expected env overrides, got chunk_size=%d runner=%s", cfg.ChunkSize, cfg.Figures.Runner)
		}
	})

	t.Run("rejects invalid file", func(t *testing.T) {
		path := writeConfig(t, "schema: unknown\n")
		if _, err := NewManager(path, ""); err == nil {
			t.Error("expected error for invalid schema")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "chunk_size: 5\n"), "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "chunk_size: 5\n"), "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().ChunkSize
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "chunk_size: 5\n")

	mgr, err := NewManager(configFile, "")
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if mgr.Get().ChunkSize != 5 {
		t.Errorf("initial value mismatch: expected 5, got %d", mgr.Get().ChunkSize)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Int32

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int32(cfg.ChunkSize))
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("chunk_size: 7\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if lastValue.Load() == 7 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("expected callback to be invoked")
	}
	if mgr.Get().ChunkSize != 7 {
		t.Errorf("expected chunk_size 7 after reload, got %d", mgr.Get().ChunkSize)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("PAPERSHELF_TEST_DOTENV=from-file\nPAPERSHELF_TEST_PRESET=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PAPERSHELF_TEST_PRESET", "from-shell")
	t.Setenv("PAPERSHELF_TEST_DOTENV", "")
	os.Unsetenv("PAPERSHELF_TEST_DOTENV")

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), envFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 1 || loaded[0] != envFile {
		t.Errorf("unexpected loaded files %v", loaded)
	}
	if os.Getenv("PAPERSHELF_TEST_DOTENV") != "from-file" {
		t.Errorf("expected value from file, got %q", os.Getenv("PAPERSHELF_TEST_DOTENV"))
	}
	if os.Getenv("PAPERSHELF_TEST_PRESET") != "from-shell" {
		t.Errorf("expected shell value to win, got %q", os.Getenv("PAPERSHELF_TEST_PRESET"))
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}

	mgr, err := NewManager(path, "")
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.ChunkSize != 50 || cfg.OCR.Provider != providers.MistralOCRName {
		t.Errorf("unexpected round-tripped config %+v", cfg)
	}
}

func TestKeys(t *testing.T) {
	keys := strings.Join(Keys(), " ")
	for _, want := range []string{"chunk_size", "ocr.provider", "figures.docker.image", "retrieve.attempts"} {
		if !strings.Contains(keys, want) {
			t.Errorf("expected key %s in %s", want, keys)
		}
	}
}

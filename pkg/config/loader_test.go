package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/config/provider"
)

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiro.yaml")
	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-file\nrunner:\n  max_turns: 4\n")

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, 4, cfg.Runner.MaxTurns)
	assert.Equal(t, provider.TypeFile, loader.Provider().Type())
}

func TestLoadConfigFile_Errors(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeConfig(t, path, "llm:\n  provider: nope\n")
	_, _, err = LoadConfigFile(context.Background(), path)
	assert.ErrorContains(t, err, "config validation failed")
}

func TestLoader_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiro.yaml")
	writeConfig(t, path, "llm:\n  api_key: sk-a\n  provider: openai\nrunner:\n  max_turns: 2\n")

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	loader := NewLoader(p)
	loader.SetOnChange(func(c *Config) { reloaded <- c })
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()

	// An invalid document is logged and skipped.
	time.Sleep(200 * time.Millisecond)
	writeConfig(t, path, "llm:\n  api_key: sk-a\n  provider: openai\nrunner:\n  max_turns: -1\n")
	time.Sleep(400 * time.Millisecond)
	writeConfig(t, path, "llm:\n  api_key: sk-a\n  provider: openai\nrunner:\n  max_turns: 7\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Runner.MaxTurns)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shiro.yaml")
	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-a\n")

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()
	assert.Equal(t, 10, cfg.Runner.MaxTurns)

	_, changed, err := loader.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "same bytes")

	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-a\n\n")
	_, changed, err = loader.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "trailing whitespace only")

	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-a\nrunner:\n  max_turns: 3\n")
	cfg, changed, err = loader.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 3, cfg.Runner.MaxTurns)

	writeConfig(t, path, "runner:\n  max_turns: -1\n")
	_, _, err = loader.Reload(context.Background())
	assert.ErrorContains(t, err, "config validation failed")

	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-a\ncoordinator:\n  instructions: \"Today is {{.Today}}\"\n")
	_, _, err = loader.Reload(context.Background())
	assert.ErrorContains(t, err, "can't evaluate field Today")

	// A rejected revision does not replace the last good one.
	writeConfig(t, path, "llm:\n  provider: openai\n  api_key: sk-a\nrunner:\n  max_turns: 3\n")
	_, changed, err = loader.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"llm": `))
	assert.ErrorContains(t, err, "failed to parse config")
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("SHIRO_ENV_A", "")
	os.Unsetenv("SHIRO_ENV_A")
	os.Unsetenv("SHIRO_ENV_B")
	t.Cleanup(func() { os.Unsetenv("SHIRO_ENV_B") })

	writeConfig(t, filepath.Join(dir, ".env"), "SHIRO_ENV_A=from-env\nSHIRO_ENV_B=from-env\n")
	writeConfig(t, filepath.Join(dir, ".env.local"), "SHIRO_ENV_A=from-local\n")

	require.NoError(t, LoadEnvFiles())
	assert.Equal(t, "from-local", os.Getenv("SHIRO_ENV_A"))
	assert.Equal(t, "from-env", os.Getenv("SHIRO_ENV_B"))
}

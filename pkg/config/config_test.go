package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullYAML = `
server:
  port: 9000
  shutdown_timeout: 5s
llm:
  provider: anthropic
  api_key: ${SHIRO_TEST_KEY}
  temperature: 0.2
coordinator:
  instructions: "You are Shiro. It is {{.Now}}."
integrations:
  gmail:
    mcp:
      url: ${SHIRO_TEST_GMAIL_URL:-http://localhost:9001/sse}
      headers:
        Authorization: Bearer $SHIRO_TEST_KEY
  slack:
    disabled: true
  jira:
    agent_name: Jira Agent
    instructions: Manage Jira issues.
    mcp:
      command: jira-mcp
      args: [--stdio]
runner:
  max_turns: 5
  stream_deltas: true
  time_zone: Europe/London
session:
  backend: sql
  sql:
    driver: sqlite
    database: /tmp/shiro.db
rate_limit:
  enabled: true
  limits:
    - type: count
      window: minute
      limit: 10
`

func TestParse(t *testing.T) {
	t.Setenv("SHIRO_TEST_KEY", "sk-test")

	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Address())
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Server.CORS.IsEnabled())

	assert.Equal(t, LLMProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.InDelta(t, 0.2, *cfg.LLM.Temperature, 1e-9)

	gmail := cfg.Integrations["gmail"]
	require.NotNil(t, gmail)
	assert.Equal(t, "http://localhost:9001/sse", gmail.MCP.URL)
	assert.Equal(t, "Bearer sk-test", gmail.MCP.Headers["Authorization"])
	assert.Equal(t, 30*time.Second, gmail.MCP.ConnectTimeout)
	assert.True(t, cfg.Integrations["slack"].Disabled)
	assert.Equal(t, []string{"--stdio"}, cfg.Integrations["jira"].MCP.Args)

	assert.Equal(t, 5, cfg.Runner.MaxTurns)
	assert.Equal(t, "Europe/London", cfg.Runner.TimeZone)
	assert.Equal(t, "auto", cfg.Coordinator.ToolChoice)

	assert.Equal(t, StorageBackendSQL, cfg.Session.Backend)
	assert.Equal(t, "sqlite3", cfg.Session.SQL.DriverName())
	assert.Equal(t, "/tmp/shiro.db", cfg.Session.SQL.DSN())

	assert.Equal(t, "user", cfg.RateLimit.Scope)
	assert.Len(t, cfg.RateLimit.Limits, 1)

	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestParse_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, LLMProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "sk-openai", cfg.LLM.APIKey)
	assert.Equal(t, 10, cfg.Runner.MaxTurns)
	assert.Equal(t, "Asia/Kolkata", cfg.Runner.TimeZone)
	assert.Equal(t, StorageBackendMemory, cfg.Session.Backend)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, []string{"/health"}, cfg.Auth.ExcludedPaths)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Empty(t, cfg.RateLimit.Limits)
	assert.Equal(t, "simple", cfg.Logger.Format)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"llm": {"provider": "gemini", "api_key": "g-key"}, "runner": {"max_turns": "3"}}`))
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Runner.MaxTurns)
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "syntax", yaml: "server: [", want: "failed to parse config"},
		{name: "provider", yaml: "llm:\n  provider: llama\n", want: "invalid provider"},
		{name: "missing key", yaml: "llm:\n  provider: openai\n  api_key: ${SHIRO_UNSET_KEY}\n", want: ""},
		{name: "temperature", yaml: "llm:\n  temperature: 3\n", want: "temperature must be between 0 and 2"},
		{name: "tool choice", yaml: "coordinator:\n  tool_choice: always\n", want: "invalid tool_choice"},
		{name: "mcp without target", yaml: "integrations:\n  gmail:\n    mcp:\n      headers: {a: b}\n", want: "integrations.gmail: mcp: url or command is required"},
		{name: "stdio without command", yaml: "integrations:\n  x:\n    mcp:\n      transport: stdio\n      url: http://a\n", want: "command is required for stdio transport"},
		{name: "time zone", yaml: "runner:\n  time_zone: Mars/Olympus\n", want: "invalid time zone"},
		{name: "sql without db", yaml: "session:\n  backend: sql\n", want: "sql is required"},
		{name: "postgres without host", yaml: "session:\n  backend: sql\n  sql:\n    driver: postgres\n    database: shiro\n", want: "host is required for postgres"},
		{name: "backend", yaml: "session:\n  backend: mongo\n", want: "invalid backend"},
		{name: "auth", yaml: "auth:\n  enabled: true\n", want: "auth.jwks_url is required"},
		{name: "rate limit window", yaml: "rate_limit:\n  enabled: true\n  limits:\n    - {type: count, window: year, limit: 1}\n", want: "window"},
		{name: "log level", yaml: "logger:\n  level: loud\n", want: "invalid log level"},
		{name: "coordinator template", yaml: "coordinator:\n  instructions: \"Today is {{.Today}}\"\n", want: "coordinator: instructions: failed to render instruction"},
		{name: "integration template", yaml: "integrations:\n  gmail:\n    instructions: \"{{.Now\"\n", want: "integrations.gmail: instructions: invalid instruction template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if tt.name == "missing key" {
				// The empty expansion falls back to OPENAI_API_KEY.
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("SHIRO_A", "alpha")
	t.Setenv("SHIRO_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "${SHIRO_A}", want: "alpha"},
		{in: "$SHIRO_A/x", want: "alpha/x"},
		{in: "${SHIRO_EMPTY:-fallback}", want: "fallback"},
		{in: "${SHIRO_A:-fallback}", want: "alpha"},
		{in: "pre-${SHIRO_MISSING}-post", want: "pre--post"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvString(tt.in), tt.in)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := &DatabaseConfig{Driver: "postgres", Host: "db", Database: "shiro", Username: "u", Password: "p"}
	pg.SetDefaults()
	assert.Equal(t, "host=db port=5432 dbname=shiro user=u password=p sslmode=disable", pg.DSN())
	assert.Equal(t, "postgres", pg.DriverName())

	my := &DatabaseConfig{Driver: "mysql", Host: "db", Database: "shiro", Username: "u", Password: "p"}
	my.SetDefaults()
	assert.Equal(t, "u:p@tcp(db:3306)/shiro?parseTime=true", my.DSN())

	lite := &DatabaseConfig{Driver: "sqlite3", Database: "shiro.db"}
	lite.SetDefaults()
	assert.Equal(t, "sqlite", lite.Dialect())
	assert.Equal(t, "sqlite3", lite.DriverName())
	assert.NoError(t, lite.Validate())
}

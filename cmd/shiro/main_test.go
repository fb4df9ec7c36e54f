package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiroai/shiro/pkg/config"
	"github.com/shiroai/shiro/pkg/config/provider"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shiro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestCLI_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{
		"--config", "shiro/prod",
		"--config-type", "etcd",
		"--config-endpoints", "etcd-1:2379,etcd-2:2379",
		"serve", "--port", "9000", "--watch",
	})
	require.NoError(t, err)
	assert.Equal(t, 9000, cli.Serve.Port)
	assert.True(t, cli.Serve.Watch)

	opts, err := cli.providerConfig()
	require.NoError(t, err)
	assert.Equal(t, provider.TypeEtcd, opts.Type)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, opts.Endpoints)
}

func TestProviderConfig_RemoteNeedsEndpoints(t *testing.T) {
	cli := CLI{Config: "shiro/prod", ConfigType: "consul"}
	_, err := cli.providerConfig()
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	valid := writeConfig(t, `
llm:
  provider: openai
  api_key: test-key
integrations:
  jira:
    agent_name: Jira Agent
    instructions: You manage Jira issues.
`)
	cli := CLI{Config: valid, ConfigType: "file"}
	assert.NoError(t, (&ValidateCmd{}).Run(&cli))
	assert.NoError(t, (&IntegrationsCmd{All: true}).Run(&cli))

	invalid := writeConfig(t, `
llm:
  provider: openai
  api_key: test-key
integrations:
  jira:
    agent_name: Jira Agent
`)
	cli.Config = invalid
	assert.Error(t, (&ValidateCmd{}).Run(&cli))

	cli.Config = writeConfig(t, `
llm:
  provider: openai
  api_key: test-key
coordinator:
  instructions: "Today is {{.Today}}."
`)
	assert.ErrorContains(t, (&ValidateCmd{}).Run(&cli), "can't evaluate field Today")
}

func TestInitLogger_Precedence(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "shiro.log")
	cleanup, err := initLogger("", "", "", &config.LoggerConfig{Level: "debug", File: logFile, Format: "verbose"})
	require.NoError(t, err)
	cleanup()
	_, err = os.Stat(logFile)
	assert.NoError(t, err)

	_, err = initLogger("loud", "", "", nil)
	assert.Error(t, err)

	cleanup, err = initLogger("warn", "", "", nil)
	require.NoError(t, err)
	cleanup()
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

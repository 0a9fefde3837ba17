package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestDefault_PassesValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_AppliesOverridesOnTopOfDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  port: 9090
session:
  busy_policy: queue
llm:
  default_provider: gpt
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host, "unset fields keep their default")
	assert.Equal(t, "queue", cfg.Session.BusyPolicy)
	assert.Equal(t, "gpt", cfg.LLM.DefaultProvider)
	assert.Equal(t, 25, cfg.Session.MaxToolCalls, "sibling fields left out of the override stay defaulted")
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAMLErrors(t *testing.T) {
	path := writeTempConfig(t, "not: [valid yaml")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidBusyPolicy(t *testing.T) {
	path := writeTempConfig(t, "session:\n  busy_policy: sometimes\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := Default()
	cfg.Conversation.Strategy = "magic"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RequiresDefaultProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.DefaultProvider = ""
	assert.Error(t, cfg.Validate())
}

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, token string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "bot.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := "platform: discord\n" +
		"discord:\n  token: \"" + token + "\"\n" +
		"storage:\n  path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dbPath
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dispatchbot "+version)
}

func TestSetupCreatesDatabase(t *testing.T) {
	cfgPath, dbPath := writeConfig(t, "test-token")
	out, err := runRootCommand(t, "setup", "--config", cfgPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "discord token present")
	assert.Contains(t, out, "all canonical")
	assert.Contains(t, out, "ready")
	assert.FileExists(t, dbPath)
}

func TestSetupReportsMissingToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("DISPATCHBOT_DISCORD_TOKEN", "")
	cfgPath, _ := writeConfig(t, "")
	out, err := runRootCommand(t, "setup", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, out, "discord token is not set")
}

func TestDestructiveCommandsNeedConfirmation(t *testing.T) {
	cfgPath, _ := writeConfig(t, "test-token")
	for _, verb := range []string{"reset-db", "clear-db"} {
		_, err := runRootCommand(t, verb, "--config", cfgPath)
		assert.ErrorIs(t, err, errNeedConfirm, verb)
	}

	out, err := runRootCommand(t, "clear-db", "--yes", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "database cleared")

	out, err = runRootCommand(t, "reset-db", "--yes", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "database reset")
}

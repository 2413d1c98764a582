package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/rules"
)

func writeRuleFile(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.cue")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestValidateAcceptsBaseRules(t *testing.T) {
	path := writeRuleFile(t, rules.DefaultRuleSource)

	out, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Valid: version base-1")
}

func TestValidateListsRuleIDsWhenVerbose(t *testing.T) {
	path := writeRuleFile(t, rules.DefaultRuleSource)

	out, err := executeCommand(t, "--verbose", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "safety-immediate-trigger")
}

func TestValidateRejectsBrokenRules(t *testing.T) {
	path := writeRuleFile(t, `registry: { version: 7 }`)

	out, err := executeCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error:")
}

func TestValidateMissingFileIsCommandError(t *testing.T) {
	_, err := executeCommand(t, "validate", filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateJSONOutput(t *testing.T) {
	path := writeRuleFile(t, rules.DefaultRuleSource)

	out, err := executeCommand(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "base-1", data["version"])
	assert.EqualValues(t, 5, data["rules"])
}

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkflowDirs(t *testing.T) (project, home string) {
	t.Helper()

	dir := t.TempDir()
	project = filepath.Join(dir, ".weft", "workflows")
	require.NoError(t, os.MkdirAll(project, 0755))

	home = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".weft", "workflows"), 0755))
	t.Setenv("HOME", home)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	return project, filepath.Join(home, ".weft", "workflows")
}

func TestResolveWorkflowName(t *testing.T) {
	t.Run("project directory wins over home", func(t *testing.T) {
		project, home := setupWorkflowDirs(t)
		writeWorkflowFile(t, project, "review.weft.json", validWorkflowDoc)
		writeWorkflowFile(t, home, "review.weft.json", validWorkflowDoc)

		path, err := resolveWorkflowName("review")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(".weft", "workflows", "review.weft.json"), path)
	})

	t.Run("falls back to home directory", func(t *testing.T) {
		_, home := setupWorkflowDirs(t)
		writeWorkflowFile(t, home, "triage.yaml", "id: triage\nsteps: []\n")

		path, err := resolveWorkflowName("triage")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "triage.yaml"), path)
	})

	t.Run("canonical extension tried first", func(t *testing.T) {
		project, _ := setupWorkflowDirs(t)
		writeWorkflowFile(t, project, "ship.yaml", "id: ship\nsteps: []\n")
		writeWorkflowFile(t, project, "ship.weft.json", validWorkflowDoc)

		path, err := resolveWorkflowName("ship")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(path, "ship.weft.json"))
	})

	t.Run("unknown name lists tried paths", func(t *testing.T) {
		setupWorkflowDirs(t)

		_, err := resolveWorkflowName("ghost")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `workflow "ghost" not found`)
		assert.Contains(t, err.Error(), filepath.Join(".weft", "workflows", "ghost.weft.json"))
	})
}

func TestParseWorkflowArgs(t *testing.T) {
	t.Run("key value pairs", func(t *testing.T) {
		input := parseWorkflowArgs([]string{"pr=42", "urgency=high", "dry=true"})
		assert.Equal(t, map[string]interface{}{
			"pr":      float64(42),
			"urgency": "high",
			"dry":     true,
		}, input)
	})

	t.Run("bare arguments collect under args", func(t *testing.T) {
		input := parseWorkflowArgs([]string{"fix the login bug", "asap"})
		assert.Equal(t, map[string]interface{}{
			"args": []interface{}{"fix the login bug", "asap"},
		}, input)
	})

	t.Run("mixed", func(t *testing.T) {
		input := parseWorkflowArgs([]string{"repo=weft", "ship it", `tags=["a","b"]`})
		assert.Equal(t, map[string]interface{}{
			"repo": "weft",
			"tags": []interface{}{"a", "b"},
			"args": []interface{}{"ship it"},
		}, input)
	})

	t.Run("empty key is a bare argument", func(t *testing.T) {
		input := parseWorkflowArgs([]string{"=orphan"})
		assert.Equal(t, map[string]interface{}{
			"args": []interface{}{"=orphan"},
		}, input)
	})

	t.Run("no arguments", func(t *testing.T) {
		assert.Empty(t, parseWorkflowArgs(nil))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "multi line", truncate("multi\nline", 20))
	assert.Equal(t, strings.Repeat("x", 7)+"...", truncate(strings.Repeat("x", 30), 10))
}

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageEnv(t *testing.T) {
	src := filepath.Join(t.TempDir(), "deploy.env")
	require.NoError(t, os.WriteFile(src, []byte("DB_PASSWORD=secret\nAPP_PORT=8000\n"), 0644))

	w, err := New(t.TempDir())
	require.NoError(t, err)

	staged, err := w.StageEnv(src, ".env")
	require.NoError(t, err)

	assert.Equal(t, w.Path(".env"), staged.Path())
	assert.Equal(t, map[string]string{
		"DB_PASSWORD": "secret",
		"APP_PORT":    "8000",
	}, staged.Vars())

	info, err := os.Stat(staged.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	content, err := os.ReadFile(staged.Path())
	require.NoError(t, err)
	assert.Equal(t, "DB_PASSWORD=secret\nAPP_PORT=8000\n", string(content))
}

func TestStageEnvMissingSource(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = w.StageEnv(filepath.Join(t.TempDir(), "nope.env"), ".env")
	assert.ErrorIs(t, err, ErrEnvSourceMissing)
}

func TestStageEnvInvalidContent(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bad.env")
	require.NoError(t, os.WriteFile(src, []byte("not a valid line\n"), 0644))

	w, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = w.StageEnv(src, ".env")
	assert.ErrorIs(t, err, ErrEnvFileInvalid)
}

func TestStagedEnvRemove(t *testing.T) {
	src := filepath.Join(t.TempDir(), "deploy.env")
	require.NoError(t, os.WriteFile(src, []byte("KEY=value\n"), 0644))

	w, err := New(t.TempDir())
	require.NoError(t, err)

	staged, err := w.StageEnv(src, ".env")
	require.NoError(t, err)

	require.NoError(t, staged.Remove())
	assert.NoFileExists(t, staged.Path())

	// Second removal is a no-op
	assert.NoError(t, staged.Remove())

	// Nil receiver is safe for unconditional defers
	var nilStaged *StagedEnv
	assert.NoError(t, nilStaged.Remove())
}

func TestWorkspacePath(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(w.Root(), "src", "app"), w.Path(filepath.Join("src", "app")))
	assert.True(t, filepath.IsAbs(w.Root()))
}

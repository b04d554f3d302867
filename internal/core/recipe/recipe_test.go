package recipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Render Tests
// =============================================================================

func TestRender_Full(t *testing.T) {
	r := &Recipe{
		Base:         "python:3.11-slim",
		Workdir:      "/app",
		Env:          map[string]string{"PYTHONUNBUFFERED": "1"},
		PackagesFile: "requirements.txt",
		Port:         8000,
		Command:      []string{"gunicorn", "app.main:app", "-w", "4", "-b", "0.0.0.0:8000"},
	}

	out, err := r.Render()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "FROM python:3.11-slim\n"))
	assert.Contains(t, out, "WORKDIR /app\n")
	assert.Contains(t, out, "ENV PYTHONUNBUFFERED=1\n")
	assert.Contains(t, out, "COPY requirements.txt .\n")
	assert.Contains(t, out, "RUN pip install --no-cache-dir -r requirements.txt\n")
	assert.Contains(t, out, "EXPOSE 8000\n")
	assert.Contains(t, out, `CMD ["gunicorn", "app.main:app", "-w", "4", "-b", "0.0.0.0:8000"]`)
}

func TestRender_DependencyLayerBeforeSource(t *testing.T) {
	r := &Recipe{
		Base:         "python:3.11-slim",
		PackagesFile: "requirements.txt",
	}

	out, err := r.Render()
	require.NoError(t, err)

	installIdx := strings.Index(out, "RUN pip install")
	copyAllIdx := strings.Index(out, "COPY . .")
	require.NotEqual(t, -1, installIdx)
	require.NotEqual(t, -1, copyAllIdx)
	assert.Less(t, installIdx, copyAllIdx)
}

func TestRender_MinimalRecipe(t *testing.T) {
	r := &Recipe{Base: "alpine:3.20"}

	out, err := r.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "FROM alpine:3.20\n")
	assert.NotContains(t, out, "WORKDIR")
	assert.NotContains(t, out, "ENV ")
	assert.NotContains(t, out, "EXPOSE")
	assert.NotContains(t, out, "CMD")
}

func TestRender_SortedEnv(t *testing.T) {
	r := &Recipe{
		Base: "python:3.11-slim",
		Env:  map[string]string{"ZED": "1", "ALPHA": "2"},
	}

	out, err := r.Render()
	require.NoError(t, err)
	assert.Less(t, strings.Index(out, "ENV ALPHA=2"), strings.Index(out, "ENV ZED=1"))
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		recipe  Recipe
		wantErr error
	}{
		{"valid", Recipe{Base: "x", Port: 8000}, nil},
		{"missing base", Recipe{Port: 8000}, ErrMissingBase},
		{"port too high", Recipe{Base: "x", Port: 70000}, ErrInvalidPort},
		{"negative port", Recipe{Base: "x", Port: -1}, ErrInvalidPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.recipe.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

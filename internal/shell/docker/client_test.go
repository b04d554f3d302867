package docker

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarContext(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "main.py"), []byte("print('hi')\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0644))

	r, err := tarContext(dir)
	require.NoError(t, err)

	entries := map[string]string{}
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = io.Copy(&buf, tr)
		require.NoError(t, err)
		entries[hdr.Name] = buf.String()
	}

	assert.Equal(t, "FROM scratch\n", entries["Dockerfile"])
	assert.Equal(t, "print('hi')\n", entries["app/main.py"])
	assert.Contains(t, entries, "app/")
	for name := range entries {
		assert.False(t, strings.HasPrefix(name, ".git"), "archive should not contain %s", name)
	}
}

func TestScanBuildStream(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantErr bool
		wantMsg string
	}{
		{
			name:   "successful build",
			stream: `{"stream":"Step 1/2 : FROM scratch\n"}{"stream":"Successfully built abc123\n"}`,
		},
		{
			name:    "failed step",
			stream:  `{"stream":"Step 1/2 : RUN false\n"}{"error":"command failed","errorDetail":{"message":"The command '/bin/sh -c false' returned a non-zero code: 1"}}`,
			wantErr: true,
			wantMsg: "non-zero code",
		},
		{
			name:   "empty stream",
			stream: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := scanBuildStream(strings.NewReader(tt.stream))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, msg, tt.wantMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitWriter{w: &buf, remaining: 5}

	n, err := lw.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello", buf.String())

	n, err = lw.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "hello", buf.String())
}

func TestEngineError(t *testing.T) {
	err := NewEngineError("PullImage", "image", "postgres:15", "manifest unknown", ErrImageNotFound)
	assert.Equal(t, "PullImage image postgres:15: manifest unknown", err.Error())
	assert.ErrorIs(t, err, ErrImageNotFound)

	err = NewEngineError("Ping", "", "", "daemon unreachable", ErrConnectionFailed)
	assert.Equal(t, "Ping: daemon unreachable", err.Error())
}

// Package workspace manages the on-disk working directory of a pipeline
// run: the checked-out source tree and the environment file staged into
// it for the duration of the build.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kwonjuyong/stagehand/internal/core/envfile"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEnvSourceMissing = errors.New("environment file source missing")
	ErrEnvFileInvalid   = errors.New("environment file invalid")
)

// =============================================================================
// Workspace
// =============================================================================

// Workspace is the root directory a single project deploys from.
type Workspace struct {
	root string
}

// New creates the workspace root if needed.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, err
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace path.
func (w *Workspace) Root() string {
	return w.root
}

// Path resolves a workspace-relative path.
func (w *Workspace) Path(rel string) string {
	return filepath.Join(w.root, rel)
}

// =============================================================================
// Environment File Staging
// =============================================================================

// StagedEnv is an environment file copied into the workspace for a build.
// It must be removed when the run finishes, whatever the outcome.
type StagedEnv struct {
	path string
	vars map[string]string
}

// StageEnv validates the env file at source and copies it into the
// workspace under target. The parsed variables are kept so the caller
// can interpolate them into the compose file without re-reading disk.
func (w *Workspace) StageEnv(source, target string) (*StagedEnv, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvSourceMissing, source)
	}

	vars, err := envfile.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnvFileInvalid, err)
	}

	dst := w.Path(target)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, err
	}

	// Secrets land on disk with owner-only permissions
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return nil, err
	}

	return &StagedEnv{path: dst, vars: vars}, nil
}

// Path returns where the staged file lives inside the workspace.
func (s *StagedEnv) Path() string {
	return s.path
}

// Vars returns the parsed variables.
func (s *StagedEnv) Vars() map[string]string {
	return s.vars
}

// Remove deletes the staged file. Removing an already-removed file is
// not an error, so it is safe to defer unconditionally.
func (s *StagedEnv) Remove() error {
	if s == nil {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

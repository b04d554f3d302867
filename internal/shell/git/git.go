// Package git checks out pipeline sources by shelling out to the git CLI.
// A Go git library is deliberately not used: the CLI handles credentials,
// transports and submodules the way operators already configure them.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrGitNotFound    = errors.New("git binary not found")
	ErrCheckoutFailed = errors.New("checkout failed")
)

// CommandError carries the git subcommand and its stderr output.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Checkout
// =============================================================================

// Checkout places the given ref of a repository at dir.
//
// If dir already holds a clone of the repository, the remote is fetched
// and the working tree is hard-reset to the ref, discarding local edits.
// Otherwise the repository is cloned fresh. Either way the working tree
// ends up at the remote state of ref.
type Checkout struct {
	gitPath string
}

// NewCheckout verifies the git binary is available.
func NewCheckout() (*Checkout, error) {
	path, err := exec.LookPath("git")
	if err != nil {
		return nil, ErrGitNotFound
	}
	return &Checkout{gitPath: path}, nil
}

// Sync ensures dir contains the repository at the given ref and returns
// the resulting HEAD commit hash.
func (c *Checkout) Sync(ctx context.Context, repoURL, ref, dir string) (string, error) {
	if isClone(dir) {
		if err := c.update(ctx, dir, ref); err != nil {
			return "", err
		}
	} else {
		if err := c.clone(ctx, repoURL, ref, dir); err != nil {
			return "", err
		}
	}

	head, err := c.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(head), nil
}

func (c *Checkout) clone(ctx context.Context, repoURL, ref, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	_, err := c.run(ctx, "", "clone", "--branch", ref, "--single-branch", repoURL, dir)
	return err
}

func (c *Checkout) update(ctx context.Context, dir, ref string) error {
	if _, err := c.run(ctx, dir, "fetch", "origin", ref); err != nil {
		return err
	}
	if _, err := c.run(ctx, dir, "checkout", ref); err != nil {
		return err
	}
	if _, err := c.run(ctx, dir, "reset", "--hard", "origin/"+ref); err != nil {
		return err
	}
	_, err := c.run(ctx, dir, "clean", "-fd")
	return err
}

// run executes a git subcommand. dir is passed via -C so the process
// working directory never changes.
func (c *Checkout) run(ctx context.Context, dir string, args ...string) (string, error) {
	full := args
	if dir != "" {
		full = append([]string{"-C", dir}, args...)
	}

	cmd := exec.CommandContext(ctx, c.gitPath, full...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    ErrCheckoutFailed,
		}
	}
	return stdout.String(), nil
}

// isClone reports whether dir looks like an existing git working tree.
func isClone(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// Package recipe renders image build recipes to Dockerfiles.
// Pure text generation - no I/O.
package recipe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrMissingBase = errors.New("recipe must name a base image")
	ErrInvalidPort = errors.New("recipe port out of range")
)

// =============================================================================
// Recipe
// =============================================================================

// Recipe describes a container image build: base image, working directory,
// environment, a dependency manifest installed at build time, and the
// process launch command.
type Recipe struct {
	Base         string
	Workdir      string
	Env          map[string]string
	PackagesFile string
	Port         int
	Command      []string
}

// Validate checks the recipe fields.
func (r *Recipe) Validate() error {
	if r.Base == "" {
		return ErrMissingBase
	}
	if r.Port < 0 || r.Port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// =============================================================================
// Dockerfile Rendering
// =============================================================================

// Render renders the recipe as Dockerfile text.
//
// Layer order follows build-cache convention: environment first, then the
// dependency manifest and its install step, then the rest of the source,
// so source edits do not invalidate the dependency layer.
func (r *Recipe) Render() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder

	fmt.Fprintf(&b, "FROM %s\n", r.Base)

	if r.Workdir != "" {
		fmt.Fprintf(&b, "\nWORKDIR %s\n", r.Workdir)
	}

	if len(r.Env) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(r.Env))
		for k := range r.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "ENV %s=%s\n", k, r.Env[k])
		}
	}

	if r.PackagesFile != "" {
		fmt.Fprintf(&b, "\nCOPY %s .\n", r.PackagesFile)
		fmt.Fprintf(&b, "RUN pip install --no-cache-dir -r %s\n", r.PackagesFile)
	}

	b.WriteString("\nCOPY . .\n")

	if r.Port != 0 {
		fmt.Fprintf(&b, "\nEXPOSE %d\n", r.Port)
	}

	if len(r.Command) > 0 {
		fmt.Fprintf(&b, "\nCMD [%s]\n", quoteJoin(r.Command))
	}

	return b.String(), nil
}

// quoteJoin renders command words as a Dockerfile exec-form list body.
func quoteJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = fmt.Sprintf("%q", w)
	}
	return strings.Join(quoted, ", ")
}

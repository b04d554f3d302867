package pipeline

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultWorkspace is where the checkout and env file are staged.
	DefaultWorkspace = "./work"
	// DefaultEnvTarget is the staged env file name inside the workspace.
	DefaultEnvTarget = ".env"
	// DefaultBranch is checked out when the source does not name one.
	DefaultBranch = "main"
	// DefaultProbeAttempts is the probe attempt count when unset.
	DefaultProbeAttempts = 1
	// DefaultProbeBackoff is the delay between probe attempts when unset.
	DefaultProbeBackoff = 2 * time.Second
	// DefaultProbeTimeout bounds a single HTTP probe attempt.
	DefaultProbeTimeout = 10 * time.Second
)

// projectSlugRegex matches lowercase alphanumeric names with inner hyphens
// or underscores. The project name seeds container, network, and volume
// names, so it must be safe as a Docker resource name fragment.
var projectSlugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// =============================================================================
// Parsing
// =============================================================================

// ParseSpec parses a pipeline descriptor from YAML, applies defaults, and
// validates it. This is a pure function - no I/O, no side effects.
func ParseSpec(yamlContent []byte) (*Spec, error) {
	if strings.TrimSpace(string(yamlContent)) == "" {
		return nil, ErrEmptyInput
	}

	var spec Spec
	if err := yaml.Unmarshal(yamlContent, &spec); err != nil {
		return nil, NewSpecError("", err.Error(), ErrInvalidYAML)
	}

	applyDefaults(&spec)

	if err := Validate(&spec); err != nil {
		return nil, err
	}

	return &spec, nil
}

// applyDefaults fills unset optional fields in place.
func applyDefaults(spec *Spec) {
	if spec.Workspace == "" {
		spec.Workspace = DefaultWorkspace
	}
	if spec.Source != nil && spec.Source.Branch == "" {
		spec.Source.Branch = DefaultBranch
	}
	if spec.EnvFile != nil && spec.EnvFile.Target == "" {
		spec.EnvFile.Target = DefaultEnvTarget
	}
	if p := spec.Probes.HTTP; p != nil {
		if p.Attempts == 0 {
			p.Attempts = DefaultProbeAttempts
		}
		if p.Backoff == 0 {
			p.Backoff = Duration(DefaultProbeBackoff)
		}
		if p.Timeout == 0 {
			p.Timeout = Duration(DefaultProbeTimeout)
		}
	}
	if p := spec.Probes.Database; p != nil {
		if p.Attempts == 0 {
			p.Attempts = DefaultProbeAttempts
		}
		if p.Backoff == 0 {
			p.Backoff = Duration(DefaultProbeBackoff)
		}
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate performs semantic validation on a parsed spec.
// Returns the first validation error found.
func Validate(spec *Spec) error {
	if spec.Project == "" {
		return NewSpecError("project", "project name is required", ErrMissingProject)
	}
	if !projectSlugRegex.MatchString(spec.Project) {
		return NewSpecError("project", "must be lowercase alphanumeric with hyphens or underscores", ErrInvalidProject)
	}

	if len(spec.Images) == 0 && spec.ComposeFile == "" {
		return NewSpecError("", "pipeline defines no images to pull and no compose file", ErrNoWork)
	}

	if spec.Source != nil && spec.Source.Repo == "" {
		return NewSpecError("source.repo", "repository URL is required when source is set", ErrInvalidSource)
	}

	if spec.EnvFile != nil {
		if spec.EnvFile.Source == "" {
			return NewSpecError("env_file.source", "source path is required", ErrInvalidEnvFile)
		}
		if strings.Contains(spec.EnvFile.Target, "/") {
			return NewSpecError("env_file.target", "target must be a bare file name", ErrInvalidEnvFile)
		}
	}

	for i, img := range spec.Images {
		if strings.TrimSpace(img) == "" {
			return NewSpecError(indexedField("images", i), "image reference cannot be empty", ErrInvalidImage)
		}
	}

	if p := spec.Probes.HTTP; p != nil {
		if p.URL == "" {
			return NewSpecError("probes.http.url", "url is required", ErrInvalidProbe)
		}
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return NewSpecError("probes.http.url", "must be an http or https URL", ErrInvalidProbe)
		}
		if p.Attempts < 1 {
			return NewSpecError("probes.http.attempts", "attempts must be at least 1", ErrInvalidProbe)
		}
	}

	if p := spec.Probes.Database; p != nil {
		if p.Container == "" {
			return NewSpecError("probes.database.container", "container name is required", ErrInvalidProbe)
		}
		if len(p.Command) == 0 {
			return NewSpecError("probes.database.command", "command is required", ErrInvalidProbe)
		}
		if p.Attempts < 1 {
			return NewSpecError("probes.database.attempts", "attempts must be at least 1", ErrInvalidProbe)
		}
	}

	if r := spec.Recipe; r != nil {
		if r.Base == "" {
			return NewSpecError("recipe.base", "base image is required", ErrInvalidRecipe)
		}
		if r.Port < 0 || r.Port > 65535 {
			return NewSpecError("recipe.port", "port must be between 0 and 65535", ErrInvalidRecipe)
		}
	}

	return nil
}

// indexedField formats a field path like "images[1]".
func indexedField(name string, i int) string {
	return name + "[" + string(rune('0'+i%10)) + "]"
}

// =============================================================================
// Probe URL Inspection
// =============================================================================

// HTTPProbePort extracts the TCP port targeted by the HTTP probe URL.
// Returns 0 when the URL cannot be parsed. Scheme defaults apply (80/443).
func HTTPProbePort(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	if port := u.Port(); port != "" {
		n := 0
		for _, c := range port {
			if c < '0' || c > '9' {
				return 0
			}
			n = n*10 + int(c-'0')
		}
		return n
	}
	switch u.Scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}

// Package docker wraps the Docker Engine SDK for the pipeline runner:
// image pull and build, project network and volumes, container lifecycle,
// label-scoped listing, and in-container exec.
package docker

import (
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name           string
	Image          string
	Command        []string
	Entrypoint     []string
	Env            map[string]string
	Labels         map[string]string
	Ports          []PortBinding
	Volumes        []VolumeMount
	Networks       []string
	NetworkAliases map[string][]string // network name to aliases (service name for DNS)
	RestartPolicy  RestartPolicy
	HealthCheck    *HealthCheck
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// VolumeMount defines a volume mount.
type VolumeMount struct {
	Source   string // Volume name or host path
	Target   string // Container path
	ReadOnly bool
}

// RestartPolicy defines the container restart policy.
type RestartPolicy struct {
	Name              string // "no", "always", "on-failure", "unless-stopped"
	MaximumRetryCount int
}

// HealthCheck defines container health check configuration.
type HealthCheck struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// =============================================================================
// Container Info
// =============================================================================

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	State     string // "running", "exited", "created", etc.
	CreatedAt time.Time
	Labels    map[string]string
}

// =============================================================================
// Network / Volume Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // "bridge", "overlay", etc.
	Labels map[string]string
}

// VolumeSpec defines the specification for creating a volume.
type VolumeSpec struct {
	Name   string
	Driver string
	Labels map[string]string
}

// =============================================================================
// Build / Exec Types
// =============================================================================

// BuildSpec defines an image build from a local context directory.
type BuildSpec struct {
	ContextDir string
	Dockerfile string // relative to ContextDir, "" means "Dockerfile"
	Tag        string
}

// ExecResult is the outcome of a command exec'd inside a container.
type ExecResult struct {
	ExitCode int
	Output   string // combined stdout+stderr, truncated
}

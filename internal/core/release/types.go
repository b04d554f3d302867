package release

import (
	"time"

	"github.com/kwonjuyong/stagehand/internal/core/compose"
)

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name          string
	ServiceName   string
	Image         string
	Command       []string
	Entrypoint    []string
	Env           map[string]string
	Labels        map[string]string
	Ports         []PortPlan
	Volumes       []VolumePlan
	Networks      []string
	RestartPolicy RestartPolicyPlan
	HealthCheck   *HealthCheckPlan
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// VolumePlan represents a planned volume mount.
type VolumePlan struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RestartPolicyPlan represents a restart policy.
type RestartPolicyPlan struct {
	Name              string
	MaximumRetryCount int
}

// HealthCheckPlan represents a health check configuration.
type HealthCheckPlan struct {
	Test        []string
	Interval    time.Duration
	Timeout     time.Duration
	Retries     int
	StartPeriod time.Duration
}

// BuildPlan describes an image build for a service with a build section.
type BuildPlan struct {
	ServiceName string
	Tag         string
	Context     string
	Dockerfile  string
}

// =============================================================================
// Release Plan
// =============================================================================

// Plan is the full ordered release plan for a project: images to build,
// volumes and network to create, and containers in dependency order.
type Plan struct {
	Project     string
	NetworkName string
	Builds      []BuildPlan
	Volumes     []NamedVolumePlan
	Containers  []ContainerPlan
}

// NamedVolumePlan is a named volume to create before containers start.
type NamedVolumePlan struct {
	Name   string
	Driver string
	Labels map[string]string
}

// BuildReleaseParams contains all inputs for building a release plan.
type BuildReleaseParams struct {
	Project string
	Spec    *compose.ParsedSpec
	// EnvOverlay is merged over each service's environment (staged env
	// file wins over compose-inline values, matching compose env_file
	// precedence for variables the file defines).
	EnvOverlay map[string]string
}

// =============================================================================
// Stagehand Container Labels
// =============================================================================

// Label keys used for stagehand container identification. The teardown
// stage selects containers by LabelProject, which is also what makes
// orphan removal work: anything labeled for the project goes, whether or
// not the current compose file still defines it.
const (
	LabelManaged = "com.stagehand.managed"
	LabelProject = "com.stagehand.project"
	LabelService = "com.stagehand.service"
)

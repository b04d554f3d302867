package pipeline

import (
	"fmt"
	"time"
)

// =============================================================================
// Stage Names
// =============================================================================

// StageName identifies a pipeline stage.
type StageName string

const (
	StageCheckout  StageName = "checkout"
	StageEnvSetup  StageName = "env-setup"
	StagePull      StageName = "pull"
	StageTeardown  StageName = "teardown"
	StageUp        StageName = "up"
	StageHTTPProbe StageName = "http-probe"
	StageDBProbe   StageName = "db-probe"
	StageCleanup   StageName = "cleanup"
)

// StageOrder is the fixed execution order of all pipeline stages.
// Stages not configured in a spec are planned as skipped, preserving
// positions so that recorded runs are comparable across pipelines.
var StageOrder = []StageName{
	StageCheckout,
	StageEnvSetup,
	StagePull,
	StageTeardown,
	StageUp,
	StageHTTPProbe,
	StageDBProbe,
	StageCleanup,
}

// =============================================================================
// Run / Stage Status
// =============================================================================

// RunStatus is the aggregate status of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StageStatus is the status of a single stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	// StageDegraded is probe-only: the probe ran and reported the target
	// down or misbehaving, but the pipeline is configured to continue.
	StageDegraded StageStatus = "degraded"
)

// Terminal reports whether a stage status is final.
func (s StageStatus) Terminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped, StageDegraded:
		return true
	}
	return false
}

// =============================================================================
// Pipeline Spec Types
// =============================================================================

// Spec is the parsed pipeline descriptor.
type Spec struct {
	Project     string       `yaml:"project"`
	Source      *SourceSpec  `yaml:"source"`
	Workspace   string       `yaml:"workspace"`
	EnvFile     *EnvFileSpec `yaml:"env_file"`
	Images      []string     `yaml:"images"`
	ComposeFile string       `yaml:"compose_file"`
	Probes      ProbesSpec   `yaml:"probes"`
	Recipe      *RecipeSpec  `yaml:"recipe"`
}

// SourceSpec configures the checkout stage.
type SourceSpec struct {
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// EnvFileSpec configures env-file staging.
// Source is copied into the workspace under Target before the up stage and
// removed again after the final stage, success or failure.
type EnvFileSpec struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// ProbesSpec configures the post-deploy probes.
type ProbesSpec struct {
	// Strict promotes a down probe outcome to a run failure.
	// Default false: probe outcomes are recorded but never fail the run.
	Strict   bool           `yaml:"strict"`
	HTTP     *HTTPProbeSpec `yaml:"http"`
	Database *DBProbeSpec   `yaml:"database"`
}

// HTTPProbeSpec configures the HTTP health probe.
type HTTPProbeSpec struct {
	URL      string   `yaml:"url"`
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
	Timeout  Duration `yaml:"timeout"`
}

// DBProbeSpec configures the database connectivity probe, exec'd inside a
// named container.
type DBProbeSpec struct {
	Container string   `yaml:"container"`
	Command   []string `yaml:"command"`
	Attempts  int      `yaml:"attempts"`
	Backoff   Duration `yaml:"backoff"`
}

// RecipeSpec is an optional image build recipe rendered to a Dockerfile.
type RecipeSpec struct {
	Base         string            `yaml:"base"`
	Workdir      string            `yaml:"workdir"`
	Env          map[string]string `yaml:"env"`
	PackagesFile string            `yaml:"packages_file"`
	Port         int               `yaml:"port"`
	Command      []string          `yaml:"command"`
}

// =============================================================================
// Duration
// =============================================================================

// Duration wraps time.Duration with YAML decoding of strings like "2s".
type Duration time.Duration

// UnmarshalYAML decodes a duration from either a string ("500ms", "2s")
// or a bare integer interpreted as seconds.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case int:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

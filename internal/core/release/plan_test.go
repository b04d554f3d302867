package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonjuyong/stagehand/internal/core/compose"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func backendSpec() *compose.ParsedSpec {
	return &compose.ParsedSpec{
		Services: []compose.Service{
			{
				Name:  "backend",
				Build: &compose.BuildConfig{Context: ".", Dockerfile: "Dockerfile"},
				Ports: []compose.Port{
					{Target: 8000, Published: 8003, Protocol: "tcp"},
				},
				Environment: map[string]string{"APP_ENV": "prod"},
				DependsOn:   []string{"db"},
				Restart:     compose.RestartAlways,
			},
			{
				Name:  "db",
				Image: "postgres:15",
				Volumes: []compose.VolumeMount{
					{Type: compose.VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
				},
			},
		},
		Volumes: []compose.Volume{
			{Name: "pgdata"},
		},
	}
}

// =============================================================================
// BuildRelease Tests
// =============================================================================

func TestBuildRelease_DependencyOrder(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	require.Len(t, plan.Containers, 2)
	assert.Equal(t, "db", plan.Containers[0].ServiceName)
	assert.Equal(t, "backend", plan.Containers[1].ServiceName)
}

func TestBuildRelease_Naming(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	assert.Equal(t, "stagehand_aprofi", plan.NetworkName)
	assert.Equal(t, "stagehand_aprofi_db", plan.Containers[0].Name)
	assert.Equal(t, "stagehand_aprofi_backend", plan.Containers[1].Name)

	require.Len(t, plan.Volumes, 1)
	assert.Equal(t, "stagehand_aprofi_pgdata", plan.Volumes[0].Name)
}

func TestBuildRelease_BuildServiceGetsLocalTag(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	require.Len(t, plan.Builds, 1)
	assert.Equal(t, "backend", plan.Builds[0].ServiceName)
	assert.Equal(t, "stagehand_aprofi_backend:latest", plan.Builds[0].Tag)

	backend := plan.Containers[1]
	assert.Equal(t, "stagehand_aprofi_backend:latest", backend.Image)
}

func TestBuildRelease_EnvOverlayWins(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{
		Project:    "aprofi",
		Spec:       backendSpec(),
		EnvOverlay: map[string]string{"APP_ENV": "staging", "SECRET_KEY": "s3cret"},
	})

	backend := plan.Containers[1]
	assert.Equal(t, "staging", backend.Env["APP_ENV"])
	assert.Equal(t, "s3cret", backend.Env["SECRET_KEY"])
}

func TestBuildRelease_Labels(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	db := plan.Containers[0]
	assert.Equal(t, "true", db.Labels[LabelManaged])
	assert.Equal(t, "aprofi", db.Labels[LabelProject])
	assert.Equal(t, "db", db.Labels[LabelService])

	assert.Equal(t, "aprofi", plan.Volumes[0].Labels[LabelProject])
	_, hasService := plan.Volumes[0].Labels[LabelService]
	assert.False(t, hasService)
}

func TestBuildRelease_NamedVolumePrefixedInMounts(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	db := plan.Containers[0]
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, "stagehand_aprofi_pgdata", db.Volumes[0].Source)
	assert.Equal(t, "/var/lib/postgresql/data", db.Volumes[0].Target)
}

func TestBuildRelease_ExternalVolumeNotCreated(t *testing.T) {
	spec := backendSpec()
	spec.Volumes = append(spec.Volumes, compose.Volume{Name: "shared", External: true})

	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: spec})
	require.Len(t, plan.Volumes, 1)
	assert.Equal(t, "stagehand_aprofi_pgdata", plan.Volumes[0].Name)
}

func TestBuildRelease_RestartPolicy(t *testing.T) {
	plan := BuildRelease(BuildReleaseParams{Project: "aprofi", Spec: backendSpec()})

	assert.Equal(t, "always", plan.Containers[1].RestartPolicy.Name)
	assert.Equal(t, "no", plan.Containers[0].RestartPolicy.Name)
}

// =============================================================================
// TopologicalSort Tests
// =============================================================================

func TestTopologicalSort_Chain(t *testing.T) {
	services := []compose.Service{
		{Name: "web", DependsOn: []string{"api"}},
		{Name: "api", DependsOn: []string{"db"}},
		{Name: "db"},
	}

	sorted := TopologicalSort(services)
	require.Len(t, sorted, 3)
	assert.Equal(t, "db", sorted[0].Name)
	assert.Equal(t, "api", sorted[1].Name)
	assert.Equal(t, "web", sorted[2].Name)
}

func TestTopologicalSort_Empty(t *testing.T) {
	assert.Empty(t, TopologicalSort(nil))
}

func TestTopologicalSort_CycleFallback(t *testing.T) {
	services := []compose.Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	sorted := TopologicalSort(services)
	assert.Len(t, sorted, 2)
}

// =============================================================================
// Naming Tests
// =============================================================================

func TestNaming(t *testing.T) {
	assert.Equal(t, "stagehand_aprofi", NetworkName("aprofi"))
	assert.Equal(t, "stagehand_aprofi_pgdata", VolumeName("aprofi", "pgdata"))
	assert.Equal(t, "stagehand_aprofi_backend", ContainerName("aprofi", "backend"))
	assert.Equal(t, "stagehand_aprofi_backend:latest", ImageTag("aprofi", "backend"))
}

package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
	"github.com/kwonjuyong/stagehand/internal/shell/docker"
	"github.com/kwonjuyong/stagehand/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeEngine records every engine call in order and returns canned results.
type fakeEngine struct {
	mu  sync.Mutex
	ops []string

	pullErr     map[string]error
	missing     map[string]bool // images ImageExists reports absent
	containers  []docker.ContainerInfo
	execResult  docker.ExecResult
	execErr     error
	onCreate    func(spec docker.ContainerSpec)
	createdIDs  int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		pullErr: map[string]error{},
		missing: map[string]bool{},
	}
}

func (f *fakeEngine) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeEngine) opIndex(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, o := range f.ops {
		if o == op {
			return i
		}
	}
	return -1
}

func (f *fakeEngine) PullImage(ctx context.Context, ref string) error {
	f.record("pull:" + ref)
	return f.pullErr[ref]
}

func (f *fakeEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.record("image-exists:" + ref)
	return !f.missing[ref], nil
}

func (f *fakeEngine) BuildImage(ctx context.Context, spec docker.BuildSpec) error {
	f.record("build:" + spec.Tag)
	return nil
}

func (f *fakeEngine) CreateNetwork(ctx context.Context, spec docker.NetworkSpec) error {
	f.record("create-network:" + spec.Name)
	return nil
}

func (f *fakeEngine) RemoveNetwork(ctx context.Context, name string) error {
	f.record("remove-network:" + name)
	return nil
}

func (f *fakeEngine) CreateVolume(ctx context.Context, spec docker.VolumeSpec) error {
	f.record("create-volume:" + spec.Name)
	return nil
}

func (f *fakeEngine) RemoveVolume(ctx context.Context, name string, force bool) error {
	f.record("remove-volume:" + name)
	return nil
}

func (f *fakeEngine) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (string, error) {
	f.record("create-container:" + spec.Name)
	if f.onCreate != nil {
		f.onCreate(spec)
	}
	f.mu.Lock()
	f.createdIDs++
	id := fmt.Sprintf("id-%d", f.createdIDs)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeEngine) StartContainer(ctx context.Context, id string) error {
	f.record("start-container:" + id)
	return nil
}

func (f *fakeEngine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.record("stop-container:" + id)
	return nil
}

func (f *fakeEngine) RemoveContainer(ctx context.Context, id string, removeVolumes bool) error {
	f.record(fmt.Sprintf("remove-container:%s:volumes=%t", id, removeVolumes))
	return nil
}

func (f *fakeEngine) ListContainersByLabel(ctx context.Context, labels map[string]string) ([]docker.ContainerInfo, error) {
	f.record("list-containers")
	return f.containers, nil
}

func (f *fakeEngine) PruneContainers(ctx context.Context, labels map[string]string) error {
	f.record("prune")
	return nil
}

func (f *fakeEngine) Exec(ctx context.Context, containerName string, cmd []string) (docker.ExecResult, error) {
	f.record("exec:" + containerName)
	return f.execResult, f.execErr
}

// fakeSyncer stands in for the git checkout.
type fakeSyncer struct {
	commit string
	err    error
}

func (f *fakeSyncer) Sync(ctx context.Context, repoURL, ref, dir string) (string, error) {
	return f.commit, f.err
}

// =============================================================================
// Fixtures
// =============================================================================

const testComposeYAML = `
services:
  backend:
    image: python:3.11-slim
    ports:
      - "8003:8000"
    environment:
      DB_PASSWORD: ${DB_PASSWORD}
    depends_on:
      - db
  db:
    image: postgres:15
    volumes:
      - pgdata:/var/lib/postgresql/data
volumes:
  pgdata:
`

type testHarness struct {
	runner  *Runner
	engine  *fakeEngine
	history *store.SQLiteStore
	work    string
	envSrc  string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	engine := newFakeEngine()
	history, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "docker-compose.yml"), []byte(testComposeYAML), 0644))

	envSrc := filepath.Join(t.TempDir(), "deploy.env")
	require.NoError(t, os.WriteFile(envSrc, []byte("DB_PASSWORD=secret\n"), 0644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(engine, &fakeSyncer{commit: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}, history, logger)

	return &testHarness{runner: r, engine: engine, history: history, work: work, envSrc: envSrc}
}

func (h *testHarness) spec(t *testing.T, probeURL string) *pipeline.Spec {
	t.Helper()
	yaml := fmt.Sprintf(`
project: aprofi
workspace: %s
source:
  repo: https://example.com/aprofi.git
  branch: main
env_file:
  source: %s
  target: .env
images:
  - python:3.11-slim
  - postgres:15
compose_file: docker-compose.yml
probes:
  http:
    url: %s
    attempts: 1
    timeout: 2s
  database:
    container: stagehand_aprofi_db
    command: ["psql", "-U", "user", "-d", "app", "-c", "SELECT 1;"]
    attempts: 1
`, h.work, h.envSrc, probeURL)

	spec, err := pipeline.ParseSpec([]byte(yaml))
	require.NoError(t, err)
	return spec
}

// =============================================================================
// Tests
// =============================================================================

func TestRunSucceeds(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	run, err := h.runner.Run(context.Background(), h.spec(t, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunSucceeded, run.Status)
	assert.Equal(t, "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef", run.Commit)

	records, err := h.history.ListStageRecords(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, records, len(pipeline.StageOrder))
	for _, rec := range records {
		assert.Equal(t, pipeline.StageSucceeded, rec.Status, "stage %s", rec.Stage)
	}
}

func TestRunPullsImagesBeforeTeardown(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h.engine.containers = []docker.ContainerInfo{
		{ID: "old-1", Name: "stagehand_aprofi_backend"},
	}

	_, err := h.runner.Run(context.Background(), h.spec(t, srv.URL))
	require.NoError(t, err)

	pull := h.engine.opIndex("pull:python:3.11-slim")
	teardown := h.engine.opIndex("list-containers")
	removeOld := h.engine.opIndex("remove-container:old-1:volumes=true")
	createNew := h.engine.opIndex("create-container:stagehand_aprofi_db")

	require.GreaterOrEqual(t, pull, 0)
	require.GreaterOrEqual(t, teardown, 0)
	require.GreaterOrEqual(t, removeOld, 0)
	require.GreaterOrEqual(t, createNew, 0)

	assert.Less(t, pull, teardown, "images pull before teardown")
	assert.Less(t, removeOld, createNew, "old containers removed before new ones created")

	removeVol := h.engine.opIndex("remove-volume:stagehand_aprofi_pgdata")
	createVol := h.engine.opIndex("create-volume:stagehand_aprofi_pgdata")
	require.GreaterOrEqual(t, removeVol, 0)
	assert.Less(t, removeVol, createVol, "old volumes removed before new ones created")
}

func TestRunEnvFilePresentDuringUpAbsentAfter(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	envPath := filepath.Join(h.work, ".env")
	sawEnv := false
	h.engine.onCreate = func(spec docker.ContainerSpec) {
		if _, err := os.Stat(envPath); err == nil {
			sawEnv = true
		}
	}

	run, err := h.runner.Run(context.Background(), h.spec(t, srv.URL))
	require.NoError(t, err)
	require.Equal(t, pipeline.RunSucceeded, run.Status)

	assert.True(t, sawEnv, "env file staged while containers are created")
	assert.NoFileExists(t, envPath, "env file removed after the run")
}

func TestRunEnvFileRemovedOnFailure(t *testing.T) {
	h := newHarness(t)

	h.engine.pullErr["postgres:15"] = fmt.Errorf("pull: connection refused")

	run, err := h.runner.Run(context.Background(), h.spec(t, "http://127.0.0.1:8003/"))
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunFailed, run.Status)
	assert.Contains(t, run.Error, "pull")

	assert.NoFileExists(t, filepath.Join(h.work, ".env"))

	// Stages after the failure are recorded as skipped, cleanup excepted
	records, err := h.history.ListStageRecords(context.Background(), run.ID)
	require.NoError(t, err)

	byStage := map[pipeline.StageName]pipeline.StageStatus{}
	for _, rec := range records {
		byStage[rec.Stage] = rec.Status
	}
	assert.Equal(t, pipeline.StageFailed, byStage[pipeline.StagePull])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageTeardown])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageUp])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageHTTPProbe])
	assert.Equal(t, pipeline.StageSucceeded, byStage[pipeline.StageCleanup])
}

func TestRunProbeDownDoesNotFailRun(t *testing.T) {
	h := newHarness(t)

	// Probe target never answers; exec probe reports the DB down too
	h.engine.execErr = fmt.Errorf("container not running")

	spec := h.spec(t, "http://127.0.0.1:1/health")
	spec.Probes.HTTP.Timeout = pipeline.Duration(200 * time.Millisecond)

	run, err := h.runner.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunSucceeded, run.Status)

	records, err := h.history.ListStageRecords(context.Background(), run.ID)
	require.NoError(t, err)

	byStage := map[pipeline.StageName]pipeline.StageStatus{}
	for _, rec := range records {
		byStage[rec.Stage] = rec.Status
	}
	assert.Equal(t, pipeline.StageDegraded, byStage[pipeline.StageHTTPProbe])
	assert.Equal(t, pipeline.StageDegraded, byStage[pipeline.StageDBProbe])
}

func TestRunStrictProbePromotesFailure(t *testing.T) {
	h := newHarness(t)

	spec := h.spec(t, "http://127.0.0.1:1/health")
	spec.Probes.Strict = true
	spec.Probes.HTTP.Timeout = pipeline.Duration(200 * time.Millisecond)

	run, err := h.runner.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunFailed, run.Status)

	// A failed probe does not abort later stages: the db probe and cleanup
	// still ran
	records, err := h.history.ListStageRecords(context.Background(), run.ID)
	require.NoError(t, err)

	byStage := map[pipeline.StageName]pipeline.StageStatus{}
	for _, rec := range records {
		byStage[rec.Stage] = rec.Status
	}
	assert.Equal(t, pipeline.StageFailed, byStage[pipeline.StageHTTPProbe])
	assert.Equal(t, pipeline.StageSucceeded, byStage[pipeline.StageDBProbe])
	assert.Equal(t, pipeline.StageSucceeded, byStage[pipeline.StageCleanup])
}

func TestRunDBProbeExecsInNamedContainer(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := h.runner.Run(context.Background(), h.spec(t, srv.URL))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, h.engine.opIndex("exec:stagehand_aprofi_db"), 0)
}

func TestRunDisabledStagesRecordedSkipped(t *testing.T) {
	h := newHarness(t)

	yaml := fmt.Sprintf(`
project: aprofi
workspace: %s
images:
  - python:3.11-slim
`, h.work)

	spec, err := pipeline.ParseSpec([]byte(yaml))
	require.NoError(t, err)

	run, err := h.runner.Run(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunSucceeded, run.Status)

	records, err := h.history.ListStageRecords(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, records, len(pipeline.StageOrder))

	byStage := map[pipeline.StageName]pipeline.StageStatus{}
	for _, rec := range records {
		byStage[rec.Stage] = rec.Status
	}
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageCheckout])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageEnvSetup])
	assert.Equal(t, pipeline.StageSucceeded, byStage[pipeline.StagePull])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageTeardown])
	assert.Equal(t, pipeline.StageSkipped, byStage[pipeline.StageCleanup])
}

func TestRunInvalidSpecRejected(t *testing.T) {
	h := newHarness(t)

	spec := &pipeline.Spec{Project: "aprofi"}
	_, err := h.runner.Run(context.Background(), spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrNoWork)
}

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kwonjuyong/stagehand/internal/core/compose"
	"github.com/kwonjuyong/stagehand/internal/core/domain"
	"github.com/kwonjuyong/stagehand/internal/core/pipeline"
	"github.com/kwonjuyong/stagehand/internal/core/probe"
	"github.com/kwonjuyong/stagehand/internal/core/recipe"
	"github.com/kwonjuyong/stagehand/internal/core/release"
	"github.com/kwonjuyong/stagehand/internal/shell/docker"
)

// =============================================================================
// Checkout
// =============================================================================

func (r *Runner) runCheckout(ctx context.Context, run *domain.Run, spec *pipeline.Spec, state *runState) (pipeline.StageStatus, string) {
	if r.source == nil {
		return pipeline.StageFailed, "no source syncer configured"
	}

	commit, err := r.source.Sync(ctx, spec.Source.Repo, spec.Source.Branch, state.ws.Root())
	if err != nil {
		return pipeline.StageFailed, err.Error()
	}

	run.Commit = commit
	return pipeline.StageSucceeded, fmt.Sprintf("checked out %s at %s", spec.Source.Branch, shortCommit(commit))
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

// =============================================================================
// Env Setup
// =============================================================================

func (r *Runner) runEnvSetup(spec *pipeline.Spec, state *runState) (pipeline.StageStatus, string) {
	staged, err := state.ws.StageEnv(spec.EnvFile.Source, spec.EnvFile.Target)
	if err != nil {
		return pipeline.StageFailed, err.Error()
	}

	state.staged = staged
	return pipeline.StageSucceeded, fmt.Sprintf("staged %s", spec.EnvFile.Target)
}

// =============================================================================
// Pull
// =============================================================================

func (r *Runner) runPull(ctx context.Context, spec *pipeline.Spec, logger *slog.Logger) (pipeline.StageStatus, string) {
	for _, image := range spec.Images {
		logger.Info("pulling image", "image", image)
		if err := r.engine.PullImage(ctx, image); err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}
	return pipeline.StageSucceeded, fmt.Sprintf("pulled %d images", len(spec.Images))
}

// =============================================================================
// Teardown
// =============================================================================

func (r *Runner) runTeardown(ctx context.Context, spec *pipeline.Spec, state *runState, logger *slog.Logger) (pipeline.StageStatus, string) {
	if err := r.prepareRelease(spec, state, logger); err != nil {
		return pipeline.StageFailed, err.Error()
	}

	// Remove everything labeled for the project, not just what the current
	// compose file defines. This is what clears orphans from earlier
	// releases.
	selector := map[string]string{release.LabelProject: spec.Project}

	containers, err := r.engine.ListContainersByLabel(ctx, selector)
	if err != nil {
		return pipeline.StageFailed, err.Error()
	}

	for _, c := range containers {
		logger.Info("removing container", "container", c.Name)
		if err := r.engine.StopContainer(ctx, c.ID, stopTimeout); err != nil {
			return pipeline.StageFailed, err.Error()
		}
		if err := r.engine.RemoveContainer(ctx, c.ID, true); err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	for _, vol := range state.release.Volumes {
		if err := r.engine.RemoveVolume(ctx, vol.Name, true); err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	if err := r.engine.RemoveNetwork(ctx, state.release.NetworkName); err != nil {
		return pipeline.StageFailed, err.Error()
	}

	if err := r.engine.PruneContainers(ctx, selector); err != nil {
		return pipeline.StageFailed, err.Error()
	}

	return pipeline.StageSucceeded, fmt.Sprintf("removed %d containers", len(containers))
}

// prepareRelease parses the compose file with the staged environment and
// derives the release plan. Teardown and up share the result.
func (r *Runner) prepareRelease(spec *pipeline.Spec, state *runState, logger *slog.Logger) error {
	if state.release != nil {
		return nil
	}

	data, err := os.ReadFile(state.ws.Path(spec.ComposeFile))
	if err != nil {
		return fmt.Errorf("compose file: %w", err)
	}

	var env map[string]string
	if state.staged != nil {
		env = state.staged.Vars()
	}

	parsed, err := compose.ParseSpecWithEnv(string(data), env)
	if err != nil {
		return err
	}

	r.warnProbePortMismatch(spec, parsed, logger)

	plan := release.BuildRelease(release.BuildReleaseParams{
		Project:    spec.Project,
		Spec:       parsed,
		EnvOverlay: env,
	})

	state.parsed = parsed
	state.release = &plan
	return nil
}

// warnProbePortMismatch flags an HTTP probe pointed at a port the compose
// file never publishes. The probe would report the target down on every
// run while the services themselves are fine.
func (r *Runner) warnProbePortMismatch(spec *pipeline.Spec, parsed *compose.ParsedSpec, logger *slog.Logger) {
	if spec.Probes.HTTP == nil {
		return
	}

	port := pipeline.HTTPProbePort(spec.Probes.HTTP.URL)
	if port <= 0 {
		return
	}

	for _, published := range parsed.PublishedPorts() {
		if int(published) == port {
			return
		}
	}

	logger.Warn("http probe port is not published by any service",
		"probe_port", port, "published_ports", parsed.PublishedPorts())
}

// =============================================================================
// Up
// =============================================================================

func (r *Runner) runUp(ctx context.Context, spec *pipeline.Spec, state *runState, logger *slog.Logger) (pipeline.StageStatus, string) {
	if err := r.prepareRelease(spec, state, logger); err != nil {
		return pipeline.StageFailed, err.Error()
	}
	plan := state.release

	if spec.Recipe != nil {
		if err := r.renderRecipe(spec, state, plan); err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	for _, b := range plan.Builds {
		logger.Info("building image", "service", b.ServiceName, "tag", b.Tag)
		err := r.engine.BuildImage(ctx, docker.BuildSpec{
			ContextDir: state.ws.Path(b.Context),
			Dockerfile: b.Dockerfile,
			Tag:        b.Tag,
		})
		if err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	// Pull service images the pull stage did not cover
	for _, c := range plan.Containers {
		exists, err := r.engine.ImageExists(ctx, c.Image)
		if err != nil {
			return pipeline.StageFailed, err.Error()
		}
		if !exists {
			logger.Info("pulling service image", "image", c.Image)
			if err := r.engine.PullImage(ctx, c.Image); err != nil {
				return pipeline.StageFailed, err.Error()
			}
		}
	}

	err := r.engine.CreateNetwork(ctx, docker.NetworkSpec{
		Name:   plan.NetworkName,
		Driver: "bridge",
		Labels: map[string]string{release.LabelManaged: "true", release.LabelProject: spec.Project},
	})
	if err != nil {
		return pipeline.StageFailed, err.Error()
	}

	for _, vol := range plan.Volumes {
		err := r.engine.CreateVolume(ctx, docker.VolumeSpec{
			Name:   vol.Name,
			Driver: vol.Driver,
			Labels: vol.Labels,
		})
		if err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	for _, c := range plan.Containers {
		logger.Info("starting container", "container", c.Name)
		id, err := r.engine.CreateContainer(ctx, r.containerSpec(plan, c, state))
		if err != nil {
			return pipeline.StageFailed, err.Error()
		}
		if err := r.engine.StartContainer(ctx, id); err != nil {
			return pipeline.StageFailed, err.Error()
		}
	}

	return pipeline.StageSucceeded, fmt.Sprintf("started %d containers", len(plan.Containers))
}

// renderRecipe writes the rendered Dockerfile into every build context.
func (r *Runner) renderRecipe(spec *pipeline.Spec, state *runState, plan *release.Plan) error {
	rec := recipe.Recipe{
		Base:         spec.Recipe.Base,
		Workdir:      spec.Recipe.Workdir,
		Env:          spec.Recipe.Env,
		PackagesFile: spec.Recipe.PackagesFile,
		Port:         spec.Recipe.Port,
		Command:      spec.Recipe.Command,
	}

	content, err := rec.Render()
	if err != nil {
		return err
	}

	for _, b := range plan.Builds {
		name := b.Dockerfile
		if name == "" {
			name = "Dockerfile"
		}
		path := state.ws.Path(filepath.Join(b.Context, name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}

// containerSpec maps a planned container to an engine container spec.
func (r *Runner) containerSpec(plan *release.Plan, c release.ContainerPlan, state *runState) docker.ContainerSpec {
	spec := docker.ContainerSpec{
		Name:       c.Name,
		Image:      c.Image,
		Command:    c.Command,
		Entrypoint: c.Entrypoint,
		Env:        c.Env,
		Labels:     c.Labels,
		Networks:   []string{plan.NetworkName},
		NetworkAliases: map[string][]string{
			plan.NetworkName: {c.ServiceName},
		},
		RestartPolicy: docker.RestartPolicy{
			Name:              c.RestartPolicy.Name,
			MaximumRetryCount: c.RestartPolicy.MaximumRetryCount,
		},
	}

	for _, p := range c.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range c.Volumes {
		source := v.Source
		// Relative bind mounts resolve against the workspace
		if len(source) > 1 && source[:2] == "./" {
			source = state.ws.Path(source[2:])
		}
		spec.Volumes = append(spec.Volumes, docker.VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if c.HealthCheck != nil {
		spec.HealthCheck = &docker.HealthCheck{
			Test:        c.HealthCheck.Test,
			Interval:    c.HealthCheck.Interval,
			Timeout:     c.HealthCheck.Timeout,
			Retries:     c.HealthCheck.Retries,
			StartPeriod: c.HealthCheck.StartPeriod,
		}
	}

	return spec
}

// =============================================================================
// Probes
// =============================================================================

func (r *Runner) runHTTPProbe(ctx context.Context, plan pipeline.Plan, spec *pipeline.Spec, logger *slog.Logger) (pipeline.StageStatus, string) {
	cfg := spec.Probes.HTTP
	best := probe.ClassDown
	detail := ""

	for attempt, delay := range probe.Schedule(cfg.Attempts, cfg.Backoff.Std()) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return probeStatus(plan, best), fmt.Sprintf("canceled after %d attempts", attempt)
			}
		}

		class, d := r.httpAttempt(ctx, cfg)
		best = probe.Merge(best, class)
		detail = d
		logger.Info("http probe attempt", "attempt", attempt+1, "class", class, "detail", d)

		if best == probe.ClassUp {
			break
		}
	}

	return probeStatus(plan, best), fmt.Sprintf("%s: %s", best, detail)
}

func (r *Runner) httpAttempt(ctx context.Context, cfg *pipeline.HTTPProbeSpec) (probe.Class, string) {
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return probe.ClassDown, err.Error()
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return probe.ClassifyHTTP(0, err), err.Error()
	}
	defer resp.Body.Close()

	return probe.ClassifyHTTP(resp.StatusCode, nil), fmt.Sprintf("GET %s returned %d", cfg.URL, resp.StatusCode)
}

func (r *Runner) runDBProbe(ctx context.Context, plan pipeline.Plan, spec *pipeline.Spec, logger *slog.Logger) (pipeline.StageStatus, string) {
	cfg := spec.Probes.Database
	best := probe.ClassDown
	detail := ""

	for attempt, delay := range probe.Schedule(cfg.Attempts, cfg.Backoff.Std()) {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return probeStatus(plan, best), fmt.Sprintf("canceled after %d attempts", attempt)
			}
		}

		result, err := r.engine.Exec(ctx, cfg.Container, cfg.Command)
		class := probe.ClassifyExec(result.ExitCode, err)
		best = probe.Merge(best, class)

		if err != nil {
			detail = err.Error()
		} else {
			detail = fmt.Sprintf("exec exited %d", result.ExitCode)
		}
		logger.Info("db probe attempt", "attempt", attempt+1, "class", class, "detail", detail)

		if best == probe.ClassUp {
			break
		}
	}

	return probeStatus(plan, best), fmt.Sprintf("%s: %s", best, detail)
}

// probeStatus maps a probe class to a stage status. A down target fails
// the stage only in strict mode; otherwise probes degrade, never fail.
func probeStatus(plan pipeline.Plan, class probe.Class) pipeline.StageStatus {
	switch class {
	case probe.ClassUp:
		return pipeline.StageSucceeded
	case probe.ClassDown:
		if plan.Strict {
			return pipeline.StageFailed
		}
		return pipeline.StageDegraded
	default:
		return pipeline.StageDegraded
	}
}

// =============================================================================
// Cleanup
// =============================================================================

func (r *Runner) runCleanup(state *runState) (pipeline.StageStatus, string) {
	if err := state.staged.Remove(); err != nil {
		return pipeline.StageFailed, err.Error()
	}
	return pipeline.StageSucceeded, "environment file removed"
}

package release

import (
	"time"

	"github.com/kwonjuyong/stagehand/internal/core/compose"
)

// =============================================================================
// Release Plan Building
// =============================================================================

// BuildRelease builds the full release plan for a project from its parsed
// compose spec. This is a pure function: builds first, then volumes and
// the network, then containers in dependency order.
func BuildRelease(params BuildReleaseParams) Plan {
	plan := Plan{
		Project:     params.Project,
		NetworkName: NetworkName(params.Project),
	}

	ordered := TopologicalSort(params.Spec.Services)

	for _, svc := range ordered {
		if svc.Build != nil {
			plan.Builds = append(plan.Builds, BuildPlan{
				ServiceName: svc.Name,
				Tag:         ImageTag(params.Project, svc.Name),
				Context:     svc.Build.Context,
				Dockerfile:  svc.Build.Dockerfile,
			})
		}
	}

	for _, vol := range params.Spec.Volumes {
		if vol.External {
			continue
		}
		plan.Volumes = append(plan.Volumes, NamedVolumePlan{
			Name:   VolumeName(params.Project, vol.Name),
			Driver: vol.Driver,
			Labels: projectLabels(params.Project, ""),
		})
	}

	for _, svc := range ordered {
		plan.Containers = append(plan.Containers, buildContainerPlan(params, svc))
	}

	return plan
}

// buildContainerPlan builds a ContainerPlan from one compose service.
//
// The function:
//   - Generates the container name using ContainerName()
//   - Resolves build-only services to their local image tag
//   - Overlays the staged env file variables onto the service environment
//   - Prefixes named volumes with the project name
//   - Parses health check durations
//   - Maps restart policy to Docker format
func buildContainerPlan(params BuildReleaseParams, svc compose.Service) ContainerPlan {
	plan := ContainerPlan{
		Name:        ContainerName(params.Project, svc.Name),
		ServiceName: svc.Name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Env:         make(map[string]string),
		Labels:      projectLabels(params.Project, svc.Name),
		Networks:    []string{NetworkName(params.Project)},
	}

	// Build-only services run the image built this run
	if plan.Image == "" && svc.Build != nil {
		plan.Image = ImageTag(params.Project, svc.Name)
	}

	for k, v := range svc.Environment {
		plan.Env[k] = v
	}
	for k, v := range params.EnvOverlay {
		plan.Env[k] = v
	}

	for _, p := range svc.Ports {
		plan.Ports = append(plan.Ports, PortPlan{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		// Replace named volume with project-prefixed name
		if v.Type == compose.VolumeMountTypeVolume {
			source = VolumeName(params.Project, v.Source)
		}
		plan.Volumes = append(plan.Volumes, VolumePlan{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if svc.HealthCheck != nil {
		plan.HealthCheck = &HealthCheckPlan{
			Test:    svc.HealthCheck.Test,
			Retries: svc.HealthCheck.Retries,
		}
		if svc.HealthCheck.Interval != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Interval); err == nil {
				plan.HealthCheck.Interval = d
			}
		}
		if svc.HealthCheck.Timeout != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.Timeout); err == nil {
				plan.HealthCheck.Timeout = d
			}
		}
		if svc.HealthCheck.StartPeriod != "" {
			if d, err := time.ParseDuration(svc.HealthCheck.StartPeriod); err == nil {
				plan.HealthCheck.StartPeriod = d
			}
		}
	}

	plan.RestartPolicy = mapRestartPolicy(svc.Restart)

	// Service labels merge over the stagehand labels
	for k, v := range svc.Labels {
		plan.Labels[k] = v
	}

	return plan
}

// projectLabels returns the stagehand identification labels.
// Service is omitted when empty (network and volume labels).
func projectLabels(project, service string) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelProject: project,
	}
	if service != "" {
		labels[LabelService] = service
	}
	return labels
}

// mapRestartPolicy maps compose restart policy to Docker restart policy name.
func mapRestartPolicy(policy compose.RestartPolicy) RestartPolicyPlan {
	switch policy {
	case compose.RestartAlways:
		return RestartPolicyPlan{Name: "always"}
	case compose.RestartOnFailure:
		return RestartPolicyPlan{Name: "on-failure"}
	case compose.RestartUnlessStopped:
		return RestartPolicyPlan{Name: "unless-stopped"}
	default:
		return RestartPolicyPlan{Name: "no"}
	}
}

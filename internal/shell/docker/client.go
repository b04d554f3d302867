package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Engine Client
// =============================================================================

// Engine wraps the Docker SDK client for pipeline operations.
type Engine struct {
	cli *client.Client
}

// NewEngine creates a new engine client.
// If host is empty, it uses the default Docker host from environment.
func NewEngine(host string) (*Engine, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewEngine", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &Engine{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the underlying client connection.
func (e *Engine) Close() error {
	return e.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image by reference, blocking until the pull completes.
func (e *Engine) PullImage(ctx context.Context, ref string) error {
	reader, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		code := ErrImagePullFailed
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "manifest unknown") {
			code = ErrImageNotFound
		}
		return NewEngineError("PullImage", "image", ref, err.Error(), code)
	}
	defer reader.Close()

	// Drain the progress stream to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewEngineError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// ImageExists reports whether an image is present locally.
func (e *Engine) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return false, nil
		}
		return false, NewEngineError("ImageExists", "image", ref, err.Error(), ErrConnectionFailed)
	}
	return true, nil
}

// BuildImage builds an image from a local context directory.
// The context is tarred in memory and streamed to the daemon.
func (e *Engine) BuildImage(ctx context.Context, spec BuildSpec) error {
	dockerfile := spec.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := tarContext(spec.ContextDir)
	if err != nil {
		return NewEngineError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}

	resp, err := e.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{spec.Tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return NewEngineError("BuildImage", "image", spec.Tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	// The daemon streams JSON progress messages; a failed step arrives as
	// a message with an "error" field, not as a transport error.
	if msg, err := scanBuildStream(resp.Body); err != nil {
		return NewEngineError("BuildImage", "image", spec.Tag, msg, ErrImageBuildFailed)
	}
	return nil
}

// buildMessage is one line of the daemon's build progress stream.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// scanBuildStream drains the build stream and returns the first error
// message found, if any.
func scanBuildStream(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return "", nil
			}
			return err.Error(), err
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return detail, ErrImageBuildFailed
		}
	}
}

// =============================================================================
// Network Operations
// =============================================================================

// CreateNetwork creates a bridge network. Creating a network that already
// exists is not an error for the pipeline: teardown may have been skipped.
func (e *Engine) CreateNetwork(ctx context.Context, spec NetworkSpec) error {
	driver := spec.Driver
	if driver == "" {
		driver = "bridge"
	}

	_, err := e.cli.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return NewEngineError("CreateNetwork", "network", spec.Name, err.Error(), ErrNetworkAlreadyExists)
	}
	return nil
}

// RemoveNetwork removes a network by name or ID. Missing networks are
// not an error.
func (e *Engine) RemoveNetwork(ctx context.Context, name string) error {
	if err := e.cli.NetworkRemove(ctx, name); err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil
		}
		if strings.Contains(err.Error(), "has active endpoints") {
			return NewEngineError("RemoveNetwork", "network", name, err.Error(), ErrNetworkInUse)
		}
		return NewEngineError("RemoveNetwork", "network", name, err.Error(), ErrNetworkNotFound)
	}
	return nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a named volume. Volume creation is idempotent on
// the daemon side when the driver and labels match.
func (e *Engine) CreateVolume(ctx context.Context, spec VolumeSpec) error {
	driver := spec.Driver
	if driver == "" {
		driver = "local"
	}

	_, err := e.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: driver,
		Labels: spec.Labels,
	})
	if err != nil {
		return NewEngineError("CreateVolume", "volume", spec.Name, err.Error(), ErrVolumeInUse)
	}
	return nil
}

// RemoveVolume removes a named volume. Missing volumes are not an error.
func (e *Engine) RemoveVolume(ctx context.Context, name string, force bool) error {
	if err := e.cli.VolumeRemove(ctx, name, force); err != nil {
		if strings.Contains(err.Error(), "no such volume") || strings.Contains(err.Error(), "not found") {
			return nil
		}
		if strings.Contains(err.Error(), "in use") {
			return NewEngineError("RemoveVolume", "volume", name, err.Error(), ErrVolumeInUse)
		}
		return NewEngineError("RemoveVolume", "volume", name, err.Error(), ErrVolumeNotFound)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a new container from the given spec.
func (e *Engine) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	config := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Entrypoint: spec.Entrypoint,
		Labels:     spec.Labels,
	}

	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{}

	if len(spec.Ports) > 0 {
		portBindings := nat.PortMap{}
		exposedPorts := nat.PortSet{}

		for _, p := range spec.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			containerPort := nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, proto))
			exposedPorts[containerPort] = struct{}{}

			hostPort := ""
			if p.HostPort != 0 {
				hostPort = fmt.Sprintf("%d", p.HostPort)
			}

			portBindings[containerPort] = []nat.PortBinding{
				{
					HostIP:   p.HostIP,
					HostPort: hostPort,
				},
			}
		}

		config.ExposedPorts = exposedPorts
		hostConfig.PortBindings = portBindings
	}

	for _, v := range spec.Volumes {
		mountType := mount.TypeVolume
		if strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "./") {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	if spec.RestartPolicy.Name != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name:              container.RestartPolicyMode(spec.RestartPolicy.Name),
			MaximumRetryCount: spec.RestartPolicy.MaximumRetryCount,
		}
	}

	if spec.HealthCheck != nil {
		config.Healthcheck = &container.HealthConfig{
			Test:        spec.HealthCheck.Test,
			Interval:    spec.HealthCheck.Interval,
			Timeout:     spec.HealthCheck.Timeout,
			Retries:     spec.HealthCheck.Retries,
			StartPeriod: spec.HealthCheck.StartPeriod,
		}
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			endpoint := &network.EndpointSettings{}
			if aliases, ok := spec.NetworkAliases[n]; ok {
				endpoint.Aliases = aliases
			}
			networkConfig.EndpointsConfig[n] = endpoint
		}
	}

	resp, err := e.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		code := ErrConnectionFailed
		if strings.Contains(err.Error(), "Conflict") {
			code = ErrContainerAlreadyExists
		} else if strings.Contains(err.Error(), "port is already allocated") {
			code = ErrPortAlreadyAllocated
		}
		return "", NewEngineError("CreateContainer", "container", spec.Name, err.Error(), code)
	}

	return resp.ID, nil
}

// StartContainer starts a created container.
func (e *Engine) StartContainer(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		code := ErrConnectionFailed
		if strings.Contains(err.Error(), "No such container") {
			code = ErrContainerNotFound
		} else if strings.Contains(err.Error(), "is already running") {
			code = ErrContainerAlreadyRunning
		}
		return NewEngineError("StartContainer", "container", id, err.Error(), code)
	}
	return nil
}

// StopContainer stops a running container with the given grace period.
// Stopping a container that is not running is not an error.
func (e *Engine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	opts := container.StopOptions{Timeout: &secs}

	if err := e.cli.ContainerStop(ctx, id, opts); err != nil {
		if strings.Contains(err.Error(), "is not running") {
			return nil
		}
		code := ErrConnectionFailed
		if strings.Contains(err.Error(), "No such container") {
			code = ErrContainerNotFound
		}
		return NewEngineError("StopContainer", "container", id, err.Error(), code)
	}
	return nil
}

// RemoveContainer removes a container. Missing containers are not an error
// for the pipeline: teardown is declarative.
func (e *Engine) RemoveContainer(ctx context.Context, id string, removeVolumes bool) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: removeVolumes,
	})
	if err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil
		}
		return NewEngineError("RemoveContainer", "container", id, err.Error(), ErrContainerNotFound)
	}
	return nil
}

// ListContainersByLabel lists containers (running and stopped) that carry
// all the given labels.
func (e *Engine) ListContainersByLabel(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	for k, v := range labels {
		f.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, NewEngineError("ListContainersByLabel", "container", "", err.Error(), ErrConnectionFailed)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, ContainerInfo{
			ID:        c.ID,
			Name:      name,
			Image:     c.Image,
			State:     string(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}
	return result, nil
}

// PruneContainers removes stopped containers matching the given labels.
func (e *Engine) PruneContainers(ctx context.Context, labels map[string]string) error {
	f := filters.NewArgs()
	for k, v := range labels {
		f.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	if _, err := e.cli.ContainersPrune(ctx, f); err != nil {
		return NewEngineError("PruneContainers", "container", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// =============================================================================
// Exec
// =============================================================================

// execOutputLimit caps captured exec output.
const execOutputLimit = 64 * 1024

// Exec runs a command inside a running container and waits for it to
// finish, capturing combined output and the exit code.
func (e *Engine) Exec(ctx context.Context, containerName string, cmd []string) (ExecResult, error) {
	created, err := e.cli.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		code := ErrExecFailed
		if strings.Contains(err.Error(), "No such container") {
			code = ErrContainerNotFound
		} else if strings.Contains(err.Error(), "is not running") {
			code = ErrContainerNotRunning
		}
		return ExecResult{}, NewEngineError("Exec", "container", containerName, err.Error(), code)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, NewEngineError("Exec", "container", containerName, err.Error(), ErrExecFailed)
	}
	defer attach.Close()

	var buf bytes.Buffer
	if err := demuxOutput(&buf, attach.Reader); err != nil && err != io.EOF {
		return ExecResult{}, NewEngineError("Exec", "container", containerName, err.Error(), ErrExecFailed)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, NewEngineError("Exec", "container", containerName, err.Error(), ErrExecFailed)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Output:   buf.String(),
	}, nil
}

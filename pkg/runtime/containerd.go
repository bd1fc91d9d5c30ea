package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace for Zulu workers
	DefaultNamespace = "zulu"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultStopGrace is how long a worker gets between SIGTERM and SIGKILL
	DefaultStopGrace = 5 * time.Second
)

// ErrNotFound reports a container name with no container behind it
var ErrNotFound = errors.New("container not found")

// ContainerSpec describes a worker container to provision
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	MemoryLimitMB int64
	Mounts        []specs.Mount
}

// Runtime wraps the containerd client for worker lifecycle and resource
// sampling. All operations are scoped to the Zulu namespace.
type Runtime struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger

	mu  sync.Mutex
	cpu map[string]cpuSample
}

// New connects to containerd. An empty socket path uses the default.
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &Runtime{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("runtime"),
		cpu:       make(map[string]cpuSample),
	}, nil
}

// Close closes the containerd client connection
func (r *Runtime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Runtime) withNS(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// PullImage pulls a container image from a registry
func (r *Runtime) PullImage(ctx context.Context, imageRef string) error {
	ctx = r.withNS(ctx)

	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// Provision creates a worker container from a spec, pulling the image when
// it is not already present. Memory limits go into the OCI spec so the
// kernel enforces them regardless of what runs inside.
func (r *Runtime) Provision(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = r.withNS(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return "", fmt.Errorf("failed to get image %s: %w", spec.Image, err)
		}
		if image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack); err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if spec.MemoryLimitMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryLimitMB)*1024*1024))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(spec.Mounts))
	}

	container, err := r.client.NewContainer(
		ctx,
		spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	r.logger.Info().
		Str("container", container.ID()).
		Str("image", spec.Image).
		Int64("memory_limit_mb", spec.MemoryLimitMB).
		Msg("provisioned container")
	return container.ID(), nil
}

// Start launches the container's process
func (r *Runtime) Start(ctx context.Context, name string) error {
	ctx = r.withNS(ctx)

	container, err := r.load(ctx, name)
	if err != nil {
		return err
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// Stop stops a running container: SIGTERM, wait for the grace period, then
// SIGKILL. Stopping a container that is not running is a no-op.
func (r *Runtime) Stop(ctx context.Context, name string, grace time.Duration) error {
	ctx = r.withNS(ctx)

	container, err := r.load(ctx, name)
	if err != nil {
		return err
	}
	if err := r.stopTask(ctx, container, grace); err != nil {
		return err
	}

	r.forgetSample(name)
	return nil
}

// Restart stops the container's task and starts a fresh one
func (r *Runtime) Restart(ctx context.Context, name string, grace time.Duration) error {
	ctx = r.withNS(ctx)

	container, err := r.load(ctx, name)
	if err != nil {
		return err
	}
	if err := r.stopTask(ctx, container, grace); err != nil {
		return err
	}
	r.forgetSample(name)

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}

	r.logger.Info().Str("container", name).Msg("restarted container")
	return nil
}

// Delete removes a container and its snapshot, stopping it first if needed
func (r *Runtime) Delete(ctx context.Context, name string) error {
	ctx = r.withNS(ctx)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	if err := r.stopTask(ctx, container, DefaultStopGrace); err != nil {
		r.logger.Warn().Err(err).Str("container", name).
			Msg("failed to stop container before delete")
	}
	r.forgetSample(name)

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// Sample returns a point-in-time resource sample for a container. The first
// sample after a (re)start reports zero CPU; the percentage needs two
// snapshots to compute a delta.
func (r *Runtime) Sample(ctx context.Context, name string) (*Stats, error) {
	ctx = r.withNS(ctx)

	container, err := r.load(ctx, name)
	if err != nil {
		return nil, err
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return &Stats{Status: "stopped"}, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	if status.Status != containerd.Running {
		return &Stats{Status: string(status.Status)}, nil
	}

	metric, err := task.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read task metrics: %w", err)
	}
	raw, err := decodeMetrics(metric.Data)
	if err != nil {
		return nil, err
	}

	sysNS, sysCPUs, err := systemCPU()
	if err != nil {
		return nil, fmt.Errorf("failed to read system cpu: %w", err)
	}
	numCPUs := raw.numCPUs
	if numCPUs == 0 {
		numCPUs = sysCPUs
	}

	cur := cpuSample{containerNS: raw.cpuTotalNS, systemNS: sysNS}
	r.mu.Lock()
	prev, havePrev := r.cpu[name]
	r.cpu[name] = cur
	r.mu.Unlock()

	stats := &Stats{
		Status:   string(containerd.Running),
		Running:  true,
		MemoryMB: float64(raw.memUsage) / (1024 * 1024),
		NumCPUs:  numCPUs,
	}
	if raw.memLimit > 0 {
		stats.MemoryLimitMB = float64(raw.memLimit) / (1024 * 1024)
	}
	if havePrev {
		stats.CPUPercent = cpuPercent(prev, cur, numCPUs)
	}
	return stats, nil
}

// IsRunning checks whether a container has a running task
func (r *Runtime) IsRunning(ctx context.Context, name string) bool {
	stats, err := r.Sample(ctx, name)
	return err == nil && stats.Running
}

// List returns all container names in the Zulu namespace
func (r *Runtime) List(ctx context.Context) ([]string, error) {
	ctx = r.withNS(ctx)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	names := make([]string, 0, len(containers))
	for _, c := range containers {
		names = append(names, c.ID())
	}
	return names, nil
}

func (r *Runtime) load(ctx context.Context, name string) (containerd.Container, error) {
	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load container %s: %w", name, err)
	}
	return container, nil
}

func (r *Runtime) stopTask(ctx context.Context, container containerd.Container, grace time.Duration) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means nothing to stop
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
		// Task exited within grace
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func (r *Runtime) forgetSample(name string) {
	r.mu.Lock()
	delete(r.cpu, name)
	r.mu.Unlock()
}

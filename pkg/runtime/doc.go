/*
Package runtime wraps the containerd client for Zulu worker containers:
provisioning with OCI resource limits, lifecycle control, and the resource
sampling the watchdog polls.

# Architecture

	┌────────────────── ZULU RUNTIME ──────────────────┐
	│                                                    │
	│  Runtime (namespace: zulu)                         │
	│    Provision ── OCI spec, memory limit, mounts     │
	│    Start / Stop / Restart / Delete                 │
	│        Stop: SIGTERM, grace, SIGKILL               │
	│    Sample ── task metrics → Stats                  │
	│        cgroup v1 and v2 payloads                   │
	│        CPU% from two snapshots vs /proc/stat       │
	│                                                    │
	│  containerd daemon                                 │
	│    /run/containerd/containerd.sock                 │
	└────────────────────────────────────────────────────┘

# Resource sampling

Sample decodes the task's cgroup metrics (v1 or v2) and computes CPU usage
the way the Docker stats API does:

	cpu% = container_cpu_delta / system_cpu_delta × num_cpus × 100

The deltas come from consecutive samples, so the first sample after a start
or restart always reports zero CPU. Memory is the cgroup usage in MB; a
limit of "max" is reported as no limit.

# Lifecycle

Stop sends SIGTERM, waits up to the grace period, then SIGKILLs. Restart
reuses the container and snapshot, replacing only the task. Stopping a
container with no running task is a no-op, and Delete is idempotent.

All operations are scoped to the "zulu" containerd namespace, isolating
Zulu's workers from anything else on the host.
*/
package runtime

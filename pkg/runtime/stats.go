package runtime

import (
	"fmt"
	"math"

	v1 "github.com/containerd/cgroups/v3/cgroup1/stats"
	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"
	"github.com/containerd/typeurl/v2"
	"github.com/prometheus/procfs"
)

// Stats is one resource sample for a container
type Stats struct {
	Status        string
	Running       bool
	MemoryMB      float64
	MemoryLimitMB float64
	CPUPercent    float64
	NumCPUs       int
}

// cpuSample pairs the container's cumulative CPU time with the host's,
// both in nanoseconds, taken at the same instant
type cpuSample struct {
	containerNS uint64
	systemNS    float64
}

type rawMetrics struct {
	cpuTotalNS uint64
	memUsage   uint64
	memLimit   uint64
	numCPUs    int
}

// decodeMetrics unpacks a task metrics sample. Both cgroup v1 and v2 hosts
// are supported; the payload type tells them apart.
func decodeMetrics(data typeurl.Any) (*rawMetrics, error) {
	v, err := typeurl.UnmarshalAny(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}

	raw := &rawMetrics{}
	switch m := v.(type) {
	case *v1.Metrics:
		if m.CPU != nil && m.CPU.Usage != nil {
			raw.cpuTotalNS = m.CPU.Usage.Total
			raw.numCPUs = len(m.CPU.Usage.PerCPU)
		}
		if m.Memory != nil && m.Memory.Usage != nil {
			raw.memUsage = m.Memory.Usage.Usage
			raw.memLimit = boundedLimit(m.Memory.Usage.Limit)
		}
	case *v2.Metrics:
		if m.CPU != nil {
			raw.cpuTotalNS = m.CPU.UsageUsec * 1000
		}
		if m.Memory != nil {
			raw.memUsage = m.Memory.Usage
			raw.memLimit = boundedLimit(m.Memory.UsageLimit)
		}
	default:
		return nil, fmt.Errorf("unsupported metrics type %T", v)
	}
	return raw, nil
}

// boundedLimit maps cgroup "no limit" sentinels to zero
func boundedLimit(limit uint64) uint64 {
	if limit == math.MaxUint64 {
		return 0
	}
	return limit
}

// systemCPU reads cumulative host CPU time across all cores from /proc/stat,
// in nanoseconds, plus the core count
func systemCPU() (float64, int, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, 0, err
	}
	st, err := fs.Stat()
	if err != nil {
		return 0, 0, err
	}

	c := st.CPUTotal
	seconds := c.User + c.Nice + c.System + c.Idle + c.Iowait +
		c.IRQ + c.SoftIRQ + c.Steal
	return seconds * 1e9, len(st.CPU), nil
}

// cpuPercent computes usage between two samples the way the Docker stats
// API does: container delta over host delta, scaled by core count
func cpuPercent(prev, cur cpuSample, numCPUs int) float64 {
	if cur.containerNS < prev.containerNS {
		return 0
	}
	cpuDelta := float64(cur.containerNS - prev.containerNS)
	systemDelta := cur.systemNS - prev.systemNS
	if systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * float64(numCPUs) * 100.0
}

package watchdog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/zuluhq/zulu/pkg/audit"
	"github.com/zuluhq/zulu/pkg/events"
	"github.com/zuluhq/zulu/pkg/log"
	"github.com/zuluhq/zulu/pkg/metrics"
	"github.com/zuluhq/zulu/pkg/policy"
	"github.com/zuluhq/zulu/pkg/runtime"
)

// highCPUThresholdChecks is how many consecutive over-limit CPU samples it
// takes before the kill switch fires. Memory violations kill immediately.
const highCPUThresholdChecks = 3

// ContainerRuntime is the slice of the container runtime the watchdog needs
type ContainerRuntime interface {
	Sample(ctx context.Context, name string) (*runtime.Stats, error)
	Stop(ctx context.Context, name string, grace time.Duration) error
	Restart(ctx context.Context, name string, grace time.Duration) error
}

// Watchdog polls worker containers and kills the ones that break policy.
// Every observation and action lands in the hash-chained audit log.
type Watchdog struct {
	cfg    Config
	chain  *audit.Chain
	policy *policy.Engine
	rt     ContainerRuntime

	highCPU      map[string]int
	runningSince map[string]time.Time
	reloadEvery  int
	tick         int

	logger zerolog.Logger
}

// New builds a watchdog over the given audit chain, policy engine, and
// container runtime
func New(cfg Config, chain *audit.Chain, engine *policy.Engine, rt ContainerRuntime) *Watchdog {
	reloadInterval := engine.Global().PolicyReloadInterval
	if reloadInterval <= 0 {
		reloadInterval = 60
	}
	intervalSec := int(cfg.CheckInterval.Seconds())
	if intervalSec < 1 {
		intervalSec = 1
	}
	reloadEvery := reloadInterval / intervalSec
	if reloadEvery < 1 {
		reloadEvery = 1
	}

	return &Watchdog{
		cfg:          cfg,
		chain:        chain,
		policy:       engine,
		rt:           rt,
		highCPU:      make(map[string]int),
		runningSince: make(map[string]time.Time),
		reloadEvery:  reloadEvery,
		logger:       log.WithComponent("watchdog"),
	}
}

// Run polls until the context is cancelled
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info().
		Strs("containers", w.cfg.Containers).
		Float64("max_memory_mb", w.cfg.MaxMemoryMB).
		Float64("max_cpu_percent", w.cfg.MaxCPUPercent).
		Dur("check_interval", w.cfg.CheckInterval).
		Str("kill_action", w.cfg.KillAction).
		Str("policy_fingerprint", w.policy.Fingerprint()).
		Str("chain_head", w.chain.Head()).
		Msg("watchdog starting")

	w.append("WATCHDOG_STARTED", map[string]any{
		"monitored_containers": w.cfg.Containers,
		"policy_hash":          w.policy.Fingerprint(),
		"max_memory_mb":        w.cfg.MaxMemoryMB,
		"max_cpu_percent":      w.cfg.MaxCPUPercent,
		"check_interval_sec":   w.cfg.CheckInterval.Seconds(),
	})

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.chain.FlushMerkle()
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce is one poll cycle over every monitored container
func (w *Watchdog) runOnce(ctx context.Context) {
	metrics.WatchdogChecksTotal.Inc()

	w.tick++
	if w.tick%w.reloadEvery == 0 && w.policy.Reload() {
		metrics.PolicyReloadsTotal.Inc()
		w.append("POLICY_RELOADED", map[string]any{
			"policy_hash": w.policy.Fingerprint(),
		})
		events.Emit(events.EventPolicyReloaded, "policy reloaded",
			map[string]string{"policy_hash": w.policy.Fingerprint()})
	}

	for _, name := range w.cfg.Containers {
		w.checkContainer(ctx, name)
	}
}

func (w *Watchdog) checkContainer(ctx context.Context, name string) {
	stats, err := w.rt.Sample(ctx, name)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			w.logger.Warn().Str("container", name).Msg("container not found, waiting")
			w.append("CONTAINER_NOT_FOUND", map[string]any{"container": name})
		} else {
			w.logger.Error().Err(err).Str("container", name).Msg("watchdog check failed")
			w.append("WATCHDOG_ERROR", map[string]any{
				"container": name,
				"error":     err.Error(),
			})
		}
		w.reset(name)
		return
	}

	if !stats.Running {
		w.logger.Info().Str("container", name).Str("status", stats.Status).
			Msg("container not running")
		w.append("CONTAINER_NOT_RUNNING", map[string]any{
			"container": name,
			"status":    stats.Status,
		})
		w.reset(name)
		return
	}

	if _, ok := w.runningSince[name]; !ok {
		w.runningSince[name] = time.Now()
	}
	runtimeSec := time.Since(w.runningSince[name]).Seconds()

	// Per-worker limits with env fallbacks
	memLimit := w.cfg.MaxMemoryMB
	cpuLimit := w.cfg.MaxCPUPercent
	if wp, ok := w.policy.WorkerPolicy(name); ok {
		if wp.MaxMemoryMB > 0 {
			memLimit = wp.MaxMemoryMB
		}
		if wp.MaxCPUPct > 0 {
			cpuLimit = wp.MaxCPUPct
		}
	}

	usage := policy.Usage{CPUPercent: stats.CPUPercent, MemoryMB: stats.MemoryMB}
	violations := w.policy.Check(name, usage, runtimeSec)
	for _, v := range violations {
		metrics.ViolationsTotal.WithLabelValues(v.Rule, string(v.Severity)).Inc()
		if v.Severity != policy.SeverityKill {
			continue
		}
		w.append("POLICY_VIOLATION", map[string]any{
			"container": name,
			"rule":      v.Rule,
			"reason":    v.Reason,
			"details":   v.Details,
		})
		events.Emit(events.EventWatchdogViolation, v.Reason,
			map[string]string{"container": name, "rule": v.Rule})
		if w.policy.ShouldKill([]policy.Violation{v}) {
			w.kill(ctx, name, fmt.Sprintf("Policy violation: %s", v.Reason), stats)
			return
		}
	}

	if stats.MemoryMB > memLimit {
		w.kill(ctx, name, fmt.Sprintf("Memory %.2fMB > %.0fMB limit",
			stats.MemoryMB, memLimit), stats)
		return
	}

	if stats.CPUPercent > cpuLimit {
		w.highCPU[name]++
		count := w.highCPU[name]
		w.logger.Warn().Str("container", name).
			Float64("cpu_percent", stats.CPUPercent).
			Int("count", count).
			Int("threshold", highCPUThresholdChecks).
			Msg("high cpu")
		if count >= highCPUThresholdChecks {
			sustained := time.Duration(count) * w.cfg.CheckInterval
			w.kill(ctx, name, fmt.Sprintf("Sustained CPU %.2f%% > %.0f%% for %s",
				stats.CPUPercent, cpuLimit, sustained), stats)
		}
		return
	}
	w.highCPU[name] = 0

	w.logger.Debug().Str("container", name).
		Float64("memory_mb", stats.MemoryMB).
		Float64("cpu_percent", stats.CPUPercent).
		Msg("container ok")
}

// kill restarts or stops a violating container, per policy or config
func (w *Watchdog) kill(ctx context.Context, name, reason string, stats *runtime.Stats) {
	action := w.cfg.KillAction
	if wp, ok := w.policy.WorkerPolicy(name); ok && wp.KillAction != "" {
		action = wp.KillAction
	}

	w.append("KILL_TRIGGERED", map[string]any{
		"container": name,
		"reason":    reason,
		"action":    action,
		"stats":     statsMap(stats),
	})

	var err error
	if action == "restart" {
		w.logger.Warn().Str("container", name).Str("reason", reason).Msg("restarting container")
		err = w.rt.Restart(ctx, name, runtime.DefaultStopGrace)
	} else {
		w.logger.Warn().Str("container", name).Str("reason", reason).Msg("stopping container")
		err = w.rt.Stop(ctx, name, runtime.DefaultStopGrace)
	}

	if err != nil {
		w.logger.Error().Err(err).Str("container", name).Msg("kill action failed")
		w.append("KILL_FAILED", map[string]any{
			"container": name,
			"error":     err.Error(),
		})
	} else {
		metrics.KillsTotal.WithLabelValues(name, action).Inc()
		w.append("KILL_COMPLETED", map[string]any{
			"container": name,
			"action":    action,
			"success":   true,
		})
		events.Emit(events.EventWatchdogKill, reason,
			map[string]string{"container": name, "action": action})
	}
	w.reset(name)
}

func (w *Watchdog) reset(name string) {
	w.highCPU[name] = 0
	delete(w.runningSince, name)
}

func (w *Watchdog) append(event string, details map[string]any) {
	if _, err := w.chain.Append(event, details); err != nil {
		w.logger.Error().Err(err).Str("event", event).Msg("failed to append audit event")
	}
}

func statsMap(s *runtime.Stats) map[string]any {
	return map[string]any{
		"memory_mb":       round2(s.MemoryMB),
		"memory_limit_mb": round2(s.MemoryLimitMB),
		"cpu_percent":     round2(s.CPUPercent),
		"num_cpus":        s.NumCPUs,
		"status":          s.Status,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

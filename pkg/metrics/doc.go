// Package metrics provides Prometheus instrumentation and health endpoints
// for the control plane.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────┐
//	│                 Metrics Registry                  │
//	│                                                   │
//	│  Dispatch:   zulu_dispatches_total                │
//	│              zulu_dispatch_retries_total          │
//	│              zulu_dispatch_duration_seconds       │
//	│  Planner:    zulu_plan_requests_total             │
//	│              zulu_tasks_{completed,failed}_total  │
//	│  Watchdog:   zulu_watchdog_checks_total           │
//	│              zulu_policy_violations_total         │
//	│              zulu_kills_total                     │
//	│  Audit:      zulu_audit_records_total             │
//	│  Queue:      zulu_queue_depth (via Collector)     │
//	└──────────────────────────────────────────────────┘
//	                       │
//	                       ▼
//	            GET /metrics (promhttp)
//
// All metrics are package-level vars registered in init(), so any package can
// increment them without threading a registry through constructors.
//
// # Collector
//
// Counters and histograms are updated inline at the call site. Gauges that
// mirror external state (the night-shift queue depth) are sampled by the
// Collector on a 15 second ticker:
//
//	c := metrics.NewCollector(queueStore)
//	c.Start()
//	defer c.Stop()
//
// # Health Endpoints
//
// Three HTTP handlers cover the standard probe surface:
//
//	GET /health  - overall health, 503 if any component is unhealthy
//	GET /ready   - readiness, 503 until audit, policy, and executor register
//	GET /live    - liveness, 200 whenever the process is up
//
// Components self-report:
//
//	metrics.RegisterComponent("audit", true, "")
//	metrics.UpdateComponent("executor", false, "worker unreachable")
//
// # Timers
//
// Timer wraps duration measurement for histogram observation:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDurationVec(metrics.DispatchDuration, backend)
package metrics

/*
Package policy implements governance-as-code for Zulu workers.

Rules live in a YAML file mounted read-only into the watchdog container.
Changing the file changes enforcement on the next reload; no redeploy is
needed. The engine fingerprints the raw file bytes so unchanged files are
never re-parsed and every effective reload is auditable by hash.

# Policy Document

	version: "1.0"
	workers:
	  clawd-runner:
	    max_runtime_sec: 300
	    max_cpu_pct: 90
	    max_memory_mb: 1024
	    require_attestation: true
	    deny_outbound: false
	  openclaw-nightshift:
	    max_memory_mb: 2048
	global:
	  max_concurrent_tasks: 5
	  kill_on_violation: true
	  kill_unknown_workers: false
	  audit_all_checks: false

# Severity Model

Memory and runtime ceilings produce kill-severity violations. CPU produces
warn severity; the watchdog escalates to a kill only after consecutive high
samples. deny_outbound is advisory here (kill on observed tx bytes); real
enforcement happens at the network layer.

# Usage

	engine := policy.NewEngine("/app/policy/policy.yaml")
	violations := engine.Check("clawd-runner", usage, runtimeSeconds)
	if engine.ShouldKill(violations) {
		// escalate to the watchdog kill path
	}

	// Hot reload between watchdog intervals
	go engine.Watch(ctx, func(fp string) { ... })
*/
package policy

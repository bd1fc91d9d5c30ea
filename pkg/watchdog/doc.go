/*
Package watchdog is the dead-man's switch for Zulu worker containers. It
polls resource usage, enforces policy, and kills workers that cross their
limits. Every observation and action is appended to the hash-chained audit
log, so the enforcement history is tamper-evident from genesis.

# Poll cycle

	every CHECK_INTERVAL (default 10s):
	    reload policy on schedule ──▶ POLICY_RELOADED
	    for each monitored container:
	        missing        ──▶ CONTAINER_NOT_FOUND
	        not running    ──▶ CONTAINER_NOT_RUNNING
	        sample stats (memory MB, CPU% over two snapshots)
	        policy check   ──▶ POLICY_VIOLATION (+ kill on kill severity)
	        memory ceiling ──▶ immediate kill
	        cpu ceiling    ──▶ kill after 3 consecutive highs

# Kill switch

A kill is a restart or stop (WATCHDOG_KILL_ACTION, overridable per worker
in policy) with a 5s SIGTERM grace before SIGKILL. The sequence is audited
as KILL_TRIGGERED then KILL_COMPLETED or KILL_FAILED; a failed kill never
stops the loop.

Sustained-CPU counters reset on every compliant sample and after every
kill, so a worker only dies for pegging the CPU across consecutive checks,
not for short bursts.
*/
package watchdog

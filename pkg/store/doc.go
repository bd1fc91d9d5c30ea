/*
Package store is the night-shift layer: a bbolt-backed task queue and the
dispatcher that drains it through a worker backend during quiet hours.

# Flow

	queue add ──▶ [bbolt: tasks bucket]
	                   │  pending, due, priority desc, oldest first
	                   ▼
	Dispatcher.RunOnce (quiet hours 22:00-06:00, batch of 10)
	                   │  per task: mark running, dispatch, mark done
	                   ▼
	reports/nightshift_report_YYYYMMDD_HHMMSS.{json,md}

Tasks are pre-defined and user-queued; the dispatcher never generates its
own work. A task's context can carry a "domains" list, which becomes the
dispatch domain allowlist; tools are granted per task type, minimally.

Queue state also feeds the metrics collector via CountByStatus.
*/
package store

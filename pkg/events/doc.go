/*
Package events provides an in-memory event broker for Zulu's control-plane
pub/sub. Components publish what happened (dispatches, plans, watchdog
actions, policy reloads, attestation results); subscribers consume the
stream without coupling to the producers.

# Architecture

	Publisher ──▶ event channel (buffer: 100)
	                   │
	                   ▼
	             broadcast loop
	                   │
	                   ▼
	     subscriber channels (buffer: 50 each)

Publish stamps an ID and timestamp when absent and bumps the per-type
published counter. Delivery is best-effort: a subscriber whose buffer is
full misses the event, so the control plane never blocks on a slow
consumer. The audit chain, not this broker, is the durable record.
*/
package events

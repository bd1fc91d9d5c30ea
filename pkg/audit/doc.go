/*
Package audit provides the append-only, hash-chained audit log for Zulu.

Every control-plane action (dispatch, kill, policy reload, attestation) is
appended as one JSONL record whose hash covers the previous record's hash,
making silent edits, deletions, and reordering detectable. Periodic Merkle
checkpoints summarize windows of records in a sibling file so external
verifiers can spot-check long logs.

# Architecture

	┌───────────────────── AUDIT CHAIN ─────────────────────────┐
	│                                                           │
	│  genesis = H("ZULU_AUDIT_GENESIS_v1")                     │
	│                                                           │
	│  ┌───────────┐   ┌───────────┐   ┌───────────┐            │
	│  │ seq 0     │   │ seq 1     │   │ seq 2     │            │
	│  │ prev=gen  │──▶│ prev=h0   │──▶│ prev=h1   │──▶ ...     │
	│  │ hash=h0   │   │ hash=h1   │   │ hash=h2   │            │
	│  └───────────┘   └───────────┘   └───────────┘            │
	│        │               │               │                  │
	│        └───────────────┴───────┬───────┘                  │
	│                                ▼                          │
	│                  every 360 records: Merkle root           │
	│                  appended to <log>-merkle.jsonl           │
	└───────────────────────────────────────────────────────────┘

Records are hashed over their canonical JSON form (sorted keys, compact
separators) including prev_hash and excluding hash/algo. BLAKE3 is the
default algorithm with SHA-256 available as a fallback; each record carries
an algo tag so mixed logs stay verifiable.

# Usage

	chain, err := audit.Open("/var/lib/zulu/audit.jsonl")
	if err != nil {
		return err
	}
	chain.Append("KILL_TRIGGERED", map[string]any{
		"container": "clawd-runner",
		"action":    "restart",
	})

	ok, broken := chain.Verify()
	if !ok {
		fmt.Printf("chain broken at seq %d\n", broken)
	}

# Failure Model

A failed disk write still advances the in-memory head so the chain never
forks; the gap is detectable by verification. A malformed tail on resume
restarts the chain from genesis and records a CHAIN_RESET event.
*/
package audit

/*
Package attest implements challenge-response worker attestation.

Before the control plane dispatches to a worker whose policy requires
attestation, the worker must prove it holds its shared secret: the authority
issues a short-lived single-use nonce, the worker returns the digest of
nonce + secret, and the authority compares in constant time.

# Flow

	worker                          authority (zulu-core)
	  │  request nonce                 │
	  │ ──────────────────────────────▶│  NONCE_ISSUED (TTL 60s)
	  │  nonce                         │
	  │ ◀──────────────────────────────│
	  │  {worker_id, nonce,            │
	  │   signature=H(nonce+secret)}   │
	  │ ──────────────────────────────▶│  verify: found? owner? fresh?
	  │  ok / reason                   │          unused? signature?
	  │ ◀──────────────────────────────│  ATTESTATION_OK / _FAILED

Verification checks run in a fixed order so failure reasons are stable:
nonce_not_found, nonce_worker_mismatch, nonce_expired, nonce_already_used,
signature_mismatch. A successful verification consumes the nonce; revoking a
worker drops all its outstanding nonces.

Events accumulate in an in-memory log that callers periodically flush into
the audit chain.
*/
package attest

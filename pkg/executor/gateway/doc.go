// Package gateway dispatches tasks to a remote worker running behind a
// Cloudflare-fronted gateway. It is a drop-in sibling of the local HTTP
// adapter: same request and response types, same audit contract, same
// typed errors.
//
// # Transports
//
//	Dispatch ──▶ websocket RPC (optional)
//	    │            req/res/event frames, streamed agent turns
//	    │            │ fallback on session failure
//	    ▼            ▼
//	POST {url}/api/task  { message, session_id, timeout(ms) }
//	    │
//	    ▼
//	{ status, result, error }  ──▶ executor.Response
//
// Authentication is a gateway token on the websocket handshake plus
// optional Cloudflare Access service token headers on every HTTP request.
// Health checks hit GET {url}/sandbox-health, which is public.
//
// Task metadata has no wire representation on this backend; buildPrompt
// folds the task type, domain constraints, context, and output schema into
// the agent message itself. Timeouts are enforced on this side of the wire
// as well, the worker is not trusted to honor them.
package gateway

// Package sandbox is the constrained worker: it boots, receives one task,
// executes it within explicit limits, wipes its workspace, and returns a
// structured result. It is a runtime, not an authority.
//
// # Architecture
//
//	POST /task ──▶ validate ──▶ Runner ──▶ closed dispatch table
//	                              │          web_research
//	                              │          document_synthesis
//	                              │          comparative_analysis
//	                              │          report_drafting
//	                              │          code_review
//	                              │          data_extraction
//	                              │          ping
//	                              ▼
//	                        wipe workspace
//	                              │
//	                              ▼
//	                 200 completed / 408 timeout /
//	                 400 rejected  / 500 error
//
// # Constraints
//
// Every task runs under all of these at once:
//
//   - Closed dispatch table; unknown task types never execute
//   - Step counter; exceeding max_steps aborts with STEP_LIMIT
//   - Domain allowlist; URL hosts match glob patterns, empty list blocks all
//   - Tool allowlist; each tool use is checked before it happens
//   - Task timeout; the per-request deadline is capped by the server ceiling
//   - Stateless; the workspace is wiped after every task, success or failure
//
// LLM access uses the per-task scoped credentials, never server-held keys.
package sandbox

// Package runner is the minimal worker: a small closed set of primitive
// operations, scoped one-time credentials, and a hard timeout ceiling.
// It does less than the sandbox on purpose.
//
// # Architecture
//
//	POST /task ──▶ Runner ──▶ closed dispatch table
//	                 │          web_fetch    fetch one URL, truncate
//	                 │          summarize    preprocess only, needs_llm
//	                 │          transform    pure data reshaping
//	                 │          code_exec    always rejected
//	                 │          ping
//	                 ▼
//	           wipe workspace
//	                 │
//	                 ▼
//	    200 completed / 408 timeout / 500 error
//
// The runner never calls a model. Summarize returns preprocessed text with
// needs_llm set so the control plane can finish the job with its own
// credentials. Per-task scoped credentials carry at most an auth header for
// the fetched URL and expire with the task.
package runner

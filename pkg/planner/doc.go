// Package planner turns natural language requests into task DAGs and runs
// them through a worker backend. This is the intelligence layer between
// user intent and executor dispatch.
//
// # Pipeline
//
//	"Research competitors and draft a one-pager"
//	         │
//	         ▼
//	IntentParser ──▶ chitchat? clarify? low confidence? ──▶ reply / ask
//	         │
//	         ▼
//	TaskDecomposer ──▶ TaskGraph (1-5 tasks, "task-N", validated DAG)
//	         │            task-0 web_research
//	         │            task-1 document_synthesis (depends_on task-0)
//	         ▼
//	Executor ──▶ ready sets run in parallel
//	         │     dependency results extracted and chained into prompts
//	         │     fresh credentials per dispatch
//	         │     attestation gate when policy demands it
//	         │     direct-LLM fallback when the worker is unreachable
//	         ▼
//	ExecutionResult (per-task results, errors, summary)
//
// Decomposition failures never propagate: an invalid or empty plan degrades
// to a single fallback task built from the raw request. Blocked tasks are
// marked failed, not dropped.
//
// Per-role model selection: intent parsing, planning, and extraction each
// use their own configured model.
package planner

// Package relay provides a small workflow runtime with a human-in-the-loop
// draft approval pipeline.
//
// Relay is designed for automation services that generate content (digests,
// notifications, AI-written messages), hold it for human review, and
// dispatch the approved result exactly once. It runs fully in Go, supports
// multiple persistence backends, and integrates cleanly into existing
// codebases.
//
// # Core Concepts
//
// The Relay programming model is intentionally small and idiomatic:
//
//  1. Runner
//  2. FlowBuilder
//  3. StepFunc
//  4. DraftController
//  5. Stores
//
// # Runner
//
// The Runner executes registered workflows step by step. Every run gets a
// fresh RunContext (a unique run ID plus input/output carriers) and an
// append-only structured run log, so each execution leaves a complete
// audit trail even when it fails. Steps can opt into per-step retry
// policies with exponential backoff; errors are classified as retryable or
// non-retryable to decide whether a retry is worth attempting.
//
// # FlowBuilder
//
// FlowBuilder provides the declarative API used to define workflows:
//
//	relay.Flow("daily-digest").
//	    Step("fetch", fetchArticles).
//	    StepWithRetry("summarize", summarize, retryPolicy).
//	    Step("draft", storeDraft)
//
// Definitions created with FlowBuilder are registered into a Runner before
// use.
//
// # StepFunc
//
// A StepFunc is the fundamental executable unit of a workflow:
//
//	type StepFunc func(ctx context.Context, rc *RunContext) (any, error)
//
// The returned value is recorded as the step's output under the step name
// and is available to later steps via the RunContext. Steps read and write
// durable per-workflow key/value state through the WorkflowState bound to
// the context.
//
// # DraftController
//
// The DraftController enforces the draft lifecycle: pending drafts can be
// approved, rejected, or edited; approval atomically claims the draft and
// then dispatches it through a Sender, recording the terminal outcome as
// sent or send_failed. Concurrent approvals of the same draft resolve so
// that the message goes out at most once.
//
// # Stores
//
// Persistence is split into three narrow interfaces: RunLogStore
// (append-only run logs), StateStore (per-workflow JSON documents), and
// DraftStore (the reviewed-message collection). Backends:
//
//   - In-memory (non-durable, best for tests)
//   - Files (JSONL logs, JSON documents, atomic replace-on-write)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// # Summary
//
// Relay's goal is a content pipeline that feels like Go: easy to embed,
// easy to test, with durable state and an explicit approval gate between
// machine-generated text and the outside world. Runners execute steps,
// FlowBuilder defines workflows, the DraftController guards dispatch, and
// the Stores keep everything auditable.
package relay

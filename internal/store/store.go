// Package store defines the narrow interfaces the core query pipeline uses
// to reach the backing property-graph store (spec.md §1: "the property-graph
// store itself (treated as an opaque sink speaking a parameterized
// graph-query dialect over a session/transaction interface)"). The core
// never imports a store driver directly; internal/store/postgres is the one
// concrete realization wired up.
package store

import (
	"context"

	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/plan"
)

// Pool opens per-request Sessions. Implementations must be safe for
// concurrent use by many in-flight requests.
type Pool interface {
	// Acquire returns a Session scoped to the lifetime of a single request.
	// Callers must call Session.Release on every exit path (spec.md §9
	// "scoped-acquisition idiom"); there is no package-level session pool
	// exposed to handlers.
	Acquire(ctx context.Context) (Session, error)
	Ping(ctx context.Context) error
	Close()
}

// Session is a single request's scoped handle onto the store.
type Session interface {
	// RunPlan executes a plan.Plan produced by the Plan Generator and
	// returns each result row as a column-name → value map, in the order
	// the store returned them.
	RunPlan(ctx context.Context, p *plan.Plan) ([]map[string]any, error)

	// Upsert performs the C7 Upsert Writer's transaction: Concept merge
	// plus one Proposition write per non-identity field.
	Upsert(ctx context.Context, u *kql.Upsert) error

	// Propositions serves the direct Proposition operations exposed by the
	// /propositions endpoint (spec.md §6).
	Propositions(ctx context.Context, req PropositionRequest) (any, error)

	// Suggestions ranks Propositions by cosine similarity of an externally
	// computed embedding against their stored embeddings, returning each
	// with its owning Concept's name and type (SPEC_FULL.md A7).
	Suggestions(ctx context.Context, embedding []float32, limit int) ([]Suggestion, error)

	// PersistTelemetry flushes a batch of query-timing records (C9) to the
	// backing store.
	PersistTelemetry(ctx context.Context, records []TelemetryRecord) error

	// Release returns the session. Safe to call more than once.
	Release()
}

// PropositionRequest is the decoded body of a /propositions request.
type PropositionRequest struct {
	Action    string
	Subject   string
	Predicate string
	Object    string
	Depth     int
}

// Suggestion is one ranked result from Session.Suggestions.
type Suggestion struct {
	ConceptName string
	ConceptType string
	Predicate   string
	Object      string
	Score       float64
}

// TelemetryRecord is one entry persisted by the telemetry flusher (C9).
type TelemetryRecord struct {
	QueryHash       string
	ExecutionTimeMs int64
	RecordsReturned int
	Timestamp       int64
}

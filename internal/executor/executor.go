// Package executor implements the C6 Executor: it acquires a scoped store
// session, runs a generated plan, and shapes the result into the response
// envelope described in spec.md §4.6.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kqlgateway/kqlgateway/internal/cursor"
	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/plan"
	"github.com/kqlgateway/kqlgateway/internal/resilience"
	"github.com/kqlgateway/kqlgateway/internal/store"
)

// QueryType labels the envelope's metadata.query_type (spec.md §6).
type QueryType string

const (
	QueryStandard    QueryType = "standard"
	QueryAggregation QueryType = "aggregation"
	QueryLegacyFind  QueryType = "legacy_find"
)

// Pagination mirrors spec.md §6's pagination envelope field.
type Pagination struct {
	HasMore bool    `json:"hasMore"`
	Cursor  *string `json:"cursor"`
	Limit   int     `json:"limit"`
}

// Metadata mirrors spec.md §6's metadata envelope field.
type Metadata struct {
	QueryType       string  `json:"query_type"`
	HasAggregation  bool    `json:"has_aggregation"`
	ExecutionTimeMs int64   `json:"execution_time_ms"`
	ComplianceScore float64 `json:"compliance_score"`
	CursorIgnored   bool    `json:"cursor_ignored,omitempty"`
}

// Result is the executor's output, serialized by the HTTP surface into the
// success envelope.
type Result struct {
	Data       []any
	Pagination *Pagination
	Metadata   Metadata
}

// Executor runs validated queries against a store.Pool.
type Executor struct {
	pool    store.Pool
	cursors *cursor.Manager
	breaker *resilience.CircuitBreaker
}

// New constructs an Executor. breaker may be nil, in which case plans run
// without circuit-breaker protection (used in unit tests with a fake pool).
func New(pool store.Pool, cursors *cursor.Manager, breaker *resilience.CircuitBreaker) *Executor {
	return &Executor{pool: pool, cursors: cursors, breaker: breaker}
}

// Execute runs q (already parsed and validated) to completion.
func (e *Executor) Execute(ctx context.Context, q *kql.Query, ti *kql.TypeInfo, queryType QueryType) (*Result, error) {
	start := time.Now()

	var cp *cursor.Payload
	cursorMatches := false
	cursorIgnored := false
	if q.HasCursor {
		if payload, ok := e.cursors.Decode(q.Cursor); ok {
			cp = &payload
			if payload.QueryHash == cursor.QueryHash(q.NormalizedText()) {
				cursorMatches = true
			} else {
				cursorIgnored = true
			}
		}
	}

	p, err := plan.Generate(q, cp, cursorMatches)
	if err != nil {
		return nil, err
	}

	rows, err := e.runPlan(ctx, p)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start).Milliseconds()

	if p.AggregationMode {
		return &Result{
			Data: shapeAggregateRows(rows),
			Metadata: Metadata{
				QueryType:       string(queryType),
				HasAggregation:  true,
				ExecutionTimeMs: elapsed,
				ComplianceScore: complianceScore(ti),
				CursorIgnored:   cursorIgnored,
			},
		}, nil
	}

	hasMore := len(rows) > p.Limit
	emitRows := rows
	var nextCursor *string
	if hasMore {
		emitRows = rows[:p.Limit]
		lastSeq, ok := seqOf(rows[p.Limit-1])
		if ok {
			token, err := e.cursors.Encode(cursor.Payload{
				LastID:    lastSeq,
				Offset:    0,
				QueryHash: cursor.QueryHash(q.NormalizedText()),
				IssuedAt:  time.Now().UnixMilli(),
			})
			if err != nil {
				return nil, gwerrors.Internal(err)
			}
			nextCursor = &token
		}
	}

	data, err := shapeStandardRows(emitRows, p.FieldProjection)
	if err != nil {
		return nil, err
	}

	return &Result{
		Data: data,
		Pagination: &Pagination{
			HasMore: hasMore,
			Cursor:  nextCursor,
			Limit:   p.Limit,
		},
		Metadata: Metadata{
			QueryType:       string(queryType),
			HasAggregation:  false,
			ExecutionTimeMs: elapsed,
			ComplianceScore: complianceScore(ti),
			CursorIgnored:   cursorIgnored,
		},
	}, nil
}

func complianceScore(ti *kql.TypeInfo) float64 {
	if ti == nil {
		return 1
	}
	return ti.ComplianceScore
}

// runPlan acquires a session for the duration of the plan's execution and
// releases it on every exit path (spec.md §8 invariant 1), optionally
// guarded by a circuit breaker so a failing store degrades to a fast
// internal error (SPEC_FULL.md A5).
func (e *Executor) runPlan(ctx context.Context, p *plan.Plan) ([]map[string]any, error) {
	session, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, gwerrors.Internal(err)
	}
	defer session.Release()

	var rows []map[string]any
	run := func() error {
		r, err := session.RunPlan(ctx, p)
		if err != nil {
			return err
		}
		rows = r
		return nil
	}

	if e.breaker == nil {
		if err := run(); err != nil {
			return nil, toGatewayError(ctx, err)
		}
		return rows, nil
	}

	if err := e.breaker.Execute(run); err != nil {
		return nil, toGatewayError(ctx, err)
	}
	return rows, nil
}

func toGatewayError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return gwerrors.Timeout("store operation did not complete before the request deadline")
	}
	if _, ok := gwerrors.As(err); ok {
		return err
	}
	return gwerrors.Internal(err)
}

func seqOf(row map[string]any) (int64, bool) {
	v, ok := row["_seq"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func shapeAggregateRows(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func shapeStandardRows(rows []map[string]any, fieldProjection []string) ([]any, error) {
	if len(fieldProjection) > 0 {
		out := make([]any, len(rows))
		for i, r := range rows {
			entry := make(map[string]any, len(fieldProjection))
			for _, alias := range fieldProjection {
				entry[alias] = r[alias]
			}
			out[i] = entry
		}
		return out, nil
	}

	out := make([]any, len(rows))
	for i, r := range rows {
		props, err := decodePropositions(r["propositions"])
		if err != nil {
			return nil, gwerrors.Internal(err)
		}
		out[i] = map[string]any{
			"concept": map[string]any{
				"id":      r["id"],
				"name":    r["name"],
				"type":    r["type"],
				"created": r["created"],
				"updated": r["updated"],
			},
			"propositions": props,
		}
	}
	return out, nil
}

func decodePropositions(raw any) ([]map[string]any, error) {
	var props []map[string]any
	switch v := raw.(type) {
	case nil:
		return []map[string]any{}, nil
	case []byte:
		if err := json.Unmarshal(v, &props); err != nil {
			return nil, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &props); err != nil {
			return nil, err
		}
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				props = append(props, m)
			}
		}
	}
	if props == nil {
		props = []map[string]any{}
	}
	return props, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/plan"
	"github.com/kqlgateway/kqlgateway/internal/store"
)

// Session is the request-scoped handle onto a pooled connection.
type Session struct {
	conn *pgxpool.Conn
	once sync.Once
}

var _ store.Session = (*Session)(nil)

// RunPlan executes p.QueryText with p.Parameters and scans every result row
// into a column-name → value map using the connection's reported field
// descriptions, since the Plan Generator emits a different column shape per
// query (spec.md §4.4 "Projection"/"Aggregation").
func (s *Session) RunPlan(ctx context.Context, p *plan.Plan) ([]map[string]any, error) {
	rows, err := s.conn.Query(ctx, p.QueryText, p.Parameters...)
	if err != nil {
		return nil, gwerrors.Internal(fmt.Errorf("postgres: run plan: %w", err))
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := []map[string]any{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, gwerrors.Internal(fmt.Errorf("postgres: scan row: %w", err))
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gwerrors.Internal(fmt.Errorf("postgres: iterate rows: %w", err))
	}
	return out, nil
}

// Upsert implements the C7 transaction: Concept merge strictly
// happens-before its Proposition writes, and the whole sequence is atomic
// (spec.md §5 "Ordering guarantees").
func (s *Session) Upsert(ctx context.Context, u *kql.Upsert) error {
	name, ok := u.Name()
	if !ok {
		return gwerrors.Validation("INVALID_UPSERT_SHAPE", "UPSERT requires a 'name' field")
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return gwerrors.Internal(fmt.Errorf("postgres: begin upsert: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	now := time.Now().UnixMilli()

	var conceptID string
	err = tx.QueryRow(ctx, `
		INSERT INTO concepts (id, name, type, created, updated)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type, updated = EXCLUDED.updated
		RETURNING id`,
		uuid.NewString(), name, u.TypeName, now,
	).Scan(&conceptID)
	if err != nil {
		return gwerrors.Internal(fmt.Errorf("postgres: merge concept: %w", err))
	}

	for _, f := range u.PropositionFields() {
		predicate := f.Field.String()
		object := kql.StringifyLiteral(f.Value)

		var propositionID string
		err := tx.QueryRow(ctx, `
			SELECT p.id FROM propositions p
			JOIN expresses e ON e.proposition_id = p.id
			WHERE e.concept_id = $1 AND p.predicate = $2`,
			conceptID, predicate,
		).Scan(&propositionID)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			propositionID = uuid.NewString()
			if _, err := tx.Exec(ctx, `
				INSERT INTO propositions (id, predicate, object, metadata, created, updated)
				VALUES ($1, $2, $3, '{}'::jsonb, $4, $4)`,
				propositionID, predicate, object, now,
			); err != nil {
				return gwerrors.Internal(fmt.Errorf("postgres: insert proposition: %w", err))
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO expresses (concept_id, proposition_id) VALUES ($1, $2)`,
				conceptID, propositionID,
			); err != nil {
				return gwerrors.Internal(fmt.Errorf("postgres: link expresses: %w", err))
			}
		case err != nil:
			return gwerrors.Internal(fmt.Errorf("postgres: lookup proposition: %w", err))
		default:
			if _, err := tx.Exec(ctx, `
				UPDATE propositions SET object = $2, updated = $3 WHERE id = $1`,
				propositionID, object, now,
			); err != nil {
				return gwerrors.Internal(fmt.Errorf("postgres: update proposition: %w", err))
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return gwerrors.Internal(fmt.Errorf("postgres: commit upsert: %w", err))
	}
	return nil
}

// Propositions serves the /propositions endpoint's direct operations.
func (s *Session) Propositions(ctx context.Context, req store.PropositionRequest) (any, error) {
	switch req.Action {
	case "create":
		return s.propositionsCreate(ctx, req)
	case "query":
		return s.propositionsQuery(ctx, req)
	case "find":
		return s.propositionsFind(ctx, req)
	case "graph":
		return s.propositionsGraph(ctx, req)
	default:
		return nil, gwerrors.Validation("INVALID_PROPOSITION_ACTION", "unknown action '"+req.Action+"'")
	}
}

func (s *Session) propositionsCreate(ctx context.Context, req store.PropositionRequest) (any, error) {
	if req.Subject == "" || req.Predicate == "" {
		return nil, gwerrors.Validation("INVALID_PROPOSITION_ACTION", "create requires subject and predicate")
	}
	u := &kql.Upsert{
		TypeName: "Concept",
		Fields: []kql.UpsertField{
			{Field: kql.FieldPath{"name"}, Value: kql.Literal{Kind: kql.LiteralString, Value: req.Subject}},
			{Field: kql.FieldPath{req.Predicate}, Value: kql.Literal{Kind: kql.LiteralString, Value: req.Object}},
		},
	}
	if err := s.Upsert(ctx, u); err != nil {
		return nil, err
	}
	return map[string]any{"subject": req.Subject, "predicate": req.Predicate, "object": req.Object}, nil
}

func (s *Session) propositionsQuery(ctx context.Context, req store.PropositionRequest) (any, error) {
	var args []any
	next := func(v any) string { args = append(args, v); return fmt.Sprintf("$%d", len(args)) }

	query := `SELECT c.name, p.predicate, p.object FROM propositions p
		JOIN expresses e ON e.proposition_id = p.id
		JOIN concepts c ON c.id = e.concept_id`
	var conds []string
	if req.Predicate != "" {
		conds = append(conds, "p.predicate = "+next(req.Predicate))
	}
	if req.Object != "" {
		conds = append(conds, "p.object = "+next(req.Object))
	}
	if len(conds) > 0 {
		query += " WHERE " + joinAnd(conds)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, gwerrors.Internal(fmt.Errorf("postgres: query propositions: %w", err))
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		var subject, predicate, object string
		if err := rows.Scan(&subject, &predicate, &object); err != nil {
			return nil, gwerrors.Internal(fmt.Errorf("postgres: scan proposition: %w", err))
		}
		results = append(results, map[string]any{"subject": subject, "predicate": predicate, "object": object})
	}
	return results, rows.Err()
}

func (s *Session) propositionsFind(ctx context.Context, req store.PropositionRequest) (any, error) {
	if req.Subject == "" {
		return nil, gwerrors.Validation("INVALID_PROPOSITION_ACTION", "find requires subject")
	}
	rows, err := s.conn.Query(ctx, `
		SELECT p.predicate, p.object FROM propositions p
		JOIN expresses e ON e.proposition_id = p.id
		JOIN concepts c ON c.id = e.concept_id
		WHERE c.name = $1`, req.Subject)
	if err != nil {
		return nil, gwerrors.Internal(fmt.Errorf("postgres: find propositions: %w", err))
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		var predicate, object string
		if err := rows.Scan(&predicate, &object); err != nil {
			return nil, gwerrors.Internal(fmt.Errorf("postgres: scan proposition: %w", err))
		}
		results = append(results, map[string]any{"predicate": predicate, "object": object})
	}
	return map[string]any{"subject": req.Subject, "propositions": results}, rows.Err()
}

// propositionsGraph returns a Concept and its owned Propositions. The model
// has exactly one edge kind (EXPRESSES), so depth beyond 1 cannot reach
// anything further; depth is accepted for interface parity but has no
// additional effect, which is documented rather than silently ignored.
func (s *Session) propositionsGraph(ctx context.Context, req store.PropositionRequest) (any, error) {
	return s.propositionsFind(ctx, req)
}

func joinAnd(conds []string) string {
	out := ""
	for i, c := range conds {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

// Suggestions implements the A7 semantic-suggestions feature: rank
// Propositions by pgvector cosine distance against an externally computed
// embedding, grounded on pkg/memory/postgres/knowledge_graph.go's
// QueryWithEmbedding.
func (s *Session) Suggestions(ctx context.Context, embedding []float32, limit int) ([]store.Suggestion, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.name, c.type, p.predicate, p.object, (pe.embedding <=> $1) AS distance
		FROM proposition_embeddings pe
		JOIN propositions p ON p.id = pe.proposition_id
		JOIN expresses e ON e.proposition_id = p.id
		JOIN concepts c ON c.id = e.concept_id
		ORDER BY distance ASC
		LIMIT $2`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, gwerrors.Internal(fmt.Errorf("postgres: suggestions: %w", err))
	}
	defer rows.Close()

	var out []store.Suggestion
	for rows.Next() {
		var sg store.Suggestion
		var distance float64
		if err := rows.Scan(&sg.ConceptName, &sg.ConceptType, &sg.Predicate, &sg.Object, &distance); err != nil {
			return nil, gwerrors.Internal(fmt.Errorf("postgres: scan suggestion: %w", err))
		}
		sg.Score = 1.0 - distance
		out = append(out, sg)
	}
	return out, rows.Err()
}

// PersistTelemetry flushes recorded query timings to the query_telemetry
// table (C9's periodic rotation).
func (s *Session) PersistTelemetry(ctx context.Context, records []store.TelemetryRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`INSERT INTO query_telemetry (query_hash, execution_time_ms, records_returned, recorded_at)
			VALUES ($1, $2, $3, $4)`, r.QueryHash, r.ExecutionTimeMs, r.RecordsReturned, r.Timestamp)
	}
	br := s.conn.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return gwerrors.Internal(fmt.Errorf("postgres: persist telemetry: %w", err))
		}
	}
	return nil
}

// Release returns the connection to the pool. Safe to call more than once.
func (s *Session) Release() {
	s.once.Do(func() {
		s.conn.Release()
	})
}

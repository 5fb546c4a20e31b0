package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlConcepts is the direct SQL analogue of the Concept entity (spec.md §3).
// seq is an internal, monotonically increasing pagination handle distinct
// from the opaque external id — it backs the cursor's lastId (spec.md §4.4
// "concept.internalId").
const ddlConcepts = `
CREATE TABLE IF NOT EXISTS concepts (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	name TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	created BIGINT NOT NULL,
	updated BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS concepts_seq_idx ON concepts (seq);
CREATE INDEX IF NOT EXISTS concepts_type_idx ON concepts (type);
`

// ddlPropositions is the direct SQL analogue of the Proposition entity.
const ddlPropositions = `
CREATE TABLE IF NOT EXISTS propositions (
	id TEXT PRIMARY KEY,
	predicate TEXT NOT NULL,
	object TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created BIGINT NOT NULL,
	updated BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS propositions_predicate_idx ON propositions (predicate);
`

// ddlExpresses is the Concept→Proposition EXPRESSES edge (spec.md §3
// invariant 1: a Proposition is reachable exclusively through this edge).
const ddlExpresses = `
CREATE TABLE IF NOT EXISTS expresses (
	concept_id TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
	proposition_id TEXT NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	PRIMARY KEY (concept_id, proposition_id)
);
CREATE INDEX IF NOT EXISTS expresses_proposition_idx ON expresses (proposition_id);
`

// ddlTelemetry backs C9's periodic buffer flush (spec.md §4.9).
const ddlTelemetry = `
CREATE TABLE IF NOT EXISTS query_telemetry (
	id BIGSERIAL PRIMARY KEY,
	query_hash TEXT NOT NULL,
	execution_time_ms BIGINT NOT NULL,
	records_returned INT NOT NULL,
	recorded_at BIGINT NOT NULL
);
`

// ddlEmbeddings backs the optional A7 semantic-suggestions feature: one
// pgvector embedding per Proposition. The gateway only reads this table
// (Session.Suggestions); no write path in this repository populates it.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS proposition_embeddings (
	proposition_id TEXT PRIMARY KEY REFERENCES propositions(id) ON DELETE CASCADE,
	embedding vector(%d) NOT NULL
);
CREATE INDEX IF NOT EXISTS proposition_embeddings_hnsw_idx
	ON proposition_embeddings USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate idempotently creates the schema. embeddingDimensions of 0 skips
// the pgvector table, matching "no embeddings provider configured"
// deployments (SPEC_FULL.md §6 /suggestions behavior).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	stmts := []string{ddlConcepts, ddlPropositions, ddlExpresses, ddlTelemetry}
	if embeddingDimensions > 0 {
		stmts = append(stmts, ddlEmbeddings(embeddingDimensions))
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

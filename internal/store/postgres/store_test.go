package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kqlgateway/kqlgateway/internal/kql"
	"github.com/kqlgateway/kqlgateway/internal/plan"
	"github.com/kqlgateway/kqlgateway/internal/store"
	"github.com/kqlgateway/kqlgateway/internal/store/postgres"
)

func storeReq(action, subject, predicate, object string) store.PropositionRequest {
	return store.PropositionRequest{Action: action, Subject: subject, Predicate: predicate, Object: object}
}

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if KIP_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("KIP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KIP_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh *postgres.Store with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	st, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS proposition_embeddings CASCADE",
		"DROP TABLE IF EXISTS query_telemetry CASCADE",
		"DROP TABLE IF EXISTS expresses CASCADE",
		"DROP TABLE IF EXISTS propositions CASCADE",
		"DROP TABLE IF EXISTS concepts CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func upsert(t *testing.T, ctx context.Context, st *postgres.Store, query string) {
	t.Helper()
	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()
	u, err := kql.ParseUpsert(query)
	if err != nil {
		t.Fatalf("ParseUpsert(%q): %v", query, err)
	}
	if err := session.Upsert(ctx, u); err != nil {
		t.Fatalf("Upsert(%q): %v", query, err)
	}
}

func TestUpsertAndRunPlan_ConceptMergeIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	upsert(t, ctx, st, `UPSERT Widget {name: 'Alpha', color: 'red', weight: 10}`)
	upsert(t, ctx, st, `UPSERT Widget {name: 'Alpha', color: 'blue'}`)

	q, err := kql.ParseQuery("FIND Widget WHERE name = 'Alpha'")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	p, err := plan.Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	rows, err := session.RunPlan(ctx, p)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d concepts named Alpha, want 1 (merge, not duplicate)", len(rows))
	}
}

func TestUpsert_MissingNameRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	u, err := kql.ParseUpsert(`UPSERT Widget {color: 'red'}`)
	if err != nil {
		t.Fatalf("ParseUpsert: %v", err)
	}
	if err := session.Upsert(ctx, u); err == nil {
		t.Fatal("expected an error for an UPSERT with no name field")
	}
}

func TestRunPlan_FilterByPropositionField(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	upsert(t, ctx, st, `UPSERT Widget {name: 'Alpha', color: 'red'}`)
	upsert(t, ctx, st, `UPSERT Widget {name: 'Beta', color: 'blue'}`)

	q, err := kql.ParseQuery("FIND Widget WHERE color = 'red'")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	p, err := plan.Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	rows, err := session.RunPlan(ctx, p)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1 (only Alpha has color=red)", len(rows))
	}
	if rows[0]["name"] != "Alpha" {
		t.Errorf("name = %v, want Alpha", rows[0]["name"])
	}
}

func TestRunPlan_PaginationSentinel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"A", "B", "C"} {
		upsert(t, ctx, st, `UPSERT Widget {name: '`+name+`'}`)
	}

	q, err := kql.ParseQuery("FIND Widget LIMIT 2")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	p, err := plan.Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	rows, err := session.RunPlan(ctx, p)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if len(rows) != p.Limit+1 {
		t.Errorf("got %d rows, want limit+1=%d as the pagination sentinel", len(rows), p.Limit+1)
	}
}

func TestPropositions_CreateQueryFind(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	_, err = session.Propositions(ctx, storeReq("create", "Alpha", "color", "red"))
	if err != nil {
		t.Fatalf("Propositions create: %v", err)
	}

	found, err := session.Propositions(ctx, storeReq("find", "Alpha", "", ""))
	if err != nil {
		t.Fatalf("Propositions find: %v", err)
	}
	result, ok := found.(map[string]any)
	if !ok {
		t.Fatalf("find result is %T, want map[string]any", found)
	}
	props, ok := result["propositions"].([]map[string]any)
	if !ok || len(props) != 1 {
		t.Fatalf("propositions = %v, want exactly 1", result["propositions"])
	}
}

func TestSuggestions_EmptyWithoutEmbeddings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	results, err := session.Suggestions(ctx, make([]float32, testEmbeddingDim), 5)
	if err != nil {
		t.Fatalf("Suggestions: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d suggestions with no embeddings indexed, want 0", len(results))
	}
}

func TestPersistTelemetry_EmptyBatchIsNoop(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer session.Release()

	if err := session.PersistTelemetry(ctx, nil); err != nil {
		t.Errorf("PersistTelemetry(nil): %v", err)
	}
}

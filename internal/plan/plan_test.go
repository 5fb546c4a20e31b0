package plan

import (
	"strings"
	"testing"

	"github.com/kqlgateway/kqlgateway/internal/cursor"
	"github.com/kqlgateway/kqlgateway/internal/kql"
)

func mustParse(t *testing.T, query string) *kql.Query {
	t.Helper()
	q, err := kql.ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", query, err)
	}
	return q
}

func TestGenerate_RequestsLimitPlusOneSentinel(t *testing.T) {
	q := mustParse(t, "FIND Widget LIMIT 10")
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.Limit != 10 {
		t.Errorf("Limit = %d, want 10", p.Limit)
	}
	if !strings.Contains(p.QueryText, "LIMIT 11") {
		t.Errorf("query text must request limit+1 as the pagination sentinel, got %q", p.QueryText)
	}
}

func TestGenerate_BindsLiteralsAsParameters(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE color = 'red'")
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(p.QueryText, "'red'") {
		t.Errorf("literal value must never be interpolated into query text, got %q", p.QueryText)
	}
	found := false
	for _, a := range p.Parameters {
		if a == "red" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 'red' among bound parameters, got %v", p.Parameters)
	}
}

func TestGenerate_ReservedAttrUsesColumn(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE type = 'Widget'")
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(p.QueryText, "c.type") {
		t.Errorf("expected reserved attribute to compile to a concept column reference, got %q", p.QueryText)
	}
}

func TestGenerate_PropositionFieldUsesExistsSubquery(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE color = 'red'")
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(p.QueryText, "EXISTS") {
		t.Errorf("expected an EXISTS subquery for a non-reserved field, got %q", p.QueryText)
	}
}

func TestGenerate_CursorAppliedWhenMatching(t *testing.T) {
	q := mustParse(t, "FIND Widget")
	q.HasCursor = true
	cp := &cursor.Payload{LastID: 42}
	p, err := Generate(q, cp, true)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !p.CursorApplied {
		t.Error("expected CursorApplied = true when the cursor hash matches")
	}
	if !strings.Contains(p.QueryText, "c.seq >") {
		t.Errorf("expected a seq-based cursor predicate, got %q", p.QueryText)
	}
}

func TestGenerate_MismatchedCursorIgnored(t *testing.T) {
	q := mustParse(t, "FIND Widget")
	q.HasCursor = true
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if p.CursorApplied {
		t.Error("a non-matching cursor must produce a plan identical to one with no cursor at all")
	}
}

func TestGenerate_Aggregation(t *testing.T) {
	q := mustParse(t, "FIND Widget GROUP BY color AGGREGATE COUNT(*)")
	p, err := Generate(q, nil, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !p.AggregationMode {
		t.Error("expected AggregationMode = true")
	}
	if !strings.Contains(p.QueryText, "GROUP BY") {
		t.Errorf("expected a GROUP BY clause, got %q", p.QueryText)
	}
}

package kql

import (
	"testing"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
)

func mustParse(t *testing.T, query string) *Query {
	t.Helper()
	q, err := ParseQuery(query)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", query, err)
	}
	return q
}

func TestValidate_MissingFind(t *testing.T) {
	q := &Query{}
	_, err := Validate(q)
	if err == nil {
		t.Fatal("expected a validation error for an empty projection")
	}
	ge, ok := gwerrors.As(err)
	if !ok || ge.Reason != "MISSING_FIND_CLAUSE" {
		t.Errorf("err = %+v, want MISSING_FIND_CLAUSE", err)
	}
}

func TestValidate_FieldProjectionWithAggregateRejected(t *testing.T) {
	q := mustParse(t, "FIND name AGGREGATE COUNT(*)")
	_, err := Validate(q)
	if err == nil {
		t.Fatal("expected INCOMPATIBLE_CLAUSES error")
	}
}

func TestValidate_TypeMismatch(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE created < 'not-a-number'")
	_, err := Validate(q)
	if err == nil {
		t.Fatal("expected a type-mismatch error ordering an integer field against a string literal")
	}
	ge, ok := gwerrors.As(err)
	if !ok || ge.Code != "KIP004" || ge.Reason != "TYPE_MISMATCH" {
		t.Errorf("err = %+v, want code KIP004 and reason TYPE_MISMATCH", err)
	}
}

func TestValidate_UUIDFieldAcceptsStringLiteral(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE id = '550e8400-e29b-41d4-a716-446655440000'")
	ti, err := Validate(q)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ti.ComplianceScore != 1 {
		t.Errorf("ComplianceScore = %v, want 1", ti.ComplianceScore)
	}
}

func TestValidate_PropositionValueFieldAcceptsAnyString(t *testing.T) {
	q := mustParse(t, "FIND Widget WHERE color = 'red'")
	ti, err := Validate(q)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ti.FieldKinds["color"] != KindPropositionValue {
		t.Errorf("FieldKinds[color] = %v, want KindPropositionValue", ti.FieldKinds["color"])
	}
}

func TestValidate_AggregateRequiresNumeric(t *testing.T) {
	q := mustParse(t, "FIND Widget GROUP BY color AGGREGATE SUM(name)")
	_, err := Validate(q)
	if err == nil {
		t.Fatal("expected INVALID_AGGREGATE for SUM over a string field")
	}
}

func TestValidate_AggregateOrderedOK(t *testing.T) {
	q := mustParse(t, "FIND Widget GROUP BY color AGGREGATE MAX(created)")
	_, err := Validate(q)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_UnsupportedClauseRejected(t *testing.T) {
	q := mustParse(t, "FIND Widget OPTIONAL WHERE color = 'red'")
	_, err := Validate(q)
	if err == nil {
		t.Fatal("expected UNSUPPORTED_CLAUSE error")
	}
	ge, ok := gwerrors.As(err)
	if !ok || ge.Code != "KIP004" {
		t.Errorf("err = %+v, want code KIP004", err)
	}
}

func TestValidate_LimitOutOfRangeDoesNotFail(t *testing.T) {
	q := mustParse(t, "FIND Widget LIMIT 5000")
	_, err := Validate(q)
	if err != nil {
		t.Fatalf("out-of-range LIMIT must be clamped, not rejected: %v", err)
	}
}

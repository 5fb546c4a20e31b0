package kql

import (
	"fmt"
	"strings"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
)

// FieldKind is the inferred type of a Concept or Proposition field.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindString
	KindInteger
	KindUUID
	KindBoolean
	KindNumber
	KindPropositionValue
)

func (k FieldKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindUUID:
		return "uuid"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindPropositionValue:
		return "proposition_value"
	default:
		return "unknown"
	}
}

// Violation is a single failed compatibility or composition check.
type Violation struct {
	Reason  string
	Message string
}

// TypeInfo is the per-query output of the validator: inferred field kinds
// plus any compatibility violations (spec.md §3's TypeInfo entity).
type TypeInfo struct {
	FieldKinds    map[string]FieldKind
	Violations    []Violation
	TotalChecks   int
	PassedChecks  int
	ComplianceScore float64
}

// knownFieldKind infers the kind of a bare (non-dotted) Concept field per
// spec.md §4.3 rule 1.
func knownFieldKind(field string) (FieldKind, bool) {
	switch field {
	case "name", "type":
		return KindString, true
	case "id":
		return KindUUID, true
	case "created", "updated":
		return KindInteger, true
	default:
		return KindUnknown, false
	}
}

// inferFieldKind infers the kind of any field path per spec.md §4.3 rule 1.
// The five reserved Concept attributes (name, type, id, created, updated)
// are the only node-level fields; every other path — single-segment or
// dotted — names a Proposition predicate verbatim (spec.md §3 invariant 2)
// and is a proposition_value.
func inferFieldKind(fp FieldPath) FieldKind {
	if len(fp) == 1 {
		if k, ok := knownFieldKind(fp[0]); ok {
			return k
		}
	}
	return KindPropositionValue
}

func literalKindOf(l Literal) FieldKind {
	switch l.Kind {
	case LiteralString:
		return KindString
	case LiteralInteger, LiteralFloat:
		return KindNumber
	case LiteralBoolean:
		return KindBoolean
	case LiteralUUID:
		return KindUUID
	default:
		return KindUnknown
	}
}

// compatible implements the field-kind/operator/value-kind table in
// spec.md §4.3 rule 3.
func compatible(field FieldKind, op string, value FieldKind) bool {
	switch field {
	case KindString:
		switch op {
		case "=", "!=", "CONTAINS", "MATCHES":
			return value == KindString
		default:
			return false
		}
	case KindInteger, KindNumber:
		switch op {
		case "=", "!=":
			return value == KindNumber || value == KindString
		case "<", ">", "<=", ">=":
			return value == KindNumber
		default:
			return false
		}
	case KindBoolean:
		switch op {
		case "=", "!=":
			return value == KindBoolean || value == KindString
		default:
			return false
		}
	case KindUUID:
		switch op {
		case "=", "!=":
			return value == KindUUID || value == KindString
		default:
			return false
		}
	case KindPropositionValue:
		switch op {
		case "=", "!=", "CONTAINS":
			return value == KindString
		default:
			return false
		}
	default:
		return false
	}
}

var aggregateReturnKind = map[string]func(arg FieldKind) FieldKind{
	"COUNT":    func(FieldKind) FieldKind { return KindInteger },
	"DISTINCT": func(FieldKind) FieldKind { return KindInteger },
	"SUM":      func(FieldKind) FieldKind { return KindNumber },
	"AVG":      func(FieldKind) FieldKind { return KindNumber },
	"MIN":      func(arg FieldKind) FieldKind { return arg },
	"MAX":      func(arg FieldKind) FieldKind { return arg },
}

func aggregateRequiresNumeric(fn string) bool {
	return fn == "SUM" || fn == "AVG"
}

func aggregateRequiresOrdered(fn string) bool {
	return fn == "MIN" || fn == "MAX"
}

func isOrdered(k FieldKind) bool {
	return k == KindString || k == KindNumber || k == KindInteger
}

// Validate runs the C3 type and semantic checks over q and returns the
// computed TypeInfo. If any violation or composition-rule failure is found,
// the first one is also returned as a *gwerrors.Error so callers can fail
// the request immediately while still inspecting TypeInfo for telemetry.
func Validate(q *Query) (*TypeInfo, error) {
	ti := &TypeInfo{FieldKinds: map[string]FieldKind{}}

	for _, clause := range q.Unsupported {
		return ti, gwerrors.UnsupportedClause(clause)
	}

	if q.Projection.TypeName == "" && !q.Projection.Star && len(q.Projection.Fields) == 0 {
		ti.TotalChecks++
		ti.Violations = append(ti.Violations, Violation{Reason: "MISSING_FIND_CLAUSE", Message: "FIND requires a projection"})
		return ti, finalizeAndError(ti, gwerrors.Validation("MISSING_FIND_CLAUSE", "a query without FIND is rejected"))
	}

	nonTrivialProjection := len(q.Projection.Fields) > 0
	if nonTrivialProjection && q.HasAggregation() {
		ti.TotalChecks++
		ti.Violations = append(ti.Violations, Violation{Reason: "INCOMPATIBLE_CLAUSES", Message: "a field projection cannot be combined with AGGREGATE"})
		return ti, finalizeAndError(ti, gwerrors.Validation("INCOMPATIBLE_CLAUSES", "a query may not combine a non-trivial field projection with an AGGREGATE clause"))
	}

	for _, c := range append(append([]Condition{}, q.Where...), q.Filter...) {
		ti.TotalChecks++
		fk := inferFieldKind(c.Field)
		ti.FieldKinds[c.Field.String()] = fk
		vk := literalKindOf(c.Value)
		if compatible(fk, c.Op, vk) {
			ti.PassedChecks++
		} else {
			ti.Violations = append(ti.Violations, Violation{
				Reason:  "TYPE_MISMATCH",
				Message: fmt.Sprintf("field %q of kind %s is not compatible with operator %s and value kind %s", c.Field.String(), fk, c.Op, vk),
			})
		}
	}

	for _, a := range q.Aggregates {
		ti.TotalChecks++
		var argKind FieldKind
		if a.Star {
			argKind = KindUnknown
		} else {
			argKind = inferFieldKind(a.Field)
			ti.FieldKinds[a.Field.String()] = argKind
		}
		valid := true
		reason := ""
		switch {
		case aggregateRequiresNumeric(a.Function) && !(argKind == KindNumber || argKind == KindInteger):
			valid = false
			reason = fmt.Sprintf("%s requires a numeric argument", a.Function)
		case aggregateRequiresOrdered(a.Function) && !isOrdered(argKind):
			valid = false
			reason = fmt.Sprintf("%s requires an ordered (string or number) argument", a.Function)
		}
		if valid {
			ti.PassedChecks++
		} else {
			ti.Violations = append(ti.Violations, Violation{Reason: "INVALID_AGGREGATE", Message: reason})
		}
	}

	if q.LimitSet {
		ti.TotalChecks++
		if q.Limit >= minLimit && q.Limit <= maxLimit {
			ti.PassedChecks++
		}
		// Out-of-range LIMIT values are clamped (spec.md §4.2), never
		// rejected, so this check is advisory only and never produces a
		// Violation that fails the request.
	}

	return ti, finalizeAndError(ti, nil)
}

// finalizeAndError computes the compliance score (spec.md §4.3 rule 6) and,
// if firstErr is nil, promotes the first recorded violation (if any) into a
// typed error so a Validate caller always gets exactly one representative
// failure alongside the full TypeInfo.
func finalizeAndError(ti *TypeInfo, firstErr error) error {
	ti.ComplianceScore = complianceScore(ti)
	if firstErr != nil {
		return firstErr
	}
	if len(ti.Violations) == 0 {
		return nil
	}
	v := ti.Violations[0]
	return gwerrors.Validation(v.Reason, v.Message)
}

func complianceScore(ti *TypeInfo) float64 {
	if ti.TotalChecks == 0 {
		return 1
	}
	score := float64(ti.PassedChecks-len(ti.Violations)) / float64(ti.TotalChecks)
	if score < 0 {
		return 0
	}
	return score
}

// AggregateAliasKind returns the declared return kind of an aggregate call
// (spec.md §4.3 rule 4), used by the plan generator to label projections.
func AggregateAliasKind(a AggregateCall, argKind FieldKind) FieldKind {
	if f, ok := aggregateReturnKind[a.Function]; ok {
		return f(argKind)
	}
	return KindUnknown
}

// FieldKindOf is exported for the plan generator, which needs the same
// inference rule C3 used during validation.
func FieldKindOf(fp FieldPath) FieldKind { return inferFieldKind(fp) }

// NormalizeClause renders a field path, stripping surrounding whitespace,
// for use in diagnostics and suggestions.
func NormalizeClause(s string) string { return strings.TrimSpace(s) }

package kql

import "strconv"

// FieldPath is a dotted identifier chain, e.g. "metadata.priority".
type FieldPath []string

// String renders the path in canonical dotted form.
func (p FieldPath) String() string {
	s := ""
	for i, part := range p {
		if i > 0 {
			s += "."
		}
		s += part
	}
	return s
}

// Dotted reports whether the path has more than one segment.
func (p FieldPath) Dotted() bool { return len(p) > 1 }

// Literal is a typed value parsed from a single token.
type Literal struct {
	Kind  LiteralKind
	Value any
}

// Condition is "<fieldPath> <op> <literal>", used by both WHERE and FILTER.
type Condition struct {
	Field FieldPath
	Op    string
	Value Literal
}

// AggregateCall is "<fn>(<arg>)" where arg is "*" or a field path.
type AggregateCall struct {
	Function string
	Star     bool
	Field    FieldPath
	Alias    string
}

// Projection is the FIND target: "*", a bare concept-type identifier, or a
// list of dotted field paths.
type Projection struct {
	Star     bool
	TypeName string
	Fields   []FieldPath
}

// Query is the AST for a single FIND statement.
type Query struct {
	Projection Projection
	Where      []Condition
	Filter     []Condition
	GroupBy    []FieldPath
	Aggregates []AggregateCall
	Limit      int
	LimitSet   bool
	Cursor     string
	HasCursor  bool

	// Unsupported carries recognized-but-rejected clause names (spec.md §9
	// Open Question: OPTIONAL/UNION/NOT). Populated by the parser, acted on
	// by the validator.
	Unsupported []string
}

// HasAggregation reports whether the query carries GROUP BY or AGGREGATE.
func (q *Query) HasAggregation() bool {
	return len(q.GroupBy) > 0 || len(q.Aggregates) > 0
}

const (
	defaultLimit = 100
	minLimit     = 1
	maxLimit     = 1000
)

// EffectiveLimit applies spec.md §4.2's LIMIT rule: default to 100 when
// absent, clamp out-of-range values into [1, 1000] rather than rejecting.
func (q *Query) EffectiveLimit() int {
	if !q.LimitSet {
		return defaultLimit
	}
	switch {
	case q.Limit < minLimit:
		return minLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}

// UpsertField is one "<field>: <literal>" pair inside an UPSERT body.
type UpsertField struct {
	Field FieldPath
	Value Literal
}

// Upsert is the AST for an UPSERT statement, parsed outside the standard
// FIND grammar (see spec.md §4.2).
type Upsert struct {
	TypeName string
	Fields   []UpsertField
}

// Name returns the value of the identity "name" field, and whether it was
// present (spec.md §4.7 step 1: "Reject if name is absent").
func (u *Upsert) Name() (string, bool) {
	for _, f := range u.Fields {
		if len(f.Field) == 1 && f.Field[0] == "name" {
			if s, ok := f.Value.Value.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// PropositionFields returns every field other than the identity "name"
// field — each becomes one Proposition per spec.md §4.7 step 4 (invariant
// 3: name is never stored as a Proposition).
func (u *Upsert) PropositionFields() []UpsertField {
	var out []UpsertField
	for _, f := range u.Fields {
		if len(f.Field) == 1 && f.Field[0] == "name" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// StringifyLiteral renders a literal's value as a string, matching the
// storage convention that every Proposition object is string-typed
// (spec.md §9 "Dynamic typing in the source"): typing is a read-time (C3)
// concern, not a write-time one.
func StringifyLiteral(l Literal) string {
	switch l.Kind {
	case LiteralString:
		return l.Value.(string)
	case LiteralInteger:
		return strconv.FormatInt(l.Value.(int64), 10)
	case LiteralFloat:
		return strconv.FormatFloat(l.Value.(float64), 'f', -1, 64)
	case LiteralBoolean:
		if l.Value.(bool) {
			return "true"
		}
		return "false"
	case LiteralUUID:
		return l.Value.(string)
	default:
		return ""
	}
}

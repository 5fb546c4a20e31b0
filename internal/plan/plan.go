// Package plan implements the C4 Plan Generator: it translates a validated
// kql.Query, together with any decoded cursor, into a parameterized SQL plan
// against the Postgres realization of the Concept/Proposition/EXPRESSES
// model (internal/store/postgres). All literal values are bound parameters,
// never interpolated, per spec.md §4.4.
package plan

import (
	"fmt"
	"strings"

	"github.com/kqlgateway/kqlgateway/internal/cursor"
	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
	"github.com/kqlgateway/kqlgateway/internal/kql"
)

// Plan is the store-agnostic output of the generator (spec.md §3's Plan
// entity), realized here as parameterized SQL text for the one wired
// backing-store adapter.
type Plan struct {
	QueryText       string
	Parameters      []any
	Limit           int
	AggregationMode bool
	CursorApplied   bool
	// FieldProjection lists the dot-to-underscore aliases emitted when FIND
	// names explicit dotted fields (spec.md §4.4 "Projection"); empty for
	// the concept+propositions shape and for aggregation group-by columns,
	// which are carried in GroupByAliases instead.
	FieldProjection []string
	GroupByAliases  []string
}

var reservedAttrs = map[string]bool{"name": true, "type": true, "id": true, "created": true, "updated": true}

func isReservedAttr(fp kql.FieldPath) bool {
	return len(fp) == 1 && reservedAttrs[fp[0]]
}

func attrColumn(field string) string {
	if field == "id" {
		return "c.id"
	}
	return "c." + field
}

// Generate builds the Plan for q. cursorPayload/cursorMatches reflect the
// outcome of decoding and hash-checking the query's CURSOR clause (spec.md
// §4.4 "Cursor injection"): when cursorMatches is false the cursor is
// treated as wholly absent and the generated plan is identical to one with
// no cursor at all (spec.md §8 invariant 3).
func Generate(q *kql.Query, cursorPayload *cursor.Payload, cursorMatches bool) (*Plan, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var conditions []string
	if q.Projection.TypeName != "" {
		conditions = append(conditions, "c.type = "+next(q.Projection.TypeName))
	}

	allConds := make([]kql.Condition, 0, len(q.Where)+len(q.Filter))
	allConds = append(allConds, q.Where...)
	allConds = append(allConds, q.Filter...)
	for _, c := range allConds {
		frag, err := buildCondition(c, next)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, frag)
	}

	if q.HasAggregation() {
		return generateAggregate(q, conditions, args, next)
	}
	return generateStandard(q, conditions, args, next, cursorPayload, cursorMatches)
}

func buildCondition(c kql.Condition, next func(any) string) (string, error) {
	val := literalToString(c.Value)
	if isReservedAttr(c.Field) {
		col := attrColumn(c.Field[0])
		switch c.Op {
		case "=":
			return col + " = " + next(conditionValue(c.Value)), nil
		case "!=":
			return col + " <> " + next(conditionValue(c.Value)), nil
		case "<", ">", "<=", ">=":
			return col + " " + c.Op + " " + next(conditionValue(c.Value)), nil
		case "CONTAINS":
			return col + " ILIKE " + next("%"+val+"%"), nil
		case "MATCHES":
			return col + " ~ " + next(val), nil
		default:
			return "", gwerrors.Internal(fmt.Errorf("plan: unsupported operator %q reached plan generation", c.Op))
		}
	}

	predicate := c.Field.String()
	base := "SELECT 1 FROM expresses e JOIN propositions p ON p.id = e.proposition_id WHERE e.concept_id = c.id AND p.predicate = " + next(predicate)
	switch c.Op {
	case "=":
		return "EXISTS (" + base + " AND p.object = " + next(val) + ")", nil
	case "!=":
		// Anti-join idiom (spec.md §4.4): true when no matching Proposition
		// holds the value, which also covers the case where the
		// Proposition is absent entirely.
		return "NOT EXISTS (" + base + " AND p.object = " + next(val) + ")", nil
	case "CONTAINS":
		return "EXISTS (" + base + " AND p.object ILIKE " + next("%"+val+"%") + ")", nil
	default:
		return "", gwerrors.Internal(fmt.Errorf("plan: unsupported operator %q for proposition field", c.Op))
	}
}

// conditionValue returns the Go value to bind for equality/ordering
// comparisons against a reserved Concept attribute: the literal's parsed
// value, unchanged (integer literals are already int64 from the lexer).
func conditionValue(l kql.Literal) any {
	return l.Value
}

func literalToString(l kql.Literal) string { return kql.StringifyLiteral(l) }

func generateStandard(q *kql.Query, conditions []string, args []any, next func(any) string, cp *cursor.Payload, cursorMatches bool) (*Plan, error) {
	applied := false
	if q.HasCursor && cursorMatches && cp != nil {
		conditions = append(conditions, "c.seq > "+next(cp.LastID))
		applied = true
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := q.EffectiveLimit()
	sqlLimit := limit + 1 // pagination sentinel, spec.md §4.4

	if len(q.Projection.Fields) > 0 {
		var selectList []string
		var aliases []string
		selectList = append(selectList, "c.id AS _id", "c.seq AS _seq")
		for _, fp := range q.Projection.Fields {
			alias := strings.ReplaceAll(fp.String(), ".", "_")
			aliases = append(aliases, alias)
			if isReservedAttr(fp) {
				selectList = append(selectList, attrColumn(fp[0])+" AS "+alias)
				continue
			}
			sub := "(SELECT p.object FROM expresses e JOIN propositions p ON p.id = e.proposition_id WHERE e.concept_id = c.id AND p.predicate = " + next(fp.String()) + " LIMIT 1) AS " + alias
			selectList = append(selectList, sub)
		}
		text := fmt.Sprintf("SELECT %s FROM concepts c %s ORDER BY c.seq ASC LIMIT %d",
			strings.Join(selectList, ", "), where, sqlLimit)
		return &Plan{QueryText: text, Parameters: args, Limit: limit, CursorApplied: applied, FieldProjection: aliases}, nil
	}

	text := fmt.Sprintf(`SELECT c.id, c.name, c.type, c.created, c.updated, c.seq AS _seq,
  COALESCE(json_agg(json_build_object('predicate', p.predicate, 'object', p.object, 'metadata', p.metadata)) FILTER (WHERE p.id IS NOT NULL), '[]') AS propositions
FROM concepts c
LEFT JOIN expresses e ON e.concept_id = c.id
LEFT JOIN propositions p ON p.id = e.proposition_id
%s
GROUP BY c.id
ORDER BY c.seq ASC
LIMIT %d`, where, sqlLimit)

	return &Plan{QueryText: text, Parameters: args, Limit: limit, CursorApplied: applied}, nil
}

func generateAggregate(q *kql.Query, conditions []string, args []any, next func(any) string) (*Plan, error) {
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var selectList, groupExprs, groupAliases []string
	for _, fp := range q.GroupBy {
		alias := strings.ReplaceAll(fp.String(), ".", "_")
		expr := fieldExpr(fp, next)
		selectList = append(selectList, expr+" AS "+alias)
		groupExprs = append(groupExprs, expr)
		groupAliases = append(groupAliases, alias)
	}

	for _, a := range q.Aggregates {
		expr, err := aggregateExpr(a, next)
		if err != nil {
			return nil, err
		}
		selectList = append(selectList, expr+" AS "+a.Alias)
	}

	if len(selectList) == 0 {
		return nil, gwerrors.Internal(fmt.Errorf("plan: aggregation query produced an empty projection"))
	}

	text := "SELECT " + strings.Join(selectList, ", ") + " FROM concepts c"
	if where != "" {
		text += " " + where
	}
	if len(groupExprs) > 0 {
		text += " GROUP BY " + strings.Join(groupExprs, ", ")
	}

	return &Plan{
		QueryText:       text,
		Parameters:      args,
		AggregationMode: true,
		GroupByAliases:  groupAliases,
	}, nil
}

func fieldExpr(fp kql.FieldPath, next func(any) string) string {
	if isReservedAttr(fp) {
		return attrColumn(fp[0])
	}
	return "(SELECT p.object FROM expresses e JOIN propositions p ON p.id = e.proposition_id WHERE e.concept_id = c.id AND p.predicate = " + next(fp.String()) + " LIMIT 1)"
}

func aggregateExpr(a kql.AggregateCall, next func(any) string) (string, error) {
	if a.Star {
		if a.Function != "COUNT" {
			return "", gwerrors.Internal(fmt.Errorf("plan: aggregate %s(*) reached plan generation", a.Function))
		}
		return "COUNT(*)", nil
	}

	expr := fieldExpr(a.Field, next)
	switch a.Function {
	case "COUNT":
		return fmt.Sprintf("COUNT(%s)", expr), nil
	case "DISTINCT":
		return fmt.Sprintf("COUNT(DISTINCT %s)", expr), nil
	case "SUM":
		return fmt.Sprintf("SUM((%s)::numeric)", expr), nil
	case "AVG":
		return fmt.Sprintf("AVG((%s)::numeric)", expr), nil
	case "MIN":
		return fmt.Sprintf("MIN(%s)", expr), nil
	case "MAX":
		return fmt.Sprintf("MAX(%s)", expr), nil
	default:
		return "", gwerrors.Internal(fmt.Errorf("plan: unknown aggregate function %q", a.Function))
	}
}

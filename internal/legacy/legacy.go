// Package legacy implements the restricted-dialect rewrite described in
// spec.md §4.10: a pre-parse substitution, not a second parser.
package legacy

import (
	"fmt"
	"regexp"
)

var findPattern = regexp.MustCompile(`^FIND\s+(\w+)\s+WHERE\s+(\w+)\s*=\s*'([^']+)'$`)

// Rewrite recognizes the legacy `FIND <Label> WHERE <field> = '<value>'`
// dialect and rewrites it into the canonical form. The second return value
// reports whether a rewrite happened; callers use it to set
// metadata.query_type to "legacy_find" (spec.md §4.10: rewrites are
// observable only through that marker, never through a separate code path).
func Rewrite(query string) (string, bool) {
	m := findPattern.FindStringSubmatch(query)
	if m == nil {
		return query, false
	}
	label, field, value := m[1], m[2], m[3]
	return fmt.Sprintf("FIND Concept WHERE type = '%s' FILTER %s = '%s'", label, field, value), true
}

package legacy

import "testing"

func TestRewrite_MatchesLegacyDialect(t *testing.T) {
	got, ok := Rewrite("FIND Widget WHERE color = 'red'")
	if !ok {
		t.Fatal("expected a legacy-dialect match")
	}
	want := "FIND Concept WHERE type = 'Widget' FILTER color = 'red'"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewrite_CanonicalQueryUnaffected(t *testing.T) {
	got, ok := Rewrite("FIND Widget WHERE type = 'Widget' FILTER color = 'red'")
	if ok {
		t.Errorf("canonical query must not be rewritten, got %q", got)
	}
}

func TestRewrite_DottedFieldNotMatched(t *testing.T) {
	// The legacy pattern requires a non-dotted field; a dotted field should
	// fall through untouched rather than partially rewrite.
	_, ok := Rewrite("FIND Widget WHERE metadata.color = 'red'")
	if ok {
		t.Error("a dotted field must not match the legacy single-word pattern")
	}
}

func TestRewrite_UpsertNeverMatches(t *testing.T) {
	_, ok := Rewrite("UPSERT Widget {name: 'Alpha'}")
	if ok {
		t.Error("UPSERT statements must never match the legacy FIND dialect")
	}
}

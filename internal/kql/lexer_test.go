package kql

import "testing"

func TestTokenize_Keywords(t *testing.T) {
	toks, err := Tokenize("FIND WHERE FILTER GROUP BY AGGREGATE LIMIT CURSOR UPSERT")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	want := []string{"FIND", "WHERE", "FILTER", "GROUP", "BY", "AGGREGATE", "LIMIT", "CURSOR", "UPSERT"}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(want))
	}
	for i, w := range want {
		if toks[i].Kind != KEYWORD || toks[i].Text != w {
			t.Errorf("token %d = %+v, want keyword %q", i, toks[i], w)
		}
	}
}

func TestTokenize_UUID(t *testing.T) {
	toks, err := Tokenize("550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) != 1 || toks[0].Kind != UUID {
		t.Fatalf("got %+v, want single UUID token", toks)
	}
}

func TestTokenize_NumberAndString(t *testing.T) {
	toks, err := Tokenize(`42 3.14 'hello'`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) != 3 {
		t.Fatalf("got %d tokens, want 3", len(toks))
	}
	if toks[0].LiteralKind != LiteralInteger || toks[0].LiteralValue.(int64) != 42 {
		t.Errorf("token 0 = %+v, want integer 42", toks[0])
	}
	if toks[1].LiteralKind != LiteralFloat {
		t.Errorf("token 1 = %+v, want float", toks[1])
	}
	if toks[2].Kind != STRING || toks[2].LiteralValue.(string) != "hello" {
		t.Errorf("token 2 = %+v, want string 'hello'", toks[2])
	}
}

func TestTokenize_WordOperators(t *testing.T) {
	toks, err := Tokenize("CONTAINS MATCHES NOT IN")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if toks[0].Kind != OPERATOR || toks[0].Text != "CONTAINS" {
		t.Errorf("CONTAINS = %+v", toks[0])
	}
	if toks[1].Kind != OPERATOR || toks[1].Text != "MATCHES" {
		t.Errorf("MATCHES = %+v", toks[1])
	}
}

func TestTokenize_NotIn(t *testing.T) {
	toks, err := Tokenize("field NOT IN 'x'")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	var found bool
	for _, tok := range toks {
		if tok.Kind == OPERATOR && tok.Text == "NOT_IN" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a NOT_IN operator token, got %+v", toks)
	}
}

func TestTokenize_IdentifierNotConfusedWithUUID(t *testing.T) {
	toks, err := Tokenize("abcdef12")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if len(toks) != 1 || toks[0].Kind != IDENTIFIER {
		t.Fatalf("got %+v, want single identifier (no trailing hyphen groups)", toks)
	}
}

func TestTokenize_InvalidCharacter(t *testing.T) {
	if _, err := Tokenize("FIND @"); err == nil {
		t.Fatal("expected a syntax error for an unrecognized character")
	}
}

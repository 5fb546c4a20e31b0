package kql

import (
	"strconv"
	"strings"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
)

// Parser builds an AST from a token stream produced by the Lexer.
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser constructs a Parser over tokens.
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// ParseQuery lexes and parses a FIND statement.
func ParseQuery(query string) (*Query, error) {
	tokens, err := Tokenize(query)
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens)
	return p.parseQuery()
}

// ParseUpsert lexes and parses an UPSERT statement (spec.md §4.2: handled
// outside the standard FIND grammar).
func ParseUpsert(query string) (*Upsert, error) {
	tokens, err := Tokenize(query)
	if err != nil {
		return nil, err
	}
	p := NewParser(tokens)
	return p.parseUpsert()
}

// IsUpsert reports whether query begins with the UPSERT keyword, used by the
// HTTP surface's syntactic UPSERT recognizer (spec.md §2 write flow).
func IsUpsert(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "UPSERT")
}

func (p *Parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: EOF, Position: p.endPosition()}
	}
	return p.tokens[p.pos]
}

func (p *Parser) endPosition() int {
	if len(p.tokens) == 0 {
		return 0
	}
	last := p.tokens[len(p.tokens)-1]
	return last.Position + len(last.Text)
}

func (p *Parser) advance() Token {
	t := p.cur()
	p.pos++
	return t
}

func (p *Parser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *Parser) expectKeyword(kw string) (Token, error) {
	t := p.cur()
	if t.Kind != KEYWORD || t.Text != kw {
		return Token{}, gwerrors.Syntax(t.Position, "expected keyword "+kw)
	}
	return p.advance(), nil
}

func (p *Parser) peekKeyword(kw string) bool {
	t := p.cur()
	return t.Kind == KEYWORD && t.Text == kw
}

// peekAnd recognizes the conjunction separator between WHERE/FILTER
// conditions. AND is conspicuously absent from the lexer's keyword table
// (spec.md §4.1) even though the grammar in §4.2 requires it, so it is
// matched positionally as an ordinary identifier rather than a keyword.
func (p *Parser) peekAnd() bool {
	t := p.cur()
	return t.Kind == IDENTIFIER && strings.EqualFold(t.Text, "AND")
}

func (p *Parser) parseQuery() (*Query, error) {
	if _, err := p.expectKeyword("FIND"); err != nil {
		return nil, err
	}

	q := &Query{}

	proj, err := p.parseProjection()
	if err != nil {
		return nil, err
	}
	q.Projection = proj

	for {
		switch {
		case p.peekKeyword("WHERE"):
			p.advance()
			conds, err := p.parseConditionList()
			if err != nil {
				return nil, err
			}
			q.Where = conds
		case p.peekKeyword("FILTER"):
			p.advance()
			conds, err := p.parseConditionList()
			if err != nil {
				return nil, err
			}
			q.Filter = conds
		case p.peekKeyword("GROUP"):
			p.advance()
			if _, err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			fields, err := p.parseFieldPathList()
			if err != nil {
				return nil, err
			}
			q.GroupBy = fields
		case p.peekKeyword("AGGREGATE"):
			p.advance()
			aggs, err := p.parseAggregateList()
			if err != nil {
				return nil, err
			}
			q.Aggregates = aggs
		case p.peekKeyword("LIMIT"):
			p.advance()
			t := p.cur()
			if t.Kind != NUMBER || t.LiteralKind != LiteralInteger {
				return nil, gwerrors.Syntax(t.Position, "expected integer after LIMIT")
			}
			p.advance()
			q.Limit = int(t.LiteralValue.(int64))
			q.LimitSet = true
		case p.peekKeyword("CURSOR"):
			p.advance()
			t := p.cur()
			if t.Kind != STRING {
				return nil, gwerrors.Syntax(t.Position, "expected string after CURSOR")
			}
			p.advance()
			q.Cursor = t.LiteralValue.(string)
			q.HasCursor = true
		case p.peekKeyword("OPTIONAL") || p.peekKeyword("UNION") || p.peekKeyword("NOT"):
			kw := p.cur().Text
			q.Unsupported = append(q.Unsupported, kw)
			p.advance()
			// Best-effort: skip to the next recognized top-level keyword or
			// EOF so the remaining clauses still parse.
			for !p.atEnd() && p.cur().Kind != KEYWORD {
				p.advance()
			}
		default:
			if !p.atEnd() {
				return nil, gwerrors.Syntax(p.cur().Position, "unexpected token '"+p.cur().Text+"'")
			}
			return q, nil
		}
	}
}

func (p *Parser) parseProjection() (Projection, error) {
	t := p.cur()
	switch {
	case t.Kind == ASTERISK:
		p.advance()
		return Projection{Star: true}, nil
	case t.Kind == IDENTIFIER && isUpperIdent(t.Text) && !p.nextStartsFieldList():
		p.advance()
		return Projection{TypeName: t.Text}, nil
	default:
		fields, err := p.parseFieldPathList()
		if err != nil {
			return Projection{}, err
		}
		return Projection{Fields: fields}, nil
	}
}

// nextStartsFieldList reports whether the projection identifier is actually
// the first element of a dotted/comma field list rather than a bare
// concept-type name, by checking for a following DOT or COMMA.
func (p *Parser) nextStartsFieldList() bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	n := p.tokens[p.pos+1]
	return n.Kind == DOT || n.Kind == COMMA
}

func isUpperIdent(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= 'A' && s[0] <= 'Z'
}

func (p *Parser) parseFieldPathList() ([]FieldPath, error) {
	var paths []FieldPath
	for {
		fp, err := p.parseFieldPath()
		if err != nil {
			return nil, err
		}
		paths = append(paths, fp)
		if p.cur().Kind == COMMA {
			p.advance()
			continue
		}
		return paths, nil
	}
}

func (p *Parser) parseFieldPath() (FieldPath, error) {
	t := p.cur()
	if t.Kind != IDENTIFIER {
		return nil, gwerrors.Syntax(t.Position, "expected field identifier")
	}
	p.advance()
	path := FieldPath{t.Text}
	for p.cur().Kind == DOT {
		p.advance()
		nt := p.cur()
		if nt.Kind != IDENTIFIER {
			return nil, gwerrors.Syntax(nt.Position, "expected identifier after '.'")
		}
		p.advance()
		path = append(path, nt.Text)
	}
	return path, nil
}

func (p *Parser) parseConditionList() ([]Condition, error) {
	var conds []Condition
	for {
		c, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
		if p.peekAnd() {
			p.advance()
			continue
		}
		return conds, nil
	}
}

func (p *Parser) parseCondition() (Condition, error) {
	fp, err := p.parseFieldPath()
	if err != nil {
		return Condition{}, err
	}
	opTok := p.cur()
	if opTok.Kind != OPERATOR {
		return Condition{}, gwerrors.Syntax(opTok.Position, "expected operator")
	}
	p.advance()

	valTok := p.cur()
	lit, err := literalFromToken(valTok)
	if err != nil {
		return Condition{}, err
	}
	p.advance()

	return Condition{Field: fp, Op: opTok.Text, Value: lit}, nil
}

func literalFromToken(t Token) (Literal, error) {
	switch t.Kind {
	case STRING, NUMBER, BOOLEAN, UUID:
		return Literal{Kind: t.LiteralKind, Value: t.LiteralValue}, nil
	default:
		return Literal{}, gwerrors.Syntax(t.Position, "expected literal value")
	}
}

func (p *Parser) parseAggregateList() ([]AggregateCall, error) {
	var aggs []AggregateCall
	for {
		a, err := p.parseAggregateCall()
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, a)
		if p.cur().Kind == COMMA {
			p.advance()
			continue
		}
		return aggs, nil
	}
}

func (p *Parser) parseAggregateCall() (AggregateCall, error) {
	fnTok := p.cur()
	if fnTok.Kind != FUNCTION {
		return AggregateCall{}, gwerrors.Syntax(fnTok.Position, "expected aggregate function")
	}
	p.advance()

	if _, err := p.expect(LPAREN); err != nil {
		return AggregateCall{}, err
	}

	call := AggregateCall{Function: fnTok.Text}
	if p.cur().Kind == ASTERISK {
		p.advance()
		call.Star = true
		call.Alias = strings.ToLower(fnTok.Text) + "_all"
	} else {
		fp, err := p.parseFieldPath()
		if err != nil {
			return AggregateCall{}, err
		}
		call.Field = fp
		call.Alias = strings.ToLower(fnTok.Text) + "_" + strings.ReplaceAll(fp.String(), ".", "_")
	}

	if _, err := p.expect(RPAREN); err != nil {
		return AggregateCall{}, err
	}
	return call, nil
}

func (p *Parser) expect(k Kind) (Token, error) {
	t := p.cur()
	if t.Kind != k {
		return Token{}, gwerrors.Syntax(t.Position, "expected "+k.String())
	}
	return p.advance(), nil
}

func (p *Parser) parseUpsert() (*Upsert, error) {
	if _, err := p.expectKeyword("UPSERT"); err != nil {
		return nil, err
	}
	typeTok := p.cur()
	if typeTok.Kind != IDENTIFIER {
		return nil, gwerrors.Syntax(typeTok.Position, "expected type name after UPSERT")
	}
	p.advance()

	if _, err := p.expect(LBRACE); err != nil {
		return nil, err
	}

	u := &Upsert{TypeName: typeTok.Text}
	if p.cur().Kind != RBRACE {
		for {
			fp, err := p.parseFieldPath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(COLON); err != nil {
				return nil, err
			}
			valTok := p.cur()
			lit, err := literalFromToken(valTok)
			if err != nil {
				return nil, err
			}
			p.advance()
			u.Fields = append(u.Fields, UpsertField{Field: fp, Value: lit})

			if p.cur().Kind == COMMA {
				p.advance()
				continue
			}
			break
		}
	}

	if _, err := p.expect(RBRACE); err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, gwerrors.Syntax(p.cur().Position, "unexpected trailing token '"+p.cur().Text+"'")
	}
	return u, nil
}

// renders back a canonical textual form of a Query. The cursor manager's
// query hash is computed from NormalizedText, not from this form.
func (q *Query) render() string {
	var b strings.Builder
	b.WriteString("FIND ")
	switch {
	case q.Projection.Star:
		b.WriteString("*")
	case q.Projection.TypeName != "":
		b.WriteString(q.Projection.TypeName)
	default:
		for i, f := range q.Projection.Fields {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.String())
		}
	}
	renderConds := func(keyword string, conds []Condition) {
		if len(conds) == 0 {
			return
		}
		b.WriteString(" " + keyword + " ")
		for i, c := range conds {
			if i > 0 {
				b.WriteString(" AND ")
			}
			b.WriteString(c.Field.String() + " " + c.Op + " " + renderLiteral(c.Value))
		}
	}
	renderConds("WHERE", q.Where)
	renderConds("FILTER", q.Filter)
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, f := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.String())
		}
	}
	if len(q.Aggregates) > 0 {
		b.WriteString(" AGGREGATE ")
		for i, a := range q.Aggregates {
			if i > 0 {
				b.WriteString(", ")
			}
			arg := "*"
			if !a.Star {
				arg = a.Field.String()
			}
			b.WriteString(a.Function + "(" + arg + ")")
		}
	}
	if q.LimitSet {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	return b.String()
}

func renderLiteral(l Literal) string {
	switch l.Kind {
	case LiteralString:
		return "'" + l.Value.(string) + "'"
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

// NormalizedText renders the FIND/WHERE/FILTER clauses (the portion the
// cursor's query hash is bound to per spec.md §4.5) in canonical form.
func (q *Query) NormalizedText() string {
	var b strings.Builder
	b.WriteString("FIND ")
	switch {
	case q.Projection.Star:
		b.WriteString("*")
	case q.Projection.TypeName != "":
		b.WriteString(q.Projection.TypeName)
	default:
		for i, f := range q.Projection.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.String())
		}
	}
	for _, c := range q.Where {
		b.WriteString("|WHERE:" + c.Field.String() + c.Op + renderLiteral(c.Value))
	}
	for _, c := range q.Filter {
		b.WriteString("|FILTER:" + c.Field.String() + c.Op + renderLiteral(c.Value))
	}
	return b.String()
}

package kql

import (
	"strconv"
	"strings"

	"github.com/kqlgateway/kqlgateway/internal/gwerrors"
)

// Lexer turns a KQL query string into a token stream.
type Lexer struct {
	src []byte
	pos int
}

// NewLexer constructs a Lexer over query.
func NewLexer(query string) *Lexer {
	return &Lexer{src: []byte(query)}
}

// Tokenize consumes the entire input and returns its token stream, or a
// *gwerrors.Error with Kind syntax and the offending byte offset.
func Tokenize(query string) ([]Token, error) {
	l := NewLexer(query)
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		if tok.Kind == EOF {
			break
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func (l *Lexer) next() (Token, error) {
	l.skipWhitespace()
	if l.pos >= len(l.src) {
		return Token{Kind: EOF, Position: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	// A UUID whose first group starts with a digit would otherwise be taken
	// for a number; try the UUID shape before falling through to lexNumber.
	if isDigit(c) && l.pos+8 <= len(l.src) && allHex(l.src[l.pos:l.pos+8]) {
		l.pos += 8
		if end, ok := l.tryExtendUUID(); ok {
			l.pos = end
			text := string(l.src[start:l.pos])
			return Token{Kind: UUID, Text: text, Position: start, LiteralKind: LiteralUUID, LiteralValue: strings.ToLower(text)}, nil
		}
		l.pos = start
	}

	switch {
	case c == '\'':
		return l.lexString()
	case isDigit(c):
		return l.lexNumber()
	case isIdentStart(c):
		return l.lexWordOrIdent()
	}

	single := func(k Kind, text string) (Token, error) {
		l.pos += len(text)
		return Token{Kind: k, Text: text, Position: start}, nil
	}

	switch c {
	case ',':
		return single(COMMA, ",")
	case '(':
		return single(LPAREN, "(")
	case ')':
		return single(RPAREN, ")")
	case '{':
		return single(LBRACE, "{")
	case '}':
		return single(RBRACE, "}")
	case '.':
		return single(DOT, ".")
	case '*':
		return single(ASTERISK, "*")
	case ':':
		return single(COLON, ":")
	case ';':
		return single(SEMICOLON, ";")
	case '=':
		return single(OPERATOR, "=")
	case '!':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: OPERATOR, Text: "!=", Position: start}, nil
		}
	case '<':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: OPERATOR, Text: "<=", Position: start}, nil
		}
		return single(OPERATOR, "<")
	case '>':
		if l.peekAt(1) == '=' {
			l.pos += 2
			return Token{Kind: OPERATOR, Text: ">=", Position: start}, nil
		}
		return single(OPERATOR, ">")
	}

	return Token{}, gwerrors.Syntax(start, "unrecognized character '"+string(c)+"'")
}

func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.src) {
		return 0
	}
	return l.src[l.pos+offset]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) lexString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	contentStart := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '\'' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return Token{}, gwerrors.Syntax(start, "unterminated string literal")
	}
	text := string(l.src[contentStart:l.pos])
	l.pos++ // closing quote
	return Token{
		Kind:         STRING,
		Text:         text,
		Position:     start,
		LiteralKind:  LiteralString,
		LiteralValue: text,
	}, nil
}

func (l *Lexer) lexNumber() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	isFloat := false
	if l.pos < len(l.src) && l.src[l.pos] == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1]) {
		isFloat = true
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := string(l.src[start:l.pos])
	if isFloat {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, gwerrors.Syntax(start, "invalid numeric literal '"+text+"'")
		}
		return Token{Kind: NUMBER, Text: text, Position: start, LiteralKind: LiteralFloat, LiteralValue: v}, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, gwerrors.Syntax(start, "invalid numeric literal '"+text+"'")
	}
	return Token{Kind: NUMBER, Text: text, Position: start, LiteralKind: LiteralInteger, LiteralValue: v}, nil
}

func (l *Lexer) lexWordOrIdent() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}

	// A UUID is lexically five hyphen-separated hex groups; an identifier
	// never contains a hyphen, so only attempt the extension when the first
	// group already has the right shape.
	if l.pos-start == 8 && allHex(l.src[start:l.pos]) {
		if end, ok := l.tryExtendUUID(); ok {
			l.pos = end
			text := string(l.src[start:l.pos])
			return Token{Kind: UUID, Text: text, Position: start, LiteralKind: LiteralUUID, LiteralValue: strings.ToLower(text)}, nil
		}
	}

	text := string(l.src[start:l.pos])
	upper := strings.ToUpper(text)

	if upper == "NOT" && l.peekWord() == "IN" {
		savedPos := l.pos
		l.skipWhitespace()
		wstart := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		if strings.ToUpper(string(l.src[wstart:l.pos])) == "IN" {
			return Token{Kind: OPERATOR, Text: "NOT_IN", Position: start}, nil
		}
		l.pos = savedPos
	}

	switch {
	case keywords[upper]:
		return Token{Kind: KEYWORD, Text: upper, Position: start}, nil
	case functions[upper]:
		return Token{Kind: FUNCTION, Text: upper, Position: start}, nil
	case wordOperators[upper]:
		return Token{Kind: OPERATOR, Text: upper, Position: start}, nil
	case upper == "TRUE" || upper == "FALSE":
		return Token{Kind: BOOLEAN, Text: text, Position: start, LiteralKind: LiteralBoolean, LiteralValue: upper == "TRUE"}, nil
	default:
		return Token{Kind: IDENTIFIER, Text: text, Position: start}, nil
	}
}

// tryExtendUUID checks, without committing l.pos, whether the four
// remaining hyphenated hex groups of a canonical UUID follow at the
// lexer's current position. Returns the offset just past the UUID.
func (l *Lexer) tryExtendUUID() (int, bool) {
	pos := l.pos
	groupLens := []int{4, 4, 4, 12}
	for _, n := range groupLens {
		if pos >= len(l.src) || l.src[pos] != '-' {
			return 0, false
		}
		pos++
		if pos+n > len(l.src) || !allHex(l.src[pos:pos+n]) {
			return 0, false
		}
		pos += n
	}
	return pos, true
}

func allHex(b []byte) bool {
	for _, c := range b {
		if !isHex(c) {
			return false
		}
	}
	return true
}

// peekWord returns the next word ahead (without consuming) for lookahead,
// used only to decide whether "NOT" begins a NOT_IN operator.
func (l *Lexer) peekWord() string {
	i := l.pos
	for i < len(l.src) && (l.src[i] == ' ' || l.src[i] == '\t' || l.src[i] == '\n' || l.src[i] == '\r') {
		i++
	}
	start := i
	for i < len(l.src) && isIdentPart(l.src[i]) {
		i++
	}
	return string(l.src[start:i])
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Package kql implements the lexer, parser and semantic validator for the
// Knowledge Query Language accepted by the gateway's HTTP surface.
package kql

import "fmt"

// Kind identifies the lexical category of a Token.
type Kind int

const (
	KEYWORD Kind = iota
	FUNCTION
	IDENTIFIER
	STRING
	NUMBER
	BOOLEAN
	UUID
	OPERATOR
	COMMA
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	DOT
	ASTERISK
	COLON
	SEMICOLON
	EOF
)

func (k Kind) String() string {
	switch k {
	case KEYWORD:
		return "KEYWORD"
	case FUNCTION:
		return "FUNCTION"
	case IDENTIFIER:
		return "IDENTIFIER"
	case STRING:
		return "STRING"
	case NUMBER:
		return "NUMBER"
	case BOOLEAN:
		return "BOOLEAN"
	case UUID:
		return "UUID"
	case OPERATOR:
		return "OPERATOR"
	case COMMA:
		return "COMMA"
	case LPAREN:
		return "LPAREN"
	case RPAREN:
		return "RPAREN"
	case LBRACE:
		return "LBRACE"
	case RBRACE:
		return "RBRACE"
	case DOT:
		return "DOT"
	case ASTERISK:
		return "ASTERISK"
	case COLON:
		return "COLON"
	case SEMICOLON:
		return "SEMICOLON"
	case EOF:
		return "EOF"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// LiteralKind annotates the inferred type of a literal token's value.
type LiteralKind int

const (
	LiteralNone LiteralKind = iota
	LiteralString
	LiteralInteger
	LiteralFloat
	LiteralBoolean
	LiteralUUID
)

func (l LiteralKind) String() string {
	switch l {
	case LiteralString:
		return "string"
	case LiteralInteger:
		return "integer"
	case LiteralFloat:
		return "float"
	case LiteralBoolean:
		return "boolean"
	case LiteralUUID:
		return "uuid"
	default:
		return "none"
	}
}

// Token is a single lexical unit with its byte offset in the source query.
type Token struct {
	Kind         Kind
	Text         string
	Position     int
	LiteralKind  LiteralKind
	LiteralValue any
}

var keywords = map[string]bool{
	"FIND": true, "WHERE": true, "FILTER": true, "GROUP": true, "BY": true,
	"AGGREGATE": true, "LIMIT": true, "CURSOR": true,
	"OPTIONAL": true, "UNION": true, "NOT": true, "UPSERT": true,
}

var functions = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true, "DISTINCT": true,
}

var multiWordOperators = []string{"NOT_IN"}

var wordOperators = map[string]bool{
	"CONTAINS": true, "MATCHES": true, "IN": true, "NOT_IN": true,
}

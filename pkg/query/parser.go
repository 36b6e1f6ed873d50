// Package query implements the condition language used by QUERY and
// condition-based DELETE: comparisons over dotted field paths joined by
// AND/OR, folded left to right with no parentheses and no precedence.
package query

import (
	"fmt"
	"strings"
)

// Expr is a parsed condition: either a Comparison leaf or a Logical node.
type Expr interface {
	expr()
}

// Comparison is a single `field operator value` predicate.
type Comparison struct {
	Field    string
	Operator string
	Value    string
}

func (*Comparison) expr() {}

// Logical joins two subexpressions with AND or OR. Parsing is
// left-associative, so `a AND b OR c` is `(a AND b) OR c`.
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*Logical) expr() {}

var operators = map[string]bool{
	"=": true, "!=": true, ">": true, ">=": true, "<": true, "<=": true,
	"CONTAINS": true,
}

type token struct {
	text   string
	quoted bool
}

// Parse parses a condition string. A malformed condition returns a
// descriptive error, never an empty match.
func Parse(s string) (Expr, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("query: empty condition")
	}

	pos := 0
	next := func() (token, bool) {
		if pos >= len(tokens) {
			return token{}, false
		}
		t := tokens[pos]
		pos++
		return t, true
	}

	readComparison := func() (Expr, error) {
		field, ok := next()
		if !ok {
			return nil, fmt.Errorf("query: expected field, got end of condition")
		}
		if !field.quoted && isConnective(field.text) {
			return nil, fmt.Errorf("query: expected field, got %q", field.text)
		}
		op, ok := next()
		if !ok {
			return nil, fmt.Errorf("query: expected operator after field %q", field.text)
		}
		opText := strings.ToUpper(op.text)
		if op.quoted || !operators[opText] {
			return nil, fmt.Errorf("query: unsupported operator %q", op.text)
		}
		val, ok := next()
		if !ok {
			return nil, fmt.Errorf("query: expected value after %q %s", field.text, opText)
		}
		return &Comparison{Field: field.text, Operator: opText, Value: val.text}, nil
	}

	root, err := readComparison()
	if err != nil {
		return nil, err
	}
	for {
		conn, ok := next()
		if !ok {
			return root, nil
		}
		connText := strings.ToUpper(conn.text)
		if conn.quoted || !isConnective(connText) {
			return nil, fmt.Errorf("query: expected AND/OR, got %q", conn.text)
		}
		right, err := readComparison()
		if err != nil {
			return nil, err
		}
		root = &Logical{Op: connText, Left: root, Right: right}
	}
}

func isConnective(s string) bool {
	up := strings.ToUpper(s)
	return up == "AND" || up == "OR"
}

// tokenize splits on whitespace, keeping single- or double-quoted runs
// together so string literals may contain spaces.
func tokenize(s string) ([]token, error) {
	var tokens []token
	var buf strings.Builder
	var quote rune
	inQuote := false
	flush := func(quoted bool) {
		if quoted || buf.Len() > 0 {
			tokens = append(tokens, token{text: buf.String(), quoted: quoted})
			buf.Reset()
		}
	}
	for _, r := range s {
		switch {
		case inQuote:
			if r == quote {
				inQuote = false
				flush(true)
			} else {
				buf.WriteRune(r)
			}
		case r == '\'' || r == '"':
			flush(false)
			inQuote = true
			quote = r
		case r == ' ' || r == '\t':
			flush(false)
		default:
			buf.WriteRune(r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("query: unterminated string literal")
	}
	flush(false)
	return tokens, nil
}

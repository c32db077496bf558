// Package filterexpr implements the small predicate language used by
// compliance rules to select holdings. Expressions are compiled once and
// evaluated against rows of named fields, so rule text never reaches the
// database as SQL.
//
// The grammar supports comparisons (=, ==, !=, <>, <, <=, >, >=), AND / OR /
// NOT, parentheses, IN / NOT IN lists, and IS [NOT] NULL. Identifiers may be
// dotted (security.region). Keywords are case-insensitive. A blank expression
// matches every row.
package filterexpr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind discriminates the value types an operand can produce.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

// Value is a typed field value. Comparisons between mismatched kinds and any
// comparison involving NULL evaluate to false.
type Value struct {
	Kind Kind
	Num  decimal.Decimal
	Str  string
	Bool bool
}

// Null returns the NULL value.
func Null() Value { return Value{Kind: KindNull} }

// Number returns a numeric value.
func Number(d decimal.Decimal) Value { return Value{Kind: KindNumber, Num: d} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Row supplies field values during evaluation. Field returns false when the
// row has no field by that name; the evaluator treats missing fields as NULL.
type Row interface {
	Field(name string) (Value, bool)
}

// blockedKeywords are rejected anywhere in rule text, as whole words,
// case-insensitively. Rule authors write predicates, not SQL.
var blockedKeywords = regexp.MustCompile(`(?i)\b(DROP|INSERT|ALTER|UPDATE|DELETE|SELECT)\b`)

// Normalize trims the expression and strips a leading WHERE keyword, which
// rule authors habitually include.
func Normalize(text string) string {
	s := strings.TrimSpace(text)
	if len(s) >= 5 && strings.EqualFold(s[:5], "where") {
		if len(s) == 5 {
			return ""
		}
		if c := s[5]; c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' {
			return strings.TrimSpace(s[5:])
		}
	}
	return s
}

// Validate checks rule text without compiling the caller's row schema: it
// rejects statement separators and SQL keywords, then parses the remainder.
// Blank text is valid and means "match everything".
func Validate(text string) error {
	if strings.Contains(text, ";") {
		return fmt.Errorf("expression must not contain ';'")
	}
	if m := blockedKeywords.FindString(text); m != "" {
		return fmt.Errorf("expression must not contain keyword %q", strings.ToUpper(m))
	}
	_, err := Compile(text)
	return err
}

// Compile parses rule text into an evaluable expression. Blank text compiles
// to an expression that matches every row.
func Compile(text string) (*Expr, error) {
	if strings.Contains(text, ";") {
		return nil, fmt.Errorf("expression must not contain ';'")
	}
	if m := blockedKeywords.FindString(text); m != "" {
		return nil, fmt.Errorf("expression must not contain keyword %q", strings.ToUpper(m))
	}

	src := Normalize(text)
	if src == "" {
		return &Expr{root: trueNode{}, text: text}, nil
	}

	toks, err := lex(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected %q after expression", p.peek().text)
	}

	return &Expr{root: root, text: text}, nil
}

// Expr is a compiled predicate.
type Expr struct {
	root node
	text string
}

// Match evaluates the predicate against a row.
func (e *Expr) Match(row Row) (bool, error) {
	return e.root.eval(row)
}

// Text returns the original rule text the expression was compiled from.
func (e *Expr) Text() string {
	return e.text
}

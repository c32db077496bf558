package filterexpr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp     // = == != <> < <= > >=
	tokLParen // (
	tokRParen // )
	tokComma
	tokAnd
	tokOr
	tokNot
	tokIn
	tokIs
	tokNull
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywordTokens = map[string]tokenKind{
	"and":  tokAnd,
	"or":   tokOr,
	"not":  tokNot,
	"in":   tokIn,
	"is":   tokIs,
	"null": tokNull,
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++

		case c == '=':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, "=", i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, "=", i})
				i++
			}
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, "!=", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '!' at position %d", i)
			}
		case c == '<':
			switch {
			case i+1 < len(src) && src[i+1] == '>':
				toks = append(toks, token{tokOp, "!=", i})
				i += 2
			case i+1 < len(src) && src[i+1] == '=':
				toks = append(toks, token{tokOp, "<=", i})
				i += 2
			default:
				toks = append(toks, token{tokOp, "<", i})
				i++
			}
		case c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, ">=", i})
				i += 2
			} else {
				toks = append(toks, token{tokOp, ">", i})
				i++
			}

		case c == '\'':
			lit, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, lit, i})
			i = next

		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case c == '-' && i+1 < len(src) && (src[i+1] >= '0' && src[i+1] <= '9' || src[i+1] == '.'):
			start := i
			i++
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			word := src[start:i]
			if kind, ok := keywordTokens[strings.ToLower(word)]; ok {
				toks = append(toks, token{kind, word, start})
			} else {
				toks = append(toks, token{tokIdent, word, start})
			}

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(c), i)
		}
	}

	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

// lexString reads a single-quoted literal starting at src[start]. Doubled
// quotes escape a quote, as in SQL string literals.
func lexString(src string, start int) (lit string, next int, err error) {
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		if src[i] == '\'' {
			if i+1 < len(src) && src[i+1] == '\'' {
				b.WriteByte('\'')
				i += 2
				continue
			}
			return b.String(), i + 1, nil
		}
		b.WriteByte(src[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string literal at position %d", start)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

package filterexpr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// node is an evaluable fragment of a compiled expression.
type node interface {
	eval(row Row) (bool, error)
}

// operand produces a Value when evaluated against a row.
type operand interface {
	value(row Row) (Value, error)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) atEnd() bool {
	return p.peek().kind == tokEOF
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, fmt.Errorf("expected %s, got end of expression", what)
		}
		return t, fmt.Errorf("expected %s, got %q at position %d", what, t.text, t.pos)
	}
	return p.next(), nil
}

// parseExpr := andChain (OR andChain)*
func (p *parser) parseExpr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

// parseAnd := unary (AND unary)*
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

// parseUnary := NOT unary | '(' expr ')' | predicate
func (p *parser) parseUnary() (node, error) {
	switch p.peek().kind {
	case tokNot:
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	default:
		return p.parsePredicate()
	}
}

// parsePredicate := operand (compareOp operand | [NOT] IN list | IS [NOT] NULL)
func (p *parser) parsePredicate() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch t := p.peek(); t.kind {
	case tokOp:
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return compareNode{op: t.text, left: left, right: right}, nil

	case tokIn:
		p.next()
		items, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inNode{left: left, items: items}, nil

	case tokNot:
		p.next()
		if _, err := p.expect(tokIn, "IN after NOT"); err != nil {
			return nil, err
		}
		items, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return notNode{inNode{left: left, items: items}}, nil

	case tokIs:
		p.next()
		negated := false
		if p.peek().kind == tokNot {
			p.next()
			negated = true
		}
		if _, err := p.expect(tokNull, "NULL after IS"); err != nil {
			return nil, err
		}
		return isNullNode{left: left, negated: negated}, nil

	case tokEOF:
		return nil, fmt.Errorf("expected comparison after %s", describeOperand(left))
	default:
		return nil, fmt.Errorf("expected comparison, got %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseList() ([]Value, error) {
	if _, err := p.expect(tokLParen, "'(' after IN"); err != nil {
		return nil, err
	}
	var items []Value
	for {
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		if p.peek().kind == tokComma {
			p.next()
			continue
		}
		break
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) parseOperand() (operand, error) {
	switch t := p.peek(); t.kind {
	case tokIdent:
		p.next()
		return fieldRef{name: t.text}, nil
	case tokNumber, tokString, tokNull:
		v, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return literal{v}, nil
	case tokEOF:
		return nil, fmt.Errorf("expected field or value, got end of expression")
	default:
		return nil, fmt.Errorf("expected field or value, got %q at position %d", t.text, t.pos)
	}
}

func (p *parser) parseLiteral() (Value, error) {
	switch t := p.peek(); t.kind {
	case tokNumber:
		p.next()
		d, err := decimal.NewFromString(t.text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q at position %d", t.text, t.pos)
		}
		return Number(d), nil
	case tokString:
		p.next()
		return String(t.text), nil
	case tokNull:
		p.next()
		return Null(), nil
	default:
		return Value{}, fmt.Errorf("expected literal, got %q at position %d", t.text, t.pos)
	}
}

func describeOperand(op operand) string {
	if f, ok := op.(fieldRef); ok {
		return fmt.Sprintf("field %q", f.name)
	}
	return "value"
}

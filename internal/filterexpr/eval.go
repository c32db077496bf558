package filterexpr

import "fmt"

// trueNode matches every row. Blank rule text compiles to it.
type trueNode struct{}

func (trueNode) eval(Row) (bool, error) { return true, nil }

type andNode struct{ left, right node }

func (n andNode) eval(row Row) (bool, error) {
	ok, err := n.left.eval(row)
	if err != nil || !ok {
		return false, err
	}
	return n.right.eval(row)
}

type orNode struct{ left, right node }

func (n orNode) eval(row Row) (bool, error) {
	ok, err := n.left.eval(row)
	if err != nil || ok {
		return ok, err
	}
	return n.right.eval(row)
}

type notNode struct{ inner node }

func (n notNode) eval(row Row) (bool, error) {
	ok, err := n.inner.eval(row)
	return !ok, err
}

type compareNode struct {
	op          string
	left, right operand
}

func (n compareNode) eval(row Row) (bool, error) {
	lv, err := n.left.value(row)
	if err != nil {
		return false, err
	}
	rv, err := n.right.value(row)
	if err != nil {
		return false, err
	}
	return compare(n.op, lv, rv), nil
}

// compare applies a comparison operator. NULL on either side and mismatched
// kinds both yield false, including for != and <>.
func compare(op string, l, r Value) bool {
	if l.Kind == KindNull || r.Kind == KindNull {
		return false
	}
	if l.Kind != r.Kind {
		return false
	}

	switch l.Kind {
	case KindNumber:
		c := l.Num.Cmp(r.Num)
		switch op {
		case "=":
			return c == 0
		case "!=":
			return c != 0
		case "<":
			return c < 0
		case "<=":
			return c <= 0
		case ">":
			return c > 0
		case ">=":
			return c >= 0
		}
	case KindString:
		switch op {
		case "=":
			return l.Str == r.Str
		case "!=":
			return l.Str != r.Str
		case "<":
			return l.Str < r.Str
		case "<=":
			return l.Str <= r.Str
		case ">":
			return l.Str > r.Str
		case ">=":
			return l.Str >= r.Str
		}
	case KindBool:
		switch op {
		case "=":
			return l.Bool == r.Bool
		case "!=":
			return l.Bool != r.Bool
		}
	}
	return false
}

type inNode struct {
	left  operand
	items []Value
}

func (n inNode) eval(row Row) (bool, error) {
	lv, err := n.left.value(row)
	if err != nil {
		return false, err
	}
	if lv.Kind == KindNull {
		return false, nil
	}
	for _, item := range n.items {
		if compare("=", lv, item) {
			return true, nil
		}
	}
	return false, nil
}

type isNullNode struct {
	left    operand
	negated bool
}

func (n isNullNode) eval(row Row) (bool, error) {
	lv, err := n.left.value(row)
	if err != nil {
		return false, err
	}
	isNull := lv.Kind == KindNull
	if n.negated {
		return !isNull, nil
	}
	return isNull, nil
}

// fieldRef resolves a named field from the row. Fields the row does not
// carry resolve to NULL so open attribute sets work without schema checks.
type fieldRef struct {
	name string
}

func (f fieldRef) value(row Row) (Value, error) {
	if row == nil {
		return Value{}, fmt.Errorf("no row bound for field %q", f.name)
	}
	v, ok := row.Field(f.name)
	if !ok {
		return Null(), nil
	}
	return v, nil
}

type literal struct {
	val Value
}

func (l literal) value(Row) (Value, error) {
	return l.val, nil
}

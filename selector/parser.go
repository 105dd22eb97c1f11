package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a compiled AST node for a selector expression.
type Node interface {
	eval(ps PropertySource) Value
}

// Compile parses expr into an evaluable predicate tree.
func Compile(expr string) (Node, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, ErrEmptyExpression
	}
	p := &parser{lex: newLexer(expr)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: trailing %q", ErrUnexpectedToken, p.tok.text)
	}
	return node, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) isKeyword(words ...string) bool {
	if p.tok.kind != tokIdent {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(p.tok.text, w) {
			return true
		}
	}
	return false
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binOpNode{op: Or, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binOpNode{op: And, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	negate := false
	if p.isKeyword("NOT") {
		negate = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	switch {
	case p.isKeyword("BETWEEN"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		lo, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		if !p.isKeyword("AND") {
			return nil, fmt.Errorf("%w: expected AND in BETWEEN", ErrUnexpectedToken)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		hi, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		node := Node(&betweenNode{value: left, lo: lo, hi: hi})
		if negate {
			node = &notNode{inner: node}
		}
		return node, nil

	case p.isKeyword("IN"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokLParen {
			return nil, fmt.Errorf("%w: expected ( after IN", ErrUnexpectedToken)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		var items []Node
		for {
			item, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.tok.kind == tokComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) to close IN list", ErrUnexpectedToken)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		node := Node(&inNode{value: left, items: items})
		if negate {
			node = &notNode{inner: node}
		}
		return node, nil

	case p.isKeyword("LIKE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokString {
			return nil, fmt.Errorf("%w: expected string pattern after LIKE", ErrUnexpectedToken)
		}
		pattern := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		node := Node(&likeNode{value: left, pattern: pattern})
		if negate {
			node = &notNode{inner: node}
		}
		return node, nil
	}

	if negate {
		return nil, fmt.Errorf("%w: NOT must precede IN/BETWEEN/LIKE", ErrUnexpectedToken)
	}

	if p.isKeyword("IS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		isNot := false
		if p.isKeyword("NOT") {
			isNot = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if !p.isKeyword("NULL") {
			return nil, fmt.Errorf("%w: expected NULL after IS", ErrUnexpectedToken)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &isNullNode{value: left, isNot: isNot}, nil
	}

	if p.tok.kind == tokOp {
		switch p.tok.text {
		case "=", "<>", "!=", "<", "<=", ">", ">=":
			opText := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			fn := compareFn(opText)
			return &binOpNode{op: fn, left: left, right: right}, nil
		}
	}

	return left, nil
}

func compareFn(op string) func(a, b Value) Value {
	switch op {
	case "=":
		return Equal
	case "<>", "!=":
		return NotEqual
	case "<":
		return Less
	case "<=":
		return LessEqual
	case ">":
		return Greater
	case ">=":
		return GreaterEqual
	}
	return func(a, b Value) Value { return Unknown }
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			left = &binOpNode{op: Add, left: left, right: right}
		} else {
			left = &binOpNode{op: Sub, left: left, right: right}
		}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/") {
		op := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "*" {
			left = &binOpNode{op: Mul, left: left, right: right}
		} else {
			left = &binOpNode{op: Div, left: left, right: right}
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Node, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected )", ErrUnexpectedToken)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil

	case tokNumber:
		text := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if strings.ContainsAny(text, ".eE") {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("selector: invalid number %q: %w", text, err)
			}
			return &litNode{v: InexactValue(f)}, nil
		}
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("selector: invalid number %q: %w", text, err)
		}
		return &litNode{v: ExactValue(i)}, nil

	case tokString:
		s := p.tok.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &litNode{v: StringValue(s)}, nil

	case tokIdent:
		switch {
		case strings.EqualFold(p.tok.text, "TRUE"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{v: BoolValue(true)}, nil
		case strings.EqualFold(p.tok.text, "FALSE"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{v: BoolValue(false)}, nil
		case strings.EqualFold(p.tok.text, "NULL"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &litNode{v: Unknown}, nil
		default:
			name := p.tok.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &propNode{name: name}, nil
		}

	case tokEOF:
		return nil, ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, p.tok.text)
}

package repl

import (
	"fmt"
	"strconv"
	"strings"
)

// evalExpr evaluates an integer arithmetic expression with the usual
// precedence: + - over * / %, parentheses, unary minus.
func evalExpr(input string) (int64, error) {
	p := &parser{input: input}
	value, err := p.sum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("syntax error at %q", p.input[p.pos:])
	}
	return value, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) sum() (int64, error) {
	value, err := p.product()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.product()
			if err != nil {
				return 0, err
			}
			value += rhs
		case '-':
			p.pos++
			rhs, err := p.product()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *parser) product() (int64, error) {
	value, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return value, nil
		}
		p.pos++
		rhs, err := p.unary()
		if err != nil {
			return 0, err
		}
		if rhs == 0 && op != '*' {
			return 0, fmt.Errorf("division by zero")
		}
		switch op {
		case '*':
			value *= rhs
		case '/':
			value /= rhs
		case '%':
			value %= rhs
		}
	}
}

func (p *parser) unary() (int64, error) {
	if p.peek() == '-' {
		p.pos++
		value, err := p.unary()
		return -value, err
	}
	return p.atom()
}

func (p *parser) atom() (int64, error) {
	if p.peek() == '(' {
		p.pos++
		value, err := p.sum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}

	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] >= '0' && p.input[p.pos] <= '9' {
		p.pos++
	}
	if start == p.pos {
		rest := p.input[start:]
		if rest == "" {
			return 0, fmt.Errorf("unexpected end of expression")
		}
		return 0, fmt.Errorf("syntax error at %q", strings.TrimSpace(rest))
	}
	return strconv.ParseInt(p.input[start:p.pos], 10, 64)
}

package guard

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseCondition parses a condition string in the restricted grammar into
// an Expr. The operator set is closed: and, or, not, in, not in, ==, !=,
// <, <=, >, >=. Operands are dotted attribute paths, quoted strings,
// numbers, booleans and bracketed lists. Anything else is rejected, which
// is what makes conditions safe to accept from policy authors: there is
// no escape from this grammar into host code.
//
// An empty string parses to nil, meaning the policy has no condition.
func ParseCondition(s string) (Expr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	p := &condParser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q", p.toks[p.pos].text)
	}
	return expr, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokNumber
	tokOp // ==, !=, <, <=, >, >=
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
)

type token struct {
	kind tokKind
	text string
}

func tokenize(s string) ([]token, error) {
	toks := make([]token, 0, 16)
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(s) && s[j] != quote {
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, s[i+1 : j]})
			i = j + 1
		case c == '=' || c == '!':
			if i+1 >= len(s) || s[i+1] != '=' {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{tokOp, s[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			if i+1 < len(s) && s[i+1] == '=' {
				toks = append(toks, token{tokOp, s[i : i+2]})
				i += 2
			} else {
				toks = append(toks, token{tokOp, s[i : i+1]})
				i++
			}
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i + 1
			for j < len(s) && isIdentPart(rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}

type condParser struct {
	toks []token
	pos  int
}

func (p *condParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *condParser) acceptIdent(word string) bool {
	if t, ok := p.peek(); ok && t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *condParser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.acceptIdent("and") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *condParser) parseUnary() (Expr, error) {
	if p.acceptIdent("not") {
		// "not in" is handled inside parseComparison; a bare "not" here
		// negates the next unary expression
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}
	if t, ok := p.peek(); ok && t.kind == tokLParen {
		p.pos++
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t, ok := p.peek(); !ok || t.kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return expr, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("expected operator after %s", left)
	}
	if t.kind == tokOp {
		p.pos++
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &cmpExpr{op: t.text, left: left, right: right}, nil
	}
	negate := false
	if p.acceptIdent("not") {
		negate = true
	}
	if !p.acceptIdent("in") {
		return nil, fmt.Errorf("expected comparison or membership operator, got %q", t.text)
	}
	values, err := p.parseList()
	if err != nil {
		return nil, err
	}
	return &inExpr{needle: left, values: values, negate: negate}, nil
}

func (p *condParser) parseOperand() (operand, error) {
	t, ok := p.peek()
	if !ok {
		return operand{}, fmt.Errorf("unexpected end of condition")
	}
	switch t.kind {
	case tokIdent:
		p.pos++
		switch strings.ToLower(t.text) {
		case "true":
			return literal(true), nil
		case "false":
			return literal(false), nil
		case "and", "or", "not", "in":
			return operand{}, fmt.Errorf("keyword %q cannot be an operand", t.text)
		}
		return fieldRef(t.text), nil
	case tokString:
		p.pos++
		return literal(t.text), nil
	case tokNumber:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, fmt.Errorf("bad number %q", t.text)
		}
		return literal(f), nil
	}
	return operand{}, fmt.Errorf("unexpected token %q", t.text)
}

func (p *condParser) parseList() ([]operand, error) {
	t, ok := p.peek()
	if !ok || t.kind != tokLBracket {
		return nil, fmt.Errorf("expected list after membership operator")
	}
	p.pos++
	values := make([]operand, 0, 4)
	for {
		if t, ok := p.peek(); ok && t.kind == tokRBracket {
			p.pos++
			return values, nil
		}
		v, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if t, ok := p.peek(); ok && t.kind == tokComma {
			p.pos++
		}
	}
}

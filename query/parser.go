package query

import (
	apierrors "github.com/oblivkv/kvserver/errors"
)

// Grammar:
//
//	E := T ('|' T)*
//	T := F ('&' F)*
//	F := G ('-' G)*
//	G := KEY | '(' E ')'
type parser struct {
	input string
	pos   int
}

// Parse builds the AST for a set-algebra expression.
func Parse(input string) (Node, error) {
	p := &parser{input: input}
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, apierrors.ErrEmptyQuery
	}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"unexpected input at offset %d: %q", p.pos, p.input[p.pos:])
	}
	return node, nil
}

func (p *parser) parseExpression() (Node, error) {
	node, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.consume('|') {
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		node = &opNode{op: opUnion, left: node, right: right}
	}
	return node, nil
}

func (p *parser) parseTerm() (Node, error) {
	node, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.consume('&') {
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		node = &opNode{op: opIntersection, left: node, right: right}
	}
	return node, nil
}

func (p *parser) parseFactor() (Node, error) {
	node, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	for p.consume('-') {
		right, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		node = &opNode{op: opDifference, left: node, right: right}
	}
	return node, nil
}

func (p *parser) parseGroup() (Node, error) {
	p.skipSpace()
	if p.consume('(') {
		node, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if !p.consume(')') {
			return nil, apierrors.InvalidArgument("missing closing parenthesis")
		}
		return node, nil
	}
	return p.parseKey()
}

func (p *parser) parseKey() (Node, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && !isDelimiter(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return nil, apierrors.Newf(apierrors.CodeInvalidArgument,
			"expected a key at offset %d", start)
	}
	return &keyNode{key: p.input[start:p.pos]}, nil
}

func (p *parser) consume(c byte) bool {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func isDelimiter(c byte) bool {
	switch c {
	case '|', '&', '-', '(', ')', ' ', '\t':
		return true
	}
	return false
}

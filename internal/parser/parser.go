// Package parser implements a recursive-descent, precedence-climbing
// parser for the ptLTL specification grammar (spec §4.1).
package parser

import (
	"fmt"
	"strconv"

	"github.com/ptltl/monitor/internal/lexer"
	"github.com/ptltl/monitor/internal/specast"
)

// Error is a fatal syntax error with its source location, matching the
// teacher parser's location-carrying error struct rather than a bare
// fmt.Errorf string.
type Error struct {
	Line, Col int
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
}

// Parser consumes a token stream and builds a specast.Spec.
type Parser struct {
	toks []lexer.Token
	pos  int
}

// Parse lexes and parses src into a Spec, or returns the first *Error found.
func Parse(src string) (*specast.Spec, error) {
	toks, err := lexer.All(src)
	if err != nil {
		le := err.(*lexer.Error)
		return nil, &Error{le.Line, le.Col, le.Msg}
	}
	p := &Parser{toks: toks}
	return p.parseSpec()
}

func (p *Parser) cur() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	t := p.cur()
	if t.Type != tt {
		return t, &Error{t.Position.Line, t.Position.Column,
			fmt.Sprintf("expected %s, found %s %q", tt, t.Type, t.Text)}
	}
	return p.advance(), nil
}

func (p *Parser) parseSpec() (*specast.Spec, error) {
	spec := &specast.Spec{}

	for isTypeAnnotationStart(p.cur().Type) {
		ann, err := p.parseTypeAnnotation()
		if err != nil {
			return nil, err
		}
		spec.Annotations = append(spec.Annotations, ann)
	}

	if len(spec.Annotations) == 0 && p.cur().Type == lexer.EOF {
		t := p.cur()
		return nil, &Error{t.Position.Line, t.Position.Column, "empty spec: expected at least one type annotation and one formula"}
	}

	for p.cur().Type != lexer.EOF {
		formula, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.SEMICOLON); err != nil {
			return nil, err
		}
		spec.Formulas = append(spec.Formulas, formula)
	}

	if len(spec.Formulas) == 0 {
		t := p.cur()
		return nil, &Error{t.Position.Line, t.Position.Column, "spec has no top-level formulas"}
	}

	return spec, nil
}

func isTypeAnnotationStart(tt lexer.TokenType) bool {
	return tt == lexer.ENUM || tt == lexer.INT_TYPE || tt == lexer.BOOL_TYPE
}

func (p *Parser) parseTypeAnnotation() (specast.TypeAnnotation, error) {
	switch p.cur().Type {
	case lexer.ENUM:
		pos := p.advance().Position
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return specast.TypeAnnotation{}, err
		}
		if _, err := p.expect(lexer.LBRACE); err != nil {
			return specast.TypeAnnotation{}, err
		}
		var values []string
		for {
			v, err := p.expect(lexer.IDENT)
			if err != nil {
				return specast.TypeAnnotation{}, err
			}
			values = append(values, v.Text)
			if p.cur().Type == lexer.COMMA {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(lexer.RBRACE); err != nil {
			return specast.TypeAnnotation{}, err
		}
		if _, err := p.expect(lexer.SEMICOLON); err != nil {
			return specast.TypeAnnotation{}, err
		}
		return specast.TypeAnnotation{Kind: specast.TKEnum, Name: name.Text, EnumValues: values, Pos: pos}, nil

	case lexer.INT_TYPE:
		pos := p.advance().Position
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return specast.TypeAnnotation{}, err
		}
		if _, err := p.expect(lexer.SEMICOLON); err != nil {
			return specast.TypeAnnotation{}, err
		}
		return specast.TypeAnnotation{Kind: specast.TKIntType, Name: name.Text, Pos: pos}, nil

	case lexer.BOOL_TYPE:
		pos := p.advance().Position
		name, err := p.expect(lexer.IDENT)
		if err != nil {
			return specast.TypeAnnotation{}, err
		}
		if _, err := p.expect(lexer.SEMICOLON); err != nil {
			return specast.TypeAnnotation{}, err
		}
		return specast.TypeAnnotation{Kind: specast.TKBoolType, Name: name.Text, Pos: pos}, nil
	}

	t := p.cur()
	return specast.TypeAnnotation{}, &Error{t.Position.Line, t.Position.Column,
		fmt.Sprintf("expected type annotation, found %s %q", t.Type, t.Text)}
}

// parseExpr is the loosest precedence level: "->", right-associative.
func (p *Parser) parseExpr() (*specast.Node, error) {
	return p.parseArrow()
}

func (p *Parser) parseArrow() (*specast.Node, error) {
	lhs, err := p.parseSince()
	if err != nil {
		return nil, err
	}
	if p.cur().Type == lexer.ARROW {
		pos := p.advance().Position
		rhs, err := p.parseArrow() // right-associative: recurse into self
		if err != nil {
			return nil, err
		}
		return specast.Binary(specast.KArrow, lhs, rhs, pos), nil
	}
	return lhs, nil
}

// parseSince: "S", left-associative.
func (p *Parser) parseSince() (*specast.Node, error) {
	lhs, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == lexer.S {
		pos := p.advance().Position
		rhs, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		lhs = specast.Binary(specast.KSince, lhs, rhs, pos)
	}
	return lhs, nil
}

// parseOr: "|", left-associative.
func (p *Parser) parseOr() (*specast.Node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == lexer.OR {
		pos := p.advance().Position
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = specast.Binary(specast.KOr, lhs, rhs, pos)
	}
	return lhs, nil
}

// parseAnd: "&", left-associative.
func (p *Parser) parseAnd() (*specast.Node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().Type == lexer.AND {
		pos := p.advance().Position
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = specast.Binary(specast.KAnd, lhs, rhs, pos)
	}
	return lhs, nil
}

// parseUnary handles the tightest-binding prefix operators: !, Y, O, H.
// They stack (e.g. "O H flag") by recursing into parseUnary itself.
func (p *Parser) parseUnary() (*specast.Node, error) {
	switch p.cur().Type {
	case lexer.NOT:
		pos := p.advance().Position
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return specast.Unary(specast.KNot, operand, pos), nil
	case lexer.Y:
		pos := p.advance().Position
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return specast.Unary(specast.KY, operand, pos), nil
	case lexer.O:
		pos := p.advance().Position
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return specast.Unary(specast.KO, operand, pos), nil
	case lexer.H:
		pos := p.advance().Position
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return specast.Unary(specast.KH, operand, pos), nil
	}
	return p.parseComparisonOrPrimary()
}

// parseComparisonOrPrimary parses a primary expression, then — only when
// that primary was a bare identifier — an optional trailing comparison
// operator and Term, per the grammar's "ID cmpop Term" production.
func (p *Parser) parseComparisonOrPrimary() (*specast.Node, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	// The documented grammar only allows "ID cmpop Term" on the left of a
	// comparison. The original source's parser was laxer and also accepted
	// an INT literal on the left (legal per the type checker's "comparing
	// two INT literals is legal" rule) — resolved Open Question, see
	// DESIGN.md: we follow the original's permissive behavior rather than
	// the stricter grammar doc.
	if primary.Kind != specast.KIdent && primary.Kind != specast.KIntLit {
		return primary, nil
	}

	if op, ok := cmpKind(p.cur().Type); ok {
		pos := p.advance().Position
		rhs, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return specast.Binary(op, primary, rhs, pos), nil
	}
	return primary, nil
}

func cmpKind(tt lexer.TokenType) (specast.Kind, bool) {
	switch tt {
	case lexer.EQ:
		return specast.KEq, true
	case lexer.NEQ:
		return specast.KNeq, true
	case lexer.GT:
		return specast.KGt, true
	case lexer.GTE:
		return specast.KGte, true
	case lexer.LT:
		return specast.KLt, true
	case lexer.LTE:
		return specast.KLte, true
	default:
		return 0, false
	}
}

// parseTerm parses the RHS of a comparison: an identifier or an integer
// literal. An integer literal is also accepted here when comparing two
// INT literals (spec §4.2: "comparing two INT literals is legal").
func (p *Parser) parseTerm() (*specast.Node, error) {
	t := p.cur()
	switch t.Type {
	case lexer.IDENT:
		p.advance()
		return specast.Ident(t.Text, t.Position), nil
	case lexer.INT:
		p.advance()
		v, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, &Error{t.Position.Line, t.Position.Column, "malformed integer literal: " + t.Text}
		}
		return specast.IntLit(v, t.Position), nil
	}
	return nil, &Error{t.Position.Line, t.Position.Column, fmt.Sprintf("expected identifier or integer, found %s %q", t.Type, t.Text)}
}

func (p *Parser) parsePrimary() (*specast.Node, error) {
	t := p.cur()
	switch t.Type {
	case lexer.TRUE:
		p.advance()
		return specast.BoolLit(true, t.Position), nil
	case lexer.FALSE:
		p.advance()
		return specast.BoolLit(false, t.Position), nil
	case lexer.IDENT:
		p.advance()
		return specast.Ident(t.Text, t.Position), nil
	case lexer.INT:
		return p.parseTerm()
	case lexer.LPAREN:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, &Error{t.Position.Line, t.Position.Column, fmt.Sprintf("unexpected token %s %q", t.Type, t.Text)}
}

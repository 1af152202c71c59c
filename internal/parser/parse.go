package parser

// This file implements the NaCl grammar (spec.md §4.1): a file is a
// sequence of blocks and attributes; a block is
// "WORD (WORD|STRING)* '{' block-items '}'"; an attribute is
// "key = expression". The recursive-descent shape (token push-back for
// lookahead, brace-based error recovery) follows the teacher's
// pkg/yang/parse.go; the productions themselves are NaCl's, not YANG's.

import (
	"fmt"
	"strconv"

	"github.com/salto-io/workspace-core/internal/element"
	werrors "github.com/salto-io/workspace-core/internal/errors"
)

type parser struct {
	lex    *lexer
	file   string
	pushed []*token
	errs   []*werrors.ParseError
}

func newParser(input, file string, errorRecovery bool) *parser {
	return &parser{lex: newLexer(input, file, errorRecovery), file: file}
}

func (p *parser) push(t *token) { p.pushed = append(p.pushed, t) }

func (p *parser) pop() *token {
	if n := len(p.pushed); n > 0 {
		t := p.pushed[n-1]
		p.pushed = p.pushed[:n-1]
		return t
	}
	return nil
}

func (p *parser) next() *token {
	if t := p.pop(); t != nil {
		return t
	}
	for {
		t := p.lex.NextToken()
		if t.Code() != tError {
			return t
		}
		// Lexical errors already recorded to errout by the lexer;
		// surface them as ParseErrors too and keep scanning.
		p.errs = append(p.errs, werrors.NewParseError(
			werrors.ParseSyntaxError, "lexical error near "+t.text,
			rangeOfToken(t), rangeOfToken(t)))
	}
}

func rangeOfToken(t *token) element.SourceRange {
	if t == nil {
		return element.SourceRange{}
	}
	start := element.Position{Line: t.line, Col: t.col, Byte: t.byte}
	end := element.Position{Line: t.line, Col: t.col + len([]rune(t.text)), Byte: t.byte + len(t.text)}
	return element.SourceRange{Filename: t.file, Start: start, End: end}
}

func spanRange(a, b element.SourceRange) element.SourceRange {
	return element.SourceRange{Filename: a.Filename, Start: a.Start, End: b.End}
}

// parseFile parses the entire contents of one file into top-level block
// items, with best-effort recovery: a syntax error is recorded and the
// parser resumes scanning at the next top-level boundary (spec.md §4.1).
func (p *parser) parseFile() []*BlockItem {
	var items []*BlockItem
	seen := map[string]element.SourceRange{}
	for {
		t := p.next()
		if t.Code() == tEOF {
			return items
		}
		if t.Code() == code('}') {
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "unexpected '}'", rangeOfToken(t), rangeOfToken(t)))
			continue
		}
		p.push(t)
		item, ok := p.parseBlockItem()
		if !ok {
			p.recover()
			continue
		}
		if !item.IsBlock {
			if prev, dup := seen[item.Key]; dup {
				p.errs = append(p.errs, werrors.NewParseError(
					werrors.ParseAttributeRedefined,
					fmt.Sprintf("Attribute redefined: %s (first defined at %s)", item.Key, prev),
					item.Range, item.Range))
			} else {
				seen[item.Key] = item.Range
			}
		}
		items = append(items, item)
	}
}

// recover skips tokens until the next top-level boundary: a brace-close
// back to depth zero, or EOF (spec.md §4.1 "resume at the next top-level
// boundary").
func (p *parser) recover() {
	depth := 0
	for {
		t := p.next()
		switch t.Code() {
		case tEOF:
			return
		case code('{'), code('('), code('['):
			depth++
		case code('}'), code(')'), code(']'):
			if depth == 0 {
				return
			}
			depth--
		}
	}
}

// parseBlockItem parses either "key = expr" or a block header followed
// by '{' block-items '}'.
func (p *parser) parseBlockItem() (*BlockItem, bool) {
	head := p.next()
	if head.Code() != tIdentifier {
		p.errs = append(p.errs, werrors.NewParseError(
			werrors.ParseSyntaxError, "expected a keyword or attribute name", rangeOfToken(head), rangeOfToken(head)))
		p.push(head)
		return nil, false
	}
	startRange := rangeOfToken(head)

	if next := p.next(); next.Code() == code('=') {
		expr, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		return &BlockItem{Key: head.text, Value: expr, Range: spanRange(startRange, expr.Range)}, true
	} else {
		p.push(next)
	}

	// Otherwise it's a block: WORD (WORD|STRING)* '{' ... '}'.
	block := &Block{Keyword: head.text}
	for {
		t := p.next()
		switch t.Code() {
		case tIdentifier, tString:
			block.Labels = append(block.Labels, t.text)
		case code('{'):
			items, closeRange, ok := p.parseBlockBody()
			block.Items = items
			block.Range = spanRange(startRange, closeRange)
			if !ok {
				return &BlockItem{IsBlock: true, Block: block, Range: block.Range}, false
			}
			return &BlockItem{IsBlock: true, Block: block, Range: block.Range}, true
		default:
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "expected '{' or a block label", rangeOfToken(t), rangeOfToken(t)))
			p.push(t)
			return nil, false
		}
	}
}

func (p *parser) parseBlockBody() ([]*BlockItem, element.SourceRange, bool) {
	var items []*BlockItem
	seen := map[string]element.SourceRange{}
	for {
		t := p.next()
		if t.Code() == code('}') {
			return items, rangeOfToken(t), true
		}
		if t.Code() == tEOF {
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "unexpected EOF, expected '}'", rangeOfToken(t), rangeOfToken(t)))
			return items, rangeOfToken(t), false
		}
		p.push(t)
		item, ok := p.parseBlockItem()
		if !ok {
			p.recover()
			continue
		}
		if !item.IsBlock {
			if prev, dup := seen[item.Key]; dup {
				p.errs = append(p.errs, werrors.NewParseError(
					werrors.ParseAttributeRedefined,
					fmt.Sprintf("Attribute redefined: %s (first defined at %s)", item.Key, prev),
					item.Range, item.Range))
			} else {
				seen[item.Key] = item.Range
			}
		}
		items = append(items, item)
	}
}

// parseExpr parses one expression: primitive, list, object, reference,
// call, template string, or (error-recovery mode only) wildcard.
func (p *parser) parseExpr() (*Expr, bool) {
	t := p.next()
	switch t.Code() {
	case tWildcard:
		return &Expr{Kind: ExprDynamic, Wildcard: true, Range: rangeOfToken(t)}, true
	case tString, tMLString:
		return p.parseTemplate(t), true
	case code('['):
		return p.parseList(t)
	case code('{'):
		return p.parseObject(t)
	case tIdentifier:
		return p.parseIdentifierExpr(t)
	default:
		p.errs = append(p.errs, werrors.NewParseError(
			werrors.ParseSyntaxError, "expected an expression", rangeOfToken(t), rangeOfToken(t)))
		p.push(t)
		return nil, false
	}
}

func (p *parser) parseList(open *token) (*Expr, bool) {
	expr := &Expr{Kind: ExprList}
	if t := p.next(); t.Code() == code(']') {
		expr.Range = spanRange(rangeOfToken(open), rangeOfToken(t))
		return expr, true
	} else {
		p.push(t)
	}
	for {
		item, ok := p.parseExpr()
		if !ok {
			p.recover()
			return expr, false
		}
		expr.Items = append(expr.Items, item)
		t := p.next()
		switch t.Code() {
		case code(','):
			continue
		case code(']'):
			expr.Range = spanRange(rangeOfToken(open), rangeOfToken(t))
			return expr, true
		default:
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "expected ',' or ']'", rangeOfToken(t), rangeOfToken(t)))
			p.push(t)
			return expr, false
		}
	}
}

func (p *parser) parseObject(open *token) (*Expr, bool) {
	expr := &Expr{Kind: ExprObject, Fields: map[string]*Expr{}}
	if t := p.next(); t.Code() == code('}') {
		expr.Range = spanRange(rangeOfToken(open), rangeOfToken(t))
		return expr, true
	} else {
		p.push(t)
	}
	for {
		key := p.next()
		if key.Code() != tIdentifier && key.Code() != tString {
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "expected an object key", rangeOfToken(key), rangeOfToken(key)))
			p.push(key)
			return expr, false
		}
		if eq := p.next(); eq.Code() != code('=') {
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "expected '=' after object key", rangeOfToken(eq), rangeOfToken(eq)))
			p.push(eq)
			return expr, false
		}
		val, ok := p.parseExpr()
		if !ok {
			p.recover()
			return expr, false
		}
		if _, dup := expr.Fields[key.text]; !dup {
			expr.FieldOrder = append(expr.FieldOrder, key.text)
		}
		expr.Fields[key.text] = val

		t := p.next()
		switch t.Code() {
		case code(','):
			continue
		case code('}'):
			expr.Range = spanRange(rangeOfToken(open), rangeOfToken(t))
			return expr, true
		default:
			p.errs = append(p.errs, werrors.NewParseError(
				werrors.ParseSyntaxError, "expected ',' or '}'", rangeOfToken(t), rangeOfToken(t)))
			p.push(t)
			return expr, false
		}
	}
}

// parseIdentifierExpr decides, from one identifier token, whether it's a
// primitive literal (number/boolean), a function call (identifier
// immediately followed by '('), or a bare reference path.
func (p *parser) parseIdentifierExpr(t *token) (*Expr, bool) {
	if n := p.next(); n.Code() == code('(') {
		call := &Expr{Kind: ExprCall, Call: t.text}
		if c := p.next(); c.Code() == code(')') {
			call.Range = spanRange(rangeOfToken(t), rangeOfToken(c))
			return call, true
		} else {
			p.push(c)
		}
		for {
			arg, ok := p.parseExpr()
			if !ok {
				p.recover()
				return call, false
			}
			call.Args = append(call.Args, arg)
			c := p.next()
			switch c.Code() {
			case code(','):
				continue
			case code(')'):
				call.Range = spanRange(rangeOfToken(t), rangeOfToken(c))
				return call, true
			default:
				p.errs = append(p.errs, werrors.NewParseError(
					werrors.ParseSyntaxError, "expected ',' or ')'", rangeOfToken(c), rangeOfToken(c)))
				p.push(c)
				return call, false
			}
		}
	} else {
		p.push(n)
	}

	if b, ok := parseBool(t.text); ok {
		return &Expr{Kind: ExprPrimitive, Primitive: b, Range: rangeOfToken(t)}, true
	}
	if f, err := strconv.ParseFloat(t.text, 64); err == nil {
		return &Expr{Kind: ExprPrimitive, Primitive: f, Range: rangeOfToken(t)}, true
	}
	return &Expr{Kind: ExprReference, Ref: t.text, Range: rangeOfToken(t)}, true
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// parseTemplate splits a dequoted string's text into literal/reference
// fragments on "${...}", per spec.md §4.1's string-and-template handling.
// A template with no reference fragments collapses to a plain primitive
// string.
func (p *parser) parseTemplate(t *token) *Expr {
	parts := splitTemplate(t.text)
	if len(parts) == 1 && parts[0].RefPath == "" {
		return &Expr{Kind: ExprPrimitive, Primitive: parts[0].Literal, Range: rangeOfToken(t)}
	}
	return &Expr{Kind: ExprTemplate, Template: parts, Range: rangeOfToken(t)}
}

func splitTemplate(s string) []TemplatePart {
	var parts []TemplatePart
	var lit []byte
	i := 0
	for i < len(s) {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			if end := indexByte(s, i+2, '}'); end >= 0 {
				if len(lit) > 0 {
					parts = append(parts, TemplatePart{Literal: string(lit)})
					lit = nil
				}
				parts = append(parts, TemplatePart{RefPath: s[i+2 : end]})
				i = end + 1
				continue
			}
		}
		lit = append(lit, s[i])
		i++
	}
	if len(lit) > 0 || len(parts) == 0 {
		parts = append(parts, TemplatePart{Literal: string(lit)})
	}
	return parts
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Parse parses the full contents of one file into top-level block items
// plus any parse errors collected along the way. path identifies the
// source for diagnostics. errorRecovery enables the '*' wildcard token
// (spec.md §4.1, §9 "compile-time constant of the parser session").
func Parse(input, path string, errorRecovery bool) ([]*BlockItem, []*werrors.ParseError) {
	p := newParser(input, path, errorRecovery)
	items := p.parseFile()
	return items, p.errs
}

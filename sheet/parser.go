// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Statement is one top-level or nested construct in a stylesheet.
type Statement interface{ stmt() }

// RuleStatement is a style rule: a selector with a block of declarations
// and nested rules.
type RuleStatement struct {
	Selector string
	Body     []Statement
	Span     Span
}

// DeclStatement is a property declaration inside a rule.
type DeclStatement struct {
	Name  string
	Value Expr
	Span  Span
}

// ImportStatement loads another stylesheet.
type ImportStatement struct {
	Specifier string
	Span      Span
}

// DirectiveStatement is a diagnostic at-rule: @debug, @warn, or @error.
type DirectiveStatement struct {
	Name string
	Expr Expr
	Span Span
}

func (*RuleStatement) stmt()      {}
func (*DeclStatement) stmt()      {}
func (*ImportStatement) stmt()    {}
func (*DirectiveStatement) stmt() {}

// Expr is one expression in a declaration value or directive.
type Expr interface{ expr() }

// LiteralExpr wraps an already-constructed value.
type LiteralExpr struct {
	Value Value
	Span  Span
}

// BinaryExpr is an arithmetic operation.
type BinaryExpr struct {
	Op          string
	Left, Right Expr
	Span        Span
}

// CallExpr is a function invocation with positional and named arguments.
type CallExpr struct {
	Name       string
	Positional []Expr
	NamedNames []string
	NamedExprs []Expr
	Span       Span
}

// ListExpr is a comma- or space-separated sequence of expressions.
type ListExpr struct {
	Items     []Expr
	Separator Separator
	Brackets  bool
	Span      Span
}

func (*LiteralExpr) expr() {}
func (*BinaryExpr) expr()  {}
func (*CallExpr) expr()    {}
func (*ListExpr) expr()    {}

// Stylesheet is a parsed source file.
type Stylesheet struct {
	Nodes []Statement
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokHexColor
	tokPunct
)

type token struct {
	kind  tokenKind
	text  string // ident text, string contents, punct
	value float64
	unit  string
	pos   int
}

type parser struct {
	src    string
	url    string
	tokens []token
	i      int
}

// ParseStylesheet parses source text into a stylesheet AST.
func ParseStylesheet(src, sourceURL string) (*Stylesheet, error) {
	p := &parser{src: src, url: sourceURL}
	sheet := &Stylesheet{}
	pos := 0
	for {
		pos = skipSpace(src, pos)
		if pos >= len(src) {
			return sheet, nil
		}
		stmt, next, err := p.parseStatement(pos)
		if err != nil {
			return nil, err
		}
		sheet.Nodes = append(sheet.Nodes, stmt)
		pos = next
	}
}

// ParseValue parses and statically evaluates a standalone expression, used
// for literal defaults in function signatures.
func ParseValue(src string) (Value, error) {
	p := &parser{src: src}
	if err := p.lexRange(0, len(src)); err != nil {
		return nil, err
	}
	expr, err := p.parseCommaList()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected trailing input in %q", src)
	}
	return staticEval(expr)
}

// parseStatement parses one statement starting at a byte offset, returning
// the statement and the offset just past it.
func (p *parser) parseStatement(pos int) (Statement, int, error) {
	if p.src[pos] == '@' {
		return p.parseAtRule(pos)
	}
	// A style rule: raw selector text up to the block opener.
	open := strings.IndexByte(p.src[pos:], '{')
	if open < 0 {
		return nil, 0, p.syntaxError(pos, "expected \"{\"")
	}
	selector := strings.TrimSpace(p.src[pos : pos+open])
	if selector == "" {
		return nil, 0, p.syntaxError(pos, "expected selector")
	}
	body, next, err := p.parseBlock(pos + open + 1)
	if err != nil {
		return nil, 0, err
	}
	return &RuleStatement{Selector: selector, Body: body, Span: p.span(pos, next)}, next, nil
}

// parseAtRule parses @import, @debug, @warn, and @error.
func (p *parser) parseAtRule(pos int) (Statement, int, error) {
	nameEnd := pos + 1
	for nameEnd < len(p.src) && isIdentByte(p.src[nameEnd]) {
		nameEnd++
	}
	name := p.src[pos+1 : nameEnd]
	rest := skipSpace(p.src, nameEnd)

	switch name {
	case "import":
		if rest >= len(p.src) || (p.src[rest] != '"' && p.src[rest] != '\'') {
			return nil, 0, p.syntaxError(rest, "expected string after @import")
		}
		quote := p.src[rest]
		end := strings.IndexByte(p.src[rest+1:], quote)
		if end < 0 {
			return nil, 0, p.syntaxError(rest, "unterminated string")
		}
		specifier := p.src[rest+1 : rest+1+end]
		next := skipSpace(p.src, rest+end+2)
		if next < len(p.src) && p.src[next] == ';' {
			next++
		}
		return &ImportStatement{Specifier: specifier, Span: p.span(pos, next)}, next, nil

	case "debug", "warn", "error":
		end := statementEnd(p.src, rest)
		if err := p.lexRange(rest, end); err != nil {
			return nil, 0, err
		}
		expr, err := p.parseCommaList()
		if err != nil {
			return nil, 0, err
		}
		next := end
		if next < len(p.src) && p.src[next] == ';' {
			next++
		}
		return &DirectiveStatement{Name: name, Expr: expr, Span: p.span(pos, next)}, next, nil

	default:
		return nil, 0, p.syntaxError(pos, "unknown at-rule @%s", name)
	}
}

// parseBlock parses declarations and nested rules until the closing brace.
// pos points just past the opening brace.
func (p *parser) parseBlock(pos int) ([]Statement, int, error) {
	var body []Statement
	for {
		pos = skipSpace(p.src, pos)
		if pos >= len(p.src) {
			return nil, 0, p.syntaxError(pos, "expected \"}\"")
		}
		switch p.src[pos] {
		case '}':
			return body, pos + 1, nil
		case ';':
			pos++
			continue
		case '@':
			stmt, next, err := p.parseAtRule(pos)
			if err != nil {
				return nil, 0, err
			}
			body = append(body, stmt)
			pos = next
			continue
		}

		// Distinguish a declaration ("name: value") from a nested rule
		// ("selector {"): whichever of ':' or '{' comes first wins.
		colon, brace := delimiterIndexes(p.src, pos)
		if brace >= 0 && (colon < 0 || brace < colon) {
			stmt, next, err := p.parseStatement(pos)
			if err != nil {
				return nil, 0, err
			}
			body = append(body, stmt)
			pos = next
			continue
		}
		if colon < 0 {
			return nil, 0, p.syntaxError(pos, "expected \":\"")
		}

		name := strings.TrimSpace(p.src[pos:colon])
		if name == "" {
			return nil, 0, p.syntaxError(pos, "expected property name")
		}
		valueStart := colon + 1
		valueEnd := statementEnd(p.src, valueStart)
		if err := p.lexRange(valueStart, valueEnd); err != nil {
			return nil, 0, err
		}
		expr, err := p.parseCommaList()
		if err != nil {
			return nil, 0, err
		}
		if p.peek().kind != tokEOF {
			return nil, 0, p.syntaxError(p.peek().pos, "unexpected token in declaration value")
		}
		body = append(body, &DeclStatement{Name: name, Value: expr, Span: p.span(pos, valueEnd)})
		pos = valueEnd
	}
}

// delimiterIndexes finds the next top-level ':' and '{' after pos, stopping
// at ';' or '}'. Parentheses shield their contents.
func delimiterIndexes(src string, pos int) (colon, brace int) {
	colon, brace = -1, -1
	depth := 0
	for i := pos; i < len(src); i++ {
		switch src[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ':':
			if depth == 0 && colon < 0 {
				colon = i
			}
		case '{':
			if depth == 0 {
				brace = i
				return
			}
		case ';', '}':
			if depth == 0 {
				return
			}
		}
	}
	return
}

// statementEnd finds the end of a declaration value: the next top-level ';'
// or '}' (exclusive), or end of input.
func statementEnd(src string, pos int) int {
	depth := 0
	for i := pos; i < len(src); i++ {
		switch src[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ';', '}':
			if depth == 0 {
				return i
			}
		}
	}
	return len(src)
}

// --- expression lexing ------------------------------------------------

// lexRange tokenizes src[start:end] and resets the token cursor.
func (p *parser) lexRange(start, end int) error {
	p.tokens = p.tokens[:0]
	p.i = 0
	i := start
	for {
		i = skipSpace(p.src[:end], i)
		if i >= end {
			p.tokens = append(p.tokens, token{kind: tokEOF, pos: end})
			return nil
		}
		c := p.src[i]
		switch {
		case c == '"' || c == '\'':
			close := strings.IndexByte(p.src[i+1:end], c)
			if close < 0 {
				return p.syntaxError(i, "unterminated string")
			}
			p.tokens = append(p.tokens, token{kind: tokString, text: p.src[i+1 : i+1+close], pos: i})
			i += close + 2

		case c >= '0' && c <= '9' || c == '.' && i+1 < end && p.src[i+1] >= '0' && p.src[i+1] <= '9':
			tok, next, err := p.lexNumber(i, end, false)
			if err != nil {
				return err
			}
			p.tokens = append(p.tokens, tok)
			i = next

		case c == '-' && i+1 < end && (p.src[i+1] >= '0' && p.src[i+1] <= '9' || p.src[i+1] == '.') && !p.lastTokenIsOperand():
			tok, next, err := p.lexNumber(i+1, end, true)
			if err != nil {
				return err
			}
			p.tokens = append(p.tokens, tok)
			i = next

		case c == '#':
			j := i + 1
			for j < end && isHexByte(p.src[j]) {
				j++
			}
			if j == i+1 {
				return p.syntaxError(i, "expected hex digits after \"#\"")
			}
			p.tokens = append(p.tokens, token{kind: tokHexColor, text: p.src[i+1 : j], pos: i})
			i = j

		case isIdentStartByte(c) || c == '$':
			j := i + 1
			for j < end && isIdentByte(p.src[j]) {
				j++
			}
			p.tokens = append(p.tokens, token{kind: tokIdent, text: p.src[i:j], pos: i})
			i = j

		case strings.IndexByte("()[],:+-*/", c) >= 0:
			p.tokens = append(p.tokens, token{kind: tokPunct, text: string(c), pos: i})
			i++

		default:
			return p.syntaxError(i, "unexpected character %q", c)
		}
	}
}

func (p *parser) lexNumber(start, end int, negative bool) (token, int, error) {
	j := start
	for j < end && (p.src[j] >= '0' && p.src[j] <= '9' || p.src[j] == '.') {
		j++
	}
	value, err := strconv.ParseFloat(p.src[start:j], 64)
	if err != nil {
		return token{}, 0, p.syntaxError(start, "invalid number")
	}
	unitStart := j
	if j < end && p.src[j] == '%' {
		j++
	} else {
		for j < end && isIdentByte(p.src[j]) {
			j++
		}
	}
	if negative {
		value = -value
	}
	return token{kind: tokNumber, value: value, unit: p.src[unitStart:j], pos: start}, j, nil
}

// lastTokenIsOperand reports whether the previous token can end an operand,
// which makes a following '-' a binary operator rather than a sign.
func (p *parser) lastTokenIsOperand() bool {
	if len(p.tokens) == 0 {
		return false
	}
	last := p.tokens[len(p.tokens)-1]
	switch last.kind {
	case tokNumber, tokIdent, tokString, tokHexColor:
		return true
	case tokPunct:
		return last.text == ")" || last.text == "]"
	}
	return false
}

// --- expression parsing -------------------------------------------------

func (p *parser) peek() token { return p.tokens[p.i] }
func (p *parser) next() token { t := p.tokens[p.i]; p.i++; return t }
func (p *parser) backup()     { p.i-- }

func (p *parser) acceptPunct(text string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == text {
		p.i++
		return true
	}
	return false
}

func (p *parser) parseCommaList() (Expr, error) {
	first, err := p.parseSpaceList()
	if err != nil {
		return nil, err
	}
	if !p.acceptPunct(",") {
		return first, nil
	}
	items := []Expr{first}
	for {
		item, err := p.parseSpaceList()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.acceptPunct(",") {
			break
		}
	}
	return &ListExpr{Items: items, Separator: SeparatorComma}, nil
}

func (p *parser) parseSpaceList() (Expr, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	var items []Expr
	for p.startsOperand() {
		item, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []Expr{first}
		}
		items = append(items, item)
	}
	if items == nil {
		return first, nil
	}
	return &ListExpr{Items: items, Separator: SeparatorSpace}, nil
}

// startsOperand reports whether the next token can begin an operand (for
// space-list juxtaposition).
func (p *parser) startsOperand() bool {
	t := p.peek()
	switch t.kind {
	case tokNumber, tokIdent, tokString, tokHexColor:
		return true
	case tokPunct:
		return t.text == "(" || t.text == "["
	}
	return false
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: t.text, Left: left, Right: right, Span: p.span(t.pos, t.pos+1)}
	}
}

func (p *parser) parseProduct() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct || (t.text != "*" && t.text != "/") {
			return left, nil
		}
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: t.text, Left: left, Right: right, Span: p.span(t.pos, t.pos+1)}
	}
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		n := Number{Value: t.value}
		if t.unit != "" {
			n.Numerators = []string{t.unit}
		}
		return &LiteralExpr{Value: n, Span: p.span(t.pos, t.pos)}, nil

	case tokString:
		return &LiteralExpr{Value: String{Text: t.text, Quoted: true}, Span: p.span(t.pos, t.pos)}, nil

	case tokHexColor:
		color, err := parseHexColor(t.text)
		if err != nil {
			return nil, p.syntaxError(t.pos, "%v", err)
		}
		return &LiteralExpr{Value: color, Span: p.span(t.pos, t.pos)}, nil

	case tokIdent:
		if p.acceptPunct("(") {
			return p.parseCall(t)
		}
		switch t.text {
		case "true":
			return &LiteralExpr{Value: Bool(true), Span: p.span(t.pos, t.pos)}, nil
		case "false":
			return &LiteralExpr{Value: Bool(false), Span: p.span(t.pos, t.pos)}, nil
		case "null":
			return &LiteralExpr{Value: Null{}, Span: p.span(t.pos, t.pos)}, nil
		}
		return &LiteralExpr{Value: String{Text: t.text}, Span: p.span(t.pos, t.pos)}, nil

	case tokPunct:
		switch t.text {
		case "(":
			inner, err := p.parseCommaList()
			if err != nil {
				return nil, err
			}
			if !p.acceptPunct(")") {
				return nil, p.syntaxError(p.peek().pos, "expected \")\"")
			}
			return inner, nil
		case "[":
			if p.acceptPunct("]") {
				return &ListExpr{Separator: SeparatorUndecided, Brackets: true}, nil
			}
			inner, err := p.parseCommaList()
			if err != nil {
				return nil, err
			}
			if !p.acceptPunct("]") {
				return nil, p.syntaxError(p.peek().pos, "expected \"]\"")
			}
			if list, ok := inner.(*ListExpr); ok {
				list.Brackets = true
				return list, nil
			}
			return &ListExpr{Items: []Expr{inner}, Separator: SeparatorUndecided, Brackets: true}, nil
		}
	}
	return nil, p.syntaxError(t.pos, "expected expression")
}

// parseCall parses the argument list of name(...). The opening paren has
// been consumed.
func (p *parser) parseCall(name token) (Expr, error) {
	call := &CallExpr{Name: name.text, Span: p.span(name.pos, name.pos+len(name.text))}
	if p.acceptPunct(")") {
		return call, nil
	}
	for {
		// Named argument: $name: expr
		if t := p.peek(); t.kind == tokIdent && strings.HasPrefix(t.text, "$") {
			p.next()
			if !p.acceptPunct(":") {
				p.backup()
			} else {
				expr, err := p.parseSpaceList()
				if err != nil {
					return nil, err
				}
				call.NamedNames = append(call.NamedNames, t.text[1:])
				call.NamedExprs = append(call.NamedExprs, expr)
				if p.acceptPunct(",") {
					continue
				}
				break
			}
		}
		if len(call.NamedNames) > 0 {
			return nil, p.syntaxError(p.peek().pos, "positional arguments must come before named arguments")
		}
		expr, err := p.parseSpaceList()
		if err != nil {
			return nil, err
		}
		call.Positional = append(call.Positional, expr)
		if p.acceptPunct(",") {
			continue
		}
		break
	}
	if !p.acceptPunct(")") {
		return nil, p.syntaxError(p.peek().pos, "expected \")\"")
	}
	return call, nil
}

// --- helpers -------------------------------------------------------------

func parseHexColor(hex string) (Color, error) {
	expand := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		return b.String()
	}
	switch len(hex) {
	case 3:
		hex = expand(hex)
	case 6:
	default:
		return Color{}, fmt.Errorf("invalid hex color #%s", hex)
	}
	channel := func(i int) float64 {
		v, _ := strconv.ParseUint(hex[i:i+2], 16, 8)
		return float64(v)
	}
	return Color{Space: "rgb", Channel1: channel(0), Channel2: channel(2), Channel3: channel(4), Alpha: 1}, nil
}

// staticEval evaluates an expression made of literals only. It backs
// signature default parsing, where function calls and imports are illegal.
func staticEval(e Expr) (Value, error) {
	switch e := e.(type) {
	case *LiteralExpr:
		return e.Value, nil
	case *ListExpr:
		list := List{Separator: e.Separator, Brackets: e.Brackets}
		for _, item := range e.Items {
			v, err := staticEval(item)
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, v)
		}
		return list, nil
	case *BinaryExpr:
		left, err := staticEval(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := staticEval(e.Right)
		if err != nil {
			return nil, err
		}
		ln, lok := left.(Number)
		rn, rok := right.(Number)
		if !lok || !rok {
			return nil, fmt.Errorf("cannot apply %q to non-numeric values", e.Op)
		}
		return applyCalcOperator(e.Op, ln, rn)
	default:
		return nil, fmt.Errorf("expression is not a literal")
	}
}

func (p *parser) span(start, end int) Span {
	return makeSpan(p.src, p.url, start, end)
}

// makeSpan computes line/column positions for a byte range.
func makeSpan(src, sourceURL string, start, end int) Span {
	if start > len(src) {
		start = len(src)
	}
	if end < start {
		end = start
	}
	if end > len(src) {
		end = len(src)
	}
	return Span{
		Text:  src[start:end],
		Start: locationAt(src, start),
		End:   locationAt(src, end),
		URL:   sourceURL,
	}
}

func locationAt(src string, offset int) Location {
	line, col := 0, 0
	for i := 0; i < offset && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return Location{Offset: offset, Line: line, Column: col}
}

func skipSpace(src string, pos int) int {
	for pos < len(src) {
		c := src[pos]
		if c == '/' && pos+1 < len(src) && src[pos+1] == '*' {
			end := strings.Index(src[pos+2:], "*/")
			if end < 0 {
				return len(src)
			}
			pos += end + 4
			continue
		}
		if c == '/' && pos+1 < len(src) && src[pos+1] == '/' {
			nl := strings.IndexByte(src[pos:], '\n')
			if nl < 0 {
				return len(src)
			}
			pos += nl + 1
			continue
		}
		if !unicode.IsSpace(rune(c)) {
			return pos
		}
		pos++
	}
	return pos
}

func isIdentStartByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c >= 0x80
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || c == '-' || c >= '0' && c <= '9'
}

func isHexByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}

func (p *parser) syntaxError(pos int, format string, args ...any) error {
	span := makeSpan(p.src, p.url, pos, pos)
	return &CompileError{Message: fmt.Sprintf(format, args...), Span: &span}
}

// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"net/url"
	"strings"
)

// OutputStyle selects the CSS serialization format.
type OutputStyle int

const (
	StyleExpanded OutputStyle = iota
	StyleCompressed
)

// Logger receives diagnostic events emitted during a compilation. A nil
// logger discards them.
type Logger interface {
	// Warn reports an @warn directive or a deprecation warning.
	Warn(message string, span *Span, deprecation bool, trace string)
	// Debug reports an @debug directive.
	Debug(message string, span *Span)
}

// CompileOptions configures one compilation.
type CompileOptions struct {
	Style     OutputStyle
	Importers []Importer
	Functions map[string]*Function
	Logger    Logger
}

// CompileResult is the successful outcome of a compilation.
type CompileResult struct {
	CSS        string
	LoadedURLs []string
}

// cssRule is one flattened output rule.
type cssRule struct {
	selector     string
	declarations []string
}

type cachedLoad struct {
	source   *Source
	importer Importer
}

type evaluator struct {
	opts *CompileOptions
	// canonCache memoizes canonicalization per importer and specifier so a
	// repeated import costs no additional host round trip.
	canonCache map[string]*url.URL
	// loadCache memoizes loads by canonical URL; Load runs at most once per
	// distinct canonical URL per compilation.
	loadCache  map[string]*cachedLoad
	loadedURLs []string
	seenURLs   map[string]bool
	rules      []cssRule
	// importStack tracks active loads for cycle detection and stack traces.
	importStack []string
}

// Compile evaluates a stylesheet to CSS. Importer and function round trips
// happen through the interfaces on opts; the evaluator never sees a
// transport.
func Compile(entry *Source, opts *CompileOptions) (*CompileResult, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}
	ev := &evaluator{
		opts:       opts,
		canonCache: make(map[string]*url.URL),
		loadCache:  make(map[string]*cachedLoad),
		seenURLs:   make(map[string]bool),
	}
	if err := ev.evalSource(entry, nil); err != nil {
		if ce, ok := err.(*CompileError); ok {
			return nil, ce
		}
		return nil, &CompileError{Message: err.Error()}
	}
	return &CompileResult{CSS: ev.render(), LoadedURLs: ev.loadedURLs}, nil
}

func (ev *evaluator) evalSource(src *Source, importer Importer) error {
	sourceURL := ""
	if src.URL != nil {
		sourceURL = src.URL.String()
	}
	sheet, err := ParseStylesheet(src.Contents, sourceURL)
	if err != nil {
		return err
	}
	ev.importStack = append(ev.importStack, sourceURL)
	defer func() { ev.importStack = ev.importStack[:len(ev.importStack)-1] }()
	return ev.evalBody(sheet.Nodes, "", src, importer)
}

func (ev *evaluator) evalBody(nodes []Statement, selector string, src *Source, importer Importer) error {
	// ruleIdx indexes the rule currently receiving declarations; -1 when the
	// next declaration should open a new rule. Indexes stay valid across
	// appends, unlike pointers into the slice.
	ruleIdx := -1
	emit := func(decl string) {
		if ruleIdx < 0 {
			ev.rules = append(ev.rules, cssRule{selector: selector})
			ruleIdx = len(ev.rules) - 1
		}
		ev.rules[ruleIdx].declarations = append(ev.rules[ruleIdx].declarations, decl)
	}

	for _, node := range nodes {
		switch node := node.(type) {
		case *RuleStatement:
			nested := node.Selector
			if selector != "" {
				nested = selector + " " + node.Selector
			}
			// Nested rules close the current run of declarations.
			ruleIdx = -1
			if err := ev.evalBody(node.Body, nested, src, importer); err != nil {
				return err
			}

		case *DeclStatement:
			if selector == "" {
				return errorAt(&node.Span, "declarations may only be used within style rules")
			}
			value, err := ev.evalExpr(node.Value, src)
			if err != nil {
				return ev.attachSpan(err, &node.Span)
			}
			if _, isNull := value.(Null); isNull {
				continue
			}
			emit(node.Name + ": " + value.CSS())

		case *ImportStatement:
			ruleIdx = -1
			if err := ev.evalImport(node, src, importer); err != nil {
				return err
			}

		case *DirectiveStatement:
			value, err := ev.evalExpr(node.Expr, src)
			if err != nil {
				return ev.attachSpan(err, &node.Span)
			}
			switch node.Name {
			case "debug":
				if ev.opts.Logger != nil {
					ev.opts.Logger.Debug(value.CSS(), &node.Span)
				}
			case "warn":
				if ev.opts.Logger != nil {
					ev.opts.Logger.Warn(value.CSS(), &node.Span, false, ev.trace())
				}
			case "error":
				return errorAt(&node.Span, "%s", value.CSS())
			}
		}
	}
	return nil
}

// evalImport resolves and evaluates one @import per the importer order
// policy: the containing stylesheet's own importer first for relative
// re-imports, then the configured order.
func (ev *evaluator) evalImport(node *ImportStatement, src *Source, containingImporter Importer) error {
	ctx := &CanonicalizeContext{ContainingURL: src.URL, FromImport: true}

	order := make([]Importer, 0, len(ev.opts.Importers)+1)
	if containingImporter != nil {
		order = append(order, containingImporter)
	}
	for _, imp := range ev.opts.Importers {
		if imp != containingImporter {
			order = append(order, imp)
		}
	}

	for _, imp := range order {
		canonical, err := ev.canonicalize(imp, node.Specifier, ctx)
		if err != nil {
			return ev.attachSpan(err, &node.Span)
		}
		if canonical == nil {
			continue
		}
		if !canonical.IsAbs() {
			return errorAt(&node.Span,
				"importer returned a relative URL %q for %q; canonical URLs must be absolute",
				canonical, node.Specifier)
		}

		loaded, err := ev.load(imp, canonical)
		if err != nil {
			return ev.attachSpan(err, &node.Span)
		}
		if loaded == nil {
			continue
		}

		key := canonical.String()
		if ev.onStack(key) {
			return errorAt(&node.Span, "import loop detected: %s", key)
		}
		return ev.evalSource(loaded.source, loaded.importer)
	}
	return errorAt(&node.Span, "Can't find stylesheet to import.")
}

func (ev *evaluator) canonicalize(imp Importer, specifier string, ctx *CanonicalizeContext) (*url.URL, error) {
	containing := ""
	if ctx.ContainingURL != nil {
		containing = ctx.ContainingURL.String()
	}
	key := fmt.Sprintf("%p\x00%s\x00%s", imp, specifier, containing)
	if canonical, ok := ev.canonCache[key]; ok {
		return canonical, nil
	}
	canonical, err := imp.Canonicalize(specifier, ctx)
	if err != nil {
		return nil, err
	}
	if canonical != nil {
		ev.canonCache[key] = canonical
	}
	return canonical, nil
}

func (ev *evaluator) load(imp Importer, canonical *url.URL) (*cachedLoad, error) {
	key := canonical.String()
	if cached, ok := ev.loadCache[key]; ok {
		return cached, nil
	}
	source, err := imp.Load(canonical)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, nil
	}
	if source.URL == nil {
		source.URL = canonical
	}
	cached := &cachedLoad{source: source, importer: imp}
	ev.loadCache[key] = cached
	if !ev.seenURLs[key] {
		ev.seenURLs[key] = true
		ev.loadedURLs = append(ev.loadedURLs, key)
	}
	return cached, nil
}

func (ev *evaluator) onStack(canonicalURL string) bool {
	for _, active := range ev.importStack {
		if active == canonicalURL {
			return true
		}
	}
	return false
}

// --- expressions ----------------------------------------------------------

func (ev *evaluator) evalExpr(e Expr, src *Source) (Value, error) {
	switch e := e.(type) {
	case *LiteralExpr:
		return e.Value, nil

	case *ListExpr:
		list := List{Separator: e.Separator, Brackets: e.Brackets}
		for _, item := range e.Items {
			v, err := ev.evalExpr(item, src)
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, v)
		}
		return list, nil

	case *BinaryExpr:
		left, err := ev.evalExpr(e.Left, src)
		if err != nil {
			return nil, err
		}
		right, err := ev.evalExpr(e.Right, src)
		if err != nil {
			return nil, err
		}
		ln, lok := left.(Number)
		rn, rok := right.(Number)
		if !lok || !rok {
			// Non-numeric "+" concatenates the CSS renderings.
			if e.Op == "+" {
				return String{Text: left.CSS() + right.CSS()}, nil
			}
			return nil, errorAt(&e.Span, "undefined operation %q %s %q", left.CSS(), e.Op, right.CSS())
		}
		result, err := applyCalcOperator(e.Op, ln, rn)
		if err != nil {
			return nil, errorAt(&e.Span, "%v", err)
		}
		return result, nil

	case *CallExpr:
		return ev.evalCall(e, src)

	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (ev *evaluator) evalCall(call *CallExpr, src *Source) (Value, error) {
	if isCalculationName(call.Name) {
		return ev.evalCalculation(call, src)
	}

	fn := ev.opts.Functions[call.Name]
	if fn == nil {
		// Unknown functions pass through as plain CSS.
		return ev.renderPlainCall(call, src)
	}

	inv := &Invocation{Named: map[string]Value{}}
	for _, arg := range call.Positional {
		v, err := ev.evalExpr(arg, src)
		if err != nil {
			return nil, err
		}
		inv.Positional = append(inv.Positional, v)
	}
	for i, name := range call.NamedNames {
		v, err := ev.evalExpr(call.NamedExprs[i], src)
		if err != nil {
			return nil, err
		}
		inv.Named[name] = v
		inv.NamedOrder = append(inv.NamedOrder, name)
	}

	args, _, err := BindArguments(fn.Signature, inv)
	if err != nil {
		return nil, errorAt(&call.Span, "%v", capitalizeError(err))
	}
	result, err := fn.Call(args)
	if err != nil {
		return nil, ev.attachSpan(err, &call.Span)
	}
	return result, nil
}

func (ev *evaluator) renderPlainCall(call *CallExpr, src *Source) (Value, error) {
	parts := make([]string, 0, len(call.Positional))
	for _, arg := range call.Positional {
		v, err := ev.evalExpr(arg, src)
		if err != nil {
			return nil, err
		}
		parts = append(parts, v.CSS())
	}
	if len(call.NamedNames) > 0 {
		return nil, errorAt(&call.Span, "plain CSS function %s() doesn't support keyword arguments", call.Name)
	}
	return String{Text: call.Name + "(" + strings.Join(parts, ", ") + ")"}, nil
}

func isCalculationName(name string) bool {
	switch name {
	case "calc", "min", "max", "clamp":
		return true
	}
	return false
}

// evalCalculation builds a symbolic calculation from the call's arguments,
// keeping operations unevaluated, then simplifies it eagerly.
func (ev *evaluator) evalCalculation(call *CallExpr, src *Source) (Value, error) {
	if len(call.NamedNames) > 0 {
		return nil, errorAt(&call.Span, "%s() doesn't support keyword arguments", call.Name)
	}
	calc := Calculation{Name: call.Name}
	for _, arg := range call.Positional {
		cv, err := ev.calcValue(arg, src)
		if err != nil {
			return nil, err
		}
		calc.Args = append(calc.Args, cv)
	}
	result, err := SimplifyCalculation(calc)
	if err != nil {
		return nil, errorAt(&call.Span, "%v", err)
	}
	return result, nil
}

func (ev *evaluator) calcValue(e Expr, src *Source) (CalcValue, error) {
	switch e := e.(type) {
	case *BinaryExpr:
		left, err := ev.calcValue(e.Left, src)
		if err != nil {
			return nil, err
		}
		right, err := ev.calcValue(e.Right, src)
		if err != nil {
			return nil, err
		}
		return CalcOperation{Operator: e.Op, Left: left, Right: right}, nil
	case *CallExpr:
		if isCalculationName(e.Name) {
			inner, err := ev.evalCalculation(e, src)
			if err != nil {
				return nil, err
			}
			switch inner := inner.(type) {
			case Number:
				return CalcNumber{Number: inner}, nil
			case Calculation:
				return CalcNested{Calculation: inner}, nil
			}
		}
		value, err := ev.evalCall(e, src)
		if err != nil {
			return nil, err
		}
		return valueToCalc(value)
	default:
		value, err := ev.evalExpr(e, src)
		if err != nil {
			return nil, err
		}
		return valueToCalc(value)
	}
}

func valueToCalc(v Value) (CalcValue, error) {
	switch v := v.(type) {
	case Number:
		return CalcNumber{Number: v}, nil
	case String:
		if v.Quoted {
			return nil, fmt.Errorf("quoted string %s is not a valid calculation operand", v.CSS())
		}
		return CalcString{Text: v.Text}, nil
	case Calculation:
		return CalcNested{Calculation: v}, nil
	default:
		return nil, fmt.Errorf("%s is not a valid calculation operand", v.CSS())
	}
}

// --- output ---------------------------------------------------------------

func (ev *evaluator) render() string {
	var out []string
	for _, rule := range ev.rules {
		if len(rule.declarations) == 0 {
			continue
		}
		if ev.opts.Style == StyleCompressed {
			out = append(out, rule.selector+"{"+strings.Join(rule.declarations, ";")+"}")
		} else {
			out = append(out, rule.selector+" {\n  "+strings.Join(rule.declarations, ";\n  ")+";\n}")
		}
	}
	if ev.opts.Style == StyleCompressed {
		return strings.Join(out, "")
	}
	return strings.Join(out, "\n\n")
}

// --- error helpers ----------------------------------------------------

// attachSpan pins an error to a span and the current import trace unless it
// already carries one.
func (ev *evaluator) attachSpan(err error, span *Span) error {
	if ce, ok := err.(*CompileError); ok {
		if ce.Span == nil {
			ce.Span = span
		}
		if ce.Trace == "" {
			ce.Trace = ev.trace()
		}
		return ce
	}
	return &CompileError{Message: err.Error(), Span: span, Trace: ev.trace()}
}

func (ev *evaluator) trace() string {
	if len(ev.importStack) == 0 {
		return ""
	}
	frames := make([]string, 0, len(ev.importStack))
	for i := len(ev.importStack) - 1; i >= 0; i-- {
		frame := ev.importStack[i]
		if frame == "" {
			frame = "-"
		}
		frames = append(frames, frame)
	}
	return strings.Join(frames, "\n")
}

// capitalizeError uppercases the leading letter of binding errors so the
// messages match their wire form ("Missing argument $x.").
func capitalizeError(err error) error {
	msg := err.Error()
	if msg == "" {
		return err
	}
	upper := strings.ToUpper(msg[:1]) + msg[1:]
	if !strings.HasSuffix(upper, ".") {
		upper += "."
	}
	return fmt.Errorf("%s", upper)
}

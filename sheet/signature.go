// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"strings"
)

// Parameter is one declared parameter of a function signature.
type Parameter struct {
	Name    string
	Default Value // nil when the parameter has no default
}

// Signature is a parsed function declaration such as
// "shade($color, $amount: 10%)" or "join($items...)".
type Signature struct {
	Name      string
	Params    []Parameter
	RestParam string // "" when the signature declares no rest parameter
}

// Function is a callable the evaluator can invoke: a builtin or a remote
// proxy supplied by the protocol layer. Call receives the bound argument
// vector produced by BindArguments.
type Function struct {
	Name      string
	Signature *Signature
	Call      func(args []Value) (Value, error)
}

// ParseSignature parses a function signature string. The parameter list
// uses $-prefixed names, optional ": default" literals, and an optional
// trailing "$name..." rest parameter.
func ParseSignature(signature string) (*Signature, error) {
	open := strings.IndexByte(signature, '(')
	if open < 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("invalid signature %q: expected \"name(...)\"", signature)
	}
	name := strings.TrimSpace(signature[:open])
	if name == "" {
		return nil, fmt.Errorf("invalid signature %q: empty function name", signature)
	}
	sig := &Signature{Name: name}

	body := strings.TrimSpace(signature[open+1 : len(signature)-1])
	if body == "" {
		return sig, nil
	}
	for _, part := range splitTopLevel(body) {
		part = strings.TrimSpace(part)
		if sig.RestParam != "" {
			return nil, fmt.Errorf("invalid signature %q: rest parameter must be last", signature)
		}
		if !strings.HasPrefix(part, "$") {
			return nil, fmt.Errorf("invalid signature %q: parameter %q must start with $", signature, part)
		}
		if strings.HasSuffix(part, "...") {
			sig.RestParam = strings.TrimSpace(part[1 : len(part)-3])
			continue
		}
		name, def, hasDefault := strings.Cut(part[1:], ":")
		param := Parameter{Name: strings.TrimSpace(name)}
		if hasDefault {
			value, err := ParseValue(strings.TrimSpace(def))
			if err != nil {
				return nil, fmt.Errorf("invalid signature %q: default for $%s: %w", signature, param.Name, err)
			}
			param.Default = value
		}
		sig.Params = append(sig.Params, param)
	}
	return sig, nil
}

// splitTopLevel splits on commas that are not nested inside parentheses or
// brackets, so list and call defaults survive.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// Invocation is the argument set at a call site.
type Invocation struct {
	Positional []Value
	Named      map[string]Value
	NamedOrder []string
}

// BindArguments binds an invocation against a signature: positional
// arguments first, then named arguments by parameter name, then declared
// defaults, then any undeclared trailing positionals plus leftover named
// arguments collected into an ArgumentList when the signature has a rest
// parameter. The returned ArgumentList is nil when the signature has no
// rest parameter.
//
// Leftover named arguments without a rest parameter are an error before any
// host round-trip occurs.
func BindArguments(sig *Signature, inv *Invocation) ([]Value, *ArgumentList, error) {
	named := make(map[string]Value, len(inv.Named))
	for k, v := range inv.Named {
		named[k] = v
	}

	args := make([]Value, 0, len(sig.Params)+1)
	positional := inv.Positional

	for _, param := range sig.Params {
		switch {
		case len(positional) > 0:
			if _, dup := named[param.Name]; dup {
				return nil, nil, fmt.Errorf("argument $%s was passed both by position and by name", param.Name)
			}
			args = append(args, positional[0])
			positional = positional[1:]
		case named[param.Name] != nil:
			args = append(args, named[param.Name])
			delete(named, param.Name)
		case param.Default != nil:
			args = append(args, param.Default)
		default:
			return nil, nil, fmt.Errorf("missing argument $%s", param.Name)
		}
	}

	if sig.RestParam == "" {
		if len(positional) > 0 {
			plural := "arguments"
			if len(sig.Params) == 1 {
				plural = "argument"
			}
			return nil, nil, fmt.Errorf("only %d %s allowed, but %d were passed",
				len(sig.Params), plural, len(inv.Positional))
		}
		if len(named) > 0 {
			return nil, nil, fmt.Errorf("no argument named $%s", firstNamed(inv.NamedOrder, named))
		}
		return args, nil, nil
	}

	rest := &ArgumentList{
		Items:     append([]Value(nil), positional...),
		Keywords:  named,
		Separator: SeparatorComma,
	}
	for _, name := range inv.NamedOrder {
		if _, ok := named[name]; ok {
			rest.KeywordOrder = append(rest.KeywordOrder, name)
		}
	}
	args = append(args, rest)
	return args, rest, nil
}

// firstNamed returns the first leftover named argument in call order.
func firstNamed(order []string, leftover map[string]Value) string {
	for _, name := range order {
		if _, ok := leftover[name]; ok {
			return name
		}
	}
	for name := range leftover {
		return name
	}
	return ""
}

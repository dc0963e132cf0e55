// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"strings"
)

// Value is one runtime value in the stylesheet language. The concrete types
// below form a closed union; the protocol layer marshals exactly this set.
type Value interface {
	value()
	// CSS renders the value the way it appears in emitted CSS.
	CSS() string
}

// Separator is the delimiter between list items.
type Separator int

const (
	// SeparatorUndecided marks a list whose separator is not yet observable,
	// which is only legal for lists with fewer than two items.
	SeparatorUndecided Separator = iota
	SeparatorComma
	SeparatorSpace
	SeparatorSlash
)

func (s Separator) String() string {
	switch s {
	case SeparatorComma:
		return ", "
	case SeparatorSpace:
		return " "
	case SeparatorSlash:
		return " / "
	default:
		return " "
	}
}

// String is a quoted or unquoted string value.
type String struct {
	Text   string
	Quoted bool
}

func (String) value() {}

func (s String) CSS() string {
	if s.Quoted {
		return `"` + strings.ReplaceAll(s.Text, `"`, `\"`) + `"`
	}
	return s.Text
}

// Color is a color in an explicit color space with three channels and alpha.
type Color struct {
	Space    string
	Channel1 float64
	Channel2 float64
	Channel3 float64
	Alpha    float64
}

func (Color) value() {}

func (c Color) CSS() string {
	if c.Space == "rgb" {
		if c.Alpha == 1 {
			return fmt.Sprintf("rgb(%s, %s, %s)",
				formatFloat(c.Channel1), formatFloat(c.Channel2), formatFloat(c.Channel3))
		}
		return fmt.Sprintf("rgba(%s, %s, %s, %s)",
			formatFloat(c.Channel1), formatFloat(c.Channel2), formatFloat(c.Channel3), formatFloat(c.Alpha))
	}
	if c.Alpha == 1 {
		return fmt.Sprintf("color(%s %s %s %s)",
			c.Space, formatFloat(c.Channel1), formatFloat(c.Channel2), formatFloat(c.Channel3))
	}
	return fmt.Sprintf("color(%s %s %s %s / %s)",
		c.Space, formatFloat(c.Channel1), formatFloat(c.Channel2), formatFloat(c.Channel3), formatFloat(c.Alpha))
}

// List is an ordered sequence of values with a separator and optional
// square brackets.
type List struct {
	Items     []Value
	Separator Separator
	Brackets  bool
}

func (List) value() {}

func (l List) CSS() string {
	parts := make([]string, len(l.Items))
	for i, item := range l.Items {
		parts[i] = item.CSS()
	}
	body := strings.Join(parts, l.Separator.String())
	if l.Brackets {
		return "[" + body + "]"
	}
	return body
}

// Map is an association of values preserving insertion order.
type Map struct {
	Keys   []Value
	Values []Value
}

func (Map) value() {}

func (m Map) CSS() string {
	parts := make([]string, len(m.Keys))
	for i := range m.Keys {
		parts[i] = m.Keys[i].CSS() + ": " + m.Values[i].CSS()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ArgumentList is a list that additionally carries keyword arguments. ID is
// assigned by the protocol layer when the list crosses the wire so the host
// can reference it later; it is zero for lists that never left the process.
type ArgumentList struct {
	ID           uint32
	Items        []Value
	Keywords     map[string]Value
	KeywordOrder []string
	Separator    Separator
}

func (*ArgumentList) value() {}

func (a *ArgumentList) CSS() string {
	parts := make([]string, len(a.Items))
	for i, item := range a.Items {
		parts[i] = item.CSS()
	}
	return strings.Join(parts, a.Separator.String())
}

// Bool is the true or false singleton.
type Bool bool

func (Bool) value() {}

func (b Bool) CSS() string {
	if b {
		return "true"
	}
	return "false"
}

// Null is the null singleton. It renders as nothing in CSS output.
type Null struct{}

func (Null) value() {}

func (Null) CSS() string { return "" }

// CompilerFunction is a first-class reference to a function defined inside
// the compiler, addressable across the wire by an opaque handle.
type CompilerFunction struct {
	Handle uint32
}

func (CompilerFunction) value() {}

func (CompilerFunction) CSS() string { return "" }

// HostFunction is a first-class reference to a function defined by the host,
// addressable by the host-assigned handle. Signature is the declared
// parameter list, e.g. "shade($color, $amount: 10%)".
type HostFunction struct {
	Handle    uint32
	Signature string
}

func (HostFunction) value() {}

func (HostFunction) CSS() string { return "" }

// formatFloat renders a float the way CSS output expects: no exponent, no
// trailing zeros, "0.5" not ".5".
func formatFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	if strings.ContainsAny(s, "eE") {
		s = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
	}
	return s
}

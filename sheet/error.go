// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"strings"
)

// Location is one position inside a source file.
type Location struct {
	Offset int
	Line   int // zero-based
	Column int // zero-based
}

// Span is a region of a source file attached to a diagnostic.
type Span struct {
	Text    string
	Start   Location
	End     Location
	URL     string
	Context string
}

// CompileError is a failure of one compilation: a syntax error, an
// unresolvable import, a host-side importer or function error, or a runtime
// value error. It is an ordinary per-compilation outcome, never fatal to
// the process.
type CompileError struct {
	Message string
	Span    *Span
	Trace   string
}

func (e *CompileError) Error() string {
	return e.Message
}

// Formatted renders the human-readable multi-line error text that crosses
// the wire alongside the structured fields.
func (e *CompileError) Formatted() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	if e.Span != nil {
		fmt.Fprintf(&b, "\n  %s %d:%d", spanURL(e.Span), e.Span.Start.Line+1, e.Span.Start.Column+1)
		if e.Span.Text != "" {
			fmt.Fprintf(&b, "  %s", e.Span.Text)
		}
	}
	if e.Trace != "" {
		b.WriteString("\n")
		b.WriteString(e.Trace)
	}
	return b.String()
}

func spanURL(s *Span) string {
	if s.URL == "" {
		return "-"
	}
	return s.URL
}

// errorAt builds a CompileError pinned to a span.
func errorAt(span *Span, format string, args ...any) *CompileError {
	return &CompileError{Message: fmt.Sprintf(format, args...), Span: span}
}

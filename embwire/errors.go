// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"fmt"
)

// ProtocolErrorClass classifies a protocol violation.
type ProtocolErrorClass int32

const (
	// ErrorClassParse marks a frame or message that could not be decoded at
	// all: bad varints, truncated bodies, unknown top-level message kinds.
	ErrorClassParse ProtocolErrorClass = iota
	// ErrorClassParams marks a message that decoded but violates the
	// protocol: duplicate compilation ids, response ids with no outstanding
	// request, mismatched response kinds, invalid importer entries.
	ErrorClassParams
	// ErrorClassInternal marks a bug in the compiler process itself.
	ErrorClassInternal
)

func (c ProtocolErrorClass) String() string {
	switch c {
	case ErrorClassParse:
		return "PARSE"
	case ErrorClassParams:
		return "PARAMS"
	case ErrorClassInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("ProtocolErrorClass(%d)", int32(c))
	}
}

// ErrProtocol is a sentinel for use with errors.Is to check whether any
// error in a chain is a *ProtocolError.
var ErrProtocol = &ProtocolError{}

// ProtocolError represents a malformed-communication condition. Protocol
// errors are always fatal: the dispatcher reports the error once on the
// reserved error id and the process exits with [ProtocolErrorExitCode].
// They are disjoint from compile failures, which are ordinary
// per-compilation outcomes reported as CompileResponse data.
type ProtocolError struct {
	Class ProtocolErrorClass
	// CompilationID is the compilation the violation belongs to, or
	// [ErrorCompilationID] when it was detected before any compilation
	// context existed.
	CompilationID uint32
	Message       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Is supports errors.Is by matching any *ProtocolError target.
func (e *ProtocolError) Is(target error) bool {
	_, ok := target.(*ProtocolError)
	return ok
}

func parseError(format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Class:         ErrorClassParse,
		CompilationID: ErrorCompilationID,
		Message:       fmt.Sprintf(format, args...),
	}
}

func paramsError(compilationID uint32, format string, args ...any) *ProtocolError {
	return &ProtocolError{
		Class:         ErrorClassParams,
		CompilationID: compilationID,
		Message:       fmt.Sprintf(format, args...),
	}
}

// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"context"
)

// Input kind string constants for CompileInfo.InputKind.
const (
	CompileInputString = "string"
	CompileInputPath   = "path"
)

// CompileHook provides observability callpoints around compilations.
// Implementations must be safe for concurrent use; compilations overlap.
type CompileHook interface {
	OnCompileStart(ctx context.Context, info CompileInfo) (context.Context, HookToken)
	OnCompileEnd(ctx context.Context, token HookToken, info CompileInfo, stats *CompileStatistics, err error)
}

// HookToken is an opaque value returned by OnCompileStart and passed back to
// OnCompileEnd. Only meaningful to the CompileHook that created it.
type HookToken interface{}

// CompileInfo carries compilation metadata passed to hooks.
type CompileInfo struct {
	CompilationID uint32 // packet compilation id
	InputKind     string // CompileInputString or CompileInputPath
	Entry         string // entry URL or path
	Style         string // "expanded" or "compressed"
}

// CompileStatistics holds per-compilation I/O counters.
type CompileStatistics struct {
	HostRequests int64
	LogEvents    int64
	LoadedURLs   int64
	CSSBytes     int64
}

// RecordHostRequest records one importer or function round trip to the host.
func (s *CompileStatistics) RecordHostRequest() {
	s.HostRequests++
}

// RecordLogEvent records one relayed warning or debug message.
func (s *CompileStatistics) RecordLogEvent() {
	s.LogEvents++
}

// styleString maps an output style to its hook label.
func styleString(s OutputStyle) string {
	if s == StyleCompressed {
		return "compressed"
	}
	return "expanded"
}

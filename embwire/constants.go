// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

// Well-known protocol constants.
const (
	// ProtocolVersion is the wire protocol version reported by
	// VersionResponse.
	ProtocolVersion = "3.2.0"

	// CompilerVersion is the version of this compiler implementation.
	CompilerVersion = "0.4.0"

	// ImplementationName identifies this implementation in VersionResponse.
	ImplementationName = "embwire"

	// GlobalCompilationID carries messages that are not scoped to any
	// compilation: VersionRequest and VersionResponse.
	GlobalCompilationID uint32 = 0

	// ErrorCompilationID is the reserved sentinel identifying protocol
	// errors detected before a compilation context exists. It is rendered
	// as -1 in error text and never valid inbound.
	ErrorCompilationID uint32 = 0xFFFFFFFF

	// ProtocolErrorExitCode is the process exit status reserved exclusively
	// for protocol-layer violations, distinct from ordinary compile
	// failures (which are reported as data) and from graceful shutdown
	// (status 0).
	ProtocolErrorExitCode = 76
)

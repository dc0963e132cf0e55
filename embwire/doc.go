// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Package embwire implements the compiler side of an embedded stylesheet
// compilation protocol: a host process launches the compiler as a
// subprocess and exchanges length-prefixed binary frames with it over
// stdin/stdout.
//
// # Wire format
//
// Each frame is a varint byte length followed by that many payload bytes.
// A payload is one packet: a varint compilation id followed by a message
// body in a tag-based binary encoding. Unknown fields inside a known
// message are skipped for forward compatibility; unknown top-level message
// kinds are protocol errors.
//
// Compilation id 0 is reserved for the version exchange (VersionRequest and
// VersionResponse). The maximum 32-bit id is reserved for reporting
// protocol errors that cannot be attributed to any compilation.
//
// # Multiplexing
//
// Any number of compilations run concurrently over one stream, each
// identified by its host-chosen compilation id. The [Server] reads frames
// on the caller's goroutine, runs each compilation on its own goroutine,
// and interleaves outbound frames through one locked writer so a frame is
// always written whole.
//
// While a compilation runs, the compiler may issue importer and function
// requests back to the host. Each carries a per-compilation monotonic
// request id; the compilation's correlator suspends the evaluator until
// the host's response with the matching id and kind arrives.
//
// # Error model
//
// Protocol errors (malformed frames, unknown or duplicate compilation ids,
// mismatched response ids or kinds, invalid request parameters) are fatal:
// the server reports the violation once as an outbound ProtocolError and
// the serve loop returns an error matching [ErrProtocol], upon which the
// process should exit with [ProtocolErrorExitCode].
//
// Compile failures (syntax errors, unresolvable imports, host-side importer
// or function errors, malformed wire values) are ordinary per-compilation
// outcomes carried in a CompileResponse; they never affect other
// compilations or the process.
//
// # Transports
//
// The stdio transport ([Server.RunStdio], [Server.Serve]) is the primary
// transport: hosts launch the compiler as a subprocess. [Server.Serve]
// accepts any io.Reader/io.Writer pair, which the in-process examples and
// tests use with pipes.
//
// The compilation engine itself lives in the sheet package and is
// transport-free; this package only adapts it to the wire.
package embwire

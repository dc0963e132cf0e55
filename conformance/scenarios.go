// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package conformance

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sheetcraft/embwire/embwire"
)

// Scenario is one scripted host session. Fatal scenarios end with the
// compiler reporting a ProtocolError and closing the session; each scenario
// therefore runs on its own connection.
type Scenario struct {
	Name  string
	Fatal bool
	Run   func(h *Host) error
}

// Scenarios returns the full conformance suite in execution order.
func Scenarios() []Scenario {
	return []Scenario{
		{Name: "version_exchange", Run: versionExchange},
		{Name: "compile_string", Run: compileString},
		{Name: "compile_compressed_style", Run: compileCompressedStyle},
		{Name: "compile_syntax_error", Run: compileSyntaxError},
		{Name: "compile_error_recovery", Run: compileErrorRecovery},
		{Name: "host_importer_round_trip", Run: hostImporterRoundTrip},
		{Name: "importer_not_found", Run: importerNotFound},
		{Name: "canonicalize_caching", Run: canonicalizeCaching},
		{Name: "host_function_round_trip", Run: hostFunctionRoundTrip},
		{Name: "host_function_error", Run: hostFunctionError},
		{Name: "host_function_by_handle", Run: hostFunctionByHandle},
		{Name: "unused_keyword_argument", Run: unusedKeywordArgument},
		{Name: "log_event_warn", Run: logEventWarn},
		{Name: "concurrent_compilations", Run: concurrentCompilations},
		{Name: "reserved_compilation_id", Fatal: true, Run: reservedCompilationID},
		{Name: "duplicate_compilation_id", Fatal: true, Run: duplicateCompilationID},
		{Name: "version_request_off_global_id", Fatal: true, Run: versionRequestOffGlobalID},
		{Name: "unknown_request_id", Fatal: true, Run: unknownRequestID},
		{Name: "mismatched_response_kind", Fatal: true, Run: mismatchedResponseKind},
		{Name: "unknown_message_kind", Fatal: true, Run: unknownMessageKind},
		{Name: "invalid_noncanonical_scheme", Fatal: true, Run: invalidNonCanonicalScheme},
	}
}

// --- assertion helpers ---

func recvOn(h *Host, compilationID uint32) (*embwire.OutboundMessage, error) {
	id, msg, err := h.Recv()
	if err != nil {
		return nil, err
	}
	if id != compilationID {
		return nil, fmt.Errorf("message on compilation %d, want %d", id, compilationID)
	}
	return msg, nil
}

func expectSuccess(msg *embwire.OutboundMessage, wantCSS string) error {
	resp := msg.CompileResponse
	if resp == nil {
		return fmt.Errorf("expected a CompileResponse, got %+v", msg)
	}
	if resp.Failure != nil {
		return fmt.Errorf("compilation failed: %s", resp.Failure.Formatted)
	}
	if resp.Success.CSS != wantCSS {
		return fmt.Errorf("CSS %q, want %q", resp.Success.CSS, wantCSS)
	}
	return nil
}

func expectFailure(msg *embwire.OutboundMessage, wantSubstring string) error {
	resp := msg.CompileResponse
	if resp == nil || resp.Failure == nil {
		return fmt.Errorf("expected a compile failure, got %+v", msg)
	}
	if !strings.Contains(resp.Failure.Message, wantSubstring) {
		return fmt.Errorf("failure message %q does not contain %q", resp.Failure.Message, wantSubstring)
	}
	return nil
}

func expectProtocolError(h *Host, wantSubstring string) error {
	// The compiler may flush per-compilation responses before the error.
	for {
		_, msg, err := h.Recv()
		if err != nil {
			return fmt.Errorf("waiting for ProtocolError: %w", err)
		}
		if msg.CompileResponse != nil || msg.LogEvent != nil {
			continue
		}
		if msg.ProtocolError == nil {
			return fmt.Errorf("expected a ProtocolError, got %+v", msg)
		}
		if !strings.Contains(msg.ProtocolError.Message, wantSubstring) {
			return fmt.Errorf("protocol error %q does not contain %q", msg.ProtocolError.Message, wantSubstring)
		}
		return nil
	}
}

// --- scenarios ---

func versionExchange(h *Host) error {
	if err := h.Send(embwire.GlobalCompilationID, &embwire.InboundMessage{
		VersionRequest: &embwire.VersionRequest{ID: 3},
	}); err != nil {
		return err
	}
	msg, err := recvOn(h, embwire.GlobalCompilationID)
	if err != nil {
		return err
	}
	v := msg.VersionResponse
	if v == nil {
		return fmt.Errorf("expected a VersionResponse, got %+v", msg)
	}
	if v.ID != 3 {
		return fmt.Errorf("response id %d, want 3", v.ID)
	}
	if v.ProtocolVersion != embwire.ProtocolVersion {
		return fmt.Errorf("protocol version %q, want %q", v.ProtocolVersion, embwire.ProtocolVersion)
	}
	if v.ImplementationName == "" {
		return fmt.Errorf("missing implementation name")
	}
	return nil
}

func compileString(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: 1px + 2px}"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: 3px;\n}")
}

func compileCompressedStyle(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: c}"},
		Style: embwire.StyleCompressed,
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a{b: c}")
}

func compileSyntaxError(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: }"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if err := expectFailure(msg, "expected expression"); err != nil {
		return err
	}
	if msg.CompileResponse.Failure.Span == nil {
		return fmt.Errorf("syntax failure carries no span")
	}
	return nil
}

// compileErrorRecovery verifies a failed compilation does not poison the
// session.
func compileErrorRecovery(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "@error \"boom\";"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if err := expectFailure(msg, "boom"); err != nil {
		return err
	}

	if err := h.Send(2, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: c}"},
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 2)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: c;\n}")
}

func hostImporterRoundTrip(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "@import \"theme\";\na {b: c}"},
		Importers: []*embwire.ImporterSpec{
			{Kind: embwire.ImporterKindHost, ImporterID: 7},
		},
	}}); err != nil {
		return err
	}

	for {
		msg, err := recvOn(h, 1)
		if err != nil {
			return err
		}
		switch {
		case msg.CanonicalizeRequest != nil:
			req := msg.CanonicalizeRequest
			if req.ImporterID != 7 {
				return fmt.Errorf("canonicalize importer id %d, want 7", req.ImporterID)
			}
			if req.URL != "theme" || !req.FromImport {
				return fmt.Errorf("canonicalize request: %+v", req)
			}
			canonical := "host:theme"
			if err := h.Send(1, &embwire.InboundMessage{CanonicalizeResponse: &embwire.CanonicalizeResponse{
				ID:  req.ID,
				URL: &canonical,
			}}); err != nil {
				return err
			}
		case msg.ImportRequest != nil:
			req := msg.ImportRequest
			if req.URL != "host:theme" {
				return fmt.Errorf("import url %q, want host:theme", req.URL)
			}
			if err := h.Send(1, &embwire.InboundMessage{ImportResponse: &embwire.ImportResponse{
				ID:      req.ID,
				Success: &embwire.ImportSuccess{Contents: "x {y: z}"},
			}}); err != nil {
				return err
			}
		case msg.CompileResponse != nil:
			if err := expectSuccess(msg, "x {\n  y: z;\n}\n\na {\n  b: c;\n}"); err != nil {
				return err
			}
			loaded := msg.CompileResponse.LoadedURLs
			if len(loaded) != 1 || loaded[0] != "host:theme" {
				return fmt.Errorf("loaded urls %v, want [host:theme]", loaded)
			}
			return nil
		default:
			return fmt.Errorf("unexpected message %+v", msg)
		}
	}
}

func importerNotFound(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "@import \"missing\";"},
		Importers: []*embwire.ImporterSpec{
			{Kind: embwire.ImporterKindHost, ImporterID: 1},
		},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.CanonicalizeRequest == nil {
		return fmt.Errorf("expected a CanonicalizeRequest, got %+v", msg)
	}
	if err := h.Send(1, &embwire.InboundMessage{CanonicalizeResponse: &embwire.CanonicalizeResponse{
		ID: msg.CanonicalizeRequest.ID,
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectFailure(msg, "Can't find stylesheet to import.")
}

// canonicalizeCaching verifies that a repeated specifier costs one
// canonicalize round trip and one load.
func canonicalizeCaching(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "@import \"theme\";\n@import \"theme\";"},
		Importers: []*embwire.ImporterSpec{
			{Kind: embwire.ImporterKindHost, ImporterID: 1},
		},
	}}); err != nil {
		return err
	}

	canonicalizations, loads := 0, 0
	for {
		msg, err := recvOn(h, 1)
		if err != nil {
			return err
		}
		switch {
		case msg.CanonicalizeRequest != nil:
			canonicalizations++
			canonical := "host:theme"
			if err := h.Send(1, &embwire.InboundMessage{CanonicalizeResponse: &embwire.CanonicalizeResponse{
				ID:  msg.CanonicalizeRequest.ID,
				URL: &canonical,
			}}); err != nil {
				return err
			}
		case msg.ImportRequest != nil:
			loads++
			if err := h.Send(1, &embwire.InboundMessage{ImportResponse: &embwire.ImportResponse{
				ID:      msg.ImportRequest.ID,
				Success: &embwire.ImportSuccess{Contents: "x {y: z}"},
			}}); err != nil {
				return err
			}
		case msg.CompileResponse != nil:
			if msg.CompileResponse.Failure != nil {
				return fmt.Errorf("compilation failed: %s", msg.CompileResponse.Failure.Formatted)
			}
			if canonicalizations != 1 || loads != 1 {
				return fmt.Errorf("round trips: %d canonicalize, %d load; want 1 each",
					canonicalizations, loads)
			}
			return nil
		default:
			return fmt.Errorf("unexpected message %+v", msg)
		}
	}
}

func hostFunctionRoundTrip(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(true)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	call := msg.FunctionCallRequest
	if call == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	if call.Name != "accent" || call.ByHandle || len(call.Arguments) != 1 {
		return fmt.Errorf("function call: %+v", call)
	}
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      call.ID,
		Success: stringValue("tomato"),
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: tomato;\n}")
}

func hostFunctionError(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(1)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.FunctionCallRequest == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	errText := "accent unavailable"
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:    msg.FunctionCallRequest.ID,
		Error: &errText,
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectFailure(msg, "accent unavailable")
}

// hostFunctionByHandle verifies call() round trips a host function value by
// its handle rather than by name.
func hostFunctionByHandle(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: call(shader(), red)}"},
		GlobalFunctions: []string{"shader()"},
	}}); err != nil {
		return err
	}

	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	call := msg.FunctionCallRequest
	if call == nil || call.Name != "shader" || call.ByHandle {
		return fmt.Errorf("first call: %+v", msg)
	}
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      call.ID,
		Success: hostFunctionValue(4, "shade($c)"),
	}}); err != nil {
		return err
	}

	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	call = msg.FunctionCallRequest
	if call == nil || !call.ByHandle || call.FunctionID != 4 {
		return fmt.Errorf("second call: %+v", msg)
	}
	if len(call.Arguments) != 1 {
		return fmt.Errorf("second call arguments: %d, want 1", len(call.Arguments))
	}
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      call.ID,
		Success: stringValue("darkred"),
	}}); err != nil {
		return err
	}

	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: darkred;\n}")
}

// unusedKeywordArgument verifies the accessed-argument-list contract: a
// keyword sent to the host that the host never reads fails the compilation.
func unusedKeywordArgument(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: report($mystery: 1)}"},
		GlobalFunctions: []string{"report($args...)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	call := msg.FunctionCallRequest
	if call == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      call.ID,
		Success: stringValue("ok"),
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectFailure(msg, "No argument named $mystery.")
}

func logEventWarn(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "@warn \"deprecated selector\";\na {b: c}"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.LogEvent == nil {
		return fmt.Errorf("expected a LogEvent, got %+v", msg)
	}
	if msg.LogEvent.Type != embwire.LogWarning || msg.LogEvent.Message != "deprecated selector" {
		return fmt.Errorf("log event: %+v", msg.LogEvent)
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: c;\n}")
}

// concurrentCompilations verifies one suspended compilation does not block
// another on the same session.
func concurrentCompilations(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(1)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	call := msg.FunctionCallRequest
	if call == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}

	if err := h.Send(2, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "c {d: e}"},
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 2)
	if err != nil {
		return err
	}
	if err := expectSuccess(msg, "c {\n  d: e;\n}"); err != nil {
		return fmt.Errorf("second compilation while first suspended: %w", err)
	}

	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      call.ID,
		Success: stringValue("tomato"),
	}}); err != nil {
		return err
	}
	msg, err = recvOn(h, 1)
	if err != nil {
		return err
	}
	return expectSuccess(msg, "a {\n  b: tomato;\n}")
}

// --- fatal scenarios ---

func reservedCompilationID(h *Host) error {
	if err := h.Send(embwire.ErrorCompilationID, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: c}"},
	}}); err != nil {
		return err
	}
	return expectProtocolError(h, "reserved compilation ID")
}

func duplicateCompilationID(h *Host) error {
	// The first compilation stays suspended on a function call while the
	// duplicate arrives.
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(1)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.FunctionCallRequest == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "c {d: e}"},
	}}); err != nil {
		return err
	}
	return expectProtocolError(h, "already active")
}

func versionRequestOffGlobalID(h *Host) error {
	if err := h.Send(9, &embwire.InboundMessage{
		VersionRequest: &embwire.VersionRequest{ID: 1},
	}); err != nil {
		return err
	}
	return expectProtocolError(h, "compilation ID 0")
}

func unknownRequestID(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(1)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.FunctionCallRequest == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	if err := h.Send(1, &embwire.InboundMessage{FunctionCallResponse: &embwire.FunctionCallResponse{
		ID:      msg.FunctionCallRequest.ID + 100,
		Success: stringValue("tomato"),
	}}); err != nil {
		return err
	}
	return expectProtocolError(h, "doesn't match any outstanding requests")
}

func mismatchedResponseKind(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input:           embwire.StringInput{Source: "a {b: accent(1)}"},
		GlobalFunctions: []string{"accent($on)"},
	}}); err != nil {
		return err
	}
	msg, err := recvOn(h, 1)
	if err != nil {
		return err
	}
	if msg.FunctionCallRequest == nil {
		return fmt.Errorf("expected a FunctionCallRequest, got %+v", msg)
	}
	canonical := "host:x"
	if err := h.Send(1, &embwire.InboundMessage{CanonicalizeResponse: &embwire.CanonicalizeResponse{
		ID:  msg.FunctionCallRequest.ID,
		URL: &canonical,
	}}); err != nil {
		return err
	}
	return expectProtocolError(h, "doesn't match response type")
}

func unknownMessageKind(h *Host) error {
	// A top-level field number no inbound message uses.
	var body []byte
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendBytes(body, nil)
	if err := h.SendRaw(5, body); err != nil {
		return err
	}
	return expectProtocolError(h, "unknown inbound message type")
}

func invalidNonCanonicalScheme(h *Host) error {
	if err := h.Send(1, &embwire.InboundMessage{CompileRequest: &embwire.CompileRequest{
		Input: embwire.StringInput{Source: "a {b: c}"},
		Importers: []*embwire.ImporterSpec{
			{Kind: embwire.ImporterKindHost, ImporterID: 1, NonCanonicalSchemes: []string{"Bad"}},
		},
	}}); err != nil {
		return err
	}
	return expectProtocolError(h, "lowercase")
}

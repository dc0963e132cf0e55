// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sheetcraft/embwire/sheet"
)

// testHost drives a Server over in-process pipes, playing the host role.
type testHost struct {
	t      *testing.T
	frames *FrameReader
	w      io.WriteCloser
	done   chan error
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	hostReader, compilerWriter := io.Pipe()
	compilerReader, hostWriter := io.Pipe()

	srv := NewServer()
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(compilerReader, compilerWriter)
	}()

	h := &testHost{
		t:      t,
		frames: NewFrameReader(hostReader),
		w:      hostWriter,
		done:   done,
	}
	t.Cleanup(func() { hostWriter.Close() })
	return h
}

func (h *testHost) send(compilationID uint32, msg *InboundMessage) {
	h.t.Helper()
	payload := AppendPacket(nil, Packet{
		CompilationID: compilationID,
		Body:          EncodeInboundMessage(msg),
	})
	if err := WriteFrame(h.w, payload); err != nil {
		h.t.Fatalf("writing frame: %v", err)
	}
}

func (h *testHost) recv() (uint32, *OutboundMessage) {
	h.t.Helper()
	payload, err := h.frames.ReadFrame()
	if err != nil {
		h.t.Fatalf("reading frame: %v", err)
	}
	pkt, perr := DecodePacket(payload)
	if perr != nil {
		h.t.Fatalf("decoding packet: %v", perr)
	}
	msg, err := DecodeOutboundMessage(pkt.Body)
	if err != nil {
		h.t.Fatalf("decoding message: %v", err)
	}
	return pkt.CompilationID, msg
}

// shutdown closes the host side and returns the serve loop's error.
func (h *testHost) shutdown() error {
	h.t.Helper()
	h.w.Close()
	return <-h.done
}

// encodeStringValue builds the wire form of an unquoted string value.
func encodeStringValue(text string) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.BytesType)
	body = protowire.AppendString(body, text)
	var value []byte
	value = protowire.AppendTag(value, valueString, protowire.BytesType)
	value = protowire.AppendBytes(value, body)
	return value
}

// encodeHostFunctionValue builds the wire form of a host function reference.
func encodeHostFunctionValue(handle uint32, signature string) []byte {
	var body []byte
	body = protowire.AppendTag(body, 1, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(handle))
	body = protowire.AppendTag(body, 2, protowire.BytesType)
	body = protowire.AppendString(body, signature)
	var value []byte
	value = protowire.AppendTag(value, valueHostFunction, protowire.BytesType)
	value = protowire.AppendBytes(value, body)
	return value
}

func TestVersionExchange(t *testing.T) {
	h := newTestHost(t)
	h.send(GlobalCompilationID, &InboundMessage{VersionRequest: &VersionRequest{ID: 11}})

	id, msg := h.recv()
	if id != GlobalCompilationID {
		t.Fatalf("version response on compilation %d, want 0", id)
	}
	got := msg.VersionResponse
	if got == nil {
		t.Fatalf("expected VersionResponse, got %+v", msg)
	}
	if got.ID != 11 {
		t.Fatalf("response id: got %d, want 11", got.ID)
	}
	if got.ProtocolVersion != ProtocolVersion || got.ImplementationName != ImplementationName {
		t.Fatalf("version fields: %+v", got)
	}
	if err := h.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestCompileArithmetic(t *testing.T) {
	h := newTestHost(t)
	h.send(5, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: 1px + 2px}"},
	}})

	id, msg := h.recv()
	if id != 5 {
		t.Fatalf("response on compilation %d, want 5", id)
	}
	resp := msg.CompileResponse
	if resp == nil || resp.Failure != nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if want := "a {\n  b: 3px;\n}"; resp.Success.CSS != want {
		t.Fatalf("CSS: got %q, want %q", resp.Success.CSS, want)
	}
}

func TestCompileCompressed(t *testing.T) {
	h := newTestHost(t)
	h.send(1, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: c}"},
		Style: StyleCompressed,
	}})

	_, msg := h.recv()
	if msg.CompileResponse == nil || msg.CompileResponse.Success == nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if want := "a{b: c}"; msg.CompileResponse.Success.CSS != want {
		t.Fatalf("CSS: got %q, want %q", msg.CompileResponse.Success.CSS, want)
	}
}

func TestCompileSyntaxErrorIsNotFatal(t *testing.T) {
	h := newTestHost(t)
	h.send(1, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: }", URL: "host:entry"},
	}})

	_, msg := h.recv()
	if msg.CompileResponse == nil || msg.CompileResponse.Failure == nil {
		t.Fatalf("expected failure, got %+v", msg)
	}
	if msg.CompileResponse.Failure.Formatted == "" {
		t.Fatal("expected formatted error text")
	}

	// The process keeps serving other compilations.
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: c}"},
	}})
	id, msg := h.recv()
	if id != 2 || msg.CompileResponse == nil || msg.CompileResponse.Success == nil {
		t.Fatalf("expected compilation 2 to succeed, got %d %+v", id, msg)
	}
	if err := h.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestHostImporterRoundTripAndCaching(t *testing.T) {
	h := newTestHost(t)
	// The entry imports the same stylesheet twice; canonicalize must fire
	// once per distinct specifier and load once per canonical URL.
	h.send(9, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@import \"orange\";\n@import \"orange\";\na {b: c}"},
		Importers: []*ImporterSpec{
			{Kind: ImporterKindHost, ImporterID: 1},
		},
	}})

	canonicalizations := 0
	loads := 0
	for {
		id, msg := h.recv()
		if id != 9 {
			t.Fatalf("message on compilation %d, want 9", id)
		}
		switch {
		case msg.CanonicalizeRequest != nil:
			canonicalizations++
			canonical := "host:" + msg.CanonicalizeRequest.URL
			h.send(9, &InboundMessage{CanonicalizeResponse: &CanonicalizeResponse{
				ID:  msg.CanonicalizeRequest.ID,
				URL: &canonical,
			}})
		case msg.ImportRequest != nil:
			loads++
			h.send(9, &InboundMessage{ImportResponse: &ImportResponse{
				ID:      msg.ImportRequest.ID,
				Success: &ImportSuccess{Contents: ".orange {color: orange}"},
			}})
		case msg.CompileResponse != nil:
			resp := msg.CompileResponse
			if resp.Failure != nil {
				t.Fatalf("compile failed: %s", resp.Failure.Formatted)
			}
			if canonicalizations != 1 {
				t.Fatalf("canonicalize round trips: got %d, want 1", canonicalizations)
			}
			if loads != 1 {
				t.Fatalf("load round trips: got %d, want 1", loads)
			}
			if !strings.Contains(resp.Success.CSS, ".orange {") {
				t.Fatalf("imported rule missing from CSS: %q", resp.Success.CSS)
			}
			if len(resp.LoadedURLs) != 1 || resp.LoadedURLs[0] != "host:orange" {
				t.Fatalf("loaded urls: %v", resp.LoadedURLs)
			}
			return
		default:
			t.Fatalf("unexpected message: %+v", msg)
		}
	}
}

func TestHostImporterNotFound(t *testing.T) {
	h := newTestHost(t)
	h.send(3, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@import \"missing\";"},
		Importers: []*ImporterSpec{
			{Kind: ImporterKindHost, ImporterID: 1},
		},
	}})

	_, msg := h.recv()
	if msg.CanonicalizeRequest == nil {
		t.Fatalf("expected CanonicalizeRequest, got %+v", msg)
	}
	// Absent url and error means not found; no other importer exists.
	h.send(3, &InboundMessage{CanonicalizeResponse: &CanonicalizeResponse{
		ID: msg.CanonicalizeRequest.ID,
	}})

	_, msg = h.recv()
	failure := msg.CompileResponse.Failure
	if failure == nil {
		t.Fatalf("expected failure, got %+v", msg)
	}
	if failure.Message != "Can't find stylesheet to import." {
		t.Fatalf("message: %q", failure.Message)
	}
}

func TestFileImporterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "theme.css"), []byte(".theme {color: teal}"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newTestHost(t)
	h.send(4, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@import \"theme\";"},
		Importers: []*ImporterSpec{
			{Kind: ImporterKindFile, FileImporterID: 7},
		},
	}})

	_, msg := h.recv()
	req := msg.FileImportRequest
	if req == nil {
		t.Fatalf("expected FileImportRequest, got %+v", msg)
	}
	if req.ImporterID != 7 || req.URL != "theme" {
		t.Fatalf("request: %+v", req)
	}
	// The host names the file without its extension; resolving ".css" on
	// disk is the compiler's job.
	located := sheet.FileURL(filepath.Join(dir, "theme")).String()
	h.send(4, &InboundMessage{FileImportResponse: &FileImportResponse{
		ID:      req.ID,
		FileURL: &located,
	}})

	_, msg = h.recv()
	resp := msg.CompileResponse
	if resp == nil || resp.Failure != nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if !strings.Contains(resp.Success.CSS, ".theme {") {
		t.Fatalf("imported rule missing from CSS: %q", resp.Success.CSS)
	}
	want := sheet.FileURL(filepath.Join(dir, "theme.css")).String()
	if len(resp.LoadedURLs) != 1 || resp.LoadedURLs[0] != want {
		t.Fatalf("loaded urls: %v, want [%s]", resp.LoadedURLs, want)
	}
}

func TestHostFunctionCall(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(true)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})

	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}
	if call.Name != "foo" || call.ByHandle {
		t.Fatalf("call target: %+v", call)
	}
	if len(call.Arguments) != 1 {
		t.Fatalf("arguments: got %d, want 1", len(call.Arguments))
	}

	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeStringValue("bar"),
	}})

	_, msg = h.recv()
	resp := msg.CompileResponse
	if resp == nil || resp.Failure != nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if want := "a {\n  b: bar;\n}"; resp.Success.CSS != want {
		t.Fatalf("CSS: got %q, want %q", resp.Success.CSS, want)
	}
}

func TestCallInvokesHostFunctionValueByHandle(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: call(shader(), red)}"},
		GlobalFunctions: []string{"shader()"},
	}})

	// First round trip: shader() by name, answered with a function value.
	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil || call.Name != "shader" || call.ByHandle {
		t.Fatalf("first call: %+v", msg)
	}
	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeHostFunctionValue(9, "shade($c)"),
	}})

	// Second round trip: the value is invoked by handle.
	_, msg = h.recv()
	call = msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected a second FunctionCallRequest, got %+v", msg)
	}
	if !call.ByHandle || call.FunctionID != 9 {
		t.Fatalf("second call target: %+v", call)
	}
	if len(call.Arguments) != 1 {
		t.Fatalf("second call arguments: %d, want 1", len(call.Arguments))
	}
	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeStringValue("darkred"),
	}})

	_, msg = h.recv()
	resp := msg.CompileResponse
	if resp == nil || resp.Failure != nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if want := "a {\n  b: darkred;\n}"; resp.Success.CSS != want {
		t.Fatalf("CSS: got %q, want %q", resp.Success.CSS, want)
	}
}

func TestCallOnNonFunctionValueFails(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: call(1px)}"},
	}})

	_, msg := h.recv()
	failure := msg.CompileResponse.Failure
	if failure == nil || !strings.Contains(failure.Message, "is not a host function reference") {
		t.Fatalf("expected a call() failure, got %+v", msg.CompileResponse)
	}
}

func TestHostFunctionErrorBecomesCompileFailure(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(1)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})

	_, msg := h.recv()
	errText := "foo is unavailable"
	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:    msg.FunctionCallRequest.ID,
		Error: &errText,
	}})

	_, msg = h.recv()
	failure := msg.CompileResponse.Failure
	if failure == nil || !strings.Contains(failure.Message, "foo is unavailable") {
		t.Fatalf("expected host error in failure, got %+v", msg.CompileResponse)
	}
}

func TestLogEventRelay(t *testing.T) {
	h := newTestHost(t)
	h.send(4, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@warn \"old syntax\";\na {b: c}"},
	}})

	_, msg := h.recv()
	if msg.LogEvent == nil {
		t.Fatalf("expected LogEvent before the response, got %+v", msg)
	}
	if msg.LogEvent.Type != LogWarning || msg.LogEvent.Message != "old syntax" {
		t.Fatalf("log event: %+v", msg.LogEvent)
	}

	_, msg = h.recv()
	if msg.CompileResponse == nil || msg.CompileResponse.Success == nil {
		t.Fatalf("expected success after the log event, got %+v", msg)
	}
}

func TestBadResponseIDIsFatal(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(1)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})

	_, msg := h.recv()
	if msg.FunctionCallRequest == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}
	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      msg.FunctionCallRequest.ID + 40,
		Success: encodeStringValue("bar"),
	}})

	for {
		_, msg := h.recv()
		if msg.CompileResponse != nil {
			continue // the aborted compilation reports its failure first
		}
		if msg.ProtocolError == nil {
			t.Fatalf("expected ProtocolError, got %+v", msg)
		}
		if !strings.Contains(msg.ProtocolError.Message, "doesn't match any outstanding requests") {
			t.Fatalf("message: %q", msg.ProtocolError.Message)
		}
		break
	}

	err := h.shutdown()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestMismatchedResponseKindIsFatal(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(1)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})

	_, msg := h.recv()
	canonical := "host:x"
	h.send(2, &InboundMessage{CanonicalizeResponse: &CanonicalizeResponse{
		ID:  msg.FunctionCallRequest.ID,
		URL: &canonical,
	}})

	for {
		_, msg := h.recv()
		if msg.CompileResponse != nil {
			continue
		}
		if msg.ProtocolError == nil {
			t.Fatalf("expected ProtocolError, got %+v", msg)
		}
		if !strings.Contains(msg.ProtocolError.Message, "doesn't match response type") {
			t.Fatalf("message: %q", msg.ProtocolError.Message)
		}
		break
	}
	if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestResponseWithNoCompilationIsFatal(t *testing.T) {
	h := newTestHost(t)
	errText := "nope"
	h.send(77, &InboundMessage{ImportResponse: &ImportResponse{ID: 0, Error: &errText}})

	_, msg := h.recv()
	if msg.ProtocolError == nil || !strings.Contains(msg.ProtocolError.Message, "no outstanding requests in compilation 77") {
		t.Fatalf("expected no-outstanding-requests error, got %+v", msg)
	}
	if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestReservedCompilationIDsAreRejected(t *testing.T) {
	for _, id := range []uint32{GlobalCompilationID, ErrorCompilationID} {
		h := newTestHost(t)
		h.send(id, &InboundMessage{CompileRequest: &CompileRequest{
			Input: StringInput{Source: "a {b: c}"},
		}})
		_, msg := h.recv()
		if msg.ProtocolError == nil {
			t.Fatalf("id %d: expected ProtocolError, got %+v", id, msg)
		}
		if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
			t.Fatalf("id %d: expected a protocol error from Serve, got %v", id, err)
		}
	}
}

func TestDuplicateCompilationIDIsFatal(t *testing.T) {
	h := newTestHost(t)
	// The first compilation stays active waiting for a host function
	// response while the duplicate arrives.
	h.send(6, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(1)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})
	_, msg := h.recv()
	if msg.FunctionCallRequest == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}

	h.send(6, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "a {b: c}"},
	}})

	for {
		_, msg := h.recv()
		if msg.CompileResponse != nil {
			continue
		}
		if msg.ProtocolError == nil {
			t.Fatalf("expected ProtocolError, got %+v", msg)
		}
		if !strings.Contains(msg.ProtocolError.Message, "already active") {
			t.Fatalf("message: %q", msg.ProtocolError.Message)
		}
		break
	}
	if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestInvalidNonCanonicalSchemeIsFatal(t *testing.T) {
	tests := []string{"", "Upper", "has:colon"}
	for _, scheme := range tests {
		h := newTestHost(t)
		h.send(1, &InboundMessage{CompileRequest: &CompileRequest{
			Input: StringInput{Source: "a {b: c}"},
			Importers: []*ImporterSpec{
				{Kind: ImporterKindHost, ImporterID: 1, NonCanonicalSchemes: []string{scheme}},
			},
		}})
		_, msg := h.recv()
		if msg.ProtocolError == nil {
			t.Fatalf("scheme %q: expected ProtocolError, got %+v", scheme, msg)
		}
		if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
			t.Fatalf("scheme %q: expected a protocol error from Serve, got %v", scheme, err)
		}
	}
}

func TestVersionRequestOffGlobalIDIsFatal(t *testing.T) {
	h := newTestHost(t)
	h.send(3, &InboundMessage{VersionRequest: &VersionRequest{ID: 1}})
	_, msg := h.recv()
	if msg.ProtocolError == nil || !strings.Contains(msg.ProtocolError.Message, "compilation ID 0") {
		t.Fatalf("expected ProtocolError, got %+v", msg)
	}
	if err := h.shutdown(); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestGracefulShutdown(t *testing.T) {
	h := newTestHost(t)
	h.send(GlobalCompilationID, &InboundMessage{VersionRequest: &VersionRequest{ID: 1}})
	h.recv()
	if err := h.shutdown(); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}

func TestResponseIDFromOtherCompilationIsFatal(t *testing.T) {
	h := newTestHost(t)

	// Walk compilation 1 past its canonicalize round trip so its only
	// outstanding request is the import load.
	h.send(1, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@import \"a\";"},
		Importers: []*ImporterSpec{
			{Kind: ImporterKindHost, ImporterID: 1},
		},
	}})
	_, msg := h.recv()
	if msg.CanonicalizeRequest == nil {
		t.Fatalf("expected CanonicalizeRequest, got %+v", msg)
	}
	canonical := "host:a"
	h.send(1, &InboundMessage{CanonicalizeResponse: &CanonicalizeResponse{
		ID:  msg.CanonicalizeRequest.ID,
		URL: &canonical,
	}})
	_, msg = h.recv()
	if msg.ImportRequest == nil {
		t.Fatalf("expected ImportRequest, got %+v", msg)
	}
	importID := msg.ImportRequest.ID

	// Suspend compilation 2 on its own canonicalize request.
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "@import \"x\";"},
		Importers: []*ImporterSpec{
			{Kind: ImporterKindHost, ImporterID: 1},
		},
	}})
	id, msg := h.recv()
	if id != 2 || msg.CanonicalizeRequest == nil {
		t.Fatalf("expected CanonicalizeRequest on compilation 2, got %d %+v", id, msg)
	}
	otherID := msg.CanonicalizeRequest.ID
	if otherID == importID {
		t.Fatalf("request ids coincide (%d), cannot cross the compilations", otherID)
	}

	// A request id outstanding only in compilation 2 must not resolve
	// anything in compilation 1.
	other := "host:x"
	h.send(1, &InboundMessage{CanonicalizeResponse: &CanonicalizeResponse{
		ID:  otherID,
		URL: &other,
	}})

	for {
		_, msg := h.recv()
		if msg.CompileResponse != nil {
			continue // the aborted compilations report their failures first
		}
		if msg.ProtocolError == nil {
			t.Fatalf("expected ProtocolError, got %+v", msg)
		}
		if !strings.Contains(msg.ProtocolError.Message, "doesn't match any outstanding requests") {
			t.Fatalf("message: %q", msg.ProtocolError.Message)
		}
		break
	}

	err := h.shutdown()
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected a protocol error from Serve, got %v", err)
	}
}

func TestShutdownDrainsActiveCompilation(t *testing.T) {
	h := newTestHost(t)
	h.send(5, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: pause()}"},
		GlobalFunctions: []string{"pause()"},
	}})

	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}
	h.send(5, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeStringValue("ok"),
	}})

	// Close the inbound stream while the compilation is still evaluating.
	// It must run to completion and deliver its response before Serve
	// returns cleanly.
	h.w.Close()

	id, msg := h.recv()
	if id != 5 || msg.CompileResponse == nil {
		t.Fatalf("expected CompileResponse on compilation 5, got %d %+v", id, msg)
	}
	if msg.CompileResponse.Failure != nil {
		t.Fatalf("compile failed: %s", msg.CompileResponse.Failure.Formatted)
	}
	if !strings.Contains(msg.CompileResponse.Success.CSS, "b: ok") {
		t.Fatalf("CSS: %q", msg.CompileResponse.Success.CSS)
	}
	if err := <-h.done; err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}

func TestUnusedKeywordArgumentFails(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: log($unknown: 1)}"},
		GlobalFunctions: []string{"log($args...)"},
	}})

	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}
	// Answer without claiming to have read the rest argument's keywords.
	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeStringValue("ok"),
	}})

	_, msg = h.recv()
	failure := msg.CompileResponse.Failure
	if failure == nil {
		t.Fatalf("expected failure, got %+v", msg.CompileResponse)
	}
	if failure.Message != "No argument named $unknown." {
		t.Fatalf("message: %q", failure.Message)
	}
}

func TestAccessedKeywordArgumentSucceeds(t *testing.T) {
	h := newTestHost(t)
	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: log($unknown: 1)}"},
		GlobalFunctions: []string{"log($args...)"},
	}})

	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}
	// Recover the argument list id the compiler assigned.
	var listID uint32
	d := newFieldDecoder(call.Arguments[0])
	for d.next() {
		if d.num == valueArgumentList {
			ed := newFieldDecoder(d.bytesField())
			for ed.next() {
				if ed.num == 1 {
					listID = ed.uint32Field()
				} else {
					ed.skip()
				}
			}
		} else {
			d.skip()
		}
	}
	if listID == 0 {
		t.Fatalf("expected an argument list id in %v", call.Arguments[0])
	}

	h.send(2, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:                    call.ID,
		Success:               encodeStringValue("ok"),
		AccessedArgumentLists: []uint32{listID},
	}})

	_, msg = h.recv()
	resp := msg.CompileResponse
	if resp == nil || resp.Failure != nil {
		t.Fatalf("expected success, got %+v", msg)
	}
	if want := "a {\n  b: ok;\n}"; resp.Success.CSS != want {
		t.Fatalf("CSS: got %q, want %q", resp.Success.CSS, want)
	}
}

func TestConcurrentCompilationsInterleave(t *testing.T) {
	h := newTestHost(t)
	// Start a compilation that blocks on a host function, then run a second
	// one to completion while the first is suspended.
	h.send(1, &InboundMessage{CompileRequest: &CompileRequest{
		Input:           StringInput{Source: "a {b: foo(1)}"},
		GlobalFunctions: []string{"foo($arg)"},
	}})
	_, msg := h.recv()
	call := msg.FunctionCallRequest
	if call == nil {
		t.Fatalf("expected FunctionCallRequest, got %+v", msg)
	}

	h.send(2, &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{Source: "c {d: e}"},
	}})
	id, msg := h.recv()
	if id != 2 || msg.CompileResponse == nil || msg.CompileResponse.Success == nil {
		t.Fatalf("expected compilation 2 to finish first, got %d %+v", id, msg)
	}

	h.send(1, &InboundMessage{FunctionCallResponse: &FunctionCallResponse{
		ID:      call.ID,
		Success: encodeStringValue("bar"),
	}})
	id, msg = h.recv()
	if id != 1 || msg.CompileResponse == nil || msg.CompileResponse.Success == nil {
		t.Fatalf("expected compilation 1 to finish, got %d %+v", id, msg)
	}
	if err := h.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

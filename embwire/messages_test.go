// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestInboundCompileRequestRoundTrip(t *testing.T) {
	in := &InboundMessage{CompileRequest: &CompileRequest{
		Input: StringInput{
			Source: "a {b: c}",
			URL:    "host:entry",
			Syntax: SyntaxCSS,
		},
		Style: StyleCompressed,
		Importers: []*ImporterSpec{
			{Kind: ImporterKindPath, Path: "/styles"},
			{Kind: ImporterKindHost, ImporterID: 3, NonCanonicalSchemes: []string{"theme"}},
			{Kind: ImporterKindFile, FileImporterID: 9},
		},
		GlobalFunctions: []string{"accent($dark)", "shade($color, $amount: 10%)"},
		Verbose:         true,
	}}

	out, err := DecodeInboundMessage(EncodeInboundMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req := out.CompileRequest
	if req == nil {
		t.Fatalf("expected CompileRequest, got %+v", out)
	}
	if req.Input.Source != "a {b: c}" || req.Input.URL != "host:entry" || req.Input.Syntax != SyntaxCSS {
		t.Fatalf("input mismatch: %+v", req.Input)
	}
	if req.Style != StyleCompressed || !req.Verbose || req.HasPath {
		t.Fatalf("options mismatch: %+v", req)
	}
	if len(req.Importers) != 3 {
		t.Fatalf("importers: got %d, want 3", len(req.Importers))
	}
	if req.Importers[1].Kind != ImporterKindHost || req.Importers[1].ImporterID != 3 {
		t.Fatalf("importer 1 mismatch: %+v", req.Importers[1])
	}
	if got := req.Importers[1].NonCanonicalSchemes; len(got) != 1 || got[0] != "theme" {
		t.Fatalf("schemes mismatch: %v", got)
	}
	if len(req.GlobalFunctions) != 2 {
		t.Fatalf("global functions: %v", req.GlobalFunctions)
	}
}

func TestInboundPathRequestRoundTrip(t *testing.T) {
	in := &InboundMessage{CompileRequest: &CompileRequest{
		Path:    "styles/main",
		HasPath: true,
	}}
	out, err := DecodeInboundMessage(EncodeInboundMessage(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.CompileRequest.HasPath || out.CompileRequest.Path != "styles/main" {
		t.Fatalf("path mismatch: %+v", out.CompileRequest)
	}
}

func TestOutboundMessagesRoundTrip(t *testing.T) {
	containing := "host:entry"
	msgs := []*OutboundMessage{
		{VersionResponse: &VersionResponse{
			ID:                 4,
			ProtocolVersion:    ProtocolVersion,
			CompilerVersion:    CompilerVersion,
			ImplementationName: ImplementationName,
		}},
		{CanonicalizeRequest: &CanonicalizeRequest{
			ID: 0, ImporterID: 2, URL: "theme", FromImport: true, ContainingURL: &containing,
		}},
		{ImportRequest: &ImportRequest{ID: 1, ImporterID: 2, URL: "host:theme"}},
		{FileImportRequest: &FileImportRequest{ID: 2, ImporterID: 5, URL: "partial"}},
		{FunctionCallRequest: &FunctionCallRequest{ID: 3, Name: "accent", Arguments: [][]byte{{0x30, 0x00}}}},
		{LogEvent: &LogEvent{Type: LogDebug, Message: "hello", Formatted: "-:1 DEBUG: hello"}},
		{CompileResponse: &CompileResponse{
			Success:    &CompileSuccess{CSS: "a {\n  b: c;\n}"},
			LoadedURLs: []string{"host:theme", "file:///x.css"},
		}},
		{ProtocolError: &ProtocolErrorEvent{Class: ErrorClassParams, ID: 7, Message: "boom"}},
	}

	for i, in := range msgs {
		out, err := DecodeOutboundMessage(in.Marshal())
		if err != nil {
			t.Fatalf("message %d: decode: %v", i, err)
		}
		switch {
		case in.VersionResponse != nil:
			if *out.VersionResponse != *in.VersionResponse {
				t.Fatalf("version response mismatch: %+v", out.VersionResponse)
			}
		case in.CanonicalizeRequest != nil:
			got := out.CanonicalizeRequest
			if got.ID != 0 || got.ImporterID != 2 || got.URL != "theme" || !got.FromImport {
				t.Fatalf("canonicalize request mismatch: %+v", got)
			}
			if got.ContainingURL == nil || *got.ContainingURL != containing {
				t.Fatalf("containing URL mismatch: %v", got.ContainingURL)
			}
		case in.ImportRequest != nil:
			if *out.ImportRequest != *in.ImportRequest {
				t.Fatalf("import request mismatch: %+v", out.ImportRequest)
			}
		case in.FileImportRequest != nil:
			got := out.FileImportRequest
			if got.ID != 2 || got.URL != "partial" || got.ContainingURL != nil {
				t.Fatalf("file import request mismatch: %+v", got)
			}
		case in.FunctionCallRequest != nil:
			got := out.FunctionCallRequest
			if got.Name != "accent" || got.ByHandle || len(got.Arguments) != 1 {
				t.Fatalf("function call request mismatch: %+v", got)
			}
		case in.LogEvent != nil:
			if out.LogEvent.Type != LogDebug || out.LogEvent.Message != "hello" {
				t.Fatalf("log event mismatch: %+v", out.LogEvent)
			}
		case in.CompileResponse != nil:
			got := out.CompileResponse
			if got.Success == nil || got.Success.CSS != in.CompileResponse.Success.CSS {
				t.Fatalf("compile response mismatch: %+v", got)
			}
			if len(got.LoadedURLs) != 2 || got.LoadedURLs[0] != "host:theme" {
				t.Fatalf("loaded urls mismatch: %v", got.LoadedURLs)
			}
		case in.ProtocolError != nil:
			if *out.ProtocolError != *in.ProtocolError {
				t.Fatalf("protocol error mismatch: %+v", out.ProtocolError)
			}
		}
	}
}

func TestCompileFailureRoundTrip(t *testing.T) {
	in := &OutboundMessage{CompileResponse: &CompileResponse{
		Failure: &CompileFailure{
			Message: "Can't find stylesheet to import.",
			Span: &SourceSpan{
				Text:  "@import \"missing\"",
				Start: SourceLocation{Offset: 0, Line: 0, Column: 0},
				End:   SourceLocation{Offset: 17, Line: 0, Column: 17},
				URL:   "host:entry",
			},
			Formatted: "Error: Can't find stylesheet to import.",
		},
	}}
	out, err := DecodeOutboundMessage(in.Marshal())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := out.CompileResponse.Failure
	if got == nil || got.Message != "Can't find stylesheet to import." {
		t.Fatalf("failure mismatch: %+v", got)
	}
	if got.Span == nil || got.Span.End.Column != 17 || got.Span.URL != "host:entry" {
		t.Fatalf("span mismatch: %+v", got.Span)
	}
}

func TestUnknownTopLevelKindIsRejected(t *testing.T) {
	var body []byte
	body = protowire.AppendTag(body, 99, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte{0x08, 0x01})
	if _, err := DecodeInboundMessage(body); err == nil || !strings.Contains(err.Error(), "unknown inbound message type") {
		t.Fatalf("expected unknown-kind error, got %v", err)
	}
}

func TestUnknownFieldsInsideKnownMessageAreSkipped(t *testing.T) {
	sub := (&VersionRequest{ID: 9}).marshal()
	// A field from a future protocol revision.
	sub = protowire.AppendTag(sub, 50, protowire.BytesType)
	sub = protowire.AppendBytes(sub, []byte("future"))

	var body []byte
	body = protowire.AppendTag(body, inboundVersionRequest, protowire.BytesType)
	body = protowire.AppendBytes(body, sub)

	msg, err := DecodeInboundMessage(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.VersionRequest == nil || msg.VersionRequest.ID != 9 {
		t.Fatalf("version request mismatch: %+v", msg.VersionRequest)
	}
}

func TestEmptyInboundMessageIsRejected(t *testing.T) {
	if _, err := DecodeInboundMessage(nil); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestFunctionCallResponsePackedAndUnpackedAccessedLists(t *testing.T) {
	in := &FunctionCallResponse{
		ID:                    5,
		Success:               []byte{0x30, 0x00},
		AccessedArgumentLists: []uint32{1, 2, 300},
	}
	var out FunctionCallResponse
	if err := out.unmarshal(in.marshal()); err != nil {
		t.Fatalf("unmarshal packed: %v", err)
	}
	if len(out.AccessedArgumentLists) != 3 || out.AccessedArgumentLists[2] != 300 {
		t.Fatalf("packed mismatch: %v", out.AccessedArgumentLists)
	}

	// Hosts may also send the field one element at a time.
	var body []byte
	body = appendVarintField(body, 1, 5)
	body = appendVarintField(body, 4, 1)
	body = appendVarintField(body, 4, 300)
	var single FunctionCallResponse
	if err := single.unmarshal(body); err != nil {
		t.Fatalf("unmarshal unpacked: %v", err)
	}
	if len(single.AccessedArgumentLists) != 2 || single.AccessedArgumentLists[1] != 300 {
		t.Fatalf("unpacked mismatch: %v", single.AccessedArgumentLists)
	}
}

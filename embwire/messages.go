// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sheetcraft/embwire/sheet"
)

// The message body is a tag-based binary encoding built on protobuf wire
// primitives. Decoders skip unknown fields inside a known message for
// forward compatibility, but reject unknown top-level message kinds as
// protocol errors.

// Inbound top-level field numbers (host to compiler).
const (
	inboundCompileRequest       protowire.Number = 2
	inboundCanonicalizeResponse protowire.Number = 3
	inboundImportResponse       protowire.Number = 4
	inboundFileImportResponse   protowire.Number = 5
	inboundFunctionCallResponse protowire.Number = 6
	inboundVersionRequest       protowire.Number = 7
)

// Outbound top-level field numbers (compiler to host).
const (
	outboundProtocolError       protowire.Number = 1
	outboundCompileResponse     protowire.Number = 2
	outboundLogEvent            protowire.Number = 3
	outboundCanonicalizeRequest protowire.Number = 4
	outboundImportRequest       protowire.Number = 5
	outboundFileImportRequest   protowire.Number = 6
	outboundFunctionCallRequest protowire.Number = 7
	outboundVersionResponse     protowire.Number = 8
)

// Syntax mirrors sheet.Syntax on the wire.
type Syntax int32

const (
	SyntaxDefault Syntax = iota
	SyntaxIndented
	SyntaxCSS
)

// OutputStyle selects the CSS serialization format on the wire.
type OutputStyle int32

const (
	StyleExpanded OutputStyle = iota
	StyleCompressed
)

// LogEventType classifies a LogEvent.
type LogEventType int32

const (
	LogWarning LogEventType = iota
	LogDeprecationWarning
	LogDebug
)

// --- top-level unions -------------------------------------------------

// InboundMessage is the closed set of messages the host may send. Exactly
// one field is non-nil after a successful decode.
type InboundMessage struct {
	CompileRequest       *CompileRequest
	CanonicalizeResponse *CanonicalizeResponse
	ImportResponse       *ImportResponse
	FileImportResponse   *FileImportResponse
	FunctionCallResponse *FunctionCallResponse
	VersionRequest       *VersionRequest
}

// OutboundMessage is the closed set of messages the compiler may send.
type OutboundMessage struct {
	ProtocolError       *ProtocolErrorEvent
	CompileResponse     *CompileResponse
	LogEvent            *LogEvent
	CanonicalizeRequest *CanonicalizeRequest
	ImportRequest       *ImportRequest
	FileImportRequest   *FileImportRequest
	FunctionCallRequest *FunctionCallRequest
	VersionResponse     *VersionResponse
}

// DecodeInboundMessage decodes one inbound message body.
func DecodeInboundMessage(body []byte) (*InboundMessage, error) {
	msg := &InboundMessage{}
	seen := false
	b := body
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, parseError("inbound message field %d has wire type %d, expected a length-delimited payload", num, typ)
		}
		sub, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		seen = true

		switch num {
		case inboundCompileRequest:
			msg.CompileRequest = &CompileRequest{}
			if err := msg.CompileRequest.unmarshal(sub); err != nil {
				return nil, err
			}
		case inboundCanonicalizeResponse:
			msg.CanonicalizeResponse = &CanonicalizeResponse{}
			if err := msg.CanonicalizeResponse.unmarshal(sub); err != nil {
				return nil, err
			}
		case inboundImportResponse:
			msg.ImportResponse = &ImportResponse{}
			if err := msg.ImportResponse.unmarshal(sub); err != nil {
				return nil, err
			}
		case inboundFileImportResponse:
			msg.FileImportResponse = &FileImportResponse{}
			if err := msg.FileImportResponse.unmarshal(sub); err != nil {
				return nil, err
			}
		case inboundFunctionCallResponse:
			msg.FunctionCallResponse = &FunctionCallResponse{}
			if err := msg.FunctionCallResponse.unmarshal(sub); err != nil {
				return nil, err
			}
		case inboundVersionRequest:
			msg.VersionRequest = &VersionRequest{}
			if err := msg.VersionRequest.unmarshal(sub); err != nil {
				return nil, err
			}
		default:
			return nil, parseError("unknown inbound message type %d", num)
		}
	}
	if !seen {
		return nil, parseError("empty inbound message")
	}
	return msg, nil
}

// Marshal encodes an outbound message body.
func (m *OutboundMessage) Marshal() []byte {
	var dst []byte
	appendSub := func(num protowire.Number, sub []byte) {
		dst = protowire.AppendTag(dst, num, protowire.BytesType)
		dst = protowire.AppendBytes(dst, sub)
	}
	switch {
	case m.ProtocolError != nil:
		appendSub(outboundProtocolError, m.ProtocolError.marshal())
	case m.CompileResponse != nil:
		appendSub(outboundCompileResponse, m.CompileResponse.marshal())
	case m.LogEvent != nil:
		appendSub(outboundLogEvent, m.LogEvent.marshal())
	case m.CanonicalizeRequest != nil:
		appendSub(outboundCanonicalizeRequest, m.CanonicalizeRequest.marshal())
	case m.ImportRequest != nil:
		appendSub(outboundImportRequest, m.ImportRequest.marshal())
	case m.FileImportRequest != nil:
		appendSub(outboundFileImportRequest, m.FileImportRequest.marshal())
	case m.FunctionCallRequest != nil:
		appendSub(outboundFunctionCallRequest, m.FunctionCallRequest.marshal())
	case m.VersionResponse != nil:
		appendSub(outboundVersionResponse, m.VersionResponse.marshal())
	}
	return dst
}

// DecodeOutboundMessage decodes one outbound message body. The compiler
// never receives these; hosts (and the test harness) use it.
func DecodeOutboundMessage(body []byte) (*OutboundMessage, error) {
	msg := &OutboundMessage{}
	b := body
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			return nil, parseError("outbound message field %d has wire type %d, expected a length-delimited payload", num, typ)
		}
		sub, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		var err error
		switch num {
		case outboundProtocolError:
			msg.ProtocolError = &ProtocolErrorEvent{}
			err = msg.ProtocolError.unmarshal(sub)
		case outboundCompileResponse:
			msg.CompileResponse = &CompileResponse{}
			err = msg.CompileResponse.unmarshal(sub)
		case outboundLogEvent:
			msg.LogEvent = &LogEvent{}
			err = msg.LogEvent.unmarshal(sub)
		case outboundCanonicalizeRequest:
			msg.CanonicalizeRequest = &CanonicalizeRequest{}
			err = msg.CanonicalizeRequest.unmarshal(sub)
		case outboundImportRequest:
			msg.ImportRequest = &ImportRequest{}
			err = msg.ImportRequest.unmarshal(sub)
		case outboundFileImportRequest:
			msg.FileImportRequest = &FileImportRequest{}
			err = msg.FileImportRequest.unmarshal(sub)
		case outboundFunctionCallRequest:
			msg.FunctionCallRequest = &FunctionCallRequest{}
			err = msg.FunctionCallRequest.unmarshal(sub)
		case outboundVersionResponse:
			msg.VersionResponse = &VersionResponse{}
			err = msg.VersionResponse.unmarshal(sub)
		default:
			return nil, parseError("unknown outbound message type %d", num)
		}
		if err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// EncodeInboundMessage encodes an inbound message body; the host side of
// the wire uses it.
func EncodeInboundMessage(m *InboundMessage) []byte {
	var dst []byte
	appendSub := func(num protowire.Number, sub []byte) {
		dst = protowire.AppendTag(dst, num, protowire.BytesType)
		dst = protowire.AppendBytes(dst, sub)
	}
	switch {
	case m.CompileRequest != nil:
		appendSub(inboundCompileRequest, m.CompileRequest.marshal())
	case m.CanonicalizeResponse != nil:
		appendSub(inboundCanonicalizeResponse, m.CanonicalizeResponse.marshal())
	case m.ImportResponse != nil:
		appendSub(inboundImportResponse, m.ImportResponse.marshal())
	case m.FileImportResponse != nil:
		appendSub(inboundFileImportResponse, m.FileImportResponse.marshal())
	case m.FunctionCallResponse != nil:
		appendSub(inboundFunctionCallResponse, m.FunctionCallResponse.marshal())
	case m.VersionRequest != nil:
		appendSub(inboundVersionRequest, m.VersionRequest.marshal())
	}
	return dst
}

// --- encode helpers -----------------------------------------------------

func appendStringField(dst []byte, num protowire.Number, s string) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendString(dst, s)
}

func appendBytesField(dst []byte, num protowire.Number, b []byte) []byte {
	dst = protowire.AppendTag(dst, num, protowire.BytesType)
	return protowire.AppendBytes(dst, b)
}

func appendVarintField(dst []byte, num protowire.Number, v uint64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.VarintType)
	return protowire.AppendVarint(dst, v)
}

func appendBoolField(dst []byte, num protowire.Number, v bool) []byte {
	if !v {
		return dst
	}
	return appendVarintField(dst, num, 1)
}

func appendDoubleField(dst []byte, num protowire.Number, v float64) []byte {
	dst = protowire.AppendTag(dst, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(dst, math.Float64bits(v))
}

// --- decode helpers -----------------------------------------------------

// fieldDecoder walks the fields of one message, skipping unknown ones.
type fieldDecoder struct {
	b   []byte
	num protowire.Number
	typ protowire.Type
	err error
}

func newFieldDecoder(b []byte) *fieldDecoder { return &fieldDecoder{b: b} }

// next advances to the next field; false at end of message or on error.
func (d *fieldDecoder) next() bool {
	if d.err != nil || len(d.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return false
	}
	d.b = d.b[n:]
	d.num, d.typ = num, typ
	return true
}

// skip consumes the current field's value without interpreting it.
func (d *fieldDecoder) skip() {
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return
	}
	d.b = d.b[n:]
}

func (d *fieldDecoder) stringField() string {
	if d.typ != protowire.BytesType {
		d.skip()
		return ""
	}
	v, n := protowire.ConsumeString(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return ""
	}
	d.b = d.b[n:]
	return v
}

func (d *fieldDecoder) bytesField() []byte {
	if d.typ != protowire.BytesType {
		d.skip()
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return nil
	}
	d.b = d.b[n:]
	return v
}

func (d *fieldDecoder) varintField() uint64 {
	if d.typ != protowire.VarintType {
		d.skip()
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return 0
	}
	d.b = d.b[n:]
	return v
}

func (d *fieldDecoder) boolField() bool { return d.varintField() != 0 }

func (d *fieldDecoder) uint32Field() uint32 { return uint32(d.varintField()) }

func (d *fieldDecoder) doubleField() float64 {
	if d.typ != protowire.Fixed64Type {
		d.skip()
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.b)
	if n < 0 {
		d.err = protowire.ParseError(n)
		return 0
	}
	d.b = d.b[n:]
	return math.Float64frombits(v)
}

// uint32List reads a repeated uint32 field that may arrive packed or one
// element at a time.
func (d *fieldDecoder) uint32List(into []uint32) []uint32 {
	if d.typ == protowire.VarintType {
		return append(into, d.uint32Field())
	}
	packed := d.bytesField()
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			d.err = protowire.ParseError(n)
			return into
		}
		packed = packed[n:]
		into = append(into, uint32(v))
	}
	return into
}

// --- version exchange -----------------------------------------------------

// VersionRequest asks for protocol and implementation versions. It is
// global: it travels on compilation id 0 and never touches the registry.
type VersionRequest struct {
	ID uint32
}

func (m *VersionRequest) marshal() []byte {
	var dst []byte
	if m.ID != 0 {
		dst = appendVarintField(dst, 1, uint64(m.ID))
	}
	return dst
}

func (m *VersionRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		default:
			d.skip()
		}
	}
	return d.err
}

// VersionResponse answers a VersionRequest, echoing its id.
type VersionResponse struct {
	ID                    uint32
	ProtocolVersion       string
	CompilerVersion       string
	ImplementationVersion string
	ImplementationName    string
}

func (m *VersionResponse) marshal() []byte {
	var dst []byte
	if m.ID != 0 {
		dst = appendVarintField(dst, 1, uint64(m.ID))
	}
	dst = appendStringField(dst, 2, m.ProtocolVersion)
	dst = appendStringField(dst, 3, m.CompilerVersion)
	dst = appendStringField(dst, 4, m.ImplementationVersion)
	dst = appendStringField(dst, 5, m.ImplementationName)
	return dst
}

func (m *VersionResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.ProtocolVersion = d.stringField()
		case 3:
			m.CompilerVersion = d.stringField()
		case 4:
			m.ImplementationVersion = d.stringField()
		case 5:
			m.ImplementationName = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// --- compilation ---------------------------------------------------------

// StringInput is inline source text in a CompileRequest.
type StringInput struct {
	Source   string
	URL      string
	Syntax   Syntax
	Importer *ImporterSpec
}

func (m *StringInput) marshal() []byte {
	var dst []byte
	dst = appendStringField(dst, 1, m.Source)
	if m.URL != "" {
		dst = appendStringField(dst, 2, m.URL)
	}
	if m.Syntax != SyntaxDefault {
		dst = appendVarintField(dst, 3, uint64(m.Syntax))
	}
	if m.Importer != nil {
		dst = appendBytesField(dst, 4, m.Importer.marshal())
	}
	return dst
}

func (m *StringInput) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Source = d.stringField()
		case 2:
			m.URL = d.stringField()
		case 3:
			m.Syntax = Syntax(d.varintField())
		case 4:
			m.Importer = &ImporterSpec{}
			if err := m.Importer.unmarshal(d.bytesField()); err != nil {
				return err
			}
		default:
			d.skip()
		}
	}
	return d.err
}

// ImporterSpec declares one importer on a CompileRequest: a load path
// resolved locally, or a host importer addressed by id. Exactly one of
// Path, ImporterID, and FileImporterID is meaningful; Kind records which.
type ImporterSpec struct {
	Kind                ImporterKind
	Path                string
	ImporterID          uint32
	FileImporterID      uint32
	NonCanonicalSchemes []string
}

// ImporterKind tags which variant an ImporterSpec carries.
type ImporterKind int

const (
	ImporterKindUnset ImporterKind = iota
	ImporterKindPath
	ImporterKindHost
	ImporterKindFile
)

func (m *ImporterSpec) marshal() []byte {
	var dst []byte
	switch m.Kind {
	case ImporterKindPath:
		dst = appendStringField(dst, 1, m.Path)
	case ImporterKindHost:
		dst = appendVarintField(dst, 2, uint64(m.ImporterID))
	case ImporterKindFile:
		dst = appendVarintField(dst, 3, uint64(m.FileImporterID))
	}
	for _, scheme := range m.NonCanonicalSchemes {
		dst = appendStringField(dst, 4, scheme)
	}
	return dst
}

func (m *ImporterSpec) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Kind = ImporterKindPath
			m.Path = d.stringField()
		case 2:
			m.Kind = ImporterKindHost
			m.ImporterID = d.uint32Field()
		case 3:
			m.Kind = ImporterKindFile
			m.FileImporterID = d.uint32Field()
		case 4:
			m.NonCanonicalSchemes = append(m.NonCanonicalSchemes, d.stringField())
		default:
			d.skip()
		}
	}
	return d.err
}

// CompileRequest starts a new compilation. The compilation id is carried by
// the packet, not the message.
type CompileRequest struct {
	// Input is either inline source or a filesystem path.
	Input   StringInput
	Path    string // non-empty when the input is a file path
	HasPath bool

	Style           OutputStyle
	SourceMap       bool
	Importers       []*ImporterSpec
	GlobalFunctions []string
	AlertColor      bool
	AlertASCII      bool
	Verbose         bool
	QuietDeps       bool
}

func (m *CompileRequest) marshal() []byte {
	var dst []byte
	if m.HasPath {
		dst = appendStringField(dst, 2, m.Path)
	} else {
		dst = appendBytesField(dst, 1, m.Input.marshal())
	}
	if m.Style != StyleExpanded {
		dst = appendVarintField(dst, 3, uint64(m.Style))
	}
	dst = appendBoolField(dst, 4, m.SourceMap)
	for _, imp := range m.Importers {
		dst = appendBytesField(dst, 5, imp.marshal())
	}
	for _, fn := range m.GlobalFunctions {
		dst = appendStringField(dst, 6, fn)
	}
	dst = appendBoolField(dst, 7, m.AlertColor)
	dst = appendBoolField(dst, 8, m.AlertASCII)
	dst = appendBoolField(dst, 9, m.Verbose)
	dst = appendBoolField(dst, 10, m.QuietDeps)
	return dst
}

func (m *CompileRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			if err := m.Input.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 2:
			m.Path = d.stringField()
			m.HasPath = true
		case 3:
			m.Style = OutputStyle(d.varintField())
		case 4:
			m.SourceMap = d.boolField()
		case 5:
			imp := &ImporterSpec{}
			if err := imp.unmarshal(d.bytesField()); err != nil {
				return err
			}
			m.Importers = append(m.Importers, imp)
		case 6:
			m.GlobalFunctions = append(m.GlobalFunctions, d.stringField())
		case 7:
			m.AlertColor = d.boolField()
		case 8:
			m.AlertASCII = d.boolField()
		case 9:
			m.Verbose = d.boolField()
		case 10:
			m.QuietDeps = d.boolField()
		default:
			d.skip()
		}
	}
	return d.err
}

// SourceSpan is a diagnostic source range.
type SourceSpan struct {
	Text    string
	Start   SourceLocation
	End     SourceLocation
	URL     string
	Context string
}

// SourceLocation is one position inside a source file.
type SourceLocation struct {
	Offset uint32
	Line   uint32
	Column uint32
}

func (m *SourceLocation) marshal() []byte {
	var dst []byte
	if m.Offset != 0 {
		dst = appendVarintField(dst, 1, uint64(m.Offset))
	}
	if m.Line != 0 {
		dst = appendVarintField(dst, 2, uint64(m.Line))
	}
	if m.Column != 0 {
		dst = appendVarintField(dst, 3, uint64(m.Column))
	}
	return dst
}

func (m *SourceLocation) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Offset = d.uint32Field()
		case 2:
			m.Line = d.uint32Field()
		case 3:
			m.Column = d.uint32Field()
		default:
			d.skip()
		}
	}
	return d.err
}

func (m *SourceSpan) marshal() []byte {
	var dst []byte
	if m.Text != "" {
		dst = appendStringField(dst, 1, m.Text)
	}
	dst = appendBytesField(dst, 2, m.Start.marshal())
	dst = appendBytesField(dst, 3, m.End.marshal())
	if m.URL != "" {
		dst = appendStringField(dst, 4, m.URL)
	}
	if m.Context != "" {
		dst = appendStringField(dst, 5, m.Context)
	}
	return dst
}

func (m *SourceSpan) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Text = d.stringField()
		case 2:
			if err := m.Start.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 3:
			if err := m.End.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 4:
			m.URL = d.stringField()
		case 5:
			m.Context = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// CompileSuccess is the successful terminal outcome of a compilation.
type CompileSuccess struct {
	CSS       string
	SourceMap string
}

func (m *CompileSuccess) marshal() []byte {
	var dst []byte
	dst = appendStringField(dst, 1, m.CSS)
	if m.SourceMap != "" {
		dst = appendStringField(dst, 2, m.SourceMap)
	}
	return dst
}

func (m *CompileSuccess) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.CSS = d.stringField()
		case 2:
			m.SourceMap = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// CompileFailure is the failed terminal outcome of a compilation.
type CompileFailure struct {
	Message    string
	Span       *SourceSpan
	StackTrace string
	Formatted  string
}

func (m *CompileFailure) marshal() []byte {
	var dst []byte
	dst = appendStringField(dst, 1, m.Message)
	if m.Span != nil {
		dst = appendBytesField(dst, 2, m.Span.marshal())
	}
	if m.StackTrace != "" {
		dst = appendStringField(dst, 3, m.StackTrace)
	}
	if m.Formatted != "" {
		dst = appendStringField(dst, 4, m.Formatted)
	}
	return dst
}

func (m *CompileFailure) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Message = d.stringField()
		case 2:
			m.Span = &SourceSpan{}
			if err := m.Span.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 3:
			m.StackTrace = d.stringField()
		case 4:
			m.Formatted = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// CompileResponse is the terminal message of one compilation: success or
// failure, plus the canonical URLs loaded along the way.
type CompileResponse struct {
	Success    *CompileSuccess
	Failure    *CompileFailure
	LoadedURLs []string
}

func (m *CompileResponse) marshal() []byte {
	var dst []byte
	switch {
	case m.Success != nil:
		dst = appendBytesField(dst, 1, m.Success.marshal())
	case m.Failure != nil:
		dst = appendBytesField(dst, 2, m.Failure.marshal())
	}
	for _, u := range m.LoadedURLs {
		dst = appendStringField(dst, 3, u)
	}
	return dst
}

func (m *CompileResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Success = &CompileSuccess{}
			if err := m.Success.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 2:
			m.Failure = &CompileFailure{}
			if err := m.Failure.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 3:
			m.LoadedURLs = append(m.LoadedURLs, d.stringField())
		default:
			d.skip()
		}
	}
	return d.err
}

// LogEvent relays a warning, deprecation warning, or debug message emitted
// mid-compilation.
type LogEvent struct {
	Type       LogEventType
	Message    string
	Span       *SourceSpan
	StackTrace string
	Formatted  string
}

func (m *LogEvent) marshal() []byte {
	var dst []byte
	if m.Type != LogWarning {
		dst = appendVarintField(dst, 1, uint64(m.Type))
	}
	dst = appendStringField(dst, 2, m.Message)
	if m.Span != nil {
		dst = appendBytesField(dst, 3, m.Span.marshal())
	}
	if m.StackTrace != "" {
		dst = appendStringField(dst, 4, m.StackTrace)
	}
	if m.Formatted != "" {
		dst = appendStringField(dst, 5, m.Formatted)
	}
	return dst
}

func (m *LogEvent) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Type = LogEventType(d.varintField())
		case 2:
			m.Message = d.stringField()
		case 3:
			m.Span = &SourceSpan{}
			if err := m.Span.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 4:
			m.StackTrace = d.stringField()
		case 5:
			m.Formatted = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// ProtocolErrorEvent is the wire form of a fatal protocol violation,
// reported once on the reserved error id before the process exits.
type ProtocolErrorEvent struct {
	Class ProtocolErrorClass
	// ID is the compilation the violation belongs to, or
	// [ErrorCompilationID].
	ID      uint32
	Message string
}

func (m *ProtocolErrorEvent) marshal() []byte {
	var dst []byte
	if m.Class != ErrorClassParse {
		dst = appendVarintField(dst, 1, uint64(m.Class))
	}
	if m.ID != 0 {
		dst = appendVarintField(dst, 2, uint64(m.ID))
	}
	dst = appendStringField(dst, 3, m.Message)
	return dst
}

func (m *ProtocolErrorEvent) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Class = ProtocolErrorClass(d.varintField())
		case 2:
			m.ID = d.uint32Field()
		case 3:
			m.Message = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// --- importer round trip ---------------------------------------------

// CanonicalizeRequest asks a host importer to resolve a specifier to an
// absolute canonical URL.
type CanonicalizeRequest struct {
	ID         uint32
	ImporterID uint32
	URL        string
	FromImport bool
	// ContainingURL is set only when the importer is entitled to see it.
	ContainingURL *string
}

func (m *CanonicalizeRequest) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	dst = appendVarintField(dst, 2, uint64(m.ImporterID))
	dst = appendStringField(dst, 3, m.URL)
	dst = appendBoolField(dst, 4, m.FromImport)
	if m.ContainingURL != nil {
		dst = appendStringField(dst, 5, *m.ContainingURL)
	}
	return dst
}

func (m *CanonicalizeRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.ImporterID = d.uint32Field()
		case 3:
			m.URL = d.stringField()
		case 4:
			m.FromImport = d.boolField()
		case 5:
			s := d.stringField()
			m.ContainingURL = &s
		default:
			d.skip()
		}
	}
	return d.err
}

// CanonicalizeResponse answers a CanonicalizeRequest. A response with
// neither URL nor Error means the importer does not recognize the URL.
type CanonicalizeResponse struct {
	ID    uint32
	URL   *string
	Error *string
}

func (m *CanonicalizeResponse) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	if m.URL != nil {
		dst = appendStringField(dst, 2, *m.URL)
	}
	if m.Error != nil {
		dst = appendStringField(dst, 3, *m.Error)
	}
	return dst
}

func (m *CanonicalizeResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			s := d.stringField()
			m.URL = &s
		case 3:
			s := d.stringField()
			m.Error = &s
		default:
			d.skip()
		}
	}
	return d.err
}

// ImportRequest asks a host importer for the contents of a canonical URL.
type ImportRequest struct {
	ID         uint32
	ImporterID uint32
	URL        string
}

func (m *ImportRequest) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	dst = appendVarintField(dst, 2, uint64(m.ImporterID))
	dst = appendStringField(dst, 3, m.URL)
	return dst
}

func (m *ImportRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.ImporterID = d.uint32Field()
		case 3:
			m.URL = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// ImportSuccess carries loaded stylesheet contents.
type ImportSuccess struct {
	Contents     string
	Syntax       Syntax
	SourceMapURL string
}

func (m *ImportSuccess) marshal() []byte {
	var dst []byte
	dst = appendStringField(dst, 1, m.Contents)
	if m.Syntax != SyntaxDefault {
		dst = appendVarintField(dst, 2, uint64(m.Syntax))
	}
	if m.SourceMapURL != "" {
		dst = appendStringField(dst, 3, m.SourceMapURL)
	}
	return dst
}

func (m *ImportSuccess) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Contents = d.stringField()
		case 2:
			m.Syntax = Syntax(d.varintField())
		case 3:
			m.SourceMapURL = d.stringField()
		default:
			d.skip()
		}
	}
	return d.err
}

// ImportResponse answers an ImportRequest. A response with neither Success
// nor Error means not found, continuing the importer search.
type ImportResponse struct {
	ID      uint32
	Success *ImportSuccess
	Error   *string
}

func (m *ImportResponse) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	if m.Success != nil {
		dst = appendBytesField(dst, 2, m.Success.marshal())
	}
	if m.Error != nil {
		dst = appendStringField(dst, 3, *m.Error)
	}
	return dst
}

func (m *ImportResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.Success = &ImportSuccess{}
			if err := m.Success.unmarshal(d.bytesField()); err != nil {
				return err
			}
		case 3:
			s := d.stringField()
			m.Error = &s
		default:
			d.skip()
		}
	}
	return d.err
}

// FileImportRequest asks a file importer to locate a stylesheet on disk;
// the compiler reads the returned file: URL directly.
type FileImportRequest struct {
	ID            uint32
	ImporterID    uint32
	URL           string
	FromImport    bool
	ContainingURL *string
}

func (m *FileImportRequest) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	dst = appendVarintField(dst, 2, uint64(m.ImporterID))
	dst = appendStringField(dst, 3, m.URL)
	dst = appendBoolField(dst, 4, m.FromImport)
	if m.ContainingURL != nil {
		dst = appendStringField(dst, 5, *m.ContainingURL)
	}
	return dst
}

func (m *FileImportRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.ImporterID = d.uint32Field()
		case 3:
			m.URL = d.stringField()
		case 4:
			m.FromImport = d.boolField()
		case 5:
			s := d.stringField()
			m.ContainingURL = &s
		default:
			d.skip()
		}
	}
	return d.err
}

// FileImportResponse answers a FileImportRequest with a file: URL, an
// error, or neither (not found).
type FileImportResponse struct {
	ID      uint32
	FileURL *string
	Error   *string
}

func (m *FileImportResponse) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	if m.FileURL != nil {
		dst = appendStringField(dst, 2, *m.FileURL)
	}
	if m.Error != nil {
		dst = appendStringField(dst, 3, *m.Error)
	}
	return dst
}

func (m *FileImportResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			s := d.stringField()
			m.FileURL = &s
		case 3:
			s := d.stringField()
			m.Error = &s
		default:
			d.skip()
		}
	}
	return d.err
}

// --- function round trip ---------------------------------------------

// FunctionCallRequest invokes a host function, addressed by declared name
// or by first-class function handle.
type FunctionCallRequest struct {
	ID         uint32
	Name       string
	FunctionID uint32
	ByHandle   bool
	Arguments  [][]byte // marshaled Values
}

func (m *FunctionCallRequest) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	if m.ByHandle {
		dst = appendVarintField(dst, 3, uint64(m.FunctionID))
	} else {
		dst = appendStringField(dst, 2, m.Name)
	}
	for _, arg := range m.Arguments {
		dst = appendBytesField(dst, 4, arg)
	}
	return dst
}

func (m *FunctionCallRequest) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.Name = d.stringField()
			m.ByHandle = false
		case 3:
			m.FunctionID = d.uint32Field()
			m.ByHandle = true
		case 4:
			m.Arguments = append(m.Arguments, d.bytesField())
		default:
			d.skip()
		}
	}
	return d.err
}

// FunctionCallResponse answers a FunctionCallRequest. AccessedArgumentLists
// names the argument-list ids whose keywords the host inspected.
type FunctionCallResponse struct {
	ID                    uint32
	Success               []byte // marshaled Value
	Error                 *string
	AccessedArgumentLists []uint32
}

func (m *FunctionCallResponse) marshal() []byte {
	var dst []byte
	dst = appendVarintField(dst, 1, uint64(m.ID))
	if m.Success != nil {
		dst = appendBytesField(dst, 2, m.Success)
	}
	if m.Error != nil {
		dst = appendStringField(dst, 3, *m.Error)
	}
	if len(m.AccessedArgumentLists) > 0 {
		var packed []byte
		for _, id := range m.AccessedArgumentLists {
			packed = protowire.AppendVarint(packed, uint64(id))
		}
		dst = appendBytesField(dst, 4, packed)
	}
	return dst
}

func (m *FunctionCallResponse) unmarshal(b []byte) error {
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.uint32Field()
		case 2:
			m.Success = d.bytesField()
		case 3:
			s := d.stringField()
			m.Error = &s
		case 4:
			m.AccessedArgumentLists = d.uint32List(m.AccessedArgumentLists)
		default:
			d.skip()
		}
	}
	return d.err
}

// sheetSyntax converts the wire syntax enum to the evaluator's.
func sheetSyntax(s Syntax) sheet.Syntax {
	switch s {
	case SyntaxIndented:
		return sheet.SyntaxIndented
	case SyntaxCSS:
		return sheet.SyntaxCSS
	default:
		return sheet.SyntaxDefault
	}
}

// sheetStyle converts the wire output style enum to the evaluator's.
func sheetStyle(s OutputStyle) sheet.OutputStyle {
	if s == StyleCompressed {
		return sheet.StyleCompressed
	}
	return sheet.StyleExpanded
}

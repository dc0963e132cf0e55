// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/sheetcraft/embwire/sheet"
)

// Inbound response kind labels used in correlation error messages.
const (
	kindCanonicalizeResponse = "CanonicalizeResponse"
	kindImportResponse       = "ImportResponse"
	kindFileImportResponse   = "FileImportResponse"
	kindFunctionCallResponse = "FunctionCallResponse"
)

var errConnClosed = errors.New("connection closed before the host responded")

// pendingCall is one outstanding host-bound request awaiting its response.
type pendingCall struct {
	kind string
	ch   chan *InboundMessage
}

// compilation drives one compile request end to end on its own goroutine.
// The compile evaluator runs synchronously inside it; every importer or
// function round trip suspends the goroutine on a correlator channel until
// the dispatcher delivers the matching response.
type compilation struct {
	id    uint32
	srv   *Server
	req   *CompileRequest
	codec *valueCodec
	stats *CompileStatistics

	mu      sync.Mutex
	nextReq uint32
	pending map[uint32]*pendingCall
	closed  bool
}

func newCompilation(srv *Server, id uint32, req *CompileRequest) *compilation {
	return &compilation{
		id:      id,
		srv:     srv,
		req:     req,
		codec:   newValueCodec(srv.fnHandles),
		stats:   &CompileStatistics{},
		pending: make(map[uint32]*pendingCall),
	}
}

func (c *compilation) run(ctx context.Context) {
	info := CompileInfo{
		CompilationID: c.id,
		Style:         styleString(c.req.Style),
	}
	if c.req.HasPath {
		info.InputKind = CompileInputPath
		info.Entry = c.req.Path
	} else {
		info.InputKind = CompileInputString
		info.Entry = c.req.Input.URL
	}

	var token HookToken
	if hook := c.srv.hook; hook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					c.srv.log.Error("compile hook start panic", "err", rv)
				}
			}()
			ctx, token = hook.OnCompileStart(ctx, info)
		}()
	}

	resp, compileErr := c.compile(ctx)
	if err := c.srv.send(c.id, &OutboundMessage{CompileResponse: resp}); err != nil {
		if !isTransportClosed(err) {
			c.srv.log.Error("writing compile response", "compilation", c.id, "err", err)
		}
	}

	if hook := c.srv.hook; hook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					c.srv.log.Error("compile hook end panic", "err", rv)
				}
			}()
			hook.OnCompileEnd(ctx, token, info, c.stats, compileErr)
		}()
	}
}

// compile evaluates the request. Compile failures are returned as data; the
// error return reflects them for hooks only.
func (c *compilation) compile(ctx context.Context) (*CompileResponse, error) {
	entry, opts, ferr := c.prepare()
	if ferr != nil {
		return failureResponse(ferr), ferr
	}
	result, err := sheet.Compile(entry, opts)
	if err != nil {
		ce := asCompileError(err)
		return failureResponse(ce), ce
	}
	c.stats.LoadedURLs = int64(len(result.LoadedURLs))
	c.stats.CSSBytes = int64(len(result.CSS))
	return &CompileResponse{
		Success:    &CompileSuccess{CSS: result.CSS},
		LoadedURLs: result.LoadedURLs,
	}, nil
}

// prepare translates the wire request into evaluator inputs.
func (c *compilation) prepare() (*sheet.Source, *sheet.CompileOptions, *sheet.CompileError) {
	opts := &sheet.CompileOptions{
		Style:  sheetStyle(c.req.Style),
		Logger: &logRelay{c: c},
	}

	var entry *sheet.Source
	if c.req.HasPath {
		abs, err := filepath.Abs(c.req.Path)
		if err != nil {
			return nil, nil, &sheet.CompileError{Message: fmt.Sprintf("Cannot resolve path %q: %v.", c.req.Path, err)}
		}
		contents, err := os.ReadFile(abs)
		if err != nil {
			return nil, nil, &sheet.CompileError{Message: fmt.Sprintf("Cannot open file: %v.", err)}
		}
		entry = &sheet.Source{Contents: string(contents), URL: sheet.FileURL(abs)}
		// Relative loads inside a path compilation resolve against the
		// entry's directory first.
		opts.Importers = append(opts.Importers, sheet.NewLoadPathImporter(filepath.Dir(abs)))
	} else {
		entry = &sheet.Source{
			Contents: c.req.Input.Source,
			Syntax:   sheetSyntax(c.req.Input.Syntax),
		}
		if c.req.Input.URL != "" {
			u, err := url.Parse(c.req.Input.URL)
			if err != nil {
				return nil, nil, &sheet.CompileError{Message: fmt.Sprintf("Invalid input URL %q: %v.", c.req.Input.URL, err)}
			}
			entry.URL = u
		}
		if spec := c.req.Input.Importer; spec != nil {
			imp, ferr := c.buildImporter(spec)
			if ferr != nil {
				return nil, nil, ferr
			}
			opts.Importers = append(opts.Importers, imp)
		}
	}

	for _, spec := range c.req.Importers {
		imp, ferr := c.buildImporter(spec)
		if ferr != nil {
			return nil, nil, ferr
		}
		opts.Importers = append(opts.Importers, imp)
	}

	opts.Functions = make(map[string]*sheet.Function, len(c.req.GlobalFunctions)+1)
	opts.Functions["call"] = c.callBuiltin()
	for _, raw := range c.req.GlobalFunctions {
		fn, ferr := c.hostFunction(raw)
		if ferr != nil {
			return nil, nil, ferr
		}
		opts.Functions[fn.Name] = fn
	}

	return entry, opts, nil
}

func (c *compilation) buildImporter(spec *ImporterSpec) (sheet.Importer, *sheet.CompileError) {
	switch spec.Kind {
	case ImporterKindPath:
		return sheet.NewLoadPathImporter(spec.Path), nil
	case ImporterKindHost:
		return &hostImporter{
			c:          c,
			importerID: spec.ImporterID,
			schemes:    spec.NonCanonicalSchemes,
		}, nil
	case ImporterKindFile:
		return &fileImporter{c: c, importerID: spec.FileImporterID}, nil
	default:
		// Admission already rejected this; keep the check for local callers.
		return nil, &sheet.CompileError{Message: "Importer entry names no importer kind."}
	}
}

// roundTrip sends one host-bound request and blocks until the dispatcher
// delivers a response of the matching kind. The request id is allocated
// under the lock and registered before the frame is written, so a response
// racing the write still finds its pending entry.
func (c *compilation) roundTrip(kind string, build func(requestID uint32) *OutboundMessage) (*InboundMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errConnClosed
	}
	id := c.nextReq
	c.nextReq++
	pc := &pendingCall{kind: kind, ch: make(chan *InboundMessage, 1)}
	c.pending[id] = pc
	c.mu.Unlock()

	c.stats.RecordHostRequest()
	if err := c.srv.send(c.id, build(id)); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	msg, ok := <-pc.ch
	if !ok {
		return nil, errConnClosed
	}
	return msg, nil
}

// deliver resolves one outstanding request. Each pending entry resolves
// exactly once: it is removed from the table before its channel is signaled.
func (c *compilation) deliver(requestID uint32, kind string, msg *InboundMessage) *ProtocolError {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return paramsError(c.id, "no outstanding requests in compilation %d", c.id)
	}
	pc, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return paramsError(c.id, "Response ID %d doesn't match any outstanding requests", requestID)
	}
	if pc.kind != kind {
		c.mu.Unlock()
		return paramsError(c.id, "Request ID %d doesn't match response type %s", requestID, kind)
	}
	delete(c.pending, requestID)
	c.mu.Unlock()

	pc.ch <- msg
	return nil
}

// close fails every outstanding round trip. Called when the transport shuts
// down or a fatal protocol error ends the session.
func (c *compilation) close() {
	c.mu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()
	for _, pc := range pending {
		close(pc.ch)
	}
}

// logRelay forwards evaluator diagnostics to the host as LogEvents.
type logRelay struct {
	c *compilation
}

func (l *logRelay) Warn(message string, span *sheet.Span, deprecation bool, trace string) {
	typ := LogWarning
	prefix := "WARNING: "
	if deprecation {
		typ = LogDeprecationWarning
		prefix = "DEPRECATION WARNING: "
	}
	l.send(&LogEvent{
		Type:       typ,
		Message:    message,
		Span:       wireSpan(span),
		StackTrace: trace,
		Formatted:  prefix + message,
	})
}

func (l *logRelay) Debug(message string, span *sheet.Span) {
	formatted := message
	if span != nil {
		formatted = fmt.Sprintf("%s:%d DEBUG: %s", spanLabel(span), span.Start.Line+1, message)
	}
	l.send(&LogEvent{
		Type:      LogDebug,
		Message:   message,
		Span:      wireSpan(span),
		Formatted: formatted,
	})
}

func (l *logRelay) send(event *LogEvent) {
	l.c.stats.RecordLogEvent()
	if err := l.c.srv.send(l.c.id, &OutboundMessage{LogEvent: event}); err != nil {
		if !isTransportClosed(err) {
			l.c.srv.log.Error("writing log event", "compilation", l.c.id, "err", err)
		}
	}
}

func spanLabel(s *sheet.Span) string {
	if s.URL == "" {
		return "-"
	}
	return s.URL
}

// wireSpan converts an evaluator span to its wire form.
func wireSpan(s *sheet.Span) *SourceSpan {
	if s == nil {
		return nil
	}
	return &SourceSpan{
		Text:    s.Text,
		Start:   wireLocation(s.Start),
		End:     wireLocation(s.End),
		URL:     s.URL,
		Context: s.Context,
	}
}

func wireLocation(l sheet.Location) SourceLocation {
	return SourceLocation{
		Offset: uint32(l.Offset),
		Line:   uint32(l.Line),
		Column: uint32(l.Column),
	}
}

func failureResponse(ce *sheet.CompileError) *CompileResponse {
	return &CompileResponse{Failure: &CompileFailure{
		Message:    ce.Message,
		Span:       wireSpan(ce.Span),
		StackTrace: ce.Trace,
		Formatted:  ce.Formatted(),
	}}
}

func asCompileError(err error) *sheet.CompileError {
	var ce *sheet.CompileError
	if errors.As(err, &ce) {
		return ce
	}
	return &sheet.CompileError{Message: err.Error()}
}

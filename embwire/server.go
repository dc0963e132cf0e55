// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
)

// Server multiplexes compilations over one framed byte stream. It reads
// packets on the caller's goroutine, runs each compilation on its own
// goroutine, and serializes every outbound frame through one locked writer.
type Server struct {
	log          *slog.Logger
	hook         CompileHook
	maxFrameSize uint64
	// fnHandles is shared by every compilation's value codec: a compiler
	// function handle issued once stays valid for the life of the process.
	fnHandles *handleRegistry

	wmu sync.Mutex
	w   io.Writer

	mu     sync.Mutex
	comps  map[uint32]*compilation
	fatal  bool
	closed bool

	wg sync.WaitGroup
}

// NewServer creates a compilation server.
func NewServer() *Server {
	return &Server{
		log:       slog.Default(),
		fnHandles: newHandleRegistry(),
		comps:     make(map[uint32]*compilation),
	}
}

// SetLogger sets the structured logger used for diagnostics on stderr.
func (s *Server) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// SetCompileHook registers a hook called around each compilation.
func (s *Server) SetCompileHook(hook CompileHook) {
	s.hook = hook
}

// SetMaxFrameSize rejects inbound frames larger than n bytes. Zero, the
// default, means no limit.
func (s *Server) SetMaxFrameSize(n uint64) {
	s.maxFrameSize = n
}

// RunStdio runs the server loop reading from stdin and writing to stdout.
// If stdin or stdout is connected to a terminal, a warning is printed to
// stderr. The returned error matches ErrProtocol under errors.Is when the
// session ended on a protocol violation; callers should then exit with
// [ProtocolErrorExitCode].
func (s *Server) RunStdio() error {
	// Ignore SIGPIPE so writes to a closed pipe return errors instead of
	// killing the process. Transport errors are already handled by
	// isTransportClosed() in the serve loop.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process communicates over length-prefixed binary "+
				"frames on stdin/stdout and is not intended to be run "+
				"interactively.\n"+
				"It should be launched as a subprocess by a host library.")
	}
	return s.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	return s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop until the host closes the stream or
// a protocol violation occurs. A stream that ends at a frame boundary is a
// graceful shutdown: active compilations are drained and nil is returned.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) error {
	s.wmu.Lock()
	s.w = w
	s.wmu.Unlock()

	fr := NewFrameReader(r)
	fr.MaxFrameSize = s.maxFrameSize

	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			if err == io.EOF || isTransportClosed(err) {
				s.shutdown()
				s.wg.Wait()
				return nil
			}
			return s.abort(parseError("reading frame: %v", err))
		}
		if perr := s.handlePacket(ctx, payload); perr != nil {
			return s.abort(perr)
		}
	}
}

// handlePacket decodes and routes one inbound frame payload.
func (s *Server) handlePacket(ctx context.Context, payload []byte) *ProtocolError {
	pkt, perr := DecodePacket(payload)
	if perr != nil {
		return perr
	}
	msg, err := DecodeInboundMessage(pkt.Body)
	if err != nil {
		return asProtocolError(err, pkt.CompilationID)
	}

	switch {
	case msg.VersionRequest != nil:
		if pkt.CompilationID != GlobalCompilationID {
			return paramsError(pkt.CompilationID,
				"VersionRequest must be sent with compilation ID 0, was %d", pkt.CompilationID)
		}
		resp := &VersionResponse{
			ID:                    msg.VersionRequest.ID,
			ProtocolVersion:       ProtocolVersion,
			CompilerVersion:       CompilerVersion,
			ImplementationVersion: CompilerVersion,
			ImplementationName:    ImplementationName,
		}
		if err := s.send(GlobalCompilationID, &OutboundMessage{VersionResponse: resp}); err != nil {
			s.log.Error("writing version response", "err", err)
		}
		return nil

	case msg.CompileRequest != nil:
		return s.startCompilation(ctx, pkt.CompilationID, msg.CompileRequest)

	default:
		return s.routeResponse(pkt.CompilationID, msg)
	}
}

// startCompilation admits a CompileRequest and runs it on its own goroutine.
func (s *Server) startCompilation(ctx context.Context, id uint32, req *CompileRequest) *ProtocolError {
	if id == GlobalCompilationID || id == ErrorCompilationID {
		return paramsError(id, "CompileRequest may not use reserved compilation ID %s", renderCompilationID(id))
	}
	if perr := validateCompileRequest(id, req); perr != nil {
		return perr
	}

	s.mu.Lock()
	if _, active := s.comps[id]; active {
		s.mu.Unlock()
		return paramsError(id, "a CompileRequest with compilation ID %d is already active", id)
	}
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	c := newCompilation(s, id, req)
	s.comps[id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.removeCompilation(id)
		c.run(ctx)
	}()
	return nil
}

// validateCompileRequest rejects statically malformed requests before any
// compilation work starts.
func validateCompileRequest(id uint32, req *CompileRequest) *ProtocolError {
	specs := req.Importers
	if !req.HasPath && req.Input.Importer != nil {
		specs = append([]*ImporterSpec{req.Input.Importer}, specs...)
	}
	for i, spec := range specs {
		if spec.Kind == ImporterKindUnset {
			return paramsError(id, "importer entry %d names no importer kind", i)
		}
		for _, scheme := range spec.NonCanonicalSchemes {
			if perr := validateScheme(id, scheme); perr != nil {
				return perr
			}
		}
	}
	return nil
}

func validateScheme(id uint32, scheme string) *ProtocolError {
	if scheme == "" {
		return paramsError(id, "non-canonical scheme must not be empty")
	}
	if strings.Contains(scheme, ":") {
		return paramsError(id, "non-canonical scheme %q must not contain a colon", scheme)
	}
	if scheme != strings.ToLower(scheme) {
		return paramsError(id, "non-canonical scheme %q must be all-lowercase", scheme)
	}
	return nil
}

// routeResponse delivers a host response to its compilation's correlator.
func (s *Server) routeResponse(id uint32, msg *InboundMessage) *ProtocolError {
	var requestID uint32
	var kind string
	switch {
	case msg.CanonicalizeResponse != nil:
		requestID, kind = msg.CanonicalizeResponse.ID, kindCanonicalizeResponse
	case msg.ImportResponse != nil:
		requestID, kind = msg.ImportResponse.ID, kindImportResponse
	case msg.FileImportResponse != nil:
		requestID, kind = msg.FileImportResponse.ID, kindFileImportResponse
	case msg.FunctionCallResponse != nil:
		requestID, kind = msg.FunctionCallResponse.ID, kindFunctionCallResponse
	default:
		return paramsError(id, "inbound message carries no recognized payload")
	}

	if id == GlobalCompilationID {
		return paramsError(id, "only VersionRequest may use compilation ID 0, got a %s", kind)
	}

	s.mu.Lock()
	c := s.comps[id]
	s.mu.Unlock()
	if c == nil {
		return paramsError(id, "no outstanding requests in compilation %d", id)
	}
	return c.deliver(requestID, kind, msg)
}

// send writes one outbound message as a framed packet. Safe for concurrent
// use; a frame is always written whole.
func (s *Server) send(compilationID uint32, msg *OutboundMessage) error {
	payload := AppendPacket(nil, Packet{
		CompilationID: compilationID,
		Body:          msg.Marshal(),
	})

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.isFatal() && msg.ProtocolError == nil {
		return errConnClosed
	}
	return WriteFrame(s.w, payload)
}

// abort reports a fatal protocol error to the host, fails every in-flight
// round trip, and drains the compilation goroutines before returning the
// error to the serve loop's caller.
func (s *Server) abort(perr *ProtocolError) error {
	s.log.Error("protocol error",
		"class", perr.Class.String(),
		"compilation", renderCompilationID(perr.CompilationID),
		"message", perr.Message)

	event := &ProtocolErrorEvent{
		Class:   perr.Class,
		ID:      perr.CompilationID,
		Message: perr.Message,
	}
	if err := s.send(perr.CompilationID, &OutboundMessage{ProtocolError: event}); err != nil {
		if !isTransportClosed(err) {
			s.log.Error("writing protocol error", "err", err)
		}
	}

	s.mu.Lock()
	s.fatal = true
	s.mu.Unlock()

	s.shutdown()
	s.wg.Wait()
	return perr
}

// shutdown fails every outstanding round trip so blocked compilations can
// finish. New compilations are no longer admitted.
func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	comps := make([]*compilation, 0, len(s.comps))
	for _, c := range s.comps {
		comps = append(comps, c)
	}
	s.mu.Unlock()
	for _, c := range comps {
		c.close()
	}
}

func (s *Server) removeCompilation(id uint32) {
	s.mu.Lock()
	delete(s.comps, id)
	s.mu.Unlock()
}

func (s *Server) isFatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// renderCompilationID renders the reserved error sentinel as -1, matching
// how hosts display it.
func renderCompilationID(id uint32) string {
	if id == ErrorCompilationID {
		return "-1"
	}
	return fmt.Sprintf("%d", id)
}

// asProtocolError attributes a decode error to the packet it arrived in.
func asProtocolError(err error, compilationID uint32) *ProtocolError {
	if perr, ok := err.(*ProtocolError); ok {
		if perr.CompilationID == ErrorCompilationID {
			return &ProtocolError{Class: perr.Class, CompilationID: compilationID, Message: perr.Message}
		}
		return perr
	}
	return &ProtocolError{
		Class:         ErrorClassParse,
		CompilationID: compilationID,
		Message:       err.Error(),
	}
}

// isTransportClosed returns true for errors that indicate the transport was
// closed normally.
func isTransportClosed(err error) bool {
	if err == io.EOF {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "file already closed") ||
		strings.Contains(msg, "EOF")
}

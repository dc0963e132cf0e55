// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sheetcraft/embwire/sheet"
)

// hostImporter proxies canonicalize and load calls to a host importer
// identified by id. It implements sheet.Importer, so the evaluator never
// learns the calls cross a process boundary.
type hostImporter struct {
	c          *compilation
	importerID uint32
	// schemes the importer may return that are not canonical for caching.
	schemes []string
}

func (h *hostImporter) Canonicalize(specifier string, ctx *sheet.CanonicalizeContext) (*url.URL, error) {
	msg, err := h.c.roundTrip(kindCanonicalizeResponse, func(requestID uint32) *OutboundMessage {
		req := &CanonicalizeRequest{
			ID:         requestID,
			ImporterID: h.importerID,
			URL:        specifier,
			FromImport: ctx.FromImport,
		}
		if ctx.ContainingURL != nil && h.wantsContainingURL(specifier) {
			s := ctx.ContainingURL.String()
			req.ContainingURL = &s
		}
		return &OutboundMessage{CanonicalizeRequest: req}
	})
	if err != nil {
		return nil, err
	}
	resp := msg.CanonicalizeResponse

	switch {
	case resp.Error != nil:
		return nil, errors.New(*resp.Error)
	case resp.URL == nil:
		return nil, nil
	}
	u, parseErr := url.Parse(*resp.URL)
	if parseErr != nil || !u.IsAbs() {
		return nil, fmt.Errorf("The canonical URL must be absolute, was %q.", *resp.URL)
	}
	if h.isNonCanonical(u.Scheme) {
		return nil, fmt.Errorf("The importer canonicalized %q to %q, whose scheme is declared non-canonical.", specifier, u.String())
	}
	return u, nil
}

func (h *hostImporter) Load(canonical *url.URL) (*sheet.Source, error) {
	msg, err := h.c.roundTrip(kindImportResponse, func(requestID uint32) *OutboundMessage {
		return &OutboundMessage{ImportRequest: &ImportRequest{
			ID:         requestID,
			ImporterID: h.importerID,
			URL:        canonical.String(),
		}}
	})
	if err != nil {
		return nil, err
	}
	resp := msg.ImportResponse

	switch {
	case resp.Error != nil:
		return nil, errors.New(*resp.Error)
	case resp.Success == nil:
		return nil, nil
	}
	return &sheet.Source{
		Contents: resp.Success.Contents,
		Syntax:   sheetSyntax(resp.Success.Syntax),
		URL:      canonical,
	}, nil
}

// wantsContainingURL reports whether the importer is entitled to see the
// containing URL when resolving specifier: yes for schemeless specifiers
// and for schemes the importer declared non-canonical, no for schemes that
// are potentially canonical for it.
func (h *hostImporter) wantsContainingURL(specifier string) bool {
	scheme := specifierScheme(specifier)
	if scheme == "" {
		return true
	}
	return h.isNonCanonical(scheme)
}

func (h *hostImporter) isNonCanonical(scheme string) bool {
	for _, s := range h.schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// specifierScheme extracts the URL scheme of a specifier, or "" when it is
// relative.
func specifierScheme(specifier string) string {
	u, err := url.Parse(specifier)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// fileImporter proxies a host file importer: the host only locates the
// stylesheet, the compiler reads it from disk itself.
type fileImporter struct {
	c          *compilation
	importerID uint32
}

func (f *fileImporter) Canonicalize(specifier string, ctx *sheet.CanonicalizeContext) (*url.URL, error) {
	msg, err := f.c.roundTrip(kindFileImportResponse, func(requestID uint32) *OutboundMessage {
		req := &FileImportRequest{
			ID:         requestID,
			ImporterID: f.importerID,
			URL:        specifier,
			FromImport: ctx.FromImport,
		}
		if ctx.ContainingURL != nil && specifierScheme(specifier) == "" {
			s := ctx.ContainingURL.String()
			req.ContainingURL = &s
		}
		return &OutboundMessage{FileImportRequest: req}
	})
	if err != nil {
		return nil, err
	}
	resp := msg.FileImportResponse

	switch {
	case resp.Error != nil:
		return nil, errors.New(*resp.Error)
	case resp.FileURL == nil:
		return nil, nil
	}
	u, parseErr := url.Parse(*resp.FileURL)
	if parseErr != nil || !u.IsAbs() || !strings.EqualFold(u.Scheme, "file") {
		return nil, fmt.Errorf("The file importer must return an absolute file: URL, was %q.", *resp.FileURL)
	}
	// The host names a file; resolving extensions against the filesystem is
	// the compiler's job.
	return sheet.ResolveFileURL(u), nil
}

func (f *fileImporter) Load(canonical *url.URL) (*sheet.Source, error) {
	return sheet.LoadFileURL(canonical)
}

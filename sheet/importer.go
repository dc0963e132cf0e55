// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
)

// Syntax identifies how a loaded source should be parsed. The evaluator
// currently treats every syntax as the default sheet syntax; the field
// exists so loads can round-trip it.
type Syntax int

const (
	SyntaxDefault Syntax = iota
	SyntaxIndented
	SyntaxCSS
)

// Source is one loaded stylesheet.
type Source struct {
	Contents string
	Syntax   Syntax
	URL      *url.URL
}

// CanonicalizeContext carries the information an importer may consult when
// resolving a specifier.
type CanonicalizeContext struct {
	// ContainingURL is the canonical URL of the stylesheet that contains the
	// import, when the importer is entitled to see it (see the containing-URL
	// rules in the protocol layer). Nil otherwise.
	ContainingURL *url.URL
	// FromImport is true when the load comes from an @import rule rather
	// than a module load.
	FromImport bool
}

// Importer resolves and loads stylesheets. Implementations are either local
// (load paths, filesystem importers) or remote proxies that round-trip each
// call to the host process; the evaluator only ever sees this interface.
type Importer interface {
	// Canonicalize resolves a possibly-relative specifier to one absolute
	// canonical URL. Returning (nil, nil) means "not found by this importer"
	// and the evaluator advances to the next importer in order.
	Canonicalize(specifier string, ctx *CanonicalizeContext) (*url.URL, error)
	// Load returns the stylesheet for a canonical URL previously returned by
	// Canonicalize. Returning (nil, nil) means not found.
	Load(canonical *url.URL) (*Source, error)
}

// loadPathImporter resolves specifiers against a filesystem directory. It
// is the degenerate importer kind that never invokes the host.
type loadPathImporter struct {
	dir string
}

// NewLoadPathImporter returns an Importer resolving relative specifiers
// against the given directory.
func NewLoadPathImporter(dir string) Importer {
	return &loadPathImporter{dir: dir}
}

func (l *loadPathImporter) Canonicalize(specifier string, ctx *CanonicalizeContext) (*url.URL, error) {
	u, err := url.Parse(specifier)
	if err != nil {
		return nil, nil
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return nil, nil
	}
	target := u.Path
	if u.Scheme == "" {
		target = specifier
	}
	resolved := resolveOnDisk(filepath.Join(l.dir, filepath.FromSlash(target)))
	if resolved == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil, err
	}
	return fileURL(abs), nil
}

func (l *loadPathImporter) Load(canonical *url.URL) (*Source, error) {
	return loadFileURL(canonical)
}

// ResolveFileURL resolves a file: URL against the filesystem, trying the
// exact path and then the default extension. Nil when nothing exists.
func ResolveFileURL(u *url.URL) *url.URL {
	resolved := resolveOnDisk(filepath.FromSlash(u.Path))
	if resolved == "" {
		return nil
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return nil
	}
	return fileURL(abs)
}

// LoadFileURL reads a file: URL from disk, returning (nil, nil) when the
// file does not exist.
func LoadFileURL(u *url.URL) (*Source, error) {
	return loadFileURL(u)
}

// FileURL converts an absolute filesystem path to a file: URL.
func FileURL(abs string) *url.URL {
	return fileURL(abs)
}

// resolveOnDisk tries the path as given, then with the default extension.
func resolveOnDisk(p string) string {
	for _, candidate := range []string{p, p + ".css"} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// loadFileURL reads a file: URL from disk.
func loadFileURL(u *url.URL) (*Source, error) {
	p := filepath.FromSlash(u.Path)
	contents, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &Source{Contents: string(contents), URL: u}, nil
}

func fileURL(abs string) *url.URL {
	return &url.URL{Scheme: "file", Path: path.Clean("/" + filepath.ToSlash(abs))}
}

// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Package sheet implements the stylesheet compile service behind the
// embedded wire protocol: a value system with unit-aware numeric
// arithmetic, colors, lists, maps, argument lists, and symbolic
// calculations; a parser and evaluator for the stylesheet syntax; and an
// expanded/compressed CSS printer.
//
// The package never touches a transport. Imports resolve through the
// [Importer] interface and function calls through [Function] values, so the
// protocol layer can plug in remote proxies that round-trip each call to
// the host process while tests and local callers plug in plain
// implementations.
package sheet

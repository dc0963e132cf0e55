// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Package conformance provides a scripted host that exercises every feature
// of the embedded compilation protocol from the wire side: version exchange,
// string compilation, output styles, importer and function round trips,
// response correlation, log relay, the accessed-argument-list contract, and
// every class of fatal protocol error.
//
// Each [Scenario] runs one host session against a compiler, either
// in-process or a spawned binary speaking the protocol on stdio. [Host]
// works at the frame level so scenarios can also send packets a well-behaved
// host library could never produce.
package conformance

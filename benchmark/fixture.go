// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Package benchmark generates synthetic stylesheet workloads for measuring
// compiler and wire-codec throughput.
package benchmark

import (
	"fmt"
	"strings"
)

// Stylesheet builds a source with ruleCount rules of declsPerRule
// declarations each. Every declaration carries an arithmetic expression so
// the evaluator does real work per rule.
func Stylesheet(ruleCount, declsPerRule int) string {
	var b strings.Builder
	for r := 0; r < ruleCount; r++ {
		fmt.Fprintf(&b, ".rule-%d {\n", r)
		for d := 0; d < declsPerRule; d++ {
			fmt.Fprintf(&b, "  margin-%d: %dpx + %dpx;\n", d, r, d)
		}
		b.WriteString("}\n")
	}
	return b.String()
}

// ImportChain builds depth stylesheets where sheet i imports sheet i+1,
// keyed "sheet-0" through "sheet-<depth-1>". The last sheet carries the
// payload rules.
func ImportChain(depth, ruleCount int) map[string]string {
	sheets := make(map[string]string, depth)
	for i := 0; i < depth-1; i++ {
		sheets[fmt.Sprintf("sheet-%d", i)] = fmt.Sprintf("@import \"sheet-%d\";\n.level-%d {a: %dpx}\n", i+1, i, i)
	}
	sheets[fmt.Sprintf("sheet-%d", depth-1)] = Stylesheet(ruleCount, 1)
	return sheets
}

// FunctionHeavy builds a source whose every declaration calls a host
// function, so each rule costs one round trip.
func FunctionHeavy(calls int) string {
	var b strings.Builder
	b.WriteString("a {\n")
	for i := 0; i < calls; i++ {
		fmt.Fprintf(&b, "  prop-%d: lookup(%d);\n", i, i)
	}
	b.WriteString("}\n")
	return b.String()
}

// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"math"
	"strings"
	"testing"
)

func TestNumberCSS(t *testing.T) {
	tests := []struct {
		n    Number
		want string
	}{
		{Number{Value: 3, Numerators: []string{"px"}}, "3px"},
		{Number{Value: 1.5}, "1.5"},
		{Number{Value: 60, Numerators: []string{"px"}, Denominators: []string{"s"}}, "60px/s"},
		{Number{Value: 2, Numerators: []string{"px", "em"}}, "2px*em"},
		{Number{Value: -0.25, Numerators: []string{"turn"}}, "-0.25turn"},
	}
	for _, tt := range tests {
		if got := tt.n.CSS(); got != tt.want {
			t.Errorf("%+v: got %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestNumberConversion(t *testing.T) {
	tests := []struct {
		value      float64
		from, to   string
		want       float64
	}{
		{1, "in", "px", 96},
		{72, "pt", "in", 1},
		{2.54, "cm", "in", 1},
		{1, "s", "ms", 1000},
		{0.5, "turn", "deg", 180},
		{1, "khz", "hz", 1000},
		{1, "dppx", "dpi", 96},
	}
	for _, tt := range tests {
		n := Number{Value: tt.value, Numerators: []string{tt.from}}
		got, err := n.ConvertValueTo(Number{Numerators: []string{tt.to}})
		if err != nil {
			t.Errorf("%v%s to %s: %v", tt.value, tt.from, tt.to, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%v%s to %s: got %v, want %v", tt.value, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNumberIncompatibleUnits(t *testing.T) {
	px := Number{Value: 1, Numerators: []string{"px"}}
	s := Number{Value: 1, Numerators: []string{"s"}}
	if px.CompatibleWith(s) {
		t.Error("px should not be compatible with s")
	}
	if _, err := px.Add(s); err == nil {
		t.Error("expected an error adding px and s")
	} else if !strings.Contains(err.Error(), "incompatible") {
		t.Errorf("error: %v", err)
	}
}

func TestNumberUnitlessIsCompatibleWithAnything(t *testing.T) {
	px := Number{Value: 3, Numerators: []string{"px"}}
	plain := Number{Value: 2}
	if !px.CompatibleWith(plain) || !plain.CompatibleWith(px) {
		t.Fatal("unitless numbers must be compatible with any unit")
	}
	sum, err := px.Add(plain)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.CSS() != "5px" {
		t.Errorf("3px + 2: got %q, want 5px", sum.CSS())
	}
	// The unit comes from whichever side carries one.
	sum, err = plain.Add(px)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.CSS() != "5px" {
		t.Errorf("2 + 3px: got %q, want 5px", sum.CSS())
	}
}

func TestNumberArithmetic(t *testing.T) {
	px := func(v float64) Number { return Number{Value: v, Numerators: []string{"px"}} }

	sum, err := px(1).Add(Number{Value: 1, Numerators: []string{"in"}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.CSS() != "97px" {
		t.Errorf("1px + 1in: got %q, want 97px", sum.CSS())
	}

	diff, err := px(10).Subtract(px(4))
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	if diff.CSS() != "6px" {
		t.Errorf("10px - 4px: got %q, want 6px", diff.CSS())
	}

	product := px(3).Multiply(Number{Value: 2})
	if product.CSS() != "6px" {
		t.Errorf("3px * 2: got %q, want 6px", product.CSS())
	}

	quotient, err := px(6).Divide(px(2))
	if err != nil {
		t.Fatalf("Divide: %v", err)
	}
	if !quotient.IsUnitless() || quotient.Value != 3 {
		t.Errorf("6px / 2px: got %q, want unitless 3", quotient.CSS())
	}

	if _, err := px(1).Divide(Number{Value: 0}); err == nil {
		t.Error("expected a division-by-zero error")
	}
}

func TestNumberUnitCancellation(t *testing.T) {
	// 60px/s * 2s cancels the time units, converting scale where needed.
	rate := Number{Value: 60, Numerators: []string{"px"}, Denominators: []string{"s"}}
	duration := Number{Value: 2, Numerators: []string{"s"}}
	got := rate.Multiply(duration)
	if got.CSS() != "120px" {
		t.Errorf("60px/s * 2s: got %q, want 120px", got.CSS())
	}

	// Mixed-scale cancellation: 1px/ms * 1s = 1000px.
	perMS := Number{Value: 1, Numerators: []string{"px"}, Denominators: []string{"ms"}}
	second := Number{Value: 1, Numerators: []string{"s"}}
	got = perMS.Multiply(second)
	if got.UnitString() != "px" || math.Abs(got.Value-1000) > 1e-9 {
		t.Errorf("1px/ms * 1s: got %q, want 1000px", got.CSS())
	}
}

func TestNumberCompare(t *testing.T) {
	in := Number{Value: 1, Numerators: []string{"in"}}
	px := Number{Value: 100, Numerators: []string{"px"}}
	got, err := in.Compare(px)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if got != -1 {
		t.Errorf("1in vs 100px: got %d, want -1", got)
	}

	got, err = px.Compare(Number{Value: 100, Numerators: []string{"px"}})
	if err != nil || got != 0 {
		t.Errorf("100px vs 100px: got %d, %v", got, err)
	}

	if _, err := in.Compare(Number{Value: 1, Numerators: []string{"deg"}}); err == nil {
		t.Error("expected an error comparing in and deg")
	}
}

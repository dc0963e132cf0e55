// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"strings"
	"testing"

	"github.com/sheetcraft/embwire/sheet"
)

func mustMarshal(t *testing.T, codec *valueCodec, v sheet.Value) []byte {
	t.Helper()
	b, err := codec.marshalValue(v)
	if err != nil {
		t.Fatalf("marshal %#v: %v", v, err)
	}
	return b
}

func roundTripValue(t *testing.T, v sheet.Value) sheet.Value {
	t.Helper()
	codec := newValueCodec(newHandleRegistry())
	out, err := codec.decodeValue(mustMarshal(t, codec, v))
	if err != nil {
		t.Fatalf("round trip %#v: %v", v, err)
	}
	return out
}

func TestValueRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   sheet.Value
		css  string
	}{
		{"quoted string", sheet.String{Text: "hello", Quoted: true}, `"hello"`},
		{"unquoted string", sheet.String{Text: "sans-serif"}, "sans-serif"},
		{"number with units", sheet.Number{Value: 1.5, Numerators: []string{"px"}}, "1.5px"},
		{"rate", sheet.Number{Value: 3, Numerators: []string{"px"}, Denominators: []string{"s"}}, "3px/s"},
		{"color", sheet.Color{Space: "rgb", Channel1: 255, Channel2: 128, Channel3: 0, Alpha: 1}, "rgb(255, 128, 0)"},
		{"true", sheet.Bool(true), "true"},
		{"false", sheet.Bool(false), "false"},
		{"null", sheet.Null{}, ""},
		{"compiler function", sheet.CompilerFunction{Handle: 12}, ""},
		{"host function", sheet.HostFunction{Handle: 3, Signature: "shade($c)"}, ""},
		{
			"bracketed list",
			sheet.List{
				Items:     []sheet.Value{sheet.Number{Value: 1, Numerators: []string{"px"}}, sheet.Number{Value: 2, Numerators: []string{"px"}}},
				Separator: sheet.SeparatorSpace,
				Brackets:  true,
			},
			"[1px 2px]",
		},
		{
			"map",
			sheet.Map{
				Keys:   []sheet.Value{sheet.String{Text: "a"}, sheet.String{Text: "b"}},
				Values: []sheet.Value{sheet.Number{Value: 1}, sheet.Number{Value: 2}},
			},
			"(a: 1, b: 2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTripValue(t, tt.in)
			if got.CSS() != tt.css {
				t.Fatalf("CSS: got %q, want %q", got.CSS(), tt.css)
			}
		})
	}
}

func TestValueRoundTripNumberCSS(t *testing.T) {
	// The decoded rate must preserve its unit structure, not just its text.
	got := roundTripValue(t, sheet.Number{Value: 3, Numerators: []string{"px"}, Denominators: []string{"s"}})
	n, ok := got.(sheet.Number)
	if !ok {
		t.Fatalf("expected Number, got %T", got)
	}
	if len(n.Numerators) != 1 || n.Numerators[0] != "px" || len(n.Denominators) != 1 || n.Denominators[0] != "s" {
		t.Fatalf("unit structure lost: %+v", n)
	}
}

func TestUndecidedSeparatorInvariantOnEncode(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	one := mustMarshal(t, codec, sheet.List{Items: []sheet.Value{sheet.Null{}}})
	if _, err := codec.decodeValue(one); err != nil {
		t.Fatalf("single-item undecided list should round trip: %v", err)
	}

	two, err := codec.marshalValue(sheet.List{
		Items: []sheet.Value{sheet.Null{}, sheet.Null{}},
	})
	if err == nil || !strings.Contains(err.Error(), "undecided separator") {
		t.Fatalf("expected encode to reject the list, got %d bytes, err %v", len(two), err)
	}

	if _, err := codec.marshalValue(&sheet.ArgumentList{
		Items: []sheet.Value{sheet.Null{}, sheet.Null{}},
	}); err == nil || !strings.Contains(err.Error(), "undecided separator") {
		t.Fatalf("expected encode to reject the argument list, got %v", err)
	}

	// A nested offender is caught too.
	if _, err := codec.marshalValue(sheet.List{
		Separator: sheet.SeparatorComma,
		Items: []sheet.Value{
			sheet.List{Items: []sheet.Value{sheet.Null{}, sheet.Null{}}},
		},
	}); err == nil || !strings.Contains(err.Error(), "undecided separator") {
		t.Fatalf("expected encode to reject the nested list, got %v", err)
	}
}

func TestUndecidedSeparatorInvariantOnDecode(t *testing.T) {
	// Hand-built bytes, since the encoder refuses to produce them.
	null := appendVarintField(nil, valueSingleton, singletonNull)
	var sub []byte
	sub = appendVarintField(sub, 1, wireSepUndecided)
	sub = appendBytesField(sub, 3, null)
	sub = appendBytesField(sub, 3, null)
	wire := appendBytesField(nil, valueList, sub)

	codec := newValueCodec(newHandleRegistry())
	if _, err := codec.decodeValue(wire); err == nil || !strings.Contains(err.Error(), "undecided separator") {
		t.Fatalf("expected separator invariant error, got %v", err)
	}
}

func TestColorAlphaOutOfRange(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	b := mustMarshal(t, codec, sheet.Color{Space: "rgb", Alpha: 1.5})
	if _, err := codec.decodeValue(b); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected alpha range error, got %v", err)
	}
}

func TestCompilerFunctionHandleMustBeIssued(t *testing.T) {
	fns := newHandleRegistry()
	sender := newValueCodec(fns)
	wire := mustMarshal(t, sender, sheet.CompilerFunction{Handle: 42})

	// A process that never issued handle 42 rejects its echo.
	if _, err := newValueCodec(newHandleRegistry()).decodeValue(wire); err == nil || !strings.Contains(err.Error(), "unknown compiler function handle") {
		t.Fatalf("expected unknown handle error, got %v", err)
	}
	if _, err := sender.decodeValue(wire); err != nil {
		t.Fatalf("issuing codec should accept its own handle: %v", err)
	}
}

func TestCompilerFunctionHandleOutlivesItsCompilation(t *testing.T) {
	fns := newHandleRegistry()
	wire := mustMarshal(t, newValueCodec(fns), sheet.CompilerFunction{Handle: 7})

	// A later compilation shares the process-wide registry, so the echo
	// still resolves.
	later := newValueCodec(fns)
	got, err := later.decodeValue(wire)
	if err != nil {
		t.Fatalf("decode in a later compilation: %v", err)
	}
	fn, ok := got.(sheet.CompilerFunction)
	if !ok || fn.Handle != 7 {
		t.Fatalf("expected compiler function handle 7, got %#v", got)
	}
}

func TestArgumentListIDAssignmentAndEcho(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	list := &sheet.ArgumentList{
		Items:        []sheet.Value{sheet.Bool(true)},
		Keywords:     map[string]sheet.Value{"shade": sheet.Number{Value: 10}},
		KeywordOrder: []string{"shade"},
		Separator:    sheet.SeparatorComma,
	}
	mustMarshal(t, codec, list)
	if list.ID == 0 {
		t.Fatal("expected an id to be assigned on encode")
	}

	// A bare id echo resolves to the registered list.
	var echo []byte
	echo = appendVarintField(echo, 1, uint64(list.ID))
	var wrapped []byte
	wrapped = appendBytesField(wrapped, valueArgumentList, echo)

	got, err := codec.decodeValue(wrapped)
	if err != nil {
		t.Fatalf("decode echo: %v", err)
	}
	if got != sheet.Value(list) {
		t.Fatalf("expected the registered list back, got %#v", got)
	}
}

func TestUnknownArgumentListIDIsRejected(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	var echo []byte
	echo = appendVarintField(echo, 1, 99)
	var wrapped []byte
	wrapped = appendBytesField(wrapped, valueArgumentList, echo)
	if _, err := codec.decodeValue(wrapped); err == nil || !strings.Contains(err.Error(), "does not match any list") {
		t.Fatalf("expected unknown id error, got %v", err)
	}
}

func TestCalculationSimplifiesOnDecode(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	calc := sheet.Calculation{
		Name: "calc",
		Args: []sheet.CalcValue{sheet.CalcOperation{
			Operator: "+",
			Left:     sheet.CalcNumber{Number: sheet.Number{Value: 1, Numerators: []string{"px"}}},
			Right:    sheet.CalcNumber{Number: sheet.Number{Value: 2, Numerators: []string{"px"}}},
		}},
	}
	got, err := codec.decodeValue(mustMarshal(t, codec, calc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	n, ok := got.(sheet.Number)
	if !ok {
		t.Fatalf("expected a reduced Number, got %T (%s)", got, got.CSS())
	}
	if n.Value != 3 || n.CSS() != "3px" {
		t.Fatalf("got %s, want 3px", n.CSS())
	}
}

func TestClampWithIncompatibleUnitsStaysSymbolic(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	calc := sheet.Calculation{
		Name: "clamp",
		Args: []sheet.CalcValue{
			sheet.CalcNumber{Number: sheet.Number{Value: 1, Numerators: []string{"px"}}},
			sheet.CalcNumber{Number: sheet.Number{Value: 2, Numerators: []string{"vw"}}},
			sheet.CalcNumber{Number: sheet.Number{Value: 3, Numerators: []string{"px"}}},
		},
	}
	got, err := codec.decodeValue(mustMarshal(t, codec, calc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got.(sheet.Calculation); !ok {
		t.Fatalf("expected a symbolic calculation, got %T (%s)", got, got.CSS())
	}
	if got.CSS() != "clamp(1px, 2vw, 3px)" {
		t.Fatalf("CSS: got %q", got.CSS())
	}
}

func TestCalculationArityViolation(t *testing.T) {
	codec := newValueCodec(newHandleRegistry())
	calc := sheet.Calculation{
		Name: "clamp",
		Args: []sheet.CalcValue{
			sheet.CalcNumber{Number: sheet.Number{Value: 1}},
		},
	}
	if _, err := codec.decodeValue(mustMarshal(t, codec, calc)); err == nil || !strings.Contains(err.Error(), "clamp() requires exactly 3 arguments") {
		t.Fatalf("expected arity error, got %v", err)
	}
}

func TestNestedValueRoundTrip(t *testing.T) {
	in := sheet.List{
		Separator: sheet.SeparatorComma,
		Items: []sheet.Value{
			sheet.Map{
				Keys:   []sheet.Value{sheet.String{Text: "inner", Quoted: true}},
				Values: []sheet.Value{sheet.List{Items: []sheet.Value{sheet.Bool(false)}, Separator: sheet.SeparatorSlash}},
			},
			sheet.Number{Value: 0.5},
		},
	}
	got := roundTripValue(t, in)
	if got.CSS() != in.CSS() {
		t.Fatalf("CSS: got %q, want %q", got.CSS(), in.CSS())
	}
}

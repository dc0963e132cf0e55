// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package embwire

import (
	"fmt"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sheetcraft/embwire/sheet"
)

// Value variant field numbers.
const (
	valueString           protowire.Number = 1
	valueNumber           protowire.Number = 2
	valueColor            protowire.Number = 3
	valueList             protowire.Number = 4
	valueMap              protowire.Number = 5
	valueSingleton        protowire.Number = 6
	valueCompilerFunction protowire.Number = 7
	valueHostFunction     protowire.Number = 8
	valueArgumentList     protowire.Number = 9
	valueCalculation      protowire.Number = 10
)

// Singleton values.
const (
	singletonTrue uint64 = iota
	singletonFalse
	singletonNull
)

// List separators on the wire.
const (
	wireSepComma uint64 = iota
	wireSepSpace
	wireSepSlash
	wireSepUndecided
)

// Calculation operators on the wire.
const (
	wireOpAdd uint64 = iota
	wireOpSubtract
	wireOpMultiply
	wireOpDivide
)

// handleRegistry records the compiler function handles issued to the host.
// Handles are process-wide: one issued during any compilation remains
// resolvable when echoed back in a later one.
type handleRegistry struct {
	mu      sync.Mutex
	handles map[uint32]struct{}
}

func newHandleRegistry() *handleRegistry {
	return &handleRegistry{handles: make(map[uint32]struct{})}
}

func (r *handleRegistry) issue(handle uint32) {
	r.mu.Lock()
	r.handles[handle] = struct{}{}
	r.mu.Unlock()
}

func (r *handleRegistry) known(handle uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[handle]
	return ok
}

// valueCodec converts between the evaluator's values and their wire form.
// One codec lives per compilation: it owns that compilation's argument-list
// id registry. Compiler function handles go through the shared registry, so
// a handle issued in one compilation still resolves in the next.
type valueCodec struct {
	fns         *handleRegistry
	nextArgList uint32
	// argLists holds keyword-bearing argument lists sent to the host, by id.
	argLists map[uint32]*sheet.ArgumentList
	// sentKeywordLists accumulates keyword-bearing argument list ids
	// marshaled since the last takeSentKeywordLists call.
	sentKeywordLists []uint32
}

func (c *valueCodec) hasArgumentList(id uint32) bool {
	_, ok := c.argLists[id]
	return ok
}

func (c *valueCodec) argumentList(id uint32) *sheet.ArgumentList {
	return c.argLists[id]
}

// takeSentKeywordLists returns the keyword-bearing argument list ids
// marshaled since the previous call and resets the accumulator. The
// function proxy uses it to scope its accessed-keyword check to one call.
func (c *valueCodec) takeSentKeywordLists() []uint32 {
	ids := c.sentKeywordLists
	c.sentKeywordLists = nil
	return ids
}

func newValueCodec(fns *handleRegistry) *valueCodec {
	return &valueCodec{
		fns:      fns,
		argLists: make(map[uint32]*sheet.ArgumentList),
	}
}

func toWireSeparator(s sheet.Separator) uint64 {
	switch s {
	case sheet.SeparatorComma:
		return wireSepComma
	case sheet.SeparatorSpace:
		return wireSepSpace
	case sheet.SeparatorSlash:
		return wireSepSlash
	default:
		return wireSepUndecided
	}
}

func fromWireSeparator(v uint64) (sheet.Separator, error) {
	switch v {
	case wireSepComma:
		return sheet.SeparatorComma, nil
	case wireSepSpace:
		return sheet.SeparatorSpace, nil
	case wireSepSlash:
		return sheet.SeparatorSlash, nil
	case wireSepUndecided:
		return sheet.SeparatorUndecided, nil
	default:
		return 0, fmt.Errorf("unknown list separator %d", v)
	}
}

// --- encode ---------------------------------------------------------------

// marshalValue encodes one value message body. Values that may not cross
// the wire, like a multi-item list with an undecided separator, are caught
// here before any bytes are written.
func (c *valueCodec) marshalValue(v sheet.Value) ([]byte, error) {
	var dst []byte
	switch v := v.(type) {
	case sheet.String:
		var sub []byte
		sub = appendStringField(sub, 1, v.Text)
		sub = appendBoolField(sub, 2, v.Quoted)
		dst = appendBytesField(dst, valueString, sub)

	case sheet.Number:
		dst = appendBytesField(dst, valueNumber, marshalNumber(v))

	case sheet.Color:
		var sub []byte
		sub = appendStringField(sub, 1, v.Space)
		sub = appendDoubleField(sub, 2, v.Channel1)
		sub = appendDoubleField(sub, 3, v.Channel2)
		sub = appendDoubleField(sub, 4, v.Channel3)
		sub = appendDoubleField(sub, 5, v.Alpha)
		dst = appendBytesField(dst, valueColor, sub)

	case sheet.List:
		if v.Separator == sheet.SeparatorUndecided && len(v.Items) > 1 {
			return nil, fmt.Errorf("list with %d items may not have an undecided separator", len(v.Items))
		}
		var sub []byte
		sub = appendVarintField(sub, 1, toWireSeparator(v.Separator))
		sub = appendBoolField(sub, 2, v.Brackets)
		for _, item := range v.Items {
			b, err := c.marshalValue(item)
			if err != nil {
				return nil, err
			}
			sub = appendBytesField(sub, 3, b)
		}
		dst = appendBytesField(dst, valueList, sub)

	case sheet.Map:
		var sub []byte
		for i := range v.Keys {
			key, err := c.marshalValue(v.Keys[i])
			if err != nil {
				return nil, err
			}
			val, err := c.marshalValue(v.Values[i])
			if err != nil {
				return nil, err
			}
			var entry []byte
			entry = appendBytesField(entry, 1, key)
			entry = appendBytesField(entry, 2, val)
			sub = appendBytesField(sub, 1, entry)
		}
		dst = appendBytesField(dst, valueMap, sub)

	case sheet.Bool:
		s := singletonFalse
		if v {
			s = singletonTrue
		}
		dst = appendVarintField(dst, valueSingleton, s)

	case sheet.Null:
		dst = appendVarintField(dst, valueSingleton, singletonNull)

	case sheet.CompilerFunction:
		c.fns.issue(v.Handle)
		var sub []byte
		sub = appendVarintField(sub, 1, uint64(v.Handle))
		dst = appendBytesField(dst, valueCompilerFunction, sub)

	case sheet.HostFunction:
		var sub []byte
		sub = appendVarintField(sub, 1, uint64(v.Handle))
		sub = appendStringField(sub, 2, v.Signature)
		dst = appendBytesField(dst, valueHostFunction, sub)

	case *sheet.ArgumentList:
		if v.Separator == sheet.SeparatorUndecided && len(v.Items) > 1 {
			return nil, fmt.Errorf("argument list with %d items may not have an undecided separator", len(v.Items))
		}
		if v.ID == 0 {
			c.nextArgList++
			v.ID = c.nextArgList
		}
		if len(v.Keywords) > 0 {
			c.argLists[v.ID] = v
			c.sentKeywordLists = append(c.sentKeywordLists, v.ID)
		}
		var sub []byte
		sub = appendVarintField(sub, 1, uint64(v.ID))
		sub = appendVarintField(sub, 2, toWireSeparator(v.Separator))
		for _, item := range v.Items {
			b, err := c.marshalValue(item)
			if err != nil {
				return nil, err
			}
			sub = appendBytesField(sub, 3, b)
		}
		for _, name := range v.KeywordOrder {
			val, err := c.marshalValue(v.Keywords[name])
			if err != nil {
				return nil, err
			}
			var entry []byte
			entry = appendStringField(entry, 1, name)
			entry = appendBytesField(entry, 2, val)
			sub = appendBytesField(sub, 4, entry)
		}
		dst = appendBytesField(dst, valueArgumentList, sub)

	case sheet.Calculation:
		dst = appendBytesField(dst, valueCalculation, c.marshalCalculation(v))
	}
	return dst, nil
}

func marshalNumber(n sheet.Number) []byte {
	var dst []byte
	dst = appendDoubleField(dst, 1, n.Value)
	for _, u := range n.Numerators {
		dst = appendStringField(dst, 2, u)
	}
	for _, u := range n.Denominators {
		dst = appendStringField(dst, 3, u)
	}
	return dst
}

func (c *valueCodec) marshalCalculation(calc sheet.Calculation) []byte {
	var dst []byte
	dst = appendStringField(dst, 1, calc.Name)
	for _, arg := range calc.Args {
		dst = appendBytesField(dst, 2, c.marshalCalcValue(arg))
	}
	return dst
}

func (c *valueCodec) marshalCalcValue(v sheet.CalcValue) []byte {
	var dst []byte
	switch v := v.(type) {
	case sheet.CalcNumber:
		dst = appendBytesField(dst, 1, marshalNumber(v.Number))
	case sheet.CalcString:
		dst = appendStringField(dst, 2, v.Text)
	case sheet.CalcInterpolation:
		dst = appendStringField(dst, 3, v.Text)
	case sheet.CalcOperation:
		var sub []byte
		sub = appendVarintField(sub, 1, toWireOperator(v.Operator))
		sub = appendBytesField(sub, 2, c.marshalCalcValue(v.Left))
		sub = appendBytesField(sub, 3, c.marshalCalcValue(v.Right))
		dst = appendBytesField(dst, 4, sub)
	case sheet.CalcNested:
		dst = appendBytesField(dst, 5, c.marshalCalculation(v.Calculation))
	}
	return dst
}

func toWireOperator(op string) uint64 {
	switch op {
	case "+":
		return wireOpAdd
	case "-":
		return wireOpSubtract
	case "*":
		return wireOpMultiply
	default:
		return wireOpDivide
	}
}

// --- decode ---------------------------------------------------------------

// decodeValue decodes one value message body into an evaluator value,
// validating the invariants the evaluator relies on.
func (c *valueCodec) decodeValue(b []byte) (sheet.Value, error) {
	var result sheet.Value
	d := newFieldDecoder(b)
	for d.next() {
		var err error
		switch d.num {
		case valueString:
			result, err = decodeString(d.bytesField())
		case valueNumber:
			var n sheet.Number
			n, err = unmarshalNumber(d.bytesField())
			result = n
		case valueColor:
			result, err = decodeColor(d.bytesField())
		case valueList:
			result, err = c.decodeList(d.bytesField())
		case valueMap:
			result, err = c.decodeMap(d.bytesField())
		case valueSingleton:
			result, err = decodeSingleton(d.varintField())
		case valueCompilerFunction:
			result, err = c.decodeCompilerFunction(d.bytesField())
		case valueHostFunction:
			result, err = decodeHostFunction(d.bytesField())
		case valueArgumentList:
			result, err = c.decodeArgumentList(d.bytesField())
		case valueCalculation:
			var calc sheet.Calculation
			calc, err = c.decodeCalculation(d.bytesField())
			if err == nil {
				result, err = sheet.SimplifyCalculation(calc)
			}
		default:
			err = fmt.Errorf("unknown value variant %d", d.num)
		}
		if err != nil {
			return nil, err
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if result == nil {
		return nil, fmt.Errorf("value has no variant set")
	}
	return result, nil
}

func decodeString(b []byte) (sheet.Value, error) {
	var v sheet.String
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v.Text = d.stringField()
		case 2:
			v.Quoted = d.boolField()
		default:
			d.skip()
		}
	}
	return v, d.err
}

func unmarshalNumber(b []byte) (sheet.Number, error) {
	var n sheet.Number
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			n.Value = d.doubleField()
		case 2:
			n.Numerators = append(n.Numerators, d.stringField())
		case 3:
			n.Denominators = append(n.Denominators, d.stringField())
		default:
			d.skip()
		}
	}
	return n, d.err
}

func decodeColor(b []byte) (sheet.Value, error) {
	v := sheet.Color{Alpha: 1}
	alphaSet := false
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v.Space = d.stringField()
		case 2:
			v.Channel1 = d.doubleField()
		case 3:
			v.Channel2 = d.doubleField()
		case 4:
			v.Channel3 = d.doubleField()
		case 5:
			v.Alpha = d.doubleField()
			alphaSet = true
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if v.Space == "" {
		v.Space = "rgb"
	}
	if alphaSet && (v.Alpha < 0 || v.Alpha > 1) {
		return nil, fmt.Errorf("color alpha %v is out of range [0, 1]", v.Alpha)
	}
	return v, nil
}

func (c *valueCodec) decodeList(b []byte) (sheet.Value, error) {
	var v sheet.List
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			sep, err := fromWireSeparator(d.varintField())
			if err != nil {
				return nil, err
			}
			v.Separator = sep
		case 2:
			v.Brackets = d.boolField()
		case 3:
			item, err := c.decodeValue(d.bytesField())
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, item)
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if v.Separator == sheet.SeparatorUndecided && len(v.Items) > 1 {
		return nil, fmt.Errorf("list with %d items may not have an undecided separator", len(v.Items))
	}
	return v, nil
}

func (c *valueCodec) decodeMap(b []byte) (sheet.Value, error) {
	var v sheet.Map
	d := newFieldDecoder(b)
	for d.next() {
		if d.num != 1 {
			d.skip()
			continue
		}
		entry := d.bytesField()
		var key, val sheet.Value
		ed := newFieldDecoder(entry)
		for ed.next() {
			var err error
			switch ed.num {
			case 1:
				key, err = c.decodeValue(ed.bytesField())
			case 2:
				val, err = c.decodeValue(ed.bytesField())
			default:
				ed.skip()
			}
			if err != nil {
				return nil, err
			}
		}
		if ed.err != nil {
			return nil, ed.err
		}
		if key == nil || val == nil {
			return nil, fmt.Errorf("map entry is missing its key or value")
		}
		v.Keys = append(v.Keys, key)
		v.Values = append(v.Values, val)
	}
	return v, d.err
}

func decodeSingleton(s uint64) (sheet.Value, error) {
	switch s {
	case singletonTrue:
		return sheet.Bool(true), nil
	case singletonFalse:
		return sheet.Bool(false), nil
	case singletonNull:
		return sheet.Null{}, nil
	default:
		return nil, fmt.Errorf("unknown singleton value %d", s)
	}
}

func (c *valueCodec) decodeCompilerFunction(b []byte) (sheet.Value, error) {
	var handle uint32
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			handle = d.uint32Field()
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if !c.fns.known(handle) {
		return nil, fmt.Errorf("unknown compiler function handle %d", handle)
	}
	return sheet.CompilerFunction{Handle: handle}, nil
}

func decodeHostFunction(b []byte) (sheet.Value, error) {
	var v sheet.HostFunction
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v.Handle = d.uint32Field()
		case 2:
			v.Signature = d.stringField()
		default:
			d.skip()
		}
	}
	return v, d.err
}

func (c *valueCodec) decodeArgumentList(b []byte) (sheet.Value, error) {
	v := &sheet.ArgumentList{Keywords: make(map[string]sheet.Value)}
	sawContents := false
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v.ID = d.uint32Field()
		case 2:
			sep, err := fromWireSeparator(d.varintField())
			if err != nil {
				return nil, err
			}
			v.Separator = sep
		case 3:
			sawContents = true
			item, err := c.decodeValue(d.bytesField())
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, item)
		case 4:
			sawContents = true
			entry := d.bytesField()
			var name string
			var val sheet.Value
			ed := newFieldDecoder(entry)
			for ed.next() {
				var err error
				switch ed.num {
				case 1:
					name = ed.stringField()
				case 2:
					val, err = c.decodeValue(ed.bytesField())
				default:
					ed.skip()
				}
				if err != nil {
					return nil, err
				}
			}
			if ed.err != nil {
				return nil, ed.err
			}
			if name == "" || val == nil {
				return nil, fmt.Errorf("argument list keyword entry is missing its name or value")
			}
			v.Keywords[name] = val
			v.KeywordOrder = append(v.KeywordOrder, name)
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	// A bare id refers back to a list this compilation already sent.
	if !sawContents && v.ID != 0 {
		stored, ok := c.argLists[v.ID]
		if !ok {
			return nil, fmt.Errorf("argument list id %d does not match any list sent to the host", v.ID)
		}
		return stored, nil
	}
	if v.Separator == sheet.SeparatorUndecided && len(v.Items) > 1 {
		return nil, fmt.Errorf("argument list with %d items may not have an undecided separator", len(v.Items))
	}
	return v, nil
}

func (c *valueCodec) decodeCalculation(b []byte) (sheet.Calculation, error) {
	var calc sheet.Calculation
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			calc.Name = d.stringField()
		case 2:
			arg, err := c.decodeCalcValue(d.bytesField())
			if err != nil {
				return calc, err
			}
			calc.Args = append(calc.Args, arg)
		default:
			d.skip()
		}
	}
	return calc, d.err
}

func (c *valueCodec) decodeCalcValue(b []byte) (sheet.CalcValue, error) {
	var result sheet.CalcValue
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			n, err := unmarshalNumber(d.bytesField())
			if err != nil {
				return nil, err
			}
			result = sheet.CalcNumber{Number: n}
		case 2:
			result = sheet.CalcString{Text: d.stringField()}
		case 3:
			result = sheet.CalcInterpolation{Text: d.stringField()}
		case 4:
			op, err := c.decodeCalcOperation(d.bytesField())
			if err != nil {
				return nil, err
			}
			result = op
		case 5:
			nested, err := c.decodeCalculation(d.bytesField())
			if err != nil {
				return nil, err
			}
			result = sheet.CalcNested{Calculation: nested}
		default:
			return nil, fmt.Errorf("unknown calculation value variant %d", d.num)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if result == nil {
		return nil, fmt.Errorf("calculation value has no variant set")
	}
	return result, nil
}

func (c *valueCodec) decodeCalcOperation(b []byte) (sheet.CalcValue, error) {
	var op sheet.CalcOperation
	d := newFieldDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			switch d.varintField() {
			case wireOpAdd:
				op.Operator = "+"
			case wireOpSubtract:
				op.Operator = "-"
			case wireOpMultiply:
				op.Operator = "*"
			case wireOpDivide:
				op.Operator = "/"
			default:
				return nil, fmt.Errorf("unknown calculation operator")
			}
		case 2:
			left, err := c.decodeCalcValue(d.bytesField())
			if err != nil {
				return nil, err
			}
			op.Left = left
		case 3:
			right, err := c.decodeCalcValue(d.bytesField())
			if err != nil {
				return nil, err
			}
			op.Right = right
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	if op.Left == nil || op.Right == nil {
		return nil, fmt.Errorf("calculation operation is missing an operand")
	}
	return op, nil
}

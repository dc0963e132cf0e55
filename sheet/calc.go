// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"strings"
)

// Calculation is a symbolic CSS calculation such as calc(), min(), max(),
// or clamp() that could not (yet) be reduced to a single number.
type Calculation struct {
	Name string
	Args []CalcValue
}

func (Calculation) value() {}

func (c Calculation) CSS() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.calcCSS()
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

// CalcValue is one operand inside a calculation: a number, an unquoted
// string, interpolated text, a nested calculation, or a binary operation.
type CalcValue interface {
	calcValue()
	calcCSS() string
}

// CalcNumber wraps a Number operand.
type CalcNumber struct{ Number Number }

func (CalcNumber) calcValue() {}
func (c CalcNumber) calcCSS() string { return c.Number.CSS() }

// CalcString is an unquoted string operand such as a CSS variable reference.
type CalcString struct{ Text string }

func (CalcString) calcValue() {}
func (c CalcString) calcCSS() string { return c.Text }

// CalcInterpolation is raw interpolated text treated as opaque CSS.
type CalcInterpolation struct{ Text string }

func (CalcInterpolation) calcValue() {}
func (c CalcInterpolation) calcCSS() string { return "(" + c.Text + ")" }

// CalcNested wraps a nested calculation operand.
type CalcNested struct{ Calculation Calculation }

func (CalcNested) calcValue() {}
func (c CalcNested) calcCSS() string { return c.Calculation.CSS() }

// CalcOperation is a binary arithmetic operation between two operands.
type CalcOperation struct {
	Operator string // "+", "-", "*", "/"
	Left     CalcValue
	Right    CalcValue
}

func (CalcOperation) calcValue() {}

func (c CalcOperation) calcCSS() string {
	return c.Left.calcCSS() + " " + c.Operator + " " + c.Right.calcCSS()
}

// SimplifyCalculation reduces a calculation as far as its operands allow:
//
//   - calc with exactly one argument reduces to that argument;
//   - clamp with exactly three commensurable numbers reduces to the middle
//     value;
//   - min/max with at least one argument reduce to the least/greatest value
//     when every argument is a commensurable number.
//
// Argument counts outside these bounds are an error. When the arguments are
// not all commensurable numbers, the calculation stays symbolic.
func SimplifyCalculation(c Calculation) (Value, error) {
	simplified := make([]CalcValue, len(c.Args))
	for i, arg := range c.Args {
		simplified[i] = simplifyCalcValue(arg)
	}
	c = Calculation{Name: c.Name, Args: simplified}

	switch c.Name {
	case "calc":
		if len(c.Args) != 1 {
			return nil, fmt.Errorf("calc() requires exactly one argument, was passed %d", len(c.Args))
		}
		switch arg := c.Args[0].(type) {
		case CalcNumber:
			return arg.Number, nil
		case CalcNested:
			return arg.Calculation, nil
		default:
			return c, nil
		}

	case "clamp":
		if len(c.Args) != 3 {
			return nil, fmt.Errorf("clamp() requires exactly 3 arguments (min, value, max), was passed %d", len(c.Args))
		}
		nums, ok := calcNumbers(c.Args)
		if !ok || !commensurable(nums) {
			return c, nil
		}
		result := nums[1]
		if cmp, _ := result.Compare(nums[0]); cmp < 0 {
			result = nums[0]
		}
		if cmp, _ := result.Compare(nums[2]); cmp > 0 {
			result = nums[2]
		}
		return result, nil

	case "min", "max":
		if len(c.Args) < 1 {
			return nil, fmt.Errorf("%s() requires at least one argument", c.Name)
		}
		nums, ok := calcNumbers(c.Args)
		if !ok || !commensurable(nums) {
			return c, nil
		}
		best := nums[0]
		for _, n := range nums[1:] {
			cmp, err := best.Compare(n)
			if err != nil {
				return c, nil
			}
			if (c.Name == "min" && cmp > 0) || (c.Name == "max" && cmp < 0) {
				best = n
			}
		}
		return best, nil

	default:
		return c, nil
	}
}

// simplifyCalcValue reduces operations and nested calculations bottom-up.
// Operations reduce left to right once both operands are numbers.
func simplifyCalcValue(v CalcValue) CalcValue {
	switch v := v.(type) {
	case CalcOperation:
		left := simplifyCalcValue(v.Left)
		right := simplifyCalcValue(v.Right)
		ln, lok := left.(CalcNumber)
		rn, rok := right.(CalcNumber)
		if lok && rok {
			if result, err := applyCalcOperator(v.Operator, ln.Number, rn.Number); err == nil {
				return CalcNumber{Number: result}
			}
		}
		return CalcOperation{Operator: v.Operator, Left: left, Right: right}
	case CalcNested:
		if inner, err := SimplifyCalculation(v.Calculation); err == nil {
			switch inner := inner.(type) {
			case Number:
				return CalcNumber{Number: inner}
			case Calculation:
				return CalcNested{Calculation: inner}
			}
		}
		return v
	default:
		return v
	}
}

func applyCalcOperator(op string, a, b Number) (Number, error) {
	switch op {
	case "+":
		return a.Add(b)
	case "-":
		return a.Subtract(b)
	case "*":
		return a.Multiply(b), nil
	case "/":
		return a.Divide(b)
	default:
		return Number{}, fmt.Errorf("unknown operator %q", op)
	}
}

func calcNumbers(args []CalcValue) ([]Number, bool) {
	nums := make([]Number, len(args))
	for i, a := range args {
		n, ok := a.(CalcNumber)
		if !ok {
			return nil, false
		}
		nums[i] = n.Number
	}
	return nums, true
}

func commensurable(nums []Number) bool {
	for i := 1; i < len(nums); i++ {
		if !nums[0].CompatibleWith(nums[i]) {
			return false
		}
	}
	return true
}

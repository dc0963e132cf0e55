// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package sheet

import (
	"fmt"
	"math"
	"strings"
)

// Number is a numeric value with a unit product: numerator units over
// denominator units, e.g. 3px, 60px/s, 1.5.
type Number struct {
	Value        float64
	Numerators   []string
	Denominators []string
}

func (Number) value() {}

func (n Number) CSS() string {
	return formatFloat(n.Value) + n.UnitString()
}

// UnitString renders the unit product, e.g. "px", "px/s", "". Multiple
// numerator units are joined with "*".
func (n Number) UnitString() string {
	num := strings.Join(n.Numerators, "*")
	if len(n.Denominators) == 0 {
		return num
	}
	return num + "/" + strings.Join(n.Denominators, "*")
}

// IsUnitless reports whether the number carries no units at all.
func (n Number) IsUnitless() bool {
	return len(n.Numerators) == 0 && len(n.Denominators) == 0
}

// unitConversions maps, per dimension, each unit to its size expressed in
// the dimension's base unit. Units in different dimensions never convert.
var unitConversions = map[string]map[string]float64{
	"length": {
		"px": 1, "pt": 96.0 / 72.0, "pc": 16, "in": 96,
		"cm": 96.0 / 2.54, "mm": 96.0 / 25.4, "q": 96.0 / 101.6,
	},
	"angle": {
		"deg": 1, "grad": 0.9, "rad": 180 / math.Pi, "turn": 360,
	},
	"time": {
		"s": 1000, "ms": 1,
	},
	"frequency": {
		"hz": 1, "khz": 1000,
	},
	"resolution": {
		"dpi": 1, "dpcm": 2.54, "dppx": 96,
	},
}

// conversionFactor returns how many `to` units one `from` unit is, or false
// if the units are in different dimensions (or either is unknown).
func conversionFactor(from, to string) (float64, bool) {
	if from == to {
		return 1, true
	}
	for _, dim := range unitConversions {
		f, okF := dim[from]
		t, okT := dim[to]
		if okF && okT {
			return f / t, true
		}
		if okF != okT {
			// One unit is in this dimension, the other is not.
			return 0, false
		}
	}
	return 0, false
}

// CompatibleWith reports whether n can be converted to other's units.
// Unitless numbers are compatible with anything.
func (n Number) CompatibleWith(other Number) bool {
	if n.IsUnitless() || other.IsUnitless() {
		return true
	}
	_, err := n.convertValue(other.Numerators, other.Denominators)
	return err == nil
}

// ConvertValueTo returns n's value expressed in other's units.
func (n Number) ConvertValueTo(other Number) (float64, error) {
	if n.IsUnitless() || other.IsUnitless() {
		return n.Value, nil
	}
	return n.convertValue(other.Numerators, other.Denominators)
}

func (n Number) convertValue(numerators, denominators []string) (float64, error) {
	if len(n.Numerators) != len(numerators) || len(n.Denominators) != len(denominators) {
		return 0, incompatibleUnits(n, Number{Numerators: numerators, Denominators: denominators})
	}
	value := n.Value
	remaining := append([]string(nil), numerators...)
	for _, from := range n.Numerators {
		matched := false
		for i, to := range remaining {
			if factor, ok := conversionFactor(from, to); ok {
				value *= factor
				remaining = append(remaining[:i], remaining[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			return 0, incompatibleUnits(n, Number{Numerators: numerators, Denominators: denominators})
		}
	}
	remaining = append([]string(nil), denominators...)
	for _, from := range n.Denominators {
		matched := false
		for i, to := range remaining {
			if factor, ok := conversionFactor(from, to); ok {
				value /= factor
				remaining = append(remaining[:i], remaining[i+1:]...)
				matched = true
				break
			}
		}
		if !matched {
			return 0, incompatibleUnits(n, Number{Numerators: numerators, Denominators: denominators})
		}
	}
	return value, nil
}

func incompatibleUnits(a, b Number) error {
	return fmt.Errorf("%s and %s are incompatible", describeUnits(a), describeUnits(b))
}

func describeUnits(n Number) string {
	if n.IsUnitless() {
		return "no units"
	}
	return n.UnitString()
}

// resultUnits picks the unit product an arithmetic result carries: the left
// operand's units unless it is unitless.
func resultUnits(a, b Number) ([]string, []string) {
	if a.IsUnitless() {
		return b.Numerators, b.Denominators
	}
	return a.Numerators, a.Denominators
}

// Add returns a + b with unit conversion, or an error for incompatible units.
func (n Number) Add(other Number) (Number, error) {
	converted, err := other.ConvertValueTo(n)
	if err != nil {
		return Number{}, err
	}
	nums, dens := resultUnits(n, other)
	return Number{Value: n.Value + converted, Numerators: nums, Denominators: dens}, nil
}

// Subtract returns a - b with unit conversion.
func (n Number) Subtract(other Number) (Number, error) {
	converted, err := other.ConvertValueTo(n)
	if err != nil {
		return Number{}, err
	}
	nums, dens := resultUnits(n, other)
	return Number{Value: n.Value - converted, Numerators: nums, Denominators: dens}, nil
}

// Multiply returns a * b, multiplying the unit products and cancelling
// units that appear on both sides of the resulting fraction.
func (n Number) Multiply(other Number) Number {
	result := Number{
		Value:        n.Value * other.Value,
		Numerators:   append(append([]string(nil), n.Numerators...), other.Numerators...),
		Denominators: append(append([]string(nil), n.Denominators...), other.Denominators...),
	}
	return result.cancelUnits()
}

// Divide returns a / b, inverting the divisor's unit product.
func (n Number) Divide(other Number) (Number, error) {
	if other.Value == 0 {
		return Number{}, fmt.Errorf("division by zero")
	}
	result := Number{
		Value:        n.Value / other.Value,
		Numerators:   append(append([]string(nil), n.Numerators...), other.Denominators...),
		Denominators: append(append([]string(nil), n.Denominators...), other.Numerators...),
	}
	return result.cancelUnits(), nil
}

// cancelUnits removes unit pairs that appear in both the numerator and
// denominator, converting the value when the pair differs only by scale.
func (n Number) cancelUnits() Number {
	nums := append([]string(nil), n.Numerators...)
	dens := append([]string(nil), n.Denominators...)
	value := n.Value
	for i := 0; i < len(nums); {
		cancelled := false
		for j, den := range dens {
			if factor, ok := conversionFactor(nums[i], den); ok {
				value *= factor
				nums = append(nums[:i], nums[i+1:]...)
				dens = append(dens[:j], dens[j+1:]...)
				cancelled = true
				break
			}
		}
		if !cancelled {
			i++
		}
	}
	return Number{Value: value, Numerators: nums, Denominators: dens}
}

// Compare returns -1, 0, or 1 ordering n against other, converting units.
func (n Number) Compare(other Number) (int, error) {
	converted, err := other.ConvertValueTo(n)
	if err != nil {
		return 0, err
	}
	switch {
	case n.Value < converted:
		return -1, nil
	case n.Value > converted:
		return 1, nil
	default:
		return 0, nil
	}
}

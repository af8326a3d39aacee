// Package metric turns the raw captured output of one run into typed
// values. Each metric owns a small shell extraction pipeline that is
// fed the run's output on stdin; anything that goes wrong during
// extraction degrades to an NA value with a diagnostic, never to a
// failed round.
package metric

import (
	"fmt"
	"strconv"
	"strings"
)

// Reserved name for the metric whose extraction output is split into
// dynamically discovered name/value pairs, one per line.
const AutoName = "auto"

// Definition describes one metric and how to pull it out of a run's
// output.
type Definition struct {
	Description   string `mapstructure:"description" yaml:"description"`
	Extract       string `mapstructure:"extract" yaml:"extract"`
	LowerIsBetter bool   `mapstructure:"lower_is_better" yaml:"lower_is_better"`
	Type          string `mapstructure:"type" yaml:"type"`
	Units         string `mapstructure:"units" yaml:"units"`
}

// Describe renders the human-readable column description recorded in
// the task descriptor.
func (d Definition) Describe() string {
	direction := "higher"
	if d.LowerIsBetter {
		direction = "lower"
	}
	return fmt.Sprintf("%s (%s); %s is better", d.Description, d.Units, direction)
}

// Value is one extracted measurement, possibly NA. The zero value is
// NA.
type Value struct {
	raw string
	num float64
	ok  bool
	f   bool
}

// NA is the missing-value marker.
func NA() Value { return Value{} }

// Parse converts one extracted token according to the metric's
// declared type. A conversion failure yields NA, never an error.
func Parse(raw, typ string) Value {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "NA" {
		return NA()
	}
	switch typ {
	case "numeric", "int", "float", "":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return NA()
		}
		return Value{raw: raw, num: n, ok: true, f: true}
	default:
		return Value{raw: raw, ok: true}
	}
}

// FromFloat wraps a measurement the harness computed itself.
func FromFloat(n float64) Value {
	return Value{raw: strconv.FormatFloat(n, 'f', 5, 64), num: n, ok: true, f: true}
}

// IsNA reports whether the value is missing.
func (v Value) IsNA() bool { return !v.ok }

// Float returns the numeric value; ok is false for NA and
// non-numeric values.
func (v Value) Float() (float64, bool) { return v.num, v.ok && v.f }

// String renders the value for the CSV log; NA values render as "NA".
func (v Value) String() string {
	if !v.ok {
		return "NA"
	}
	return v.raw
}

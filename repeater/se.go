package repeater

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// StandardError stops once the relative standard error of the sample
// drops below a threshold: a cheap, parametric rule that works well
// for unimodal, weakly correlated measurements.
type StandardError struct {
	Min            int     `mapstructure:"min"`
	Max            int     `mapstructure:"max"`
	ErrorThreshold float64 `mapstructure:"error_threshold"`
	Verbose        bool    `mapstructure:"verbose"`
}

// NewStandardError builds a StandardError rule from repeater options.
func NewStandardError(opts map[string]interface{}) (*StandardError, error) {
	r := &StandardError{Min: 5, Max: 100, ErrorThreshold: 0.05}
	if err := decodeOptions(opts, KindSE, r); err != nil {
		return nil, err
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r, nil
}

func (r *StandardError) Name() string { return "standard-error" }

func (r *StandardError) Decide(samples []float64, round int) Decision {
	n := len(samples)
	if n >= r.Max {
		return Stop
	}
	if n < r.Min {
		return Continue
	}
	obs := observed(samples)
	if len(obs) < 2 {
		return Continue
	}

	rse := relativeStandardError(obs)
	if r.Verbose {
		grip.Info(message.Fields{
			"repeater": r.Name(),
			"round":    round,
			"n":        n,
			"rse":      rse,
		})
	}
	if rse < r.ErrorThreshold {
		return Stop
	}
	return Continue
}

// Limit returns the sample budget after which the repeater stops
// regardless of convergence.
func (r *StandardError) Limit() int { return r.Max }

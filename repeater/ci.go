package repeater

import (
	"math"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceInterval stops when the Student-t confidence-interval
// half-width of the mean, relative to the mean, drops below a
// threshold. Same shape as StandardError but with a calibrated
// confidence level.
type ConfidenceInterval struct {
	Min            int     `mapstructure:"min"`
	Max            int     `mapstructure:"max"`
	CILimit        float64 `mapstructure:"ci_limit"`
	ErrorThreshold float64 `mapstructure:"error_threshold"`
	Verbose        bool    `mapstructure:"verbose"`
}

// NewConfidenceInterval builds a ConfidenceInterval rule from repeater
// options.
func NewConfidenceInterval(opts map[string]interface{}) (*ConfidenceInterval, error) {
	r := &ConfidenceInterval{Min: 5, Max: 100, CILimit: 0.95, ErrorThreshold: 0.05}
	if err := decodeOptions(opts, KindCI, r); err != nil {
		return nil, err
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r, nil
}

func (r *ConfidenceInterval) Name() string { return "confidence-interval" }

// relativeWidth is the CI half-width over the mean.
func (r *ConfidenceInterval) relativeWidth(samples []float64) float64 {
	n := float64(len(samples))
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 1}.Quantile(r.CILimit)
	half := t * stat.StdDev(samples, nil) / math.Sqrt(n)
	if mean := stat.Mean(samples, nil); mean != 0 {
		return half / mean
	}
	return half
}

func (r *ConfidenceInterval) Decide(samples []float64, round int) Decision {
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

	rel := r.relativeWidth(obs)
	if r.Verbose {
		grip.Info(message.Fields{
			"repeater":  r.Name(),
			"round":     round,
			"n":         n,
			"rel_width": rel,
		})
	}
	if rel < r.ErrorThreshold {
		return Stop
	}
	return Continue
}

func (r *ConfidenceInterval) Limit() int { return r.Max }

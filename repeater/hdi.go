package repeater

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"gonum.org/v1/gonum/stat"
)

// HighestDensityInterval stops when the narrowest interval holding
// hdi_limit of the sample mass is small relative to the mean. Being
// non-parametric it tolerates skewed and multimodal distributions,
// but if the signal's inherent noise exceeds the threshold it only
// terminates at max.
type HighestDensityInterval struct {
	Min            int     `mapstructure:"min"`
	Max            int     `mapstructure:"max"`
	HDILimit       float64 `mapstructure:"hdi_limit"`
	ErrorThreshold float64 `mapstructure:"error_threshold"`
	Verbose        bool    `mapstructure:"verbose"`
}

// NewHighestDensityInterval builds an HDI rule from repeater options.
func NewHighestDensityInterval(opts map[string]interface{}) (*HighestDensityInterval, error) {
	r := &HighestDensityInterval{Min: 5, Max: 200, HDILimit: 0.89, ErrorThreshold: 0.1}
	if err := decodeOptions(opts, KindHDI, r); err != nil {
		return nil, err
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r, nil
}

func (r *HighestDensityInterval) Name() string { return "highest-density-interval" }

// relativeWidth is the HDI width over the mean; a zero mean counts as
// converged, matching the degenerate all-zero sample.
func (r *HighestDensityInterval) relativeWidth(samples []float64) float64 {
	lo, hi := hdiInterval(samples, r.HDILimit)
	if mean := stat.Mean(samples, nil); mean != 0 {
		return (hi - lo) / mean
	}
	return 0
}

func (r *HighestDensityInterval) Decide(samples []float64, round int) Decision {
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
			"repeater": r.Name(),
			"round":    round,
			"n":        n,
			"rel_hdi":  rel,
		})
	}
	if rel < r.ErrorThreshold {
		return Stop
	}
	return Continue
}

func (r *HighestDensityInterval) Limit() int { return r.Max }

package repeater

import (
	"sort"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"gonum.org/v1/gonum/stat"
)

// KolmogorovSmirnov stops when a two-sample KS test finds the first
// and second halves of the sample indistinguishable, i.e. the
// distribution has stopped drifting. Non-parametric, so it assumes
// nothing about the shape of the data.
type KolmogorovSmirnov struct {
	Min       int     `mapstructure:"min"`
	Max       int     `mapstructure:"max"`
	Threshold float64 `mapstructure:"threshold"`
	Verbose   bool    `mapstructure:"verbose"`
}

// NewKolmogorovSmirnov builds a KS rule from repeater options.
func NewKolmogorovSmirnov(opts map[string]interface{}) (*KolmogorovSmirnov, error) {
	r := &KolmogorovSmirnov{Min: 5, Max: 1000, Threshold: 0.2}
	if err := decodeOptions(opts, KindKS, r); err != nil {
		return nil, err
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	return r, nil
}

func (r *KolmogorovSmirnov) Name() string { return "kolmogorov-smirnov" }

func (r *KolmogorovSmirnov) Decide(samples []float64, round int) Decision {
	n := len(samples)
	if n >= r.Max {
		return Stop
	}
	if n < r.Min {
		return Continue
	}
	obs := observed(samples)
	if len(obs) < 4 {
		return Continue
	}

	first := append([]float64(nil), obs[:len(obs)/2]...)
	second := append([]float64(nil), obs[len(obs)/2:]...)
	sort.Float64s(first)
	sort.Float64s(second)
	statistic := stat.KolmogorovSmirnov(first, nil, second, nil)

	if r.Verbose {
		grip.Info(message.Fields{
			"repeater": r.Name(),
			"round":    round,
			"n":        n,
			"ks":       statistic,
		})
	}
	if statistic <= r.Threshold {
		return Stop
	}
	return Continue
}

func (r *KolmogorovSmirnov) Limit() int { return r.Max }

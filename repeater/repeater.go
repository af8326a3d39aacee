// Package repeater implements the adaptive stopping rules that decide,
// after each round of a benchmark task, whether another round is
// warranted. Every repeater inspects the full sample of the objective
// metric collected so far; derived state (block sizes, fitted
// mixtures, sub-decisions) is recomputed from that sample each round,
// never mutated incrementally.
package repeater

import (
	"math/rand/v2"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Decision is a stopping-rule verdict.
type Decision int

const (
	Continue Decision = iota
	Stop
)

func (d Decision) String() string {
	if d == Stop {
		return "stop"
	}
	return "continue"
}

// Repeater decides whether a task needs another round. samples is the
// ordered sequence of objective-metric values collected so far, and
// round is the number of completed rounds. A copy that produced no
// measurement (a timeout, an unextractable metric) appears as a NaN
// placeholder: it counts toward the min and max budgets so the task
// always terminates, while the statistics ignore it. Every kind stops
// at its configured max sample count regardless of any other
// condition, and never stops before min.
type Repeater interface {
	Name() string
	Decide(samples []float64, round int) Decision
}

// Kind selector strings accepted by the factory (and the -r flag).
const (
	KindCount    = "MAX"
	KindSE       = "SE"
	KindCI       = "CI"
	KindHDI      = "HDI"
	KindBB       = "BB"
	KindGMM      = "GMM"
	KindKS       = "KS"
	KindDecision = "DC"
)

// New builds a repeater from the repeats selector: an integer (or
// "MAX") selects a plain count rule, everything else selects an
// adaptive kind by name. opts is the merged repeater_options document;
// each kind reads its own sub-section when present, falling back to
// top-level keys. seed fixes the random source of the resampling
// kinds so stopping decisions are reproducible.
func New(repeats string, opts map[string]interface{}, seed uint64) (Repeater, error) {
	if n, err := strconv.Atoi(repeats); err == nil {
		if n < 1 {
			return nil, errors.Errorf("repeat count must be positive, got %d", n)
		}
		return &Count{Max: n}, nil
	}

	switch repeats {
	case KindCount, "":
		return NewCount(opts)
	case KindSE:
		return NewStandardError(opts)
	case KindCI:
		return NewConfidenceInterval(opts)
	case KindHDI:
		return NewHighestDensityInterval(opts)
	case KindBB:
		return NewBlockBootstrap(opts, seed)
	case KindGMM:
		return NewGaussianMixture(opts, seed)
	case KindKS:
		return NewKolmogorovSmirnov(opts)
	case KindDecision:
		return NewDecision(opts, seed)
	}
	return nil, errors.Errorf("unrecognized repeater '%s'", repeats)
}

// Kinds lists the adaptive repeater selectors.
func Kinds() []string {
	return []string{KindCount, KindSE, KindCI, KindHDI, KindBB, KindGMM, KindKS, KindDecision}
}

// decodeOptions fills out from the repeater_options map, preferring
// the kind's own sub-section when one exists. out should arrive
// populated with defaults.
func decodeOptions(opts map[string]interface{}, kind string, out interface{}) error {
	scoped := opts
	if sub, ok := opts[kind].(map[string]interface{}); ok {
		scoped = sub
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(dec.Decode(scoped), "decoding %s repeater options", kind)
}

// newRand builds the deterministic source shared by the resampling
// repeaters.
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

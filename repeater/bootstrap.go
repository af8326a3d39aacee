package repeater

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"gonum.org/v1/gonum/stat"
)

// BlockBootstrap stops when the confidence interval of the difference
// between this round's and the previous round's block-bootstrapped
// means falls within a threshold. Resampling whole blocks preserves
// the serial correlation that performance phases induce, which the
// plain SE/CI rules silently ignore.
//
// Based on "Performance Testing for Cloud Computing with Dependent
// Data Bootstrapping" (ASE 2021).
type BlockBootstrap struct {
	Min            int     `mapstructure:"min"`
	Max            int     `mapstructure:"max"`
	Epsilon        float64 `mapstructure:"epsilon"`
	NumSamples     int     `mapstructure:"num_samples"`
	CLLimit        float64 `mapstructure:"cl_limit"`
	ErrorThreshold float64 `mapstructure:"error_threshold"`
	Verbose        bool    `mapstructure:"verbose"`

	rng *rand.Rand

	// prevMeans holds the previous round's bootstrapped means,
	// replaced wholesale each round.
	prevMeans []float64
}

// NewBlockBootstrap builds a BlockBootstrap rule from repeater
// options. seed fixes the resampling source so decisions are
// reproducible.
func NewBlockBootstrap(opts map[string]interface{}, seed uint64) (*BlockBootstrap, error) {
	r := &BlockBootstrap{
		Min:            10,
		Max:            200,
		Epsilon:        0.01,
		NumSamples:     1000,
		CLLimit:        0.95,
		ErrorThreshold: 0.03,
	}
	if err := decodeOptions(opts, KindBB, r); err != nil {
		return nil, err
	}
	if r.Min < 2 {
		r.Min = 2
	}
	if r.Max < r.Min {
		r.Max = r.Min
	}
	r.rng = newRand(seed)
	return r, nil
}

func (r *BlockBootstrap) Name() string { return "block-bootstrap" }

func (r *BlockBootstrap) Decide(samples []float64, round int) Decision {
	n := len(samples)
	if n >= r.Max {
		return Stop
	}
	if n < r.Min {
		return Continue
	}
	obs := observed(samples)

	acf, err := autocorrelations(obs)
	if err != nil {
		// Degenerate sample; let more data accumulate.
		return Continue
	}
	bsize, ok := r.blockSize(acf)
	if !ok {
		if r.Verbose {
			grip.Info(message.Fields{
				"repeater": r.Name(),
				"round":    round,
				"message":  "no lag with negligible autocorrelation yet, collecting more samples",
			})
		}
		return Continue
	}

	means := make([]float64, r.NumSamples)
	for i := range means {
		means[i] = stat.Mean(r.blockSample(obs, bsize), nil)
	}
	prev := r.prevMeans
	r.prevMeans = means

	if prev == nil {
		return Continue
	}

	diffs := make([]float64, 0, len(means))
	for i := range means {
		if prev[i] == 0 {
			// Cannot normalize against a zero mean; treat as not
			// yet stable.
			return Continue
		}
		diffs = append(diffs, (means[i]-prev[i])/prev[i])
	}
	sort.Float64s(diffs)

	m := float64(len(diffs))
	low := diffs[clampIndex(int(m*(1-r.CLLimit)/2), len(diffs))]
	high := diffs[clampIndex(int(m*(1+r.CLLimit)/2), len(diffs))]

	if r.Verbose {
		grip.Info(message.Fields{
			"repeater":   r.Name(),
			"round":      round,
			"n":          n,
			"block_size": bsize,
			"ci_low":     low,
			"ci_high":    high,
		})
	}

	if low > -r.ErrorThreshold && high < r.ErrorThreshold {
		return Stop
	}
	return Continue
}

// blockSize is the first lag whose autocorrelation magnitude drops
// below epsilon.
func (r *BlockBootstrap) blockSize(acf []float64) (int, bool) {
	for lag, v := range acf {
		if math.Abs(v) < r.Epsilon {
			if lag == 0 {
				lag = 1
			}
			return lag, true
		}
	}
	return 0, false
}

// blockSample draws whole contiguous blocks of size bsize until at
// least len(samples) values are collected.
func (r *BlockBootstrap) blockSample(samples []float64, bsize int) []float64 {
	out := make([]float64, 0, len(samples)+bsize)
	for len(out) < len(samples) {
		idx := r.rng.IntN(len(samples) - bsize + 1)
		out = append(out, samples[idx:idx+bsize]...)
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func (r *BlockBootstrap) Limit() int { return r.Max }

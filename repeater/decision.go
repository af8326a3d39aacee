package repeater

import (
	"math"
	"math/rand/v2"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Rule is one entry of the Decision repeater's priority table. Rules
// are evaluated strictly top-down; the first whose Test qualifies is
// authoritative for the round. A rule either defers to a named
// sub-repeater's current decision or issues a terminal verdict.
type Rule struct {
	Name string

	// Test reports whether the rule applies to the observed sample,
	// with NaN placeholders already stripped. An error means the test
	// could not be evaluated (degenerate data, failed fit) and is
	// treated as not qualifying, never as fatal.
	Test func(samples []float64) (bool, error)

	// DeferTo names the sub-repeater whose last decision is adopted
	// when the rule qualifies. Empty means Terminal is used instead.
	DeferTo string

	Terminal Decision
}

type subEntry struct {
	rep  Repeater
	last Decision
}

// DecisionRepeater is the meta rule: it runs a battery of
// distributional tests against the sample each round and lets the
// matching sub-repeater's verdict stand. Constant or monotonic
// samples short-circuit to a stop (more data cannot help either),
// strong autocorrelation defers to block bootstrapping, near-Gaussian
// data to the confidence interval, lognormal data to the HDI, and
// multimodal data to the mixture fit.
type DecisionRepeater struct {
	Max            int `mapstructure:"max"`
	StartingSample int `mapstructure:"starting_sample"`
	TestAfter      int `mapstructure:"test_after"`

	LognormalThreshold float64 `mapstructure:"lognormal_threshold"`
	GaussianThreshold  float64 `mapstructure:"gaussian_threshold"`
	UniformThreshold   float64 `mapstructure:"uniform_threshold"`
	MeanThreshold      float64 `mapstructure:"mean_threshold"`
	AutocorThreshold   float64 `mapstructure:"autocor_threshold"`

	GoodnessThreshold     float64  `mapstructure:"goodness_threshold"`
	MaxGaussianComponents int      `mapstructure:"max_gaussian_components"`
	GaussianCovariances   []string `mapstructure:"gaussian_covariances"`

	Verbose bool `mapstructure:"decision_verbose"`

	rules []Rule
	subs  map[string]*subEntry
	rng   *rand.Rand
}

// NewDecision builds the meta repeater with its default sub-repeater
// registry (SE, CI, HDI, BB, GMM, each configured from the same
// options document) and the default rule table.
func NewDecision(opts map[string]interface{}, seed uint64) (*DecisionRepeater, error) {
	r := &DecisionRepeater{
		Max:                   400,
		StartingSample:        20,
		TestAfter:             10,
		LognormalThreshold:    0.2,
		GaussianThreshold:     0.2,
		UniformThreshold:      0.2,
		MeanThreshold:         0.1,
		AutocorThreshold:      0.8,
		GoodnessThreshold:     2,
		MaxGaussianComponents: 6,
		GaussianCovariances:   []string{"spherical", "tied", "diag", "full"},
	}
	if err := decodeOptions(opts, KindDecision, r); err != nil {
		return nil, err
	}
	if r.TestAfter < 1 {
		return nil, errors.New("decision repeater requires a positive test_after")
	}
	if r.StartingSample > r.Max {
		r.StartingSample = r.Max
	}

	r.rng = newRand(seed)

	se, err := NewStandardError(opts)
	if err != nil {
		return nil, err
	}
	ci, err := NewConfidenceInterval(opts)
	if err != nil {
		return nil, err
	}
	hdi, err := NewHighestDensityInterval(opts)
	if err != nil {
		return nil, err
	}
	bb, err := NewBlockBootstrap(opts, seed)
	if err != nil {
		return nil, err
	}
	gmm, err := NewGaussianMixture(opts, seed)
	if err != nil {
		return nil, err
	}
	r.subs = map[string]*subEntry{
		KindSE:  {rep: se, last: Continue},
		KindCI:  {rep: ci, last: Continue},
		KindHDI: {rep: hdi, last: Continue},
		KindBB:  {rep: bb, last: Continue},
		KindGMM: {rep: gmm, last: Continue},
	}
	r.rules = r.defaultRules()
	return r, nil
}

func (r *DecisionRepeater) Name() string { return "decision" }

// Rules exposes the active priority table.
func (r *DecisionRepeater) Rules() []Rule { return r.rules }

// SetRules replaces the priority table; callers that prefer a
// different tie-break ordering (e.g. strictly most-conservative
// first) install their own table here.
func (r *DecisionRepeater) SetRules(rules []Rule) { r.rules = rules }

// defaultRules is the documented priority ordering: degenerate shapes
// first, then deferral by distribution family. Evaluation order is
// the tie-break policy, so the table is data, not control flow.
func (r *DecisionRepeater) defaultRules() []Rule {
	return []Rule{
		{Name: "constant", Test: r.isConstant, Terminal: Stop},
		{Name: "monotonic", Test: r.isMonotonic, Terminal: Stop},
		{Name: "autocorrelated", Test: r.isAutocorrelated, DeferTo: KindBB},
		{Name: "gaussian", Test: r.isGaussian, DeferTo: KindCI},
		{Name: "lognormal", Test: r.isLognormal, DeferTo: KindHDI},
		{Name: "multimodal", Test: r.isMultimodal, DeferTo: KindGMM},
		{Name: "uniform", Test: r.isUniform, Terminal: Stop},
	}
}

func (r *DecisionRepeater) Decide(samples []float64, round int) Decision {
	n := len(samples)
	if n >= r.Max {
		return Stop
	}

	// Poll every sub-repeater so each retains a current decision
	// regardless of which one ends up authoritative.
	for _, sub := range r.subs {
		sub.last = sub.rep.Decide(samples, round)
	}

	if n < r.StartingSample || (n-r.StartingSample)%r.TestAfter != 0 {
		return Continue
	}

	obs := observed(samples)
	if len(obs) < 2 {
		return Continue
	}

	for _, rule := range r.rules {
		qualifies, err := rule.Test(obs)
		if err != nil {
			grip.DebugWhen(r.Verbose, message.Fields{
				"repeater": r.Name(),
				"test":     rule.Name,
				"skipped":  err.Error(),
			})
			continue
		}
		if !qualifies {
			continue
		}

		verdict := rule.Terminal
		if rule.DeferTo != "" {
			sub, ok := r.subs[rule.DeferTo]
			if !ok {
				continue
			}
			verdict = sub.last
		}
		if r.Verbose {
			grip.Info(message.Fields{
				"repeater": r.Name(),
				"round":    round,
				"n":        n,
				"test":     rule.Name,
				"defer_to": rule.DeferTo,
				"verdict":  verdict.String(),
			})
		}
		return verdict
	}

	grip.InfoWhen(r.Verbose, message.Fields{
		"repeater": r.Name(),
		"round":    round,
		"n":        n,
		"message":  "no distributional test qualified, continuing",
	})
	return Continue
}

// isConstant qualifies when the sample's full range is within a
// fraction of its mean.
func (r *DecisionRepeater) isConstant(s []float64) (bool, error) {
	lo, hi := s[0], s[0]
	sum := 0.0
	for _, v := range s {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	mean := sum / float64(len(s))
	return hi-lo <= r.MeanThreshold*mean, nil
}

// isMonotonic qualifies for strictly non-decreasing or non-increasing
// samples, which indicate a trend no amount of extra repetitions will
// wash out.
func (r *DecisionRepeater) isMonotonic(s []float64) (bool, error) {
	increasing, decreasing := true, true
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			increasing = false
		}
		if s[i] > s[i-1] {
			decreasing = false
		}
	}
	return increasing || decreasing, nil
}

func (r *DecisionRepeater) isAutocorrelated(s []float64) (bool, error) {
	acf, err := autocorrelations(s)
	if err != nil {
		return false, err
	}
	maxAbs := 0.0
	for _, v := range acf[1:] {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	return maxAbs >= r.AutocorThreshold, nil
}

func (r *DecisionRepeater) isGaussian(s []float64) (bool, error) {
	cdf, err := fitNormalCDF(s)
	if err != nil {
		return false, err
	}
	_, p := ksOneSample(s, cdf)
	return p > r.GaussianThreshold, nil
}

func (r *DecisionRepeater) isLognormal(s []float64) (bool, error) {
	cdf, err := fitLogNormalCDF(s)
	if err != nil {
		return false, err
	}
	_, p := ksOneSample(s, cdf)
	return p > r.LognormalThreshold, nil
}

func (r *DecisionRepeater) isUniform(s []float64) (bool, error) {
	cdf, err := fitUniformCDF(s)
	if err != nil {
		return false, err
	}
	_, p := ksOneSample(s, cdf)
	return p > r.UniformThreshold, nil
}

// isMultimodal qualifies when the best-BIC mixture has more than one
// component and fits the sample at least as badly as the goodness
// threshold, i.e. the distribution has real structure.
func (r *DecisionRepeater) isMultimodal(s []float64) (bool, error) {
	best, err := fitBestMixture(s, r.MaxGaussianComponents, r.GaussianCovariances, r.rng)
	if err != nil {
		return false, err
	}
	return best.components > 1 && math.Abs(best.score(len(s))) >= r.GoodnessThreshold, nil
}

func (r *DecisionRepeater) Limit() int { return r.Max }

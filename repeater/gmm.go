package repeater

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Covariance structures for mixture fitting. The samples are
// one-dimensional, so spherical and diag collapse into full
// (per-component variance); tied shares one variance across
// components.
const (
	covarianceFull = "full"
	covarianceTied = "tied"
)

// mixture is a fitted one-dimensional Gaussian mixture.
type mixture struct {
	weights    []float64
	means      []float64
	stddevs    []float64
	logLik     float64
	bic        float64
	components int
	covariance string
}

// score is the mean per-sample log-likelihood, the goodness-of-fit
// statistic the stopping rules threshold on.
func (m *mixture) score(n int) float64 {
	return m.logLik / float64(n)
}

const (
	emMaxIterations = 200
	emTolerance     = 1e-6
)

// fitMixture runs expectation-maximization for a k-component mixture
// with the given covariance structure. Initialization spreads the
// component means over the sample quantiles, so fits are deterministic
// apart from the jitter drawn from rng.
func fitMixture(s []float64, k int, covariance string, rng *rand.Rand) (*mixture, error) {
	n := len(s)
	if k < 1 || k > n {
		return nil, errors.Errorf("cannot fit %d components to %d samples", k, n)
	}

	sampleVar := stat.Variance(s, nil)
	if sampleVar == 0 || math.IsNaN(sampleVar) {
		return nil, errors.New("degenerate sample, cannot fit mixture")
	}
	varFloor := 1e-6 * sampleVar

	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)

	weights := make([]float64, k)
	means := make([]float64, k)
	variances := make([]float64, k)
	sd := math.Sqrt(sampleVar)
	for j := 0; j < k; j++ {
		weights[j] = 1 / float64(k)
		q := (float64(j) + 0.5) / float64(k)
		means[j] = stat.Quantile(q, stat.Empirical, sorted, nil)
		if k > 1 {
			means[j] += (rng.Float64() - 0.5) * 1e-3 * sd
		}
		variances[j] = sampleVar
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	logLik := math.Inf(-1)
	for iter := 0; iter < emMaxIterations; iter++ {
		// E step.
		newLogLik := 0.0
		lw := make([]float64, k)
		for i, x := range s {
			for j := 0; j < k; j++ {
				dist := distuv.Normal{Mu: means[j], Sigma: math.Sqrt(variances[j])}
				lw[j] = math.Log(weights[j]) + dist.LogProb(x)
			}
			lse := floats.LogSumExp(lw)
			newLogLik += lse
			for j := 0; j < k; j++ {
				resp[i][j] = math.Exp(lw[j] - lse)
			}
		}

		// M step.
		for j := 0; j < k; j++ {
			nj := 0.0
			mu := 0.0
			for i, x := range s {
				nj += resp[i][j]
				mu += resp[i][j] * x
			}
			if nj < 1e-12 {
				return nil, errors.New("mixture component collapsed to zero weight")
			}
			weights[j] = nj / float64(n)
			means[j] = mu / nj

			v := 0.0
			for i, x := range s {
				d := x - means[j]
				v += resp[i][j] * d * d
			}
			variances[j] = math.Max(v/nj, varFloor)
		}
		if covariance == covarianceTied {
			pooled := 0.0
			for j := 0; j < k; j++ {
				pooled += weights[j] * variances[j]
			}
			pooled = math.Max(pooled, varFloor)
			for j := 0; j < k; j++ {
				variances[j] = pooled
			}
		}

		if math.Abs(newLogLik-logLik) < emTolerance*(1+math.Abs(newLogLik)) {
			logLik = newLogLik
			break
		}
		logLik = newLogLik
	}

	if math.IsNaN(logLik) || math.IsInf(logLik, 0) {
		return nil, errors.New("mixture fit diverged")
	}

	stddevs := make([]float64, k)
	for j := range variances {
		stddevs[j] = math.Sqrt(variances[j])
	}

	// Free parameters: k-1 weights, k means, and k (full) or one
	// (tied) variances.
	params := 2*k - 1
	if covariance == covarianceTied {
		params++
	} else {
		params += k
	}

	return &mixture{
		weights:    weights,
		means:      means,
		stddevs:    stddevs,
		logLik:     logLik,
		bic:        float64(params)*math.Log(float64(n)) - 2*logLik,
		components: k,
		covariance: covariance,
	}, nil
}

// normalizeCovariances maps the configured covariance names onto the
// one-dimensional structures and drops duplicates, preserving order.
func normalizeCovariances(names []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, name := range names {
		c := covarianceFull
		switch name {
		case covarianceTied:
			c = covarianceTied
		case covarianceFull, "spherical", "diag":
		default:
			grip.Warningf("unknown covariance structure '%s', treating as full", name)
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = []string{covarianceFull}
	}
	return out
}

// fitBestMixture selects the best-BIC mixture over component counts
// 1..maxComponents-1 and the given covariance structures. Individual
// fit failures are skipped; an error is returned only when nothing
// fits.
func fitBestMixture(s []float64, maxComponents int, covariances []string, rng *rand.Rand) (*mixture, error) {
	kMax := maxComponents - 1
	if kMax < 1 {
		kMax = 1
	}

	var best *mixture
	for _, cov := range normalizeCovariances(covariances) {
		for k := 1; k <= kMax && k <= len(s); k++ {
			fit, err := fitMixture(s, k, cov, rng)
			if err != nil {
				continue
			}
			if best == nil || fit.bic < best.bic {
				best = fit
			}
		}
	}
	if best == nil {
		return nil, errors.New("no mixture could be fitted")
	}
	return best, nil
}

// GaussianMixture stops once a Gaussian mixture model, selected by
// BIC over component counts and covariance structures, fits the
// sample well enough: a stable multimodal distribution is as
// converged as a benchmark with distinct performance modes gets.
type GaussianMixture struct {
	Max                   int      `mapstructure:"max"`
	GoodnessThreshold     float64  `mapstructure:"goodness_threshold"`
	MaxGaussianComponents int      `mapstructure:"max_gaussian_components"`
	GaussianCovariances   []string `mapstructure:"gaussian_covariances"`
	Verbose               bool     `mapstructure:"verbose"`

	rng *rand.Rand
}

// NewGaussianMixture builds a GMM rule from repeater options.
func NewGaussianMixture(opts map[string]interface{}, seed uint64) (*GaussianMixture, error) {
	r := &GaussianMixture{
		Max:                   100,
		GoodnessThreshold:     2,
		MaxGaussianComponents: 8,
		GaussianCovariances:   []string{"spherical", "tied", "diag", "full"},
	}
	if err := decodeOptions(opts, KindGMM, r); err != nil {
		return nil, err
	}
	r.rng = newRand(seed)
	return r, nil
}

func (r *GaussianMixture) Name() string { return "gaussian-mixture" }

func (r *GaussianMixture) Decide(samples []float64, round int) Decision {
	n := len(samples)

	// The model-selection grid needs a sample larger than itself
	// before a fit means anything.
	warmup := r.MaxGaussianComponents * len(r.GaussianCovariances)
	if warmup > r.Max-1 {
		warmup = r.Max - 1
	}
	if n <= warmup {
		return Continue
	}
	if n >= r.Max {
		return Stop
	}

	obs := observed(samples)
	best, err := fitBestMixture(obs, r.MaxGaussianComponents, r.GaussianCovariances, r.rng)
	if err != nil {
		return Continue
	}

	score := math.Abs(best.score(len(obs)))
	if r.Verbose {
		grip.Info(message.Fields{
			"repeater":   r.Name(),
			"round":      round,
			"n":          n,
			"components": best.components,
			"covariance": best.covariance,
			"score":      score,
		})
	}
	if score <= r.GoodnessThreshold {
		return Stop
	}
	return Continue
}

func (r *GaussianMixture) Limit() int { return r.Max }

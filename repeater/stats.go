package repeater

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// observed strips the NaN placeholders contributed by copies that
// produced no measurement. The placeholders count toward every min
// and max budget; the statistics only ever see the finite values.
func observed(samples []float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, v := range samples {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// autocorrelations returns the normalized autocorrelation of the
// sample at every lag, acf[0] == 1. Degenerate (zero-variance)
// samples cannot be normalized and return an error.
func autocorrelations(s []float64) ([]float64, error) {
	n := len(s)
	if n < 2 {
		return nil, errors.New("need at least two samples for autocorrelation")
	}

	mean := stat.Mean(s, nil)
	variance := 0.0
	centered := make([]float64, n)
	for i, v := range s {
		centered[i] = v - mean
		variance += centered[i] * centered[i]
	}
	variance /= float64(n)
	if variance == 0 {
		return nil, errors.New("sample variance is zero")
	}

	acf := make([]float64, n)
	for lag := 0; lag < n; lag++ {
		sum := 0.0
		for i := 0; i+lag < n; i++ {
			sum += centered[i] * centered[i+lag]
		}
		acf[lag] = sum / (variance * float64(n))
	}
	return acf, nil
}

// relativeStandardError is stddev/sqrt(n) over the mean; when the mean
// is zero the raw standard error is returned so the threshold test
// stays meaningful.
func relativeStandardError(s []float64) float64 {
	se := stat.StdDev(s, nil) / math.Sqrt(float64(len(s)))
	if mean := stat.Mean(s, nil); mean != 0 {
		return se / mean
	}
	return se
}

// hdiInterval returns the bounds of the narrowest interval containing
// prob of the sorted sample mass (the sample-based highest-density
// interval).
func hdiInterval(s []float64, prob float64) (lo, hi float64) {
	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)

	n := len(sorted)
	span := int(math.Floor(prob * float64(n)))
	if span < 1 {
		span = 1
	}
	if span >= n {
		return sorted[0], sorted[n-1]
	}

	lo, hi = sorted[0], sorted[span]
	for i := 1; i+span < n; i++ {
		if sorted[i+span]-sorted[i] < hi-lo {
			lo, hi = sorted[i], sorted[i+span]
		}
	}
	return lo, hi
}

// ksOneSample computes the one-sample Kolmogorov-Smirnov statistic of
// the sample against a fitted CDF, plus its asymptotic p-value.
func ksOneSample(s []float64, cdf func(float64) float64) (statistic, pvalue float64) {
	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	d := 0.0
	for i, x := range sorted {
		f := cdf(x)
		above := math.Abs(float64(i+1)/n - f)
		below := math.Abs(f - float64(i)/n)
		d = math.Max(d, math.Max(above, below))
	}

	sqrtN := math.Sqrt(n)
	return d, kolmogorovQ((sqrtN + 0.12 + 0.11/sqrtN) * d)
}

// kolmogorovQ is the asymptotic survival function of the Kolmogorov
// distribution.
func kolmogorovQ(lambda float64) float64 {
	if lambda <= 0 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	p := 2 * sum
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// fitNormalCDF fits a normal distribution to the sample by moments.
func fitNormalCDF(s []float64) (func(float64) float64, error) {
	sd := stat.StdDev(s, nil)
	if sd == 0 || math.IsNaN(sd) {
		return nil, errors.New("degenerate sample, cannot fit normal")
	}
	dist := distuv.Normal{Mu: stat.Mean(s, nil), Sigma: sd}
	return dist.CDF, nil
}

// fitLogNormalCDF fits a lognormal distribution by log-moments.
// Non-positive samples cannot be lognormal.
func fitLogNormalCDF(s []float64) (func(float64) float64, error) {
	logs := make([]float64, len(s))
	for i, v := range s {
		if v <= 0 {
			return nil, errors.New("non-positive sample, cannot fit lognormal")
		}
		logs[i] = math.Log(v)
	}
	sd := stat.StdDev(logs, nil)
	if sd == 0 || math.IsNaN(sd) {
		return nil, errors.New("degenerate sample, cannot fit lognormal")
	}
	dist := distuv.LogNormal{Mu: stat.Mean(logs, nil), Sigma: sd}
	return dist.CDF, nil
}

// fitUniformCDF fits a uniform distribution over the sample range.
func fitUniformCDF(s []float64) (func(float64) float64, error) {
	lo, hi := s[0], s[0]
	for _, v := range s {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return nil, errors.New("degenerate sample, cannot fit uniform")
	}
	dist := distuv.Uniform{Min: lo, Max: hi}
	return dist.CDF, nil
}

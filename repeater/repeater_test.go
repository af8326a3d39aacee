package repeater

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

// normalSample returns a deterministic sample shaped like N(mu, sigma)
// by inverting the CDF over an even grid.
func normalSample(n int, mu, sigma float64) []float64 {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	out := make([]float64, n)
	for i := range out {
		out[i] = dist.Quantile((float64(i) + 0.5) / float64(n))
	}
	return out
}

func constantSample(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFactory(t *testing.T) {
	t.Run("IntegerSelectsCount", func(t *testing.T) {
		rep, err := New("17", nil, 1)
		require.NoError(t, err)
		count, ok := rep.(*Count)
		require.True(t, ok)
		assert.Equal(t, 17, count.Max)
	})

	t.Run("NonPositiveCountFails", func(t *testing.T) {
		_, err := New("0", nil, 1)
		assert.Error(t, err)
	})

	t.Run("EmptySelectorDefaultsToSingleRun", func(t *testing.T) {
		rep, err := New("", nil, 1)
		require.NoError(t, err)
		count, ok := rep.(*Count)
		require.True(t, ok)
		assert.Equal(t, 1, count.Max)
	})

	t.Run("KindSelectors", func(t *testing.T) {
		for selector, name := range map[string]string{
			KindSE:       "standard-error",
			KindCI:       "confidence-interval",
			KindHDI:      "highest-density-interval",
			KindBB:       "block-bootstrap",
			KindGMM:      "gaussian-mixture",
			KindKS:       "kolmogorov-smirnov",
			KindDecision: "decision",
		} {
			rep, err := New(selector, nil, 1)
			require.NoError(t, err, selector)
			assert.Equal(t, name, rep.Name())
		}
	})

	t.Run("UnknownSelectorFails", func(t *testing.T) {
		_, err := New("bogus", nil, 1)
		assert.Error(t, err)
	})

	t.Run("TopLevelOptionsApply", func(t *testing.T) {
		rep, err := New(KindSE, map[string]interface{}{"max": 7}, 1)
		require.NoError(t, err)
		assert.Equal(t, 7, rep.(*StandardError).Max)
	})

	t.Run("SubSectionOptionsWin", func(t *testing.T) {
		rep, err := New(KindSE, map[string]interface{}{
			"max": 7,
			KindSE: map[string]interface{}{
				"max": 11,
			},
		}, 1)
		require.NoError(t, err)
		assert.Equal(t, 11, rep.(*StandardError).Max)
	})

	t.Run("WeaklyTypedOptions", func(t *testing.T) {
		rep, err := New(KindSE, map[string]interface{}{
			"max":             "25",
			"error_threshold": "0.1",
		}, 1)
		require.NoError(t, err)
		se := rep.(*StandardError)
		assert.Equal(t, 25, se.Max)
		assert.Equal(t, 0.1, se.ErrorThreshold)
	})
}

func TestCount(t *testing.T) {
	rep := &Count{Max: 3}
	assert.Equal(t, Continue, rep.Decide(constantSample(2, 1), 2))
	assert.Equal(t, Stop, rep.Decide(constantSample(3, 1), 3))
	assert.Equal(t, Stop, rep.Decide(constantSample(4, 1), 4))
}

// withPlaceholders appends n NaN entries, the marker copies without a
// measurement contribute.
func withPlaceholders(s []float64, n int) []float64 {
	out := append([]float64(nil), s...)
	for i := 0; i < n; i++ {
		out = append(out, math.NaN())
	}
	return out
}

func TestPlaceholderSamples(t *testing.T) {
	t.Run("StatisticsIgnorePlaceholders", func(t *testing.T) {
		rep, err := NewStandardError(nil)
		require.NoError(t, err)
		samples := withPlaceholders(constantSample(10, 5), 3)
		assert.Equal(t, Stop, rep.Decide(samples, 1))
	})

	t.Run("PlaceholdersCountTowardTheBudget", func(t *testing.T) {
		rep, err := NewStandardError(map[string]interface{}{"min": 2, "max": 8})
		require.NoError(t, err)
		all := withPlaceholders(nil, 8)
		assert.Equal(t, Continue, rep.Decide(all[:7], 7), "no measurements yet, under budget")
		assert.Equal(t, Stop, rep.Decide(all, 8), "the budget counts failed copies")
	})

	t.Run("CountRuleCountsPlaceholders", func(t *testing.T) {
		rep, err := New("3", nil, 1)
		require.NoError(t, err)
		assert.Equal(t, Continue, rep.Decide(withPlaceholders(nil, 2), 2))
		assert.Equal(t, Stop, rep.Decide(withPlaceholders(nil, 3), 3))
	})

	t.Run("HalvesComparisonSkipsPlaceholders", func(t *testing.T) {
		rep, err := NewKolmogorovSmirnov(nil)
		require.NoError(t, err)
		pattern := []float64{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}
		assert.Equal(t, Stop, rep.Decide(withPlaceholders(pattern, 4), 5))
	})

	t.Run("DistributionalTestsSkipPlaceholders", func(t *testing.T) {
		rep, err := NewDecision(map[string]interface{}{
			"starting_sample": 8,
			"test_after":      1,
		}, 11)
		require.NoError(t, err)
		samples := withPlaceholders(constantSample(6, 5), 2)
		assert.Equal(t, Stop, rep.Decide(samples, 1), "constant observed sample short-circuits")
	})
}

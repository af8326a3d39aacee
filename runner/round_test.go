package runner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnbench/fnbench/metric"
	"github.com/fnbench/fnbench/subprocess"
)

func TestRunData(t *testing.T) {
	t.Run("ResultsBeforeCompletionFails", func(t *testing.T) {
		rd := NewRunData(2)
		rd.addCopy(CopyResult{Copy: 1})
		assert.False(t, rd.Complete())
		_, err := rd.Results()
		assert.Error(t, err)
	})

	t.Run("ResultsAreOrderedByCopy", func(t *testing.T) {
		rd := NewRunData(3)
		rd.addCopy(CopyResult{Copy: 3})
		rd.addCopy(CopyResult{Copy: 1})
		rd.addCopy(CopyResult{Copy: 2})
		require.True(t, rd.Complete())

		results, err := rd.Results()
		require.NoError(t, err)
		for i, res := range results {
			assert.Equal(t, i+1, res.Copy)
		}
	})

	t.Run("ObjectiveSamplesAreWallTimes", func(t *testing.T) {
		rd := NewRunData(2)
		rd.addCopy(CopyResult{Copy: 1, Outcome: subprocess.Outcome{
			State: subprocess.Completed, WallTime: 1500 * time.Millisecond,
		}})
		rd.addCopy(CopyResult{Copy: 2, Outcome: subprocess.Outcome{
			State: subprocess.Completed, WallTime: 2500 * time.Millisecond,
		}})

		samples, err := rd.Samples("outer_time")
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, 2.5}, samples)
	})

	t.Run("TimedOutCopiesContributePlaceholders", func(t *testing.T) {
		rd := NewRunData(2)
		rd.addCopy(CopyResult{Copy: 1, Outcome: subprocess.Outcome{
			State: subprocess.Completed, WallTime: time.Second,
		}})
		rd.addCopy(CopyResult{Copy: 2, Outcome: subprocess.Outcome{
			State: subprocess.TimedOut, WallTime: 30 * time.Second,
		}})

		samples, err := rd.Samples("outer_time")
		require.NoError(t, err)
		// The timed-out copy still advances the sample budget, but
		// its deadline is not a measurement.
		require.Len(t, samples, 2)
		assert.Equal(t, 1.0, samples[0])
		assert.True(t, math.IsNaN(samples[1]))
	})

	t.Run("AllTimeoutRoundStillGrowsTheSample", func(t *testing.T) {
		rd := NewRunData(2)
		for i := 1; i <= 2; i++ {
			rd.addCopy(CopyResult{Copy: i, Outcome: subprocess.Outcome{
				State: subprocess.TimedOut, WallTime: time.Second,
			}})
		}

		samples, err := rd.Samples("outer_time")
		require.NoError(t, err)
		require.Len(t, samples, 2)
		for _, v := range samples {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("NamedMetricReadsExtractedRows", func(t *testing.T) {
		rd := NewRunData(2)
		rd.addCopy(CopyResult{
			Copy:    1,
			Outcome: subprocess.Outcome{State: subprocess.Completed},
			Metrics: metric.Result{Rows: []map[string]metric.Value{
				{"inner_time": metric.Parse("0.25", "numeric")},
				{"inner_time": metric.Parse("0.75", "numeric")},
			}},
		})
		rd.addCopy(CopyResult{
			Copy:    2,
			Outcome: subprocess.Outcome{State: subprocess.Completed},
			Metrics: metric.Result{Rows: []map[string]metric.Value{
				{"inner_time": metric.NA()},
			}},
		})

		samples, err := rd.Samples("inner_time")
		require.NoError(t, err)
		// The copy whose extraction produced nothing adds a
		// placeholder so the budget still advances once per copy.
		require.Len(t, samples, 3)
		assert.Equal(t, []float64{0.25, 0.75}, samples[:2])
		assert.True(t, math.IsNaN(samples[2]))
	})

	t.Run("AutoMetricsContributeSamples", func(t *testing.T) {
		rd := NewRunData(1)
		rd.addCopy(CopyResult{
			Copy:    1,
			Outcome: subprocess.Outcome{State: subprocess.Completed},
			Metrics: metric.Result{Auto: map[string]metric.Value{
				"cache_misses": metric.Parse("42", "numeric"),
			}},
		})

		samples, err := rd.Samples("cache_misses")
		require.NoError(t, err)
		assert.Equal(t, []float64{42}, samples)
	})
}

func TestOrchestrator(t *testing.T) {
	ctx := context.Background()

	t.Run("EveryCommandReports", func(t *testing.T) {
		orch := &Orchestrator{
			Commands: []string{"echo one", "echo two", "echo three"},
			Timeout:  30 * time.Second,
		}
		rd := orch.RunRound(ctx)
		require.True(t, rd.Complete())

		results, err := rd.Results()
		require.NoError(t, err)
		require.Len(t, results, 3)
		for i, res := range results {
			assert.Equal(t, i+1, res.Copy)
			assert.Equal(t, subprocess.Completed, res.Outcome.State)
			assert.Zero(t, res.Outcome.ExitCode)
			assert.Positive(t, res.Outcome.WallTime)
		}
	})

	t.Run("SlowCopyTimesOutWithoutStallingTheRound", func(t *testing.T) {
		start := time.Now()
		orch := &Orchestrator{
			Commands: []string{"echo fast", "sleep 30"},
			Timeout:  300 * time.Millisecond,
		}
		rd := orch.RunRound(ctx)
		assert.Less(t, time.Since(start), 10*time.Second)

		results, err := rd.Results()
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, subprocess.Completed, results[0].Outcome.State)
		assert.Equal(t, subprocess.TimedOut, results[1].Outcome.State)
	})

	t.Run("DataFileFeedsEveryCopy", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "input.txt")
		require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

		orch := &Orchestrator{
			Commands: []string{"wc -l", "wc -l"},
			Timeout:  30 * time.Second,
			DataFile: path,
		}
		results, err := orch.RunRound(ctx).Results()
		require.NoError(t, err)
		for _, res := range results {
			assert.Equal(t, "3", strings.TrimSpace(res.Outcome.Stdout))
		}
	})

	t.Run("MissingDataFileFailsTheLaunch", func(t *testing.T) {
		orch := &Orchestrator{
			Commands: []string{"cat"},
			Timeout:  30 * time.Second,
			DataFile: filepath.Join(t.TempDir(), "nope.txt"),
		}
		results, err := orch.RunRound(ctx).Results()
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, subprocess.LaunchFailed, results[0].Outcome.State)
		assert.Error(t, results[0].Outcome.Err)
	})

	t.Run("CompletedCopiesGetMetricsExtracted", func(t *testing.T) {
		orch := &Orchestrator{
			Commands: []string{`echo "time: 1.5"`},
			Timeout:  30 * time.Second,
			Extractor: &metric.Extractor{Metrics: map[string]metric.Definition{
				"inner_time": {Extract: "awk '{print $2}'", Type: "numeric"},
			}},
		}
		results, err := orch.RunRound(ctx).Results()
		require.NoError(t, err)
		require.Len(t, results[0].Metrics.Rows, 1)

		v, ok := results[0].Metrics.Rows[0]["inner_time"].Float()
		assert.True(t, ok)
		assert.Equal(t, 1.5, v)
	})
}

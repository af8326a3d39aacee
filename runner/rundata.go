// Package runner executes rounds of concurrent copies and repeats
// them until the configured repeater is satisfied, logging every
// resolved round.
package runner

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"github.com/fnbench/fnbench"
	"github.com/fnbench/fnbench/metric"
	"github.com/fnbench/fnbench/subprocess"
)

// CopyResult is everything one copy of a round produced.
type CopyResult struct {
	// Copy is the 1-based index within the round.
	Copy    int
	Outcome subprocess.Outcome
	Metrics metric.Result
}

// RunData collects the results of one round. Copies report in
// concurrently; readers must wait for the round to complete.
type RunData struct {
	copies  int
	mu      sync.Mutex
	results []CopyResult
}

func NewRunData(copies int) *RunData {
	return &RunData{copies: copies}
}

func (rd *RunData) addCopy(res CopyResult) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.results = append(rd.results, res)
}

// Complete reports whether every copy of the round has reported.
func (rd *RunData) Complete() bool {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	return len(rd.results) >= rd.copies
}

// Results returns all copy results ordered by copy index. Accessing
// them before the round completes is an error.
func (rd *RunData) Results() ([]CopyResult, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if len(rd.results) < rd.copies {
		return nil, errors.Errorf("round data accessed after %d of %d copies", len(rd.results), rd.copies)
	}
	out := make([]CopyResult, len(rd.results))
	copy(out, rd.results)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Copy < out[j-1].Copy; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// Samples returns the round's values of the named metric. The
// objective metric is the wall time measured by the harness; any
// other name reads the extracted values. A copy without a usable
// measurement (timed out, or nothing extracted) contributes a NaN
// placeholder, so every copy advances the repeater's sample budget
// even when whole rounds produce no data.
func (rd *RunData) Samples(name string) ([]float64, error) {
	results, err := rd.Results()
	if err != nil {
		return nil, err
	}

	var out []float64
	for _, res := range results {
		if res.Outcome.State != subprocess.Completed {
			out = append(out, math.NaN())
			continue
		}
		if name == fnbench.ObjectiveMetric {
			out = append(out, res.Outcome.WallTime.Seconds())
			continue
		}
		contributed := false
		for _, row := range res.Metrics.Rows {
			if v, ok := row[name].Float(); ok {
				out = append(out, v)
				contributed = true
			}
		}
		if v, ok := res.Metrics.Auto[name].Float(); ok {
			out = append(out, v)
			contributed = true
		}
		if !contributed {
			out = append(out, math.NaN())
		}
	}
	return out, nil
}

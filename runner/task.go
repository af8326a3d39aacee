package runner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"

	"github.com/fnbench/fnbench"
	"github.com/fnbench/fnbench/backend"
	"github.com/fnbench/fnbench/metric"
	"github.com/fnbench/fnbench/options"
	"github.com/fnbench/fnbench/repeater"
	"github.com/fnbench/fnbench/runlog"
	"github.com/fnbench/fnbench/subprocess"
)

// Task ties one resolved configuration to its backend chain, stopping
// rule, and log.
type Task struct {
	Options  *options.Options
	Chain    *backend.Chain
	Repeater repeater.Repeater
	Log      *runlog.Logger

	// autoColumns freezes the dynamically discovered metric names
	// after the first logged round so every CSV row has the same
	// layout.
	autoColumns []string
	frozen      bool
}

// Run executes the task's rounds until the repeater stops it, then
// collects system specifications and writes the descriptor. A copy
// that cannot be launched aborts the task; timeouts and extraction
// failures are recorded and the task continues.
func (t *Task) Run(ctx context.Context) error {
	opts := t.Options
	orch := &Orchestrator{
		Commands: t.Chain.RunCommands(opts.Copies),
		Timeout:  opts.Timeout(),
		DataFile: opts.DataFile,
		Verbose:  opts.Verbose,
	}
	if len(opts.Metrics) > 0 {
		orch.Extractor = &metric.Extractor{Metrics: opts.Metrics}
	}

	if opts.Start == fnbench.StartWarm {
		if err := checkLaunches(orch.RunRound(ctx)); err != nil {
			return errors.Wrap(err, "warming up")
		}
	}

	objective := t.objectiveMetric()
	var samples []float64
	appendLog := opts.Append

	round := 0
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "task interrupted")
		}
		if opts.Start == fnbench.StartCold {
			if err := t.reset(ctx); err != nil {
				return errors.Wrap(err, "resetting backends for cold start")
			}
		}

		rd := orch.RunRound(ctx)
		if err := checkLaunches(rd); err != nil {
			return err
		}
		round++
		grip.InfoWhen(opts.Verbose, fmt.Sprintf("completed run %d for experiment %s and task %s",
			round, opts.Experiment, opts.Task))

		roundSamples, err := rd.Samples(objective)
		if err != nil {
			return errors.WithStack(err)
		}
		if usable := countUsable(roundSamples); usable < opts.Copies {
			grip.Warning(fmt.Sprintf("round %d produced %d of %d samples for metric '%s'",
				round, usable, opts.Copies, objective))
		}
		samples = append(samples, roundSamples...)

		if err := t.logRound(rd, round, appendLog); err != nil {
			return errors.Wrapf(err, "logging round %d", round)
		}
		appendLog = true

		if t.Repeater.Decide(samples, round) == repeater.Stop {
			break
		}
	}

	note := ""
	if t.nonConverged(samples) {
		note = fmt.Sprintf("stopping rule %s reached its sample limit without converging", t.Repeater.Name())
		grip.Warning(note)
	}

	specs := t.sysSpecs(ctx)
	if opts.Append {
		return nil
	}
	return errors.Wrap(t.Log.WriteDescriptor(specs, note), "writing descriptor")
}

// objectiveMetric is the metric fed to the repeater, the measured
// wall time unless the repeater options name another.
func (t *Task) objectiveMetric() string {
	if name, ok := t.Options.RepeaterOptions["metric"].(string); ok && name != "" {
		return name
	}
	return fnbench.ObjectiveMetric
}

// countUsable is the number of samples carrying a real measurement,
// as opposed to the NaN placeholders of failed copies.
func countUsable(samples []float64) int {
	n := 0
	for _, v := range samples {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

func checkLaunches(rd *RunData) error {
	results, err := rd.Results()
	if err != nil {
		return errors.WithStack(err)
	}
	catcher := grip.NewBasicCatcher()
	for _, res := range results {
		if res.Outcome.State == subprocess.LaunchFailed {
			catcher.Add(errors.Wrapf(res.Outcome.Err, "launching copy %d", res.Copy))
		}
	}
	return catcher.Resolve()
}

// reset synchronously runs every backend's reset command so the next
// round starts cold.
func (t *Task) reset(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()
	for _, cmdString := range t.Chain.ResetCommands(t.Options.Copies) {
		grip.InfoWhen(t.Options.Verbose, fmt.Sprintf("resetting: %s", cmdString))
		cmd := &subprocess.Command{CmdString: cmdString}
		outcome := cmd.Execute(ctx)
		if !outcome.Succeeded() {
			catcher.Add(errors.Errorf("reset command '%s' finished %s (status %d): %s",
				cmdString, outcome.State, outcome.ExitCode, strings.TrimSpace(outcome.Stderr)))
		}
	}
	return catcher.Resolve()
}

func (t *Task) logRound(rd *RunData, round int, appendLog bool) error {
	results, err := rd.Results()
	if err != nil {
		return errors.WithStack(err)
	}

	t.Log.AddColumn("repeat", strconv.Itoa(round), "int", "Batch number when a task is repeated")
	t.Log.AddColumn("concurrency", strconv.Itoa(t.Options.Copies), "int", "No. of concurrent runs")

	if !t.frozen {
		t.autoColumns = t.discoverAutoColumns(results)
		t.frozen = true
	}

	catcher := grip.NewBasicCatcher()
	for _, res := range results {
		rows := res.Metrics.Rows
		if len(rows) == 0 {
			rows = []map[string]metric.Value{nil}
		}
		// A copy that never completed has no valid measurement; its
		// wall time is the deadline, not the function's run time.
		outer := "NA"
		if res.Outcome.State == subprocess.Completed {
			outer = strconv.FormatFloat(res.Outcome.WallTime.Seconds(), 'f', 5, 64)
		}
		for _, row := range rows {
			catcher.Add(t.Log.AddRowField("copy", strconv.Itoa(res.Copy), "int", "Run number (iteration)"))
			catcher.Add(t.Log.AddRowField("outer_time", outer,
				"numeric", "External measured run time (s); lower is better"))
			catcher.Add(t.Log.AddRowField("timeout",
				strconv.FormatBool(res.Outcome.State == subprocess.TimedOut),
				"bool", "Whether the copy exceeded its deadline"))
			for _, name := range t.metricColumns() {
				def := t.Options.Metrics[name]
				catcher.Add(t.Log.AddRowField(name, row[name].String(), def.Type, def.Describe()))
			}
			for _, name := range t.autoColumns {
				catcher.Add(t.Log.AddRowField(name, res.Metrics.Auto[name].String(),
					"numeric", "Automatically discovered metric"))
			}
		}
		t.checkAutoConsistency(res)
	}
	if catcher.HasErrors() {
		return catcher.Resolve()
	}

	return errors.Wrap(t.Log.Save(appendLog), "saving CSV log")
}

// metricColumns is the stable order of configured metric columns.
func (t *Task) metricColumns() []string {
	names := make([]string, 0, len(t.Options.Metrics))
	for name := range t.Options.Metrics {
		if name == fnbench.AutoMetricName {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Task) discoverAutoColumns(results []CopyResult) []string {
	for _, res := range results {
		if names := res.Metrics.AutoNames(); len(names) > 0 {
			return names
		}
	}
	return nil
}

// checkAutoConsistency flags copies whose automatically discovered
// metrics do not line up with the columns frozen in the first round.
// The mismatch is recorded, never fatal.
func (t *Task) checkAutoConsistency(res CopyResult) {
	if res.Outcome.State != subprocess.Completed {
		return
	}
	seen := res.Metrics.AutoNames()
	known := map[string]bool{}
	for _, name := range t.autoColumns {
		known[name] = true
	}
	for _, name := range seen {
		if !known[name] {
			grip.Warning(fmt.Sprintf("copy %d reported auto metric '%s' missing from earlier rounds; dropping it",
				res.Copy, name))
		}
	}
	if len(seen) < len(t.autoColumns) {
		grip.Warning(fmt.Sprintf("copy %d reported %d of %d auto metrics",
			res.Copy, len(seen), len(t.autoColumns)))
	}
}

// nonConverged reports whether an adaptive stopping rule quit only
// because it ran out of sample budget.
func (t *Task) nonConverged(samples []float64) bool {
	bounded, ok := t.Repeater.(interface{ Limit() int })
	return ok && len(samples) >= bounded.Limit()
}

// sysSpecs runs every configured system specification command through
// the backend chain once, at task completion. Failures are recorded
// in place of the output.
func (t *Task) sysSpecs(ctx context.Context) map[string]string {
	resolved := t.Chain.SysSpecCommands(t.Options.SysSpecCommands)
	if len(resolved) == 0 {
		grip.Warning("no system specifications to record; was the default configuration loaded?")
		return nil
	}

	out := make(map[string]string, len(resolved))
	for name, cmdString := range resolved {
		cmd := &subprocess.Command{CmdString: cmdString}
		outcome := cmd.Execute(ctx)
		if outcome.State != subprocess.Completed {
			out[name] = fmt.Sprintf("error collecting specification '%s': %s", name, outcome.State)
			continue
		}
		out[name] = outcome.Stdout
	}
	return out
}

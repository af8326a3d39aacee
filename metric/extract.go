package metric

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/fnbench/fnbench/subprocess"
)

// extractTimeout bounds one extraction pipeline; pipelines are local
// text filters and should never take anywhere near this long.
const extractTimeout = time.Minute

// Result holds everything extracted from one run's output.
type Result struct {
	// Rows are the per-row metric values, one map per extracted row.
	// Most runs produce exactly one row; backends that report several
	// sub-measurements (e.g. a parallel transport reporting per-worker
	// lines) produce one row each.
	Rows []map[string]Value

	// Auto holds the dynamically discovered name/value pairs from the
	// auto metric's output.
	Auto map[string]Value

	// Inconsistent is set when metrics disagree on row counts, which
	// usually means a pipeline matched duplicated or missing lines.
	Inconsistent bool

	// Failures lists the per-metric extraction diagnostics.
	Failures []string
}

// AutoNames returns the sorted discovered metric names, used to check
// consistency across the copies of a round.
func (r *Result) AutoNames() []string {
	names := make([]string, 0, len(r.Auto))
	for name := range r.Auto {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extractor runs every configured metric's pipeline against captured
// output. Definitions are read-only for the task's lifetime.
type Extractor struct {
	Metrics map[string]Definition
	Shell   string
}

// Extract applies all pipelines to output. It never returns an error:
// extraction failures become NA values plus diagnostics.
func (e *Extractor) Extract(ctx context.Context, output string) Result {
	res := Result{Auto: map[string]Value{}}

	columns := map[string][]Value{}
	rowCount := -1
	consistent := true

	for name, def := range e.Metrics {
		stdout, err := e.runPipeline(ctx, def.Extract, output)
		if err != nil {
			res.Failures = append(res.Failures, name+": "+err.Error())
			grip.Warning(message.Fields{
				"message": "metric extraction failed, recording NA",
				"metric":  name,
				"cause":   err.Error(),
			})
			if name != AutoName {
				columns[name] = []Value{NA()}
			}
			continue
		}

		if name == AutoName {
			e.parseAuto(stdout, &res)
			continue
		}

		tokens := strings.Fields(stdout)
		values := make([]Value, 0, len(tokens))
		for _, tok := range tokens {
			values = append(values, Parse(tok, def.Type))
		}
		columns[name] = values

		if rowCount == -1 {
			rowCount = len(values)
		} else if rowCount != len(values) {
			consistent = false
			if len(values) > rowCount {
				rowCount = len(values)
			}
		}
	}

	if rowCount < 1 {
		rowCount = 1
	}
	if !consistent {
		res.Inconsistent = true
		grip.Warning(message.Fields{
			"message": "metrics disagree on row counts; inspect pipelines for duplicated or missing rows",
		})
	}

	for i := 0; i < rowCount; i++ {
		row := map[string]Value{}
		for name, values := range columns {
			if i < len(values) {
				row[name] = values[i]
			} else {
				row[name] = NA()
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

// runPipeline feeds output to one extraction command and returns its
// stdout.
func (e *Extractor) runPipeline(ctx context.Context, pipeline, output string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	cmd := &subprocess.Command{
		CmdString: pipeline,
		Shell:     e.Shell,
		Stdin:     strings.NewReader(output),
	}
	out := cmd.Execute(ctx)

	switch {
	case out.State != subprocess.Completed:
		return "", errors.Errorf("pipeline did not complete (%s)", out.State)
	case out.ExitCode != 0:
		return "", errors.Errorf("pipeline exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	case len(out.Stderr) > 0:
		return "", errors.Errorf("pipeline wrote to stderr: %s", strings.TrimSpace(out.Stderr))
	case strings.TrimSpace(out.Stdout) == "":
		return "", errors.New("pipeline produced no output; did you include the right backend and emit the metric?")
	}
	return out.Stdout, nil
}

// parseAuto splits each line of the auto pipeline's output into a
// (name, value) pair.
func (e *Extractor) parseAuto(stdout string, res *Result) {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		switch len(fields) {
		case 0:
		case 2:
			res.Auto[fields[0]] = Parse(fields[1], "numeric")
		default:
			grip.Warningf("auto metric line '%s' is not a name/value pair, skipping", strings.TrimSpace(line))
		}
	}
}

package runner

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mongodb/grip"

	"github.com/fnbench/fnbench/metric"
	"github.com/fnbench/fnbench/subprocess"
)

// Orchestrator runs one round: every resolved command gets its own
// goroutine owning one OS process, each bounded by the per-copy
// deadline, and the round resolves only when all copies have reported.
type Orchestrator struct {
	Commands  []string
	Timeout   time.Duration
	DataFile  string
	Extractor *metric.Extractor
	Verbose   bool
}

// RunRound launches all copies concurrently and blocks until every
// one has an outcome. It always returns as many results as there are
// commands; per-copy failures and timeouts are recorded in the
// results, never lost.
func (o *Orchestrator) RunRound(ctx context.Context) *RunData {
	rd := NewRunData(len(o.Commands))

	wg := &sync.WaitGroup{}
	for i, cmdString := range o.Commands {
		wg.Add(1)
		go func(idx int, cmdString string) {
			defer wg.Done()
			rd.addCopy(o.runCopy(ctx, idx+1, cmdString))
		}(i, cmdString)
	}
	wg.Wait()

	return rd
}

func (o *Orchestrator) runCopy(ctx context.Context, copyIdx int, cmdString string) CopyResult {
	cctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	grip.InfoWhen(o.Verbose, fmt.Sprintf("running: %s", cmdString))

	cmd := &subprocess.Command{CmdString: cmdString}
	if o.DataFile != "" {
		// Each copy reads the input file from the beginning.
		file, err := os.Open(o.DataFile)
		if err != nil {
			return CopyResult{Copy: copyIdx, Outcome: subprocess.Outcome{
				State: subprocess.LaunchFailed,
				Err:   err,
			}}
		}
		defer file.Close()
		cmd.Stdin = file
	}
	if o.Verbose {
		cmd.Tee = os.Stdout
	}

	outcome := cmd.Execute(cctx)
	res := CopyResult{Copy: copyIdx, Outcome: outcome}

	switch outcome.State {
	case subprocess.TimedOut:
		grip.Warning(fmt.Sprintf("copy %d exceeded the timeout of %s", copyIdx, o.Timeout))
	case subprocess.Completed:
		if outcome.ExitCode != 0 {
			grip.Warning(fmt.Sprintf("copy %d exited with status %d", copyIdx, outcome.ExitCode))
		}
		// Extraction gets its own budget; the copy deadline covers only
		// the measured process.
		if o.Extractor != nil {
			res.Metrics = o.Extractor.Extract(ctx, outcome.Stdout)
		}
	}
	return res
}

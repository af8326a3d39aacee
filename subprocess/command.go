// Package subprocess executes one resolved benchmark command with a
// deadline, capturing output and wall time. Cancellation is mandatory
// here: a copy that overruns its deadline is killed together with any
// descendants and reported as a timeout, never allowed to block the
// round.
package subprocess

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

// maxCapturedBytes bounds each captured stream so a chatty function
// cannot exhaust memory; extraction pipelines see at most this much.
const maxCapturedBytes = 4 << 20

const launchAttempts = 3

// Command describes one process to run through the shell. The zero
// value plus CmdString is usable.
type Command struct {
	CmdString        string
	WorkingDirectory string
	Shell            string
	Environment      []string
	Stdin            io.Reader

	// Tee mirrors captured stdout to an extra writer (used by verbose
	// mode). Optional.
	Tee io.Writer
}

// Execute runs the command and blocks until it terminates or ctx
// expires. It always returns an Outcome; errors are folded into it.
func (c *Command) Execute(ctx context.Context) Outcome {
	shell := c.Shell
	if shell == "" {
		shell = "sh"
	}

	stdout := &cappedWriter{maxBytes: maxCapturedBytes}
	stderr := &cappedWriter{maxBytes: maxCapturedBytes}

	cmd := exec.Command(shell, "-c", c.CmdString)
	cmd.Dir = c.WorkingDirectory
	cmd.Env = c.Environment
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Stdin = c.Stdin
	if c.Tee != nil {
		cmd.Stdout = io.MultiWriter(stdout, c.Tee)
	} else {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr
	setProcessGroup(cmd)

	started := time.Now()
	if err := startWithRetry(cmd); err != nil {
		return Outcome{
			State:    LaunchFailed,
			ExitCode: -1,
			WallTime: time.Since(started),
			Err:      errors.Wrapf(err, "starting command '%s'", c.CmdString),
		}
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		killProcessTree(cmd)
		// The process is gone after the kill; reap it so the wait
		// goroutine does not leak.
		<-waitErr
		return Outcome{
			State:    TimedOut,
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			WallTime: time.Since(started),
			Err:      ctx.Err(),
		}
	case err := <-waitErr:
		out := Outcome{
			State:    Completed,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			WallTime: time.Since(started),
		}
		var exit *exec.ExitError
		if stderrors.As(err, &exit) {
			out.ExitCode = exit.ExitCode()
		} else if err != nil {
			out.ExitCode = -1
			out.Err = errors.WithStack(err)
		}
		return out
	}
}

// startWithRetry retries process creation for transient resource
// exhaustion (EAGAIN and friends); every other start error is an
// immediate launch failure.
func startWithRetry(cmd *exec.Cmd) error {
	b := &backoff.Backoff{
		Min:    10 * time.Millisecond,
		Max:    250 * time.Millisecond,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < launchAttempts; attempt++ {
		if err = cmd.Start(); err == nil {
			return nil
		}
		if !isTransientLaunchError(err) {
			return err
		}
		time.Sleep(b.Duration())
	}
	return err
}

func isTransientLaunchError(err error) bool {
	return stderrors.Is(err, syscall.EAGAIN) ||
		stderrors.Is(err, syscall.EMFILE) ||
		stderrors.Is(err, syscall.ENFILE)
}

// cappedWriter stores up to maxBytes bytes and silently discards the
// rest, so long-running processes keep writing without error.
type cappedWriter struct {
	buffer   bytes.Buffer
	maxBytes int
}

func (cw *cappedWriter) Write(in []byte) (int, error) {
	remaining := cw.maxBytes - cw.buffer.Len()
	if len(in) <= remaining {
		return cw.buffer.Write(in)
	}
	_, _ = cw.buffer.Write(in[:remaining])
	return len(in), nil
}

func (cw *cappedWriter) String() string { return cw.buffer.String() }

package subprocess

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCommandExecute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell command test doesn't make sense on windows")
	}
	ctx := context.Background()

	Convey("When executing shell commands", t, func() {

		Convey("stdout and the exit code should be captured", func() {
			cmd := &Command{CmdString: "echo hello"}
			outcome := cmd.Execute(ctx)
			So(outcome.State, ShouldEqual, Completed)
			So(outcome.ExitCode, ShouldEqual, 0)
			So(outcome.Stdout, ShouldEqual, "hello\n")
			So(outcome.Succeeded(), ShouldBeTrue)
		})

		Convey("a nonzero exit status should not be a timeout", func() {
			cmd := &Command{CmdString: "exit 12"}
			outcome := cmd.Execute(ctx)
			So(outcome.State, ShouldEqual, Completed)
			So(outcome.ExitCode, ShouldEqual, 12)
			So(outcome.Succeeded(), ShouldBeFalse)
		})

		Convey("stderr should be captured separately", func() {
			cmd := &Command{CmdString: "echo oops >&2"}
			outcome := cmd.Execute(ctx)
			So(outcome.Stdout, ShouldEqual, "")
			So(outcome.Stderr, ShouldEqual, "oops\n")
		})

		Convey("stdin should feed the process", func() {
			cmd := &Command{
				CmdString: "wc -l",
				Stdin:     strings.NewReader("a\nb\nc\n"),
			}
			outcome := cmd.Execute(ctx)
			So(outcome.State, ShouldEqual, Completed)
			So(strings.TrimSpace(outcome.Stdout), ShouldEqual, "3")
		})

		Convey("the specified environment should be used", func() {
			cmd := &Command{
				CmdString:   "echo $command_test_var",
				Environment: []string{"command_test_var=set"},
			}
			outcome := cmd.Execute(ctx)
			So(outcome.Stdout, ShouldEqual, "set\n")
		})

		Convey("wall time should cover the process duration", func() {
			cmd := &Command{CmdString: "sleep 0.2"}
			outcome := cmd.Execute(ctx)
			So(outcome.State, ShouldEqual, Completed)
			So(outcome.WallTime, ShouldBeGreaterThan, 150*time.Millisecond)
		})
	})

	Convey("When the deadline expires", t, func() {

		Convey("the process should be killed and flagged as timed out", func() {
			tctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			started := time.Now()
			cmd := &Command{CmdString: "sleep 30"}
			outcome := cmd.Execute(tctx)
			So(outcome.State, ShouldEqual, TimedOut)
			So(outcome.Succeeded(), ShouldBeFalse)
			So(time.Since(started), ShouldBeLessThan, 5*time.Second)
		})

		Convey("output produced before the timeout should survive", func() {
			tctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()

			cmd := &Command{CmdString: "echo partial; sleep 30"}
			outcome := cmd.Execute(tctx)
			So(outcome.State, ShouldEqual, TimedOut)
			So(outcome.Stdout, ShouldEqual, "partial\n")
		})
	})

	Convey("When the command cannot be launched", t, func() {

		Convey("a missing shell should fail the launch", func() {
			cmd := &Command{CmdString: "echo hi", Shell: "/no/such/shell"}
			outcome := cmd.Execute(ctx)
			So(outcome.State, ShouldEqual, LaunchFailed)
			So(outcome.Err, ShouldNotBeNil)
		})
	})
}

func TestCappedWriter(t *testing.T) {
	Convey("With a capped writer", t, func() {
		cw := &cappedWriter{maxBytes: 8}

		Convey("writes under the cap are kept verbatim", func() {
			n, err := cw.Write([]byte("abc"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 3)
			So(cw.String(), ShouldEqual, "abc")
		})

		Convey("overflow is discarded without erroring", func() {
			n, err := cw.Write([]byte("0123456789"))
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 10)
			So(cw.String(), ShouldEqual, "01234567")

			_, err = cw.Write([]byte("more"))
			So(err, ShouldBeNil)
			So(cw.String(), ShouldEqual, "01234567")
		})
	})
}

package operations

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/fnbench/fnbench/backend"
	"github.com/fnbench/fnbench/options"
	"github.com/fnbench/fnbench/repeater"
	"github.com/fnbench/fnbench/runlog"
	"github.com/fnbench/fnbench/runner"
)

// Run returns the command that executes one benchmark task.
func Run() cli.Command {
	return cli.Command{
		Name:      "run",
		Usage:     "run a function on a chain of backends and log its performance",
		ArgsUsage: "function [arguments...]",
		Flags:     addRunFlags(addConfigFlags()...),
		Before: mergeBeforeFuncs(
			setPlainLogger,
			requireFunctionArg,
			mutuallyExclusiveStartModes,
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			opts, err := options.Resolve(sourcesFromFlags(c))
			if err != nil {
				return err
			}

			chain, err := backend.NewChain(opts.Backends, opts.BackendOptions,
				opts.Task, opts.Function, opts.Arguments, opts.FunctionDir)
			if err != nil {
				return errors.Wrap(err, "resolving backend chain")
			}

			rep, err := repeater.New(opts.Repeats, opts.RepeaterOptions, opts.Seed)
			if err != nil {
				return errors.Wrap(err, "building stopping rule")
			}

			log, err := runlog.NewLogger(opts.Directory, opts.Experiment, opts.Task, opts.Raw(), opts.Verbose)
			if err != nil {
				return err
			}
			log.AddColumn("task", opts.Task, "string", "Task name")
			log.AddColumn("start", opts.Start, "string", "Warm, cold, or normal start")

			task := &runner.Task{
				Options:  opts,
				Chain:    chain,
				Repeater: rep,
				Log:      log,
			}
			return task.Run(ctx)
		},
	}
}

func sourcesFromFlags(c *cli.Context) options.Sources {
	args := c.Args()
	cl := options.CommandLine{
		Backends:    c.StringSlice(backendFlagName),
		Copies:      c.Int(mplFlagName),
		Repeats:     c.String(repeatsFlagName),
		Experiment:  c.String(experimentFlagName),
		Description: c.String(descriptionFlagName),
		Task:        c.String(taskFlagName),
		Directory:   c.String(directoryFlagName),
		DataFile:    c.String(inputFlagName),
		Timeout:     c.Int(timeoutFlagName),
		Seed:        c.Uint64(seedFlagName),
		Append:      c.Bool(appendFlagName),
		Verbose:     c.Bool(verboseFlagName),
		Cold:        c.Bool(coldFlagName),
		Warm:        c.Bool(warmFlagName),
	}
	if len(args) > 0 {
		cl.Function = args[0]
		cl.Arguments = strings.Join(args.Tail(), " ")
	}

	return options.Sources{
		ReproFile:   c.String(reproFlagName),
		ConfigFiles: c.StringSlice(configFlagName),
		InlineJSON:  c.String(jsonFlagName),
		CommandLine: cl,
	}
}

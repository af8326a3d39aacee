package operations

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/fnbench/fnbench/backend"
	"github.com/fnbench/fnbench/options"
	"github.com/fnbench/fnbench/repeater"
)

// List returns the command that prints the known backends, stopping
// rules, and configured metrics.
func List() cli.Command {
	const (
		backendsFlagName  = "backends"
		metricsFlagName   = "metrics"
		repeatersFlagName = "repeaters"
	)

	return cli.Command{
		Name:  "list",
		Usage: "list available backends, stopping rules, and configured metrics",
		Flags: addConfigFlags(
			cli.BoolFlag{
				Name:  backendsFlagName,
				Usage: "list backends only",
			},
			cli.BoolFlag{
				Name:  metricsFlagName,
				Usage: "list configured metrics only",
			},
			cli.BoolFlag{
				Name:  repeatersFlagName,
				Usage: "list stopping rules only",
			}),
		Before: mergeBeforeFuncs(setPlainLogger),
		Action: func(c *cli.Context) error {
			all := !c.Bool(backendsFlagName) && !c.Bool(metricsFlagName) && !c.Bool(repeatersFlagName)

			opts, err := options.Resolve(listSources(c))
			if err != nil {
				return errors.Wrap(err, "resolving configuration")
			}

			var custom []string
			metrics := map[string]string{}
			for name := range opts.BackendOptions {
				custom = append(custom, name)
			}
			for name, def := range opts.Metrics {
				metrics[name] = def.Describe()
			}

			if all || c.Bool(backendsFlagName) {
				names := append(backend.Builtins(), custom...)
				sort.Strings(names)
				fmt.Printf("backends: %s\n", strings.Join(names, ", "))
			}
			if all || c.Bool(repeatersFlagName) {
				fmt.Printf("stopping rules: %s (or an integer repeat count)\n",
					strings.Join(repeater.Kinds(), ", "))
			}
			if all || c.Bool(metricsFlagName) {
				names := make([]string, 0, len(metrics))
				for name := range metrics {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Printf("metric %s: %s\n", name, metrics[name])
				}
			}
			return nil
		},
	}
}

// listSources keeps listing usable without a function argument by
// reusing only the configuration flags.
func listSources(c *cli.Context) options.Sources {
	return options.Sources{
		ConfigFiles: c.StringSlice(configFlagName),
		InlineJSON:  c.String(jsonFlagName),
		CommandLine: options.CommandLine{Function: "list"},
	}
}

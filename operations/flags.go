package operations

import (
	"strings"

	"github.com/urfave/cli"
)

const (
	configFlagName      = "config"
	jsonFlagName        = "json"
	reproFlagName       = "repro"
	backendFlagName     = "backend"
	mplFlagName         = "mpl"
	repeatsFlagName     = "repeats"
	experimentFlagName  = "experiment"
	descriptionFlagName = "description"
	taskFlagName        = "task"
	directoryFlagName   = "directory"
	inputFlagName       = "input"
	timeoutFlagName     = "timeout"
	appendFlagName      = "append"
	verboseFlagName     = "verbose"
	coldFlagName        = "cold"
	warmFlagName        = "warm"
	seedFlagName        = "seed"
)

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

func addConfigFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringSliceFlag{
			Name:  joinFlagNames(configFlagName, "f"),
			Usage: "JSON or YAML configuration file; may be repeated, read in order",
		},
		cli.StringFlag{
			Name:  joinFlagNames(jsonFlagName, "j"),
			Usage: "JSON string with configuration, merged over config files",
		},
		cli.StringFlag{
			Name:  reproFlagName,
			Usage: "reproduce the options of a previous run from its descriptor file",
		})
}

func addRunFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringSliceFlag{
			Name:  joinFlagNames(backendFlagName, "b"),
			Usage: "execution environment to run in; may be repeated to nest backends",
		},
		cli.IntFlag{
			Name:  mplFlagName,
			Usage: "multiprogramming level: number of concurrent copies to run",
		},
		cli.StringFlag{
			Name:  joinFlagNames(repeatsFlagName, "r"),
			Usage: "how many times to repeat the task, or an adaptive stopping rule (SE, CI, HDI, BB, GMM, KS, DC)",
		},
		cli.StringFlag{
			Name:  joinFlagNames(experimentFlagName, "e"),
			Usage: "name of the experiment grouping this task",
		},
		cli.StringFlag{
			Name:  descriptionFlagName,
			Usage: "optional description string for the experiment",
		},
		cli.StringFlag{
			Name:  joinFlagNames(taskFlagName, "t"),
			Usage: "name of the task and its log file; defaults to the function name",
		},
		cli.StringFlag{
			Name:  joinFlagNames(directoryFlagName, "d"),
			Usage: "top-level directory for run logs",
		},
		cli.StringFlag{
			Name:  joinFlagNames(inputFlagName, "i"),
			Usage: "file with input for the function; defaults to stdin",
		},
		cli.IntFlag{
			Name:  timeoutFlagName,
			Usage: "timeout in seconds to wait for each copy",
		},
		cli.Uint64Flag{
			Name:  seedFlagName,
			Usage: "seed for the stopping rules' random draws",
		},
		cli.BoolFlag{
			Name:  joinFlagNames(appendFlagName, "a"),
			Usage: "append run data to a previous log instead of overwriting it",
		},
		cli.BoolFlag{
			Name:  joinFlagNames(verboseFlagName, "v"),
			Usage: "print the output of every run to stdout",
		},
		cli.BoolFlag{
			Name:  joinFlagNames(coldFlagName, "c"),
			Usage: "reset caches before every round so the function starts cold",
		},
		cli.BoolFlag{
			Name:  joinFlagNames(warmFlagName, "w"),
			Usage: "warm up caches and backends with one unlogged round",
		})
}

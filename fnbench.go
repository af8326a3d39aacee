package fnbench

import (
	"os"
	"path/filepath"
)

// ClientVersion is the release identifier reported by the CLI and
// recorded in every task descriptor.
const ClientVersion = "2026-08-15"

// BuildRevision is the git hash of the harness itself, filled in at
// build time via -ldflags. Empty for ad-hoc builds.
var BuildRevision = ""

const (
	// DefaultConfigFile is the configuration document loaded when no
	// -f flag is given.
	DefaultConfigFile = "default_config.yaml"

	// DefaultExperiment groups tasks that were started without an
	// explicit experiment name.
	DefaultExperiment = "misc"

	// DefaultBackend is the execution environment used when no -b flag
	// is given.
	DefaultBackend = "local"

	// ObjectiveMetric is the one metric every run produces: the wall
	// time of the copy as measured by the harness itself.
	ObjectiveMetric = "outer_time"

	// DefaultTimeout bounds a single copy's execution, in seconds.
	DefaultTimeout = 3600

	// DefaultCopies is the multiprogramming level when --mpl is unset.
	DefaultCopies = 1

	// AutoMetricName is the reserved metric whose extraction output is
	// split into dynamically discovered name/value pairs.
	AutoMetricName = "auto"

	// DescriptorOptionsHeading introduces the JSON options block in a
	// task descriptor. The --repro flag parses it back out.
	DescriptorOptionsHeading = "## Runtime options"
)

// Cold-start modes for a task.
const (
	StartCold   = "cold"
	StartWarm   = "warm"
	StartNormal = "normal"
)

// DefaultLogDirectory returns the top-level directory for run logs,
// a runlogs directory next to the current working directory.
func DefaultLogDirectory() string {
	wd, err := os.Getwd()
	if err != nil {
		return "runlogs"
	}
	return filepath.Join(wd, "runlogs")
}

// DefaultFunctionDirectory returns the directory searched for function
// executables, laid out as fns/<name>/<name>[.ext].
func DefaultFunctionDirectory() string {
	wd, err := os.Getwd()
	if err != nil {
		return "fns"
	}
	return filepath.Join(wd, "fns")
}

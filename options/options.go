// Package options resolves the harness configuration from its four
// sources, lowest precedence first: a previous run's descriptor (for
// reproduction), config documents in listed order, an inline JSON
// literal, and command-line flags. Later sources override earlier
// ones field by field, except backend selections, which accumulate so
// chains compose across sources. The result is an immutable Options
// value handed to every component at construction.
package options

import (
	"fmt"
	"strings"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mitchellh/mapstructure"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"

	"github.com/fnbench/fnbench"
	"github.com/fnbench/fnbench/metric"
)

// ConfigConflictError marks unparseable or contradictory
// configuration. It is always fatal and aborts the task before any
// side effect.
type ConfigConflictError struct {
	Reason string
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("configuration conflict: %s", e.Reason)
}

// IsConfigConflict reports whether err (or its cause) is a
// ConfigConflictError.
func IsConfigConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConfigConflictError)
	return ok
}

// Options is the fully resolved, immutable configuration of one task.
type Options struct {
	Function    string `mapstructure:"function"`
	Arguments   string `mapstructure:"arguments"`
	Task        string `mapstructure:"task"`
	Experiment  string `mapstructure:"experiment"`
	Description string `mapstructure:"description"`

	Backends       []string `mapstructure:"backends"`
	Copies         int      `mapstructure:"copies"`
	TimeoutSeconds int      `mapstructure:"timeout"`
	Repeats        string   `mapstructure:"repeats"`
	Start          string   `mapstructure:"start"`
	Append         bool     `mapstructure:"append"`
	Verbose        bool     `mapstructure:"verbose"`
	Directory      string   `mapstructure:"directory"`
	FunctionDir    string   `mapstructure:"function_dir"`
	DataFile       string   `mapstructure:"datafile"`
	Seed           uint64   `mapstructure:"seed"`

	BackendOptions  map[string]map[string]interface{} `mapstructure:"backend_options"`
	Metrics         map[string]metric.Definition      `mapstructure:"metrics"`
	RepeaterOptions map[string]interface{}            `mapstructure:"repeater_options"`
	SysSpecCommands map[string]string                 `mapstructure:"sys_spec_commands"`

	raw map[string]interface{}
}

// Timeout is the per-copy deadline.
func (o *Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Raw returns the merged option document the Options were decoded
// from; the descriptor records it so a run can be reproduced.
func (o *Options) Raw() map[string]interface{} { return o.raw }

// CommandLine carries the flag values of one invocation. Zero values
// mean "flag not given" and leave lower-precedence sources in effect.
type CommandLine struct {
	Function    string
	Arguments   string
	Backends    []string
	Copies      int
	Repeats     string
	Experiment  string
	Description string
	Task        string
	Directory   string
	DataFile    string
	Timeout     int
	Seed        uint64
	Append      bool
	Verbose     bool
	Cold        bool
	Warm        bool
}

// Sources names everything one resolution reads.
type Sources struct {
	ReproFile   string
	ConfigFiles []string
	InlineJSON  string
	CommandLine CommandLine
}

// Resolve merges all sources in precedence order and validates the
// result.
func Resolve(src Sources) (*Options, error) {
	cfg := map[string]interface{}{}

	if src.ReproFile != "" {
		prev, err := parseDescriptorOptions(src.ReproFile)
		if err != nil {
			return nil, errors.Wrapf(err, "reproducing options from '%s'", src.ReproFile)
		}
		mergeInto(cfg, prev)
	}

	files := src.ConfigFiles
	if len(files) == 0 && utility.FileExists(fnbench.DefaultConfigFile) {
		files = []string{fnbench.DefaultConfigFile}
	}
	for _, f := range files {
		doc, err := loadDocument(f)
		if err != nil {
			return nil, err
		}
		mergeInto(cfg, doc)
	}

	if src.InlineJSON != "" {
		doc, err := parseJSONDocument(src.InlineJSON)
		if err != nil {
			return nil, err
		}
		mergeInto(cfg, doc)
	}

	applyCommandLine(cfg, src.CommandLine)
	applyDefaults(cfg)

	opts := &Options{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, &ConfigConflictError{Reason: err.Error()}
	}
	opts.raw = cfg

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func applyCommandLine(cfg map[string]interface{}, cl CommandLine) {
	if cl.Function != "" {
		cfg["function"] = cl.Function
		cfg["arguments"] = cl.Arguments
	}

	// Backend flags compose with, rather than replace, backends named
	// by lower-precedence sources.
	if len(cl.Backends) > 0 {
		cfg["backends"] = append(toStringSlice(cfg["backends"]), cl.Backends...)
	}

	if cl.Copies > 0 {
		cfg["copies"] = cl.Copies
	}
	if cl.Repeats != "" {
		cfg["repeats"] = cl.Repeats
	}
	if cl.Experiment != "" {
		cfg["experiment"] = cl.Experiment
	}
	if cl.Description != "" {
		cfg["description"] = cl.Description
	}
	if cl.Task != "" {
		cfg["task"] = cl.Task
	}
	if cl.Directory != "" {
		cfg["directory"] = cl.Directory
	}
	if cl.DataFile != "" {
		cfg["datafile"] = cl.DataFile
	}
	if cl.Timeout > 0 {
		cfg["timeout"] = cl.Timeout
	}
	if cl.Seed != 0 {
		cfg["seed"] = cl.Seed
	}
	if cl.Append {
		cfg["append"] = true
	}
	if cl.Verbose {
		cfg["verbose"] = true
	}

	switch {
	case cl.Cold:
		cfg["start"] = fnbench.StartCold
	case cl.Warm:
		cfg["start"] = fnbench.StartWarm
	}
}

func applyDefaults(cfg map[string]interface{}) {
	setDefault(cfg, "copies", fnbench.DefaultCopies)
	setDefault(cfg, "timeout", fnbench.DefaultTimeout)
	setDefault(cfg, "repeats", "1")
	setDefault(cfg, "experiment", fnbench.DefaultExperiment)
	setDefault(cfg, "directory", fnbench.DefaultLogDirectory())
	setDefault(cfg, "function_dir", fnbench.DefaultFunctionDirectory())
	setDefault(cfg, "start", fnbench.StartNormal)
	if len(toStringSlice(cfg["backends"])) == 0 {
		cfg["backends"] = []string{fnbench.DefaultBackend}
	}
	if fn, ok := cfg["function"].(string); ok {
		setDefault(cfg, "task", fn)
	}
	setDefault(cfg, "seed", 42)
}

func setDefault(cfg map[string]interface{}, key string, value interface{}) {
	if _, ok := cfg[key]; !ok {
		cfg[key] = value
	}
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

func (o *Options) validate() error {
	if strings.TrimSpace(o.Function) == "" {
		return &ConfigConflictError{Reason: "missing required argument: function or program to run"}
	}
	if o.Copies < 1 {
		return &ConfigConflictError{Reason: fmt.Sprintf("multiprogramming level must be positive, got %d", o.Copies)}
	}
	if o.TimeoutSeconds < 1 {
		return &ConfigConflictError{Reason: fmt.Sprintf("timeout must be positive, got %d", o.TimeoutSeconds)}
	}
	switch o.Start {
	case fnbench.StartCold, fnbench.StartWarm, fnbench.StartNormal:
	default:
		return &ConfigConflictError{Reason: fmt.Sprintf("unrecognized start mode '%s'", o.Start)}
	}

	if o.Arguments != "" && o.DataFile != "" {
		grip.Warning("command-line arguments to the function may conflict with the input data file")
	}
	return nil
}

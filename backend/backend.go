// Package backend models execution environments as pure command
// templates. A backend contributes up to three templates (reset, run,
// sys_spec) written in a small macro language; chains of backends
// compose by substituting each backend's $CMD macro with the resolved
// command of the next-inner backend. Backends carry no runtime state,
// so chain resolution is a pure function and is validated fully at
// configuration-parse time.
package backend

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Macros recognized by backend templates.
const (
	MacroCmd         = "$CMD"
	MacroFn          = "$FN"
	MacroTask        = "$TASK"
	MacroArgs        = "$ARGS"
	MacroMpl         = "$MPL"
	MacroHost        = "$HOST"
	MacroSpecCommand = "$SPEC_COMMAND"
)

// macroPattern matches anything that looks like a macro so that typos
// (e.g. $COMMAND) fail at parse time instead of producing a broken
// command at execution time.
var macroPattern = regexp.MustCompile(`\$[A-Z][A-Z_]*`)

var runMacros = map[string]bool{
	MacroCmd:  true,
	MacroFn:   true,
	MacroTask: true,
	MacroArgs: true,
	MacroMpl:  true,
	MacroHost: true,
}

var resetMacros = map[string]bool{
	MacroFn:   true,
	MacroTask: true,
	MacroArgs: true,
	MacroMpl:  true,
	MacroHost: true,
}

var sysSpecMacros = map[string]bool{
	MacroCmd:         true,
	MacroFn:          true,
	MacroTask:        true,
	MacroArgs:        true,
	MacroHost:        true,
	MacroSpecCommand: true,
}

// ResolutionError indicates a backend whose templates cannot produce a
// valid command: a missing run template, an unrecognized macro, or a
// macro used in the wrong template. It always fails the task before
// any process is launched.
type ResolutionError struct {
	Backend string
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("backend '%s': %s", e.Backend, e.Reason)
}

// IsResolutionError reports whether err (or its cause) is a
// ResolutionError.
func IsResolutionError(err error) bool {
	_, ok := errors.Cause(err).(*ResolutionError)
	return ok
}

// Definition is one backend's set of command templates. Definitions are
// immutable once built and hold no per-run state.
type Definition struct {
	Name string

	// Reset clears cached or resident state so that the next round
	// starts cold. Optional.
	Reset string `mapstructure:"reset"`

	// Run wraps the inner command ($CMD) in this backend's transport
	// or instrumentation. Required.
	Run string `mapstructure:"run"`

	// SysSpec wraps a system-specification command. Optional; "$CMD"
	// is assumed when empty.
	SysSpec string `mapstructure:"run_sys_spec"`

	// Hosts is the round-robin substitution list for $HOST. Empty
	// means localhost only.
	Hosts []string
}

// rawOptions is the shape of one backend_options entry.
type rawOptions struct {
	Reset    string `mapstructure:"reset"`
	Run      string `mapstructure:"run"`
	SysSpec  string `mapstructure:"run_sys_spec"`
	Hosts    string `mapstructure:"hosts"`
	HostFile string `mapstructure:"hostfile"`
	Flags    string `mapstructure:"flags"`
}

// Host returns the host assigned to the given copy index.
func (d *Definition) Host(copy int) string {
	if len(d.Hosts) == 0 {
		return "localhost"
	}
	return d.Hosts[copy%len(d.Hosts)]
}

// Validate checks every template against the recognized macro set and
// for shell well-formedness.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Run) == "" {
		return &ResolutionError{Backend: d.Name, Reason: "missing required 'run' template"}
	}
	if !strings.Contains(d.Run, MacroCmd) {
		return &ResolutionError{Backend: d.Name, Reason: "'run' template never references $CMD, so the inner command would be dropped"}
	}
	if err := checkTemplate(d.Name, "run", d.Run, runMacros); err != nil {
		return err
	}
	if err := checkTemplate(d.Name, "reset", d.Reset, resetMacros); err != nil {
		return err
	}
	return checkTemplate(d.Name, "run_sys_spec", d.SysSpec, sysSpecMacros)
}

func checkTemplate(backend, template, body string, allowed map[string]bool) error {
	for _, m := range macroPattern.FindAllString(body, -1) {
		if !allowed[m] {
			return &ResolutionError{
				Backend: backend,
				Reason:  fmt.Sprintf("unrecognized macro '%s' in '%s' template", m, template),
			}
		}
	}
	// Unbalanced quoting surfaces here, before any command is resolved.
	if _, err := shlex.Split(body); err != nil {
		return &ResolutionError{
			Backend: backend,
			Reason:  fmt.Sprintf("'%s' template does not parse as a shell command: %s", template, err),
		}
	}
	return nil
}

// Decode builds a Definition for name from its backend_options entry,
// layering user options over the built-in template when one exists.
// Unknown names with no options entry are a resolution error.
func Decode(name string, opts map[string]interface{}) (Definition, error) {
	def, builtin := builtinDefinition(name)
	def.Name = name

	raw := rawOptions{}
	if opts != nil {
		if err := mapstructure.Decode(opts, &raw); err != nil {
			return Definition{}, errors.Wrapf(err, "decoding options for backend '%s'", name)
		}
	}

	if !builtin && raw.Run == "" {
		if opts == nil {
			return Definition{}, &ResolutionError{Backend: name, Reason: "not a built-in backend and no backend_options entry defines it"}
		}
		return Definition{}, &ResolutionError{Backend: name, Reason: "missing required 'run' template"}
	}

	if raw.Run != "" {
		def.Run = raw.Run
	}
	if raw.Reset != "" {
		def.Reset = raw.Reset
	}
	if raw.SysSpec != "" {
		def.SysSpec = raw.SysSpec
	}
	if hosts := splitHosts(raw.Hosts); len(hosts) > 0 {
		def.Hosts = hosts
	}
	if name == "mpi" && raw.Flags != "" {
		// mpirun flags are fixed at definition time, not a macro.
		def.Run = strings.Replace(def.Run, "mpirun ", "mpirun "+raw.Flags+" ", 1)
	}

	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func splitHosts(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// builtinDefinition returns the template set for the backends that ship
// with the harness. Everything else must come from backend_options.
func builtinDefinition(name string) (Definition, bool) {
	switch name {
	case "local":
		return Definition{
			Run:     "$CMD",
			Reset:   "sudo sh -c '/usr/bin/sync; /sbin/sysctl vm.drop_caches=3'",
			SysSpec: "$CMD",
		}, true
	case "ssh":
		return Definition{
			Run:     `ssh $HOST "$CMD"`,
			SysSpec: `ssh $HOST "$CMD"`,
		}, true
	case "mpi":
		return Definition{
			Run:     "mpirun -np $MPL $CMD",
			SysSpec: "mpirun -np 1 $CMD",
		}, true
	}
	return Definition{}, false
}

// Builtins lists the backends usable without a backend_options entry.
func Builtins() []string {
	return []string{"local", "mpi", "ssh"}
}

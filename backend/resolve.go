package backend

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Chain is an ordered backend composition, outermost first. The
// innermost element of any resolution is the literal function
// invocation; each backend moving outward wraps the previously
// resolved command via its $CMD macro. Only the outermost backend is
// resolved once per copy, so $HOST rotates across copies and $MPL
// reflects the full multiprogramming level there; inner backends run
// exactly once per copy and see $MPL as 1.
type Chain struct {
	defs []Definition

	task     string
	function string
	args     string
	fnDir    string
}

// NewChain validates and assembles the named backends, outermost
// first. Any invalid definition fails here, before execution.
func NewChain(names []string, backendOptions map[string]map[string]interface{}, task, function, args, fnDir string) (*Chain, error) {
	if len(names) == 0 {
		names = []string{"local"}
	}

	c := &Chain{
		task:     task,
		function: function,
		args:     args,
		fnDir:    fnDir,
	}
	for _, name := range names {
		def, err := Decode(name, backendOptions[name])
		if err != nil {
			return nil, err
		}
		c.defs = append(c.defs, def)
	}
	return c, nil
}

// Backends returns the chain's backend names, outermost first.
func (c *Chain) Backends() []string {
	names := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		names = append(names, d.Name)
	}
	return names
}

// Invocation is the innermost command: the function executable plus
// its verbatim arguments.
func (c *Chain) Invocation() string {
	cmd := findExec(c.fnDir, c.function)
	if c.args != "" {
		cmd += " " + c.args
	}
	return cmd
}

// findExec searches fnDir/<fn>/ for an executable named <fn> with any
// extension; a bare function name that matches nothing there is used
// verbatim, so arbitrary binaries and $PATH commands still work.
func findExec(fnDir, fn string) string {
	if fnDir == "" {
		return fn
	}
	fdir := filepath.Join(fnDir, fn)
	matches, _ := filepath.Glob(filepath.Join(fdir, fn+".*"))
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && !info.IsDir() && info.Mode()&0111 != 0 {
			return m
		}
	}
	if info, err := os.Stat(filepath.Join(fdir, fn)); err == nil && !info.IsDir() {
		return filepath.Join(fdir, fn)
	}
	return fn
}

// RunCommands resolves the chain into one concrete command string per
// copy. Pure: no process is launched and repeated calls with the same
// inputs yield identical output.
func (c *Chain) RunCommands(copies int) []string {
	inner := c.Invocation()
	for i := len(c.defs) - 1; i >= 1; i-- {
		inner = c.expand(c.defs[i].Run, inner, "", 1, c.defs[i].Host(0))
	}

	outer := c.defs[0]
	cmds := make([]string, 0, copies)
	for i := 0; i < copies; i++ {
		cmds = append(cmds, c.expand(outer.Run, inner, "", copies, outer.Host(i)))
	}
	return cmds
}

// ResetCommands resolves every backend's reset template, outermost
// first, skipping backends with none.
func (c *Chain) ResetCommands(copies int) []string {
	var cmds []string
	for _, d := range c.defs {
		if strings.TrimSpace(d.Reset) == "" {
			continue
		}
		cmds = append(cmds, c.expand(d.Reset, "", "", copies, d.Host(0)))
	}
	return cmds
}

// SysSpecCommands resolves each named specification command through
// the chain's sys_spec templates in the same nesting order as run
// commands. The innermost resolved value is the raw spec command;
// $SPEC_COMMAND always refers to it regardless of depth.
func (c *Chain) SysSpecCommands(specs map[string]string) map[string]string {
	out := make(map[string]string, len(specs))
	for name, spec := range specs {
		inner := spec
		for i := len(c.defs) - 1; i >= 0; i-- {
			tmpl := c.defs[i].SysSpec
			if strings.TrimSpace(tmpl) == "" {
				tmpl = MacroCmd
			}
			inner = c.expand(tmpl, inner, spec, 1, c.defs[i].Host(0))
		}
		out[name] = inner
	}
	return out
}

// expand substitutes the recognized macro set into one template.
// Longest names first so $SPEC_COMMAND is never clipped by $CMD-style
// prefixes.
func (c *Chain) expand(template, cmd, spec string, mpl int, host string) string {
	r := strings.NewReplacer(
		MacroSpecCommand, spec,
		MacroTask, c.task,
		MacroArgs, c.args,
		MacroHost, host,
		MacroCmd, cmd,
		MacroMpl, strconv.Itoa(mpl),
		MacroFn, c.function,
	)
	return r.Replace(template)
}

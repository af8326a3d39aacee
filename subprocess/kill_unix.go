//go:build linux || darwin

package subprocess

import (
	"os/exec"
	"syscall"

	"github.com/mongodb/grip"
)

// setProcessGroup puts the child in its own process group so a timeout
// kill reaches every descendant the shell spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree terminates the command's whole process group.
func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		grip.Warningf("killing process group %d: %v, falling back to direct kill", cmd.Process.Pid, err)
		grip.Warning(cmd.Process.Kill())
	}
}

//go:build !linux && !darwin

package subprocess

import (
	"os/exec"

	"github.com/mongodb/grip"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	grip.Warning(cmd.Process.Kill())
}

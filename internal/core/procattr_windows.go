//go:build windows

package core

import "os/exec"

// setProcAttr is a no-op on Windows; exec.CommandContext's kill covers the
// direct child, and the pipeline's tools do not daemonize.
func setProcAttr(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

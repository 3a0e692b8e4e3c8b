//go:build !unix

package bridge

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// terminate kills the solver directly; there is no process group to signal.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func killGroup(pid int) {}

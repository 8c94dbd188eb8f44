//go:build linux

package runner

import (
	"os/exec"
	"syscall"
)

func setPdeathsig(c *exec.Cmd) {
	if c.SysProcAttr == nil {
		c.SysProcAttr = new(syscall.SysProcAttr)
	}
	// When the parent process dies (Go), kill the child as well.
	c.SysProcAttr.Pdeathsig = syscall.SIGKILL
}

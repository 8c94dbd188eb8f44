//go:build !windows

package runner

import (
	"os"
	"os/exec"
	"syscall"
)

// KillProcessGroup is a command line option that starts the browser in its
// own process group, so signals to the Go program do not reach it directly.
func KillProcessGroup(m map[string]interface{}) error {
	return CmdOpt(func(c *exec.Cmd) error {
		if c.SysProcAttr == nil {
			c.SysProcAttr = new(syscall.SysProcAttr)
		}
		c.SysProcAttr.Setpgid = true
		return nil
	})(m)
}

// ForceKill is a command line option that kills the browser when the parent
// process dies. It has effect on Linux only and is skipped on AWS Lambda.
func ForceKill(m map[string]interface{}) error {
	return CmdOpt(func(c *exec.Cmd) error {
		if _, isLambda := os.LookupEnv("LAMBDA_TASK_ROOT"); isLambda {
			return nil
		}
		setPdeathsig(c)
		return nil
	})(m)
}

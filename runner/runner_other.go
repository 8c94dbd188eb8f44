//go:build !linux && !windows

package runner

import "os/exec"

func setPdeathsig(*exec.Cmd) {}

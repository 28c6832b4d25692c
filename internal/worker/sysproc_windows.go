//go:build windows

package worker

import (
	"errors"
	"os"
	"os/exec"
)

var errNoTerminate = errors.New("graceful terminate is not supported on windows")

func configureProcessGroup(*exec.Cmd) {}

// terminateProcess always fails so the controller escalates to kill.
func terminateProcess(*os.Process) error {
	return errNoTerminate
}

func killProcess(p *os.Process) error {
	return p.Kill()
}

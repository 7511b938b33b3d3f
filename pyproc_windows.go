//go:build windows

package dalekbridge

import (
	"errors"
	"os"
	"os/exec"
	"os/signal"
)

var errNoExtraFiles = errors.New("the process backend passes pipes as inherited file descriptors, which is not supported on Windows")

func hostProcessSupported() error {
	return errNoExtraFiles
}

func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt)
}

func stopSignals(c chan os.Signal) {
	signal.Stop(c)
}

func resendSignal(sig os.Signal) {
	os.Exit(1)
}

func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []string {
	return nil
}

func configureProcAttr(cmd *exec.Cmd) {}

func terminateProcess(p *os.Process, force bool) error {
	return p.Kill()
}

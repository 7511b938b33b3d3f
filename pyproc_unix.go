//go:build !windows

package dalekbridge

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

func hostProcessSupported() error {
	return nil
}

// setSignalsForChannel configures the channel to receive SIGINT and SIGTERM.
func setSignalsForChannel(c chan os.Signal) {
	signal.Notify(c, os.Interrupt, unix.SIGTERM)
}

func stopSignals(c chan os.Signal) {
	signal.Stop(c)
}

// resendSignal re-raises sig on ourselves once our handler is gone, so the
// host process gets the default disposition.
func resendSignal(sig os.Signal) {
	if s, ok := sig.(syscall.Signal); ok {
		unix.Kill(os.Getpid(), s)
	}
}

// setExtraFiles attaches extra files to the command and returns their FD
// numbers. On Unix, extra files start at FD 3 (after stdin=0, stdout=1,
// stderr=2).
func setExtraFiles(cmd *exec.Cmd, extraFiles []*os.File) []string {
	cmd.ExtraFiles = extraFiles
	retv := make([]string, len(extraFiles))
	for i := range extraFiles {
		retv[i] = fmt.Sprintf("%d", i+3)
	}
	return retv
}

// configureProcAttr puts the child in its own process group, so TARDIS
// worker processes are signalled together with it.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcess(p *os.Process, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	err := unix.Kill(-p.Pid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

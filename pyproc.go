package dalekbridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// terminateGrace is how long a child gets between SIGTERM and SIGKILL.
const terminateGrace = 5 * time.Second

// PythonProcess is a running Python child with three extra pipes: requests
// from Go, replies from Python, and a JSON-lines status channel.
type PythonProcess struct {
	// Cmd is the underlying command.
	Cmd *exec.Cmd

	// PipeOut carries requests to Python.
	PipeOut *os.File

	// PipeIn carries replies from Python.
	PipeIn *os.File

	// StatusChan receives status objects such as {"status": "ready"}.
	StatusChan chan map[string]interface{}

	exited     chan struct{}
	waitErr    error
	signalStop chan struct{}
	stopOnce   sync.Once
}

// StartPythonProcess launches python running script. The child sees the
// request, reply and status pipes as the first three extra file descriptors,
// whose numbers are passed as its arguments.
func StartPythonProcess(python string, script string, cfg *Config) (*PythonProcess, error) {
	if err := hostProcessSupported(); err != nil {
		return nil, err
	}

	reqReader, reqWriter, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	respReader, respWriter, err := os.Pipe()
	if err != nil {
		closeFiles(reqReader, reqWriter)
		return nil, err
	}
	statusReader, statusWriter, err := os.Pipe()
	if err != nil {
		closeFiles(reqReader, reqWriter, respReader, respWriter)
		return nil, err
	}
	childEnds := []*os.File{reqReader, respWriter, statusWriter}
	parentEnds := []*os.File{reqWriter, respReader, statusReader}

	cmd := exec.Command(python, "-u", "-c", script)
	cmd.Args = append(cmd.Args, setExtraFiles(cmd, childEnds)...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = childEnv(cfg)
	configureProcAttr(cmd)

	// TARDIS logs freely; keep its output off the sampler's stdout
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		closeFiles(append(childEnds, parentEnds...)...)
		return nil, fmt.Errorf("error starting %s: %w", python, err)
	}
	// the child holds its own copies; ours would keep the pipes open after it exits
	closeFiles(childEnds...)

	pp := &PythonProcess{
		Cmd:        cmd,
		PipeOut:    reqWriter,
		PipeIn:     respReader,
		StatusChan: make(chan map[string]interface{}, 4),
		exited:     make(chan struct{}),
		signalStop: make(chan struct{}),
	}

	go pp.readStatus(statusReader)
	go func() {
		pp.waitErr = cmd.Wait()
		close(pp.exited)
	}()
	setupSignalHandler(pp)

	return pp, nil
}

func (pp *PythonProcess) readStatus(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var status map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &status); err != nil {
			logger().Printf("error decoding status line: %v, data: %s", err, scanner.Text())
			continue
		}
		select {
		case pp.StatusChan <- status:
		default:
			logger().Printf("dropping status message: %s", scanner.Text())
		}
	}
}

// WaitReady blocks until the child reports "ready", exits, or timeout passes.
func (pp *PythonProcess) WaitReady(timeout time.Duration) (map[string]interface{}, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case status := <-pp.StatusChan:
			if status["status"] == "ready" {
				return status, nil
			}
		case <-pp.exited:
			return nil, fmt.Errorf("%w: python exited during startup: %v", ErrRuntimeClosed, pp.waitErr)
		case <-timer.C:
			return nil, fmt.Errorf("timeout waiting for python to start")
		}
	}
}

// Exited is closed once the child has been reaped.
func (pp *PythonProcess) Exited() <-chan struct{} {
	return pp.exited
}

// Wait blocks until the child exits.
func (pp *PythonProcess) Wait() error {
	<-pp.exited
	var exitErr *exec.ExitError
	if errors.As(pp.waitErr, &exitErr) && exitErr.ExitCode() == -1 {
		return errors.New("child process was killed")
	}
	return pp.waitErr
}

// Terminate sends SIGTERM to the child's process group and SIGKILL after
// terminateGrace. It returns nil if the child already exited.
func (pp *PythonProcess) Terminate() error {
	defer pp.stopOnce.Do(func() { close(pp.signalStop) })

	select {
	case <-pp.exited:
		return nil
	default:
	}

	if err := terminateProcess(pp.Cmd.Process, false); err != nil {
		return err
	}
	select {
	case <-pp.exited:
		return nil
	case <-time.After(terminateGrace):
		if err := terminateProcess(pp.Cmd.Process, true); err != nil {
			return err
		}
		<-pp.exited
		return nil
	}
}

func setupSignalHandler(pp *PythonProcess) {
	signalChan := make(chan os.Signal, 1)
	setSignalsForChannel(signalChan)

	go func() {
		defer stopSignals(signalChan)
		select {
		case sig := <-signalChan:
			pp.Terminate()
			stopSignals(signalChan)
			resendSignal(sig)
		case <-pp.exited:
		case <-pp.signalStop:
		}
	}()
}

func childEnv(cfg *Config) []string {
	env := os.Environ()
	if pp := cfg.pythonPathEnv(); pp != "" {
		env = append(env, "PYTHONPATH="+pp)
	}
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}
	return env
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

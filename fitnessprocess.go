package dalekbridge

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

//go:embed scripts/fitness_host.py
var fitnessHostScript string

// startupTimeout bounds the wait for the host's "ready" status. Importing
// numpy on a cold cache can take several seconds.
const startupTimeout = 60 * time.Second

type fitnessRequest struct {
	Command   string    `msgpack:"command"`
	Module    string    `msgpack:"module,omitempty"`
	Function  string    `msgpack:"function,omitempty"`
	Args      []float64 `msgpack:"args,omitempty"`
	RequestID string    `msgpack:"request_id"`
}

type wireError struct {
	Kind      string           `msgpack:"kind"`
	Exception string           `msgpack:"exception"`
	Message   string           `msgpack:"message"`
	Traceback string           `msgpack:"traceback"`
	Args      []interface{}    `msgpack:"args"`
	Cause     *PythonException `msgpack:"cause"`
}

type fitnessResponse struct {
	RequestID string     `msgpack:"request_id"`
	Result    *float64   `msgpack:"result"`
	Error     *wireError `msgpack:"error"`

	// decodeErr is set locally when the reply could not be decoded
	decodeErr error
}

// FitnessProcess hosts the fitness function in one long-lived Python child.
// The child imports the target module on first use and keeps it in
// sys.modules, so TARDIS and numpy are initialized once for the life of the
// process.
//
// FitnessProcess is safe for concurrent use; calls are serialized because
// the Python side evaluates one request at a time. A call abandoned through
// its context leaves the child busy; its late reply is discarded.
type FitnessProcess struct {
	*PythonProcess

	serializer Serializer
	transport  Transport

	// callMu serializes Call
	callMu sync.Mutex

	// mutex protects pending, nextID and closed
	mutex   sync.Mutex
	pending map[string]chan *fitnessResponse
	nextID  int64
	closed  bool

	loopDone chan struct{}
	loopErr  error

	pythonVersion string
}

// NewFitnessProcess starts the Python host and waits until it is ready.
func NewFitnessProcess(cfg *Config) (*FitnessProcess, error) {
	env, err := FindPython(cfg.Python)
	if err != nil {
		return nil, err
	}

	pyProcess, err := StartPythonProcess(env.PythonPath, fitnessHostScript, cfg)
	if err != nil {
		return nil, err
	}

	status, err := pyProcess.WaitReady(startupTimeout)
	if err != nil {
		pyProcess.Terminate()
		return nil, err
	}

	fp := &FitnessProcess{
		PythonProcess: pyProcess,
		serializer:    MsgpackSerializer{},
		transport:     NewFramedTransport(pyProcess.PipeIn, pyProcess.PipeOut),
		pending:       make(map[string]chan *fitnessResponse),
		nextID:        1,
		loopDone:      make(chan struct{}),
	}
	if v, ok := status["python"].(string); ok {
		fp.pythonVersion = v
	}
	go fp.messageLoop()

	logger().Printf("python %s fitness host ready (pid %d)", fp.pythonVersion, pyProcess.Cmd.Process.Pid)
	return fp, nil
}

// PythonVersion is the interpreter version reported by the host.
func (fp *FitnessProcess) PythonVersion() string {
	return fp.pythonVersion
}

// messageLoop reads replies and routes them to the waiting call by request
// ID. It ends when the reply pipe closes.
func (fp *FitnessProcess) messageLoop() {
	defer close(fp.loopDone)
	for {
		data, err := fp.transport.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger().Printf("error reading from python: %v", err)
			}
			fp.loopErr = err
			return
		}

		var resp fitnessResponse
		if err := fp.serializer.Unmarshal(data, &resp); err != nil {
			logger().Printf("error decoding reply: %v", err)
			fp.failUndecodable(data, fmt.Errorf("%w: undecodable reply: %v", ErrProtocol, err))
			continue
		}

		fp.mutex.Lock()
		ch, ok := fp.pending[resp.RequestID]
		delete(fp.pending, resp.RequestID)
		fp.mutex.Unlock()

		if !ok {
			logger().Printf("discarding reply to abandoned request %s", resp.RequestID)
			continue
		}
		ch <- &resp
	}
}

// failUndecodable fails the call a bad reply belongs to. When not even the
// request ID can be read, every pending call fails.
func (fp *FitnessProcess) failUndecodable(data []byte, err error) {
	var header struct {
		RequestID string `msgpack:"request_id"`
	}
	known := fp.serializer.Unmarshal(data, &header) == nil && header.RequestID != ""

	fp.mutex.Lock()
	failed := make([]chan *fitnessResponse, 0, len(fp.pending))
	for id, ch := range fp.pending {
		if known && id != header.RequestID {
			continue
		}
		failed = append(failed, ch)
		delete(fp.pending, id)
	}
	fp.mutex.Unlock()

	for _, ch := range failed {
		ch <- &fitnessResponse{decodeErr: err}
	}
}

func (fp *FitnessProcess) generateRequestID() string {
	id := fmt.Sprintf("req-%d", fp.nextID)
	fp.nextID++
	return id
}

// send registers a pending request and writes it. The caller holds callMu.
func (fp *FitnessProcess) send(req *fitnessRequest) (chan *fitnessResponse, error) {
	fp.mutex.Lock()
	if fp.closed {
		fp.mutex.Unlock()
		return nil, ErrRuntimeClosed
	}
	req.RequestID = fp.generateRequestID()
	ch := make(chan *fitnessResponse, 1)
	fp.pending[req.RequestID] = ch
	fp.mutex.Unlock()

	data, err := fp.serializer.Marshal(req)
	if err == nil {
		err = fp.transport.Send(data)
	}
	if err != nil {
		fp.forget(req.RequestID)
		return nil, fmt.Errorf("%w: %v", ErrRuntimeClosed, err)
	}
	return ch, nil
}

func (fp *FitnessProcess) forget(requestID string) {
	fp.mutex.Lock()
	delete(fp.pending, requestID)
	fp.mutex.Unlock()
}

func (fp *FitnessProcess) roundTrip(ctx context.Context, req *fitnessRequest) (*fitnessResponse, error) {
	fp.callMu.Lock()
	defer fp.callMu.Unlock()

	ch, err := fp.send(req)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.decodeErr != nil {
			return nil, resp.decodeErr
		}
		return resp, nil
	case <-ctx.Done():
		fp.forget(req.RequestID)
		return nil, ctx.Err()
	case <-fp.loopDone:
		return nil, fmt.Errorf("%w: %v", ErrRuntimeClosed, fp.loopErr)
	}
}

// Call evaluates module.function(*args) in the child.
func (fp *FitnessProcess) Call(ctx context.Context, module, function string, args []float64) (float64, error) {
	resp, err := fp.roundTrip(ctx, &fitnessRequest{
		Command:  "evaluate",
		Module:   module,
		Function: function,
		Args:     args,
	})
	if err != nil {
		return 0, &EvaluationError{Module: module, Function: function, Err: err}
	}

	if resp.Error != nil {
		evalErr := &EvaluationError{
			Module:   module,
			Function: function,
			Err:      errorForKind(resp.Error.Kind),
		}
		if resp.Error.Exception != "" {
			evalErr.Exception = &PythonException{
				Exception:     resp.Error.Exception,
				Message:       resp.Error.Message,
				Traceback:     resp.Error.Traceback,
				ExceptionArgs: resp.Error.Args,
				Cause:         resp.Error.Cause,
			}
		}
		return 0, evalErr
	}
	if resp.Result == nil {
		return 0, &EvaluationError{Module: module, Function: function, Err: fmt.Errorf("%w: reply has neither result nor error", ErrProtocol)}
	}
	return *resp.Result, nil
}

// Ping checks that the child is still serving requests.
func (fp *FitnessProcess) Ping(ctx context.Context) error {
	resp, err := fp.roundTrip(ctx, &fitnessRequest{Command: "ping"})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%w: %s", ErrProtocol, resp.Error.Message)
	}
	return nil
}

// Close closes the request pipe, which makes the child exit, and terminates
// the child if it has not exited within terminateGrace. Calls made
// after Close fail with ErrRuntimeClosed.
func (fp *FitnessProcess) Close() error {
	fp.mutex.Lock()
	if fp.closed {
		fp.mutex.Unlock()
		return nil
	}
	fp.closed = true
	fp.mutex.Unlock()

	// EOF on the request pipe ends the host loop once any running call finishes
	fp.transport.CloseWrite()

	select {
	case <-fp.Exited():
	case <-time.After(terminateGrace):
		if err := fp.Terminate(); err != nil {
			return err
		}
	}
	fp.Terminate()
	if err := fp.Wait(); err != nil {
		logger().Printf("fitness host exited: %v", err)
	}
	err := fp.transport.Close()
	<-fp.loopDone
	return err
}

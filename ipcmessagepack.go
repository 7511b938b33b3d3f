package dalekbridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single message in either direction. The Python host
// enforces the same limit.
const MaxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge is returned for messages longer than MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// MsgpackSerializer encodes messages with MessagePack. Structs are encoded as
// maps keyed by their msgpack tags, which is what the Python host expects.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackSerializer) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// FramedTransport sends messages as a 4-byte big-endian length followed by
// the payload.
type FramedTransport struct {
	reader     io.ReadCloser
	writer     io.WriteCloser
	bufferPool *BufferPool

	closeWrite sync.Once
	writeErr   error
}

// NewFramedTransport wraps a read and a write pipe. Fitness requests and
// replies are a few hundred bytes, so 4 KiB pooled buffers cover the common
// case without allocating.
func NewFramedTransport(reader io.ReadCloser, writer io.WriteCloser) *FramedTransport {
	return &FramedTransport{
		reader:     reader,
		writer:     writer,
		bufferPool: NewBufferPool(4096, 4),
	}
}

func (ft *FramedTransport) Send(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	frameLen := 4 + len(data)
	var frame []byte
	if frameLen <= ft.bufferPool.Size() {
		frame = ft.bufferPool.Get()[:frameLen]
		defer ft.bufferPool.Put(frame)
	} else {
		frame = make([]byte, frameLen)
	}
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)

	if _, err := ft.writer.Write(frame); err != nil {
		return err
	}
	if flusher, ok := ft.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

func (ft *FramedTransport) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(ft.reader, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(ft.reader, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

func (ft *FramedTransport) CloseWrite() error {
	ft.closeWrite.Do(func() {
		ft.writeErr = ft.writer.Close()
	})
	return ft.writeErr
}

// Close closes the reader and, unless CloseWrite already did, the writer.
func (ft *FramedTransport) Close() error {
	werr := ft.CloseWrite()
	rerr := ft.reader.Close()
	return errors.Join(werr, rerr)
}

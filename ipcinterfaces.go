package dalekbridge

// Serializer converts between Go values and wire bytes.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Transport moves whole messages between Go and the Python host.
type Transport interface {
	// Send writes one framed message.
	Send(data []byte) error

	// Receive blocks until one complete message has arrived.
	Receive() ([]byte, error)

	// CloseWrite closes the sending direction only; the peer sees EOF.
	CloseWrite() error

	// Close closes both directions.
	Close() error
}

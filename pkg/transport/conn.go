package transport

// Conn is one framed, bidirectional client connection. The WebSocket endpoint
// provides the production implementation; tests use in-process pipes.
type Conn interface {
	// ReadFrame blocks until the next inbound frame or a connection error.
	ReadFrame() ([]byte, error)

	// WriteFrame sends one frame. Called only from the session's write
	// goroutine.
	WriteFrame(data []byte) error

	// Close tears the connection down. code is one of the wire close codes,
	// or empty for a normal close.
	Close(code string) error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

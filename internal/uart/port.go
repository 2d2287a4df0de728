package uart

import (
	"io"
	"time"
)

// Port is the native UART context a handle forwards to. Implementations wrap
// a concrete serial driver; the in-memory TestablePort enables unit testing
// without real serial hardware.
type Port interface {
	io.ReadWriter
	io.Closer

	// SetBaudRate reconfigures the line speed.
	SetBaudRate(baud int) error
	// SetTimeout applies read, write and inter-character timeouts. A zero
	// duration disables the corresponding timeout. Drivers return
	// ErrNotImplemented for a timeout they cannot apply.
	SetTimeout(read, write, interChar time.Duration) error
	// DevPath reports the operating system path of the open device.
	DevPath() string
	// DataAvailable reports whether input is pending, waiting up to timeout.
	DataAvailable(timeout time.Duration) (bool, error)
	// Flush blocks until all written output has been transmitted.
	Flush() error
}

// Opener opens native UART contexts by device index.
type Opener interface {
	Open(index int) (Port, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(index int) (Port, error)

// Open calls f(index).
func (f OpenerFunc) Open(index int) (Port, error) {
	return f(index)
}

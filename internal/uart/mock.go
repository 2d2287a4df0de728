package uart

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// TestablePort implements Port with configurable behaviour for testing and
// for running without hardware. It provides fine-grained control over reads,
// writes, errors and the configuration calls a handle makes.
type TestablePort struct {
	mu sync.Mutex

	// Path is returned by DevPath.
	Path string

	// ReadBuffer holds data to be returned by Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// MaxWrite caps how many bytes a single Write accepts. Zero means no cap.
	MaxWrite int

	// ReadError is returned by the next Read call if set.
	ReadError error

	// WriteError is returned by the next Write call if set.
	WriteError error

	// BaudError is returned by every SetBaudRate call while set.
	BaudError error

	// TimeoutError is returned by the next SetTimeout call if set.
	TimeoutError error

	// FlushError is returned by the next Flush call if set.
	FlushError error

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// CloseCalls records the number of Close calls.
	CloseCalls int

	// ReadCalls records the number of Read calls.
	ReadCalls int

	// WriteCalls records the number of Write calls.
	WriteCalls int

	// FlushCalls records the number of Flush calls.
	FlushCalls int

	// BaudRate is the last baud rate accepted.
	BaudRate int

	// ReadTimeout, WriteTimeout and InterCharTimeout are the last timeouts
	// accepted.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	InterCharTimeout time.Duration

	// PollTimeouts records the timeout passed to each DataAvailable call.
	PollTimeouts []time.Duration
}

// NewTestablePort creates a new TestablePort reporting path from DevPath.
func NewTestablePort(path string) *TestablePort {
	return &TestablePort{
		Path:        path,
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// Read reads from the read buffer. An empty buffer yields a zero-length read,
// as a driver does when its read timeout expires.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, honouring MaxWrite.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.MaxWrite > 0 && len(p) > t.MaxWrite {
		p = p[:t.MaxWrite]
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.CloseCalls++
	t.Closed = true
	return t.CloseError
}

// SetBaudRate records baud unless BaudError is set.
func (t *TestablePort) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.BaudError != nil {
		return t.BaudError
	}
	t.BaudRate = baud
	return nil
}

// SetTimeout records the timeouts unless TimeoutError is set.
func (t *TestablePort) SetTimeout(read, write, interChar time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.TimeoutError != nil {
		err := t.TimeoutError
		t.TimeoutError = nil
		return err
	}
	t.ReadTimeout = read
	t.WriteTimeout = write
	t.InterCharTimeout = interChar
	return nil
}

// DevPath returns Path.
func (t *TestablePort) DevPath() string {
	return t.Path
}

// DataAvailable reports whether the read buffer holds data. It never waits.
func (t *TestablePort) DataAvailable(timeout time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.PollTimeouts = append(t.PollTimeouts, timeout)
	if t.Closed {
		return false, errors.New("serial port closed")
	}
	return t.ReadBuffer.Len() > 0, nil
}

// Flush records the call unless FlushError is set.
func (t *TestablePort) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.FlushCalls++
	if t.FlushError != nil {
		err := t.FlushError
		t.FlushError = nil
		return err
	}
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestablePort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
}

// GetWrittenData returns all data written to the port.
func (t *TestablePort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.WriteBuffer.Bytes()
}

// MockOpener implements Opener for testing.
type MockOpener struct {
	mu sync.Mutex

	// Ports are returned by Open, indexed by device index. An index outside
	// the slice fails with ErrNoDevice.
	Ports []Port

	// Error is returned by Open if set.
	Error error

	// OpenCalls records the index of every Open call.
	OpenCalls []int
}

// NewMockOpener creates a MockOpener serving ports in index order.
func NewMockOpener(ports ...Port) *MockOpener {
	return &MockOpener{Ports: ports}
}

// Open returns the port at index or the configured error.
func (m *MockOpener) Open(index int) (Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.OpenCalls = append(m.OpenCalls, index)

	if m.Error != nil {
		return nil, m.Error
	}
	if index < 0 || index >= len(m.Ports) {
		return nil, ErrNoDevice
	}
	return m.Ports[index], nil
}

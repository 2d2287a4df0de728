// Package uart binds a native serial port driver to a small, synchronous
// handle API: open by device index, configure, read, write, stop.
//
// A UART exclusively owns its Port. Operations block for the duration of the
// driver call and are not safe for concurrent use; callers that share a
// handle across goroutines must serialise access themselves (see Admin).
package uart

import (
	"errors"
	"fmt"

	"github.com/banshee-data/uartbridge/internal/monitoring"
)

// UART is an open serial port handle together with its configuration.
type UART struct {
	port   Port
	cfg    Config
	index  int
	closed bool
}

// Open opens the device at index through opener and applies baud. A baud of
// zero or less selects DefaultBaudRate. The native context is released if any
// part of the initial configuration fails.
func Open(opener Opener, index, baud int) (*UART, error) {
	port, err := opener.Open(index)
	if err == nil && port == nil {
		err = ErrNoDevice
	}
	if err != nil {
		monitoring.Errors.WithLabelValues("init").Inc()
		return nil, newError("init", fmt.Sprintf("failed to initialize DEV:%d", index), err)
	}

	if baud <= 0 {
		baud = DefaultBaudRate
	}

	u := &UART{port: port, cfg: DefaultConfig(), index: index}
	if err := u.SetBaudRate(baud); err != nil {
		if cerr := u.release(); cerr != nil {
			monitoring.Logf("uart: closing DEV:%d after failed init: %v", index, cerr)
		}
		return nil, err
	}

	monitoring.Logf("uart: opened DEV:%d at %s (%d baud)", index, port.DevPath(), baud)
	return u, nil
}

// Config returns a copy of the handle's current configuration.
func (u *UART) Config() Config {
	return u.cfg
}

// Index returns the device index the handle was opened with.
func (u *UART) Index() int {
	return u.index
}

// SetBaudRate changes the line speed. The stored rate only changes when the
// driver accepts the new value.
func (u *UART) SetBaudRate(baud int) error {
	if err := u.check("baudrate"); err != nil {
		return err
	}
	if err := u.port.SetBaudRate(baud); err != nil {
		return u.fail("baudrate", "could not set baudrate", err)
	}
	u.cfg.BaudRate = baud
	return nil
}

// SetTimeout applies read, write and inter-character timeouts in
// milliseconds and stores them once the driver has accepted all three.
func (u *UART) SetTimeout(readMs, writeMs, interCharMs int) error {
	if err := u.check("timeout"); err != nil {
		return err
	}
	if readMs < 0 || writeMs < 0 || interCharMs < 0 {
		return &Error{Op: "timeout", Msg: fmt.Sprintf("invalid timeout %d/%d/%d", readMs, writeMs, interCharMs)}
	}

	err := u.port.SetTimeout(millis(readMs), millis(writeMs), millis(interCharMs))
	switch {
	case err == nil:
	case errors.Is(err, ErrNotImplemented):
		return u.fail("timeout", ErrNotImplemented.Error(), err)
	default:
		return u.fail("timeout", "could not set timeout", err)
	}

	u.cfg.ReadTimeout = readMs
	u.cfg.WriteTimeout = writeMs
	u.cfg.InterCharTimeout = interCharMs
	return nil
}

// SetReadBufSize sets the number of bytes Read asks the driver for. Values of
// zero or less restore DefaultReadBufSize.
func (u *UART) SetReadBufSize(n int) {
	if n <= 0 {
		n = DefaultReadBufSize
	}
	u.cfg.ReadBufSize = n
}

// SetPrompt sets the byte ReadToPrompt stops at.
func (u *UART) SetPrompt(c byte) {
	u.cfg.Prompt = c
}

// DevPath returns the device path reported by the driver, or "" once the
// handle is closed.
func (u *UART) DevPath() string {
	if u.closed {
		return ""
	}
	return u.port.DevPath()
}

// Write sends p and returns the number of bytes the driver accepted.
func (u *UART) Write(p []byte) (int, error) {
	if err := u.check("write"); err != nil {
		return 0, err
	}
	n, err := u.port.Write(p)
	if n > 0 {
		monitoring.BytesWritten.Add(float64(n))
	}
	if err != nil {
		return n, u.fail("write", "could not write", err)
	}
	return n, nil
}

// Read performs a single driver read of up to the configured buffer size and
// returns exactly the bytes received, embedded zero bytes included.
func (u *UART) Read() ([]byte, error) {
	if err := u.check("read"); err != nil {
		return nil, err
	}
	buf := make([]byte, u.cfg.readBufSize())
	n, err := u.port.Read(buf)
	if n > 0 {
		monitoring.BytesRead.Add(float64(n))
	}
	if err != nil {
		return nil, u.fail("read", "could not read", err)
	}
	return buf[:n], nil
}

// DataAvailable reports whether input arrives within timeoutMs milliseconds.
// A timeout of zero polls without waiting.
func (u *UART) DataAvailable(timeoutMs int) (bool, error) {
	if err := u.check("data_available"); err != nil {
		return false, err
	}
	if timeoutMs < 0 {
		timeoutMs = 0
	}
	ok, err := u.port.DataAvailable(millis(timeoutMs))
	if err != nil {
		return false, u.fail("data_available", "could not poll port", err)
	}
	return ok, nil
}

// Flush blocks until all written output has been transmitted.
func (u *UART) Flush() error {
	if err := u.check("flush"); err != nil {
		return err
	}
	if err := u.port.Flush(); err != nil {
		return u.fail("flush", "could not flush port", err)
	}
	return nil
}

// Stop releases the native context. Every later operation fails with
// ErrClosed.
func (u *UART) Stop() error {
	if err := u.check("stop"); err != nil {
		return err
	}
	if err := u.release(); err != nil {
		return u.fail("stop", "could not stop port", err)
	}
	monitoring.Logf("uart: stopped DEV:%d", u.index)
	return nil
}

// Close releases the native context if Stop has not already done so. It is
// safe to call more than once.
func (u *UART) Close() error {
	if u.closed {
		return nil
	}
	return u.release()
}

// release closes the port exactly once. The handle is marked closed even if
// the driver reports an error.
func (u *UART) release() error {
	if u.closed {
		return nil
	}
	u.closed = true
	return u.port.Close()
}

func (u *UART) check(op string) error {
	if u.closed {
		return &Error{Op: op, Msg: "port is closed", Err: ErrClosed}
	}
	return nil
}

func (u *UART) fail(op, msg string, err error) error {
	monitoring.Errors.WithLabelValues(op).Inc()
	return newError(op, msg, err)
}

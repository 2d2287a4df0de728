package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
)

// tarmPollInterval is the read timeout the tarm connection is opened with.
// Caller-visible read and inter-character timeouts are applied on top of the
// receive queue the pump goroutine fills.
const tarmPollInterval = 100 * time.Millisecond

var errTarmClosed = errors.New("tarm port closed")

// TarmConn is the subset of *tarm.Port the backend uses.
type TarmConn interface {
	io.ReadWriteCloser
}

// TarmOpener opens ports with github.com/tarm/serial. tarm fixes the line
// configuration at open time, so baud changes reopen the device.
type TarmOpener struct {
	// List enumerates device paths. Defaults to serial.GetPortsList from
	// go.bug.st/serial, which tarm lacks an equivalent of.
	List func() ([]string, error)

	// OpenFunc opens a device. Defaults to tarm.OpenPort.
	OpenFunc func(cfg *tarm.Config) (TarmConn, error)
}

// NewTarmOpener returns an opener using the system port list.
func NewTarmOpener() *TarmOpener {
	return &TarmOpener{}
}

// Open resolves index to a device path and opens it at DefaultBaudRate.
func (o *TarmOpener) Open(index int) (Port, error) {
	list := o.List
	if list == nil {
		list = serial.GetPortsList
	}
	path, err := ResolveIndex(list, index)
	if err != nil {
		return nil, err
	}

	open := o.OpenFunc
	if open == nil {
		open = func(cfg *tarm.Config) (TarmConn, error) { return tarm.OpenPort(cfg) }
	}

	t := &tarmPort{
		open: open,
		cfg: tarm.Config{
			Name:        path,
			Baud:        DefaultBaudRate,
			ReadTimeout: tarmPollInterval,
			Size:        8,
			Parity:      tarm.ParityNone,
			StopBits:    tarm.Stop1,
		},
		notify: make(chan struct{}, 1),
	}
	if err := t.connect(); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return t, nil
}

// tarmPort adapts a tarm connection to Port. A pump goroutine moves bytes
// from the device into rx so that reads and polls can honour per-call
// timeouts.
type tarmPort struct {
	open func(cfg *tarm.Config) (TarmConn, error)
	cfg  tarm.Config
	conn TarmConn
	stop chan struct{}
	done chan struct{}

	readTimeout time.Duration
	interChar   time.Duration

	mu     sync.Mutex
	rx     []byte
	rxErr  error
	notify chan struct{}
}

func (t *tarmPort) connect() error {
	cfg := t.cfg
	conn, err := t.open(&cfg)
	if err != nil {
		return err
	}
	t.conn = conn
	t.mu.Lock()
	t.rx = nil
	t.rxErr = nil
	t.mu.Unlock()
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.pump(conn, t.stop, t.done)
	return nil
}

func (t *tarmPort) disconnect() error {
	if t.conn == nil {
		return nil
	}
	close(t.stop)
	err := t.conn.Close()
	<-t.done
	t.conn = nil
	return err
}

func (t *tarmPort) pump(conn TarmConn, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.rx = append(t.rx, buf[:n]...)
			t.mu.Unlock()
			t.signal()
		}

		select {
		case <-stop:
			return
		default:
		}

		// tarm reports an expired read timeout as io.EOF.
		if err != nil && !errors.Is(err, io.EOF) {
			t.mu.Lock()
			t.rxErr = err
			t.mu.Unlock()
			t.signal()
			return
		}
	}
}

func (t *tarmPort) signal() {
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// wait blocks until input or a read error is pending, or timeout elapses.
// A negative timeout waits indefinitely.
func (t *tarmPort) wait(timeout time.Duration) bool {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		t.mu.Lock()
		ready := len(t.rx) > 0 || t.rxErr != nil
		t.mu.Unlock()
		if ready {
			return true
		}
		select {
		case <-t.notify:
		case <-expired:
			return false
		}
	}
}

func (t *tarmPort) drain(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := copy(p, t.rx)
	t.rx = t.rx[n:]
	if n == 0 && t.rxErr != nil {
		return 0, t.rxErr
	}
	return n, nil
}

func (t *tarmPort) Read(p []byte) (int, error) {
	if t.conn == nil {
		return 0, errTarmClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	timeout := t.readTimeout
	if timeout <= 0 {
		timeout = -1
	}
	if !t.wait(timeout) {
		return 0, nil
	}
	n, err := t.drain(p)
	if err != nil {
		return n, err
	}

	for n < len(p) && t.interChar > 0 && t.wait(t.interChar) {
		m, err := t.drain(p[n:])
		if err != nil {
			break
		}
		n += m
	}
	return n, nil
}

func (t *tarmPort) Write(p []byte) (int, error) {
	if t.conn == nil {
		return 0, errTarmClosed
	}
	return t.conn.Write(p)
}

func (t *tarmPort) Close() error {
	return t.disconnect()
}

// SetBaudRate reopens the device at baud. If the reopen fails the previous
// configuration is restored.
func (t *tarmPort) SetBaudRate(baud int) error {
	if t.conn == nil {
		return errTarmClosed
	}
	if baud == t.cfg.Baud {
		return nil
	}

	prev := t.cfg
	if err := t.disconnect(); err != nil {
		return err
	}
	t.cfg.Baud = baud
	if err := t.connect(); err != nil {
		t.cfg = prev
		if rerr := t.connect(); rerr != nil {
			return fmt.Errorf("set baud %d: %w (restore failed: %v)", baud, err, rerr)
		}
		return fmt.Errorf("set baud %d: %w", baud, err)
	}
	return nil
}

// SetTimeout applies read and inter-character timeouts. Writes go straight to
// the device, so a write timeout is not supported.
func (t *tarmPort) SetTimeout(read, write, interChar time.Duration) error {
	if write > 0 {
		return fmt.Errorf("write timeout: %w", ErrNotImplemented)
	}
	t.readTimeout = read
	t.interChar = interChar
	return nil
}

func (t *tarmPort) DevPath() string {
	return t.cfg.Name
}

func (t *tarmPort) DataAvailable(timeout time.Duration) (bool, error) {
	if t.conn == nil {
		return false, errTarmClosed
	}
	t.wait(timeout)

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rx) > 0 {
		return true, nil
	}
	return false, t.rxErr
}

// Flush is unsupported: tarm can discard queued output but not wait for it
// to drain.
func (t *tarmPort) Flush() error {
	return fmt.Errorf("flush: %w", ErrNotImplemented)
}

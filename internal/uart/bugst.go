package uart

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultSerialMode returns the framing used when opening a port: 8 data
// bits, no parity, one stop bit at DefaultBaudRate.
func DefaultSerialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// BugstOpener opens ports with go.bug.st/serial. Device indexes refer to
// the sorted list of port names the operating system reports.
type BugstOpener struct {
	// List enumerates device paths. Defaults to serial.GetPortsList.
	List func() ([]string, error)

	// Mode sets the framing. Defaults to DefaultSerialMode.
	Mode *serial.Mode

	// OpenFunc opens a path. Defaults to serial.Open.
	OpenFunc func(path string, mode *serial.Mode) (serial.Port, error)
}

// NewBugstOpener returns an opener using the system port list.
func NewBugstOpener() *BugstOpener {
	return &BugstOpener{}
}

// Open resolves index to a device path and opens it.
func (o *BugstOpener) Open(index int) (Port, error) {
	list := o.List
	if list == nil {
		list = serial.GetPortsList
	}
	path, err := ResolveIndex(list, index)
	if err != nil {
		return nil, err
	}

	mode := DefaultSerialMode()
	if o.Mode != nil {
		m := *o.Mode
		mode = &m
	}

	open := o.OpenFunc
	if open == nil {
		open = serial.Open
	}
	p, err := open(path, mode)
	if err != nil {
		return nil, bugstError(err)
	}
	return &bugstPort{
		port:        p,
		path:        path,
		mode:        *mode,
		readTimeout: serial.NoTimeout,
	}, nil
}

// ResolveIndex maps a device index onto the sorted output of list.
func ResolveIndex(list func() ([]string, error), index int) (string, error) {
	names, err := list()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate ports: %w", err)
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	if index < 0 || index >= len(sorted) {
		return "", fmt.Errorf("device index %d out of range (%d ports): %w", index, len(sorted), ErrNoDevice)
	}
	return sorted[index], nil
}

// PortInfo describes an enumerated device and the index it opens under.
type PortInfo struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// detailedPorts is replaced in tests.
var detailedPorts = enumerator.GetDetailedPortsList

// ListPorts enumerates serial devices in device index order.
func ListPorts() ([]PortInfo, error) {
	ports, err := detailedPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate ports: %w", err)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	infos := make([]PortInfo, 0, len(ports))
	for i, p := range ports {
		infos = append(infos, PortInfo{
			Index:        i,
			Name:         p.Name,
			IsUSB:        p.IsUSB,
			VID:          p.VID,
			PID:          p.PID,
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}
	return infos, nil
}

// bugstPort adapts serial.Port to Port. go.bug.st/serial only exposes a read
// timeout, so the inter-character timeout is applied by extending a read
// while bytes keep arriving within the gap.
type bugstPort struct {
	port        serial.Port
	path        string
	mode        serial.Mode
	readTimeout time.Duration
	interChar   time.Duration
	peek        lookahead
}

func (b *bugstPort) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if b.peek.take(p) {
		return b.readMore(p, 1, b.interChar)
	}

	n, err := b.port.Read(p)
	if err != nil {
		return n, bugstError(err)
	}
	if n == 0 || b.interChar <= 0 {
		return n, nil
	}
	return b.readMore(p, n, b.interChar)
}

// readMore extends a read already holding n bytes while input keeps arriving
// within gap, then restores the configured read timeout.
func (b *bugstPort) readMore(p []byte, n int, gap time.Duration) (int, error) {
	if n == len(p) {
		return n, nil
	}
	if err := b.port.SetReadTimeout(gap); err != nil {
		return n, bugstError(err)
	}

	var rerr error
	for n < len(p) {
		m, err := b.port.Read(p[n:])
		if err != nil {
			rerr = err
			break
		}
		if m == 0 {
			break
		}
		n += m
	}

	if err := b.port.SetReadTimeout(b.readTimeout); err != nil && rerr == nil {
		rerr = err
	}
	if rerr != nil {
		return n, bugstError(rerr)
	}
	return n, nil
}

func (b *bugstPort) Write(p []byte) (int, error) {
	n, err := b.port.Write(p)
	if err != nil {
		return n, bugstError(err)
	}
	return n, nil
}

func (b *bugstPort) Close() error {
	if err := b.port.Close(); err != nil {
		return bugstError(err)
	}
	return nil
}

func (b *bugstPort) SetBaudRate(baud int) error {
	mode := b.mode
	mode.BaudRate = baud
	if err := b.port.SetMode(&mode); err != nil {
		return bugstError(err)
	}
	b.mode = mode
	return nil
}

func (b *bugstPort) SetTimeout(read, write, interChar time.Duration) error {
	if write > 0 {
		return fmt.Errorf("write timeout: %w", ErrNotImplemented)
	}

	rt := serial.NoTimeout
	if read > 0 {
		rt = read
	}
	if err := b.port.SetReadTimeout(rt); err != nil {
		return bugstError(err)
	}
	b.readTimeout = rt
	b.interChar = interChar
	return nil
}

func (b *bugstPort) DevPath() string {
	return b.path
}

// DataAvailable waits up to timeout for one byte and keeps it for the next
// Read.
func (b *bugstPort) DataAvailable(timeout time.Duration) (bool, error) {
	if b.peek.ok {
		return true, nil
	}
	if err := b.port.SetReadTimeout(timeout); err != nil {
		return false, bugstError(err)
	}

	var one [1]byte
	n, err := b.port.Read(one[:])
	if rerr := b.port.SetReadTimeout(b.readTimeout); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		return false, bugstError(err)
	}
	if n == 0 {
		return false, nil
	}
	b.peek.put(one[0])
	return true, nil
}

func (b *bugstPort) Flush() error {
	if err := b.port.Drain(); err != nil {
		return bugstError(err)
	}
	return nil
}

// bugstError attaches a negative status derived from the go.bug.st/serial
// error code.
func bugstError(err error) error {
	var pe *serial.PortError
	if !errors.As(err, &pe) {
		return err
	}
	code := pe.Code()
	wrapped := err
	if code == serial.FunctionNotImplemented {
		wrapped = fmt.Errorf("%v: %w", err, ErrNotImplemented)
	}
	return &DriverError{Status: -(int(code) + 1), Err: wrapped}
}

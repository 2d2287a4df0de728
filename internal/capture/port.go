package capture

import (
	"github.com/banshee-data/uartbridge/internal/monitoring"
	"github.com/banshee-data/uartbridge/internal/uart"
)

// Port records every successful read and write of the wrapped uart.Port.
// Recording failures are logged and never fail the transfer itself.
type Port struct {
	uart.Port
	db      *DB
	session string
}

// Wrap starts a capture session for p.
func Wrap(p uart.Port, db *DB) (*Port, error) {
	id, err := db.StartSession(p.DevPath())
	if err != nil {
		return nil, err
	}
	return &Port{Port: p, db: db, session: id}, nil
}

// Session returns the capture session ID.
func (p *Port) Session() string {
	return p.session
}

func (p *Port) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n > 0 {
		p.record(RX, b[:n])
	}
	return n, err
}

func (p *Port) Write(b []byte) (int, error) {
	n, err := p.Port.Write(b)
	if n > 0 {
		p.record(TX, b[:n])
	}
	return n, err
}

func (p *Port) record(dir Direction, data []byte) {
	if err := p.db.Record(p.session, dir, data); err != nil {
		monitoring.Logf("capture: %v", err)
	}
}

// Opener wraps every port opened through Opener in a capture Port.
type Opener struct {
	Opener uart.Opener
	DB     *DB
}

func (o *Opener) Open(index int) (uart.Port, error) {
	p, err := o.Opener.Open(index)
	if err != nil {
		return nil, err
	}
	cp, err := Wrap(p, o.DB)
	if err != nil {
		p.Close()
		return nil, err
	}
	monitoring.Logf("capture: session %s for %s", cp.Session(), p.DevPath())
	return cp, nil
}

package uart

import (
	"bytes"

	"github.com/banshee-data/uartbridge/internal/monitoring"
)

// ReadToPrompt reads until the configured prompt byte. See ReadUntil.
func (u *UART) ReadToPrompt() ([]byte, error) {
	return u.ReadUntil(u.cfg.Prompt)
}

// ReadUntil collects input one byte at a time while data keeps arriving
// within the configured read timeout. It stops at the first prompt byte,
// which is consumed but not returned, or when a read comes back empty. On a
// driver failure the bytes gathered so far are returned with the error.
func (u *UART) ReadUntil(prompt byte) ([]byte, error) {
	if err := u.check("read_to_prompt"); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	b := make([]byte, 1)
	for {
		ok, err := u.port.DataAvailable(millis(u.cfg.ReadTimeout))
		if err != nil {
			return out.Bytes(), u.fail("read_to_prompt", "could not poll port", err)
		}
		if !ok {
			break
		}

		n, err := u.port.Read(b)
		if err != nil {
			return out.Bytes(), u.fail("read_to_prompt", "could not read", err)
		}
		if n == 0 || b[0] == prompt {
			break
		}
		out.WriteByte(b[0])
	}

	if out.Len() > 0 {
		monitoring.BytesRead.Add(float64(out.Len()))
	}
	return out.Bytes(), nil
}

// Package console drives a UART handle from line-oriented text commands, so
// a port can be scripted from a file or an interactive terminal.
package console

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/uartbridge/internal/monitoring"
	"github.com/banshee-data/uartbridge/internal/uart"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage")

const helpText = `commands:
  baud N               set baud rate
  timeout R W I        set read/write/inter-character timeouts (ms)
  bufsize N            set read buffer size
  setprompt C          set the prompt character
  path                 print device path
  write TEXT           write TEXT (Go escapes such as \r \n \x00 allowed)
  read                 read once
  available [MS]       report whether input arrives within MS
  prompt [C]           read until the prompt character
  flush                wait for output to drain
  config               print handle configuration
  stop                 release the port and end the session
  quit                 end the session`

// Console executes commands against one handle and writes results to out.
type Console struct {
	u   *uart.UART
	out io.Writer
	mu  sync.Locker
}

// New returns a Console for u.
func New(u *uart.UART, out io.Writer) *Console {
	return &Console{u: u, out: out}
}

// SetLocker makes Run hold l while each command executes.
func (c *Console) SetLocker(l sync.Locker) {
	c.mu = l
}

// Run executes commands read from r until EOF, stop or quit. Command
// failures are reported on out as "error: ..." lines and do not end the
// session; only a failure to read r is returned.
func (c *Console) Run(r io.Reader) error {
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		done, err := c.execLocked(scan.Text())
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			monitoring.Logf("console: %q: %v", scan.Text(), err)
		}
		if done {
			return nil
		}
	}
	return scan.Err()
}

func (c *Console) execLocked(line string) (bool, error) {
	if c.mu != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	return c.Exec(line)
}

// Exec runs a single command line and reports whether the session is over.
func (c *Console) Exec(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false, nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "baud":
		n, err := intArgs(args, 1)
		if err != nil {
			return false, fmt.Errorf("%w: baud N", err)
		}
		if err := c.u.SetBaudRate(n[0]); err != nil {
			return false, err
		}
		c.ok()

	case "timeout":
		n, err := intArgs(args, 3)
		if err != nil {
			return false, fmt.Errorf("%w: timeout R W I", err)
		}
		if err := c.u.SetTimeout(n[0], n[1], n[2]); err != nil {
			return false, err
		}
		c.ok()

	case "bufsize":
		n, err := intArgs(args, 1)
		if err != nil {
			return false, fmt.Errorf("%w: bufsize N", err)
		}
		c.u.SetReadBufSize(n[0])
		c.ok()

	case "setprompt":
		b, err := byteArg(rest)
		if err != nil {
			return false, err
		}
		c.u.SetPrompt(b)
		c.ok()

	case "path":
		fmt.Fprintln(c.out, c.u.DevPath())

	case "write":
		if rest == "" {
			return false, fmt.Errorf("%w: write TEXT", ErrUsage)
		}
		data, err := unescape(rest)
		if err != nil {
			return false, err
		}
		n, err := c.u.Write(data)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.out, "wrote %d\n", n)

	case "read":
		data, err := c.u.Read()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, strconv.Quote(string(data)))

	case "available":
		ms := 0
		if len(args) > 0 {
			n, err := intArgs(args, 1)
			if err != nil {
				return false, fmt.Errorf("%w: available [MS]", err)
			}
			ms = n[0]
		}
		ok, err := c.u.DataAvailable(ms)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, ok)

	case "prompt":
		var data []byte
		var err error
		if rest == "" {
			data, err = c.u.ReadToPrompt()
		} else {
			var b byte
			if b, err = byteArg(rest); err != nil {
				return false, err
			}
			data, err = c.u.ReadUntil(b)
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, strconv.Quote(string(data)))

	case "flush":
		if err := c.u.Flush(); err != nil {
			return false, err
		}
		c.ok()

	case "config":
		out, err := json.Marshal(c.u.Config())
		if err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, string(out))

	case "stop":
		if err := c.u.Stop(); err != nil {
			return false, err
		}
		c.ok()
		return true, nil

	case "quit", "exit":
		return true, nil

	case "help":
		fmt.Fprintln(c.out, helpText)

	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

func (c *Console) ok() {
	fmt.Fprintln(c.out, "ok")
}

func intArgs(args []string, want int) ([]int, error) {
	if len(args) != want {
		return nil, ErrUsage
	}
	out := make([]int, want)
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, ErrUsage
		}
		out[i] = n
	}
	return out, nil
}

// byteArg accepts exactly one character after unescaping, e.g. ">", "#" or
// "\r".
func byteArg(s string) (byte, error) {
	b, err := unescape(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 1 {
		return 0, fmt.Errorf("%w: expected a single character, got %q", ErrUsage, s)
	}
	return b[0], nil
}

// unescape interprets Go escape sequences in s. Quotes may be written bare
// or escaped.
func unescape(s string) ([]byte, error) {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == '"':
			b.WriteByte('\\')
		}
		b.WriteByte(ch)
	}
	v, err := strconv.Unquote(`"` + b.String() + `"`)
	if err != nil {
		return nil, fmt.Errorf("invalid escape in %q", s)
	}
	return []byte(v), nil
}

package main

import (
	"bytes"
	"context"
	"flag"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/uartbridge/internal/capture"
	"github.com/banshee-data/uartbridge/internal/config"
	"github.com/banshee-data/uartbridge/internal/uart"
)

func runForTest(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func TestRun_Version(t *testing.T) {
	out, err := runForTest(t, "", "-version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "uartctl "), out)
}

func TestRun_DevPrompt(t *testing.T) {
	out, err := runForTest(t, "", "-dev", "-prompt")
	require.NoError(t, err)
	assert.Equal(t, "\"uartctl dev port\\r\\n\"\n", out)
}

func TestRun_DevWriteThenRead(t *testing.T) {
	out, err := runForTest(t, "", "-dev", "-write", `AT\r`, "-read")
	require.NoError(t, err)
	assert.Equal(t, "wrote 3\n\"uartctl dev port\\r\\n>\"\n", out)
}

func TestRun_Console(t *testing.T) {
	out, err := runForTest(t, "path\nbaud 115200\nquit\nwrite ignored\n", "-dev", "-console")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mock0\nok\n", out)
}

func TestRun_ConsoleWithDebugServer(t *testing.T) {
	out, err := runForTest(t, "path\n", "-dev", "-console", "-listen", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/mock0\n", out)
}

func TestRun_ListenFailureIsReturned(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = runForTest(t, "", "-dev", "-listen", ln.Addr().String())
	require.Error(t, err)
	assert.ErrorContains(t, err, "HTTP server failed")
	assert.Equal(t, 1, exitCode(err))
}

func TestRun_CaptureRecordsTransfers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.db")

	_, err := runForTest(t, "", "-dev", "-capture", path, "-write", "hello", "-prompt")
	require.NoError(t, err)

	db, err := capture.Open(path)
	require.NoError(t, err)
	defer db.Close()

	transfers, err := db.Recent(10)
	require.NoError(t, err)
	require.NotEmpty(t, transfers)
	assert.Equal(t, capture.TX, transfers[0].Direction)
	assert.Equal(t, "hello", string(transfers[0].Data))
	for _, tr := range transfers[1:] {
		assert.Equal(t, capture.RX, tr.Direction)
	}
}

func TestRun_InvalidIndex(t *testing.T) {
	_, err := runForTest(t, "", "-dev", "-index", "2")
	require.Error(t, err)
	assert.ErrorIs(t, err, uart.ErrNoDevice)
	assert.Equal(t, 1, exitCode(err))
}

func TestRun_BadFlags(t *testing.T) {
	_, err := runForTest(t, "", "-driver", "usbserial", "-dev")
	assert.ErrorContains(t, err, "unsupported driver")

	_, err = runForTest(t, "", "extra")
	assert.ErrorContains(t, err, "unexpected arguments")

	_, err = runForTest(t, "", "-h")
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uartctl.json")
	data := `{
		"driver": "tarm",
		"device_index": 2,
		"uart": {"baud_rate": 115200, "prompt": 35, "read_timeout_ms": 250},
		"shutdown_timeout": "2s"
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	o, err := parseFlags([]string{"-config", path, "-baud", "57600"}, &bytes.Buffer{})
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)

	assert.Equal(t, config.DriverTarm, cfg.Driver)
	assert.Equal(t, 2, cfg.DeviceIndex)
	assert.Equal(t, 57600, cfg.UART.BaudRate)
	assert.Equal(t, byte('#'), cfg.UART.Prompt)
	assert.Equal(t, 250, cfg.UART.ReadTimeout)
	assert.Equal(t, uart.DefaultReadBufSize, cfg.UART.ReadBufSize)
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	o, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)
	cfg, err := loadConfig(o)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain", assert.AnError, 1},
		{"driver status", &uart.Error{Op: "init", Code: -3}, 3},
		{"no code", &uart.Error{Op: "init"}, 1},
		{"out of range", &uart.Error{Op: "read", Code: -300}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

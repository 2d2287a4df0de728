package uart

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestUART(t *testing.T) (*UART, *TestablePort) {
	t.Helper()
	port := NewTestablePort("/dev/ttyUSB0")
	u, err := Open(NewMockOpener(port), 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u, port
}

func TestOpen_Defaults(t *testing.T) {
	u, port := openTestUART(t)

	assert.Equal(t, DefaultBaudRate, port.BaudRate)
	assert.Equal(t, DefaultConfig(), u.Config())
	assert.Equal(t, "/dev/ttyUSB0", u.DevPath())
	assert.Equal(t, 0, u.Index())
}

func TestOpen_ExplicitBaud(t *testing.T) {
	port := NewTestablePort("/dev/ttyS1")
	opener := NewMockOpener(NewTestablePort("/dev/ttyS0"), port)

	u, err := Open(opener, 1, 115200)
	require.NoError(t, err)
	defer u.Close()

	assert.Equal(t, []int{1}, opener.OpenCalls)
	assert.Equal(t, 115200, port.BaudRate)
	assert.Equal(t, 115200, u.Config().BaudRate)
}

func TestOpen_InvalidIndex(t *testing.T) {
	opener := NewMockOpener(NewTestablePort("/dev/ttyS0"))

	for _, index := range []int{-1, 1, 99} {
		u, err := Open(opener, index, 9600)
		require.Error(t, err)
		assert.Nil(t, u)
		assert.ErrorIs(t, err, ErrNoDevice)

		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, "init", uerr.Op)
		assert.Contains(t, err.Error(), "failed to initialize DEV:")
	}
}

func TestOpen_NilPort(t *testing.T) {
	opener := OpenerFunc(func(int) (Port, error) { return nil, nil })

	_, err := Open(opener, 3, 9600)
	assert.ErrorIs(t, err, ErrNoDevice)
	assert.EqualError(t, err, "uart init: failed to initialize DEV:3: no such device")
}

func TestOpen_ReleasesPortWhenBaudFails(t *testing.T) {
	port := NewTestablePort("/dev/ttyUSB1")
	port.BaudError = errors.New("invalid speed")

	u, err := Open(NewMockOpener(port), 0, 12345)
	require.Error(t, err)
	assert.Nil(t, u)
	assert.Contains(t, err.Error(), "could not set baudrate")
	assert.True(t, port.Closed)
	assert.Equal(t, 1, port.CloseCalls)
}

func TestSetBaudRate_RoundTrip(t *testing.T) {
	u, port := openTestUART(t)

	require.NoError(t, u.SetBaudRate(57600))
	assert.Equal(t, 57600, u.Config().BaudRate)

	port.BaudError = errors.New("invalid speed")
	err := u.SetBaudRate(1)
	require.Error(t, err)
	assert.Equal(t, 57600, u.Config().BaudRate, "failed set must not change stored rate")
}

func TestSetTimeout_RoundTrip(t *testing.T) {
	u, port := openTestUART(t)

	require.NoError(t, u.SetTimeout(100, 200, 5))
	cfg := u.Config()
	assert.Equal(t, 100, cfg.ReadTimeout)
	assert.Equal(t, 200, cfg.WriteTimeout)
	assert.Equal(t, 5, cfg.InterCharTimeout)
	assert.Equal(t, 100*time.Millisecond, port.ReadTimeout)
	assert.Equal(t, 200*time.Millisecond, port.WriteTimeout)
	assert.Equal(t, 5*time.Millisecond, port.InterCharTimeout)

	port.TimeoutError = errors.New("ioctl failed")
	require.Error(t, u.SetTimeout(1, 2, 3))
	assert.Equal(t, cfg, u.Config())
}

func TestSetTimeout_NotImplemented(t *testing.T) {
	u, port := openTestUART(t)
	port.TimeoutError = ErrNotImplemented

	err := u.SetTimeout(10, 10, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.EqualError(t, err, "uart timeout: feature not implemented by driver")
	assert.Equal(t, 0, u.Config().ReadTimeout)
}

func TestNotImplemented_KeepsDriverDetail(t *testing.T) {
	u, port := openTestUART(t)

	port.TimeoutError = fmt.Errorf("write timeout: %w", ErrNotImplemented)
	err := u.SetTimeout(0, 100, 0)
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.EqualError(t, err, "uart timeout: feature not implemented by driver: write timeout: feature not implemented by driver")

	port.FlushError = fmt.Errorf("flush: %w", ErrNotImplemented)
	err = u.Flush()
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.EqualError(t, err, "uart flush: could not flush port: flush: feature not implemented by driver")
}

func TestSetTimeout_Negative(t *testing.T) {
	u, _ := openTestUART(t)
	assert.Error(t, u.SetTimeout(-1, 0, 0))
}

func TestWrite(t *testing.T) {
	u, port := openTestUART(t)

	n, err := u.Write([]byte("hello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "hello\r\n", string(port.GetWrittenData()))
}

func TestWrite_CountNeverExceedsInput(t *testing.T) {
	u, port := openTestUART(t)
	port.MaxWrite = 3

	for _, in := range []string{"", "a", "abc", "abcdef"} {
		n, err := u.Write([]byte(in))
		require.NoError(t, err)
		assert.LessOrEqual(t, n, len(in))
	}
}

func TestWrite_DriverErrorCarriesCode(t *testing.T) {
	u, port := openTestUART(t)
	port.WriteError = &DriverError{Status: -5, Err: errors.New("i/o error")}

	_, err := u.Write([]byte("x"))
	require.Error(t, err)

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "write", uerr.Op)
	assert.Equal(t, -5, uerr.Code)
	assert.Contains(t, err.Error(), "could not write (err -5)")
}

func TestRead(t *testing.T) {
	u, port := openTestUART(t)
	port.AddReadData([]byte("OK\r\n"))

	data, err := u.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("OK\r\n"), data)

	data, err = u.Read()
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRead_PreservesZeroBytes(t *testing.T) {
	u, port := openTestUART(t)
	port.AddReadData([]byte{0x01, 0x00, 0x02, 0x00})

	data, err := u.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02, 0x00}, data)
}

func TestRead_BoundedByBufSize(t *testing.T) {
	u, port := openTestUART(t)
	u.SetReadBufSize(4)
	port.AddReadData([]byte("0123456789"))

	data, err := u.Read()
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))

	u.SetReadBufSize(0)
	assert.Equal(t, DefaultReadBufSize, u.Config().ReadBufSize)
	data, err = u.Read()
	require.NoError(t, err)
	assert.Equal(t, "456789", string(data))
}

func TestRead_Error(t *testing.T) {
	u, port := openTestUART(t)
	port.ReadError = &DriverError{Status: -11, Err: errors.New("port closed")}

	data, err := u.Read()
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "could not read (err -11)")
}

func TestDataAvailable(t *testing.T) {
	u, port := openTestUART(t)

	ok, err := u.DataAvailable(0)
	require.NoError(t, err)
	assert.False(t, ok)

	port.AddReadData([]byte("x"))
	ok, err = u.DataAvailable(250)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = u.DataAvailable(-10)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond, 0}, port.PollTimeouts)
}

func TestFlush(t *testing.T) {
	u, port := openTestUART(t)

	require.NoError(t, u.Flush())
	assert.Equal(t, 1, port.FlushCalls)

	port.FlushError = errors.New("tcdrain failed")
	err := u.Flush()
	assert.Contains(t, err.Error(), "could not flush port")
}

func TestStop_ReleasesOnce(t *testing.T) {
	u, port := openTestUART(t)

	require.NoError(t, u.Stop())
	assert.True(t, port.Closed)

	err := u.Stop()
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, u.Close())
	assert.Equal(t, 1, port.CloseCalls)
	assert.Equal(t, "", u.DevPath())
}

func TestStop_Error(t *testing.T) {
	u, port := openTestUART(t)
	port.CloseError = errors.New("close failed")

	err := u.Stop()
	assert.Contains(t, err.Error(), "could not stop port")

	// the context is gone either way
	_, err = u.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClosedHandle_AllOperationsFail(t *testing.T) {
	u, _ := openTestUART(t)
	require.NoError(t, u.Close())
	require.NoError(t, u.Close())

	ops := map[string]func() error{
		"baudrate":       func() error { return u.SetBaudRate(9600) },
		"timeout":        func() error { return u.SetTimeout(0, 0, 0) },
		"write":          func() error { _, err := u.Write([]byte("x")); return err },
		"read":           func() error { _, err := u.Read(); return err },
		"data_available": func() error { _, err := u.DataAvailable(0); return err },
		"flush":          func() error { return u.Flush() },
		"stop":           func() error { return u.Stop() },
		"read_to_prompt": func() error { _, err := u.ReadToPrompt(); return err },
	}
	for op, fn := range ops {
		t.Run(op, func(t *testing.T) {
			err := fn()
			assert.ErrorIs(t, err, ErrClosed)
			var uerr *Error
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, op, uerr.Op)
		})
	}
}

func TestConfig_Normalize(t *testing.T) {
	got, err := Config{Prompt: DefaultPrompt}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), got)

	got, err = Config{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, byte(0), got.Prompt, "a NUL prompt is kept")

	got, err = Config{BaudRate: 115200, ReadBufSize: 64, Prompt: '#', ReadTimeout: 10}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Config{BaudRate: 115200, ReadBufSize: 64, Prompt: '#', ReadTimeout: 10}, got)

	_, err = Config{InterCharTimeout: -1}.Normalize()
	assert.ErrorContains(t, err, "invalid interchar timeout")
}

func TestError_Format(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Op: "stop", Msg: "could not stop port"}, "uart stop: could not stop port"},
		{&Error{Op: "read", Msg: "could not read", Code: -3}, "uart read: could not read (err -3)"},
		{&Error{Op: "flush", Msg: "could not flush port", Err: errors.New("eio")}, "uart flush: could not flush port: eio"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}

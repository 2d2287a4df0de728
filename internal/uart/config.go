package uart

import (
	"fmt"
	"time"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadBufSize = 1024
	DefaultPrompt      = '>'
)

// Config holds the per-handle settings. Timeouts are expressed in
// milliseconds, matching the units callers pass to SetTimeout.
type Config struct {
	BaudRate         int  `json:"baud_rate"`
	ReadBufSize      int  `json:"read_bufsize"`
	ReadTimeout      int  `json:"read_timeout_ms"`
	WriteTimeout     int  `json:"write_timeout_ms"`
	InterCharTimeout int  `json:"interchar_timeout_ms"`
	Prompt           byte `json:"prompt"`
}

// DefaultConfig returns the settings a freshly opened handle starts with.
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadBufSize: DefaultReadBufSize,
		Prompt:      DefaultPrompt,
	}
}

// Normalize validates the config and applies defaults for an unset baud rate
// or buffer size. Prompt is left alone since zero is a valid prompt byte.
func (c Config) Normalize() (Config, error) {
	cfg := c

	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadBufSize <= 0 {
		cfg.ReadBufSize = DefaultReadBufSize
	}

	timeouts := []struct {
		name string
		ms   int
	}{
		{"read", cfg.ReadTimeout},
		{"write", cfg.WriteTimeout},
		{"interchar", cfg.InterCharTimeout},
	}
	for _, to := range timeouts {
		if to.ms < 0 {
			return cfg, fmt.Errorf("invalid %s timeout %d: must not be negative", to.name, to.ms)
		}
	}

	return cfg, nil
}

// readBufSize is the buffer size Read allocates.
func (c Config) readBufSize() int {
	if c.ReadBufSize <= 0 {
		return DefaultReadBufSize
	}
	return c.ReadBufSize
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Package config loads the uartctl configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/uartbridge/internal/uart"
)

// DefaultConfigPath is where uartctl looks for its configuration when no
// -config flag is given.
const DefaultConfigPath = "config/uartctl.json"

// Driver names accepted in the "driver" field.
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Config is the root of the uartctl configuration file. Fields omitted from
// the file keep the values Default returns.
type Config struct {
	Driver      string      `json:"driver"`
	DeviceIndex int         `json:"device_index"`
	UART        uart.Config `json:"uart"`

	// CaptureDB is the SQLite file transfers are recorded to. Empty disables
	// capture.
	CaptureDB string `json:"capture_db,omitempty"`

	// Listen is the address of the debug/metrics HTTP server. Empty disables
	// it.
	Listen string `json:"listen,omitempty"`

	// ShutdownTimeout bounds HTTP server shutdown, as a duration string like "5s".
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Driver:          DriverBugst,
		UART:            uart.DefaultConfig(),
		ShutdownTimeout: "5s",
	}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be at most 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and normalises the UART section.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverBugst, DriverTarm:
	default:
		return fmt.Errorf("unsupported driver %q: expected %q or %q", c.Driver, DriverBugst, DriverTarm)
	}

	if c.DeviceIndex < 0 {
		return fmt.Errorf("device_index must be non-negative, got %d", c.DeviceIndex)
	}

	normalized, err := c.UART.Normalize()
	if err != nil {
		return err
	}
	c.UART = normalized

	if c.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
			return fmt.Errorf("invalid shutdown_timeout '%s': %w", c.ShutdownTimeout, err)
		}
	}

	return nil
}

// GetShutdownTimeout parses ShutdownTimeout, falling back to 5s.
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Opener returns the uart.Opener for the configured driver.
func (c *Config) Opener() (uart.Opener, error) {
	switch c.Driver {
	case DriverBugst:
		return uart.NewBugstOpener(), nil
	case DriverTarm:
		return uart.NewTarmOpener(), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", c.Driver)
	}
}

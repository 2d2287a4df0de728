// Package monitoring holds the process-wide diagnostic logger and the UART
// metrics registry.
package monitoring

import (
	"io"
	"log"
)

// Logf is the diagnostic logger shared by the uart, capture and console
// packages. It defaults to log.Printf; SetLogger and SetOutput replace it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput sends Logf output to w, each message prefixed with prefix.
func SetOutput(w io.Writer, prefix string) {
	Logf = log.New(w, prefix, log.LstdFlags|log.Lmsgprefix).Printf
}

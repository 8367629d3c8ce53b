//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that stop the monitor.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks a recorder process to finish its current file.
func GracefulSignal(p *os.Process) error {
	return p.Signal(syscall.SIGINT)
}

//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that stop the monitor.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal stops a recorder process. Windows cannot deliver SIGINT to
// a child, so the process is killed.
func GracefulSignal(p *os.Process) error {
	return p.Kill()
}

//go:build windows

package filelock

import "syscall"

// syscallSig0 is unused on Windows; isOrphan treats any lock file whose
// PID lookup fails as orphaned and returns before probing with Signal,
// which this platform does not support for signal 0.
func syscallSig0() syscall.Signal {
	return syscall.Signal(0)
}

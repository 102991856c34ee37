//go:build !windows

package filelock

import "syscall"

// syscallSig0 returns the null signal used to probe whether a PID is
// still alive without actually signaling it.
func syscallSig0() syscall.Signal {
	return syscall.Signal(0)
}
